package store

import "embed"

// Migrations embeds the goose migration set so the binary can run them
// without depending on the working directory at deploy time.
//
//go:embed migrations/*.sql
var Migrations embed.FS
