package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	f := NewFields()
	if len(f) != 0 {
		t.Errorf("expected empty field set, got %d", len(f))
	}
}

func TestComponentAndOperation(t *testing.T) {
	f := NewFields().Component("queue").Operation("admit")
	if f["component"] != "queue" {
		t.Errorf("component = %v", f["component"])
	}
	if f["operation"] != "admit" {
		t.Errorf("operation = %v", f["operation"])
	}
}

func TestResourceWithAndWithoutName(t *testing.T) {
	f := NewFields().Resource("transaction", "tx-1")
	if f["resource_type"] != "transaction" || f["resource_name"] != "tx-1" {
		t.Errorf("unexpected resource fields: %v", f)
	}

	f2 := NewFields().Resource("transaction", "")
	if _, ok := f2["resource_name"]; ok {
		t.Error("expected resource_name to be absent when name is empty")
	}
}

func TestDuration(t *testing.T) {
	f := NewFields().Duration(150 * time.Millisecond)
	if f["duration_ms"] != int64(150) {
		t.Errorf("duration_ms = %v, want 150", f["duration_ms"])
	}
}

func TestErrorAndErrorID(t *testing.T) {
	f := NewFields().Error(errors.New("boom")).ErrorID("eid-1")
	if f["error"] != "boom" {
		t.Errorf("error = %v", f["error"])
	}
	if f["error_id"] != "eid-1" {
		t.Errorf("error_id = %v", f["error_id"])
	}

	f2 := NewFields().Error(nil).ErrorID("")
	if _, ok := f2["error"]; ok {
		t.Error("Error(nil) should not set the error field")
	}
	if _, ok := f2["error_id"]; ok {
		t.Error("ErrorID(\"\") should not set the error_id field")
	}
}
