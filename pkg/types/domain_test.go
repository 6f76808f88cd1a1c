package types

import (
	"encoding/json"
	"testing"
)

func TestPriorityOrderAndNames(t *testing.T) {
	if !(PriorityOptional < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityCritical) {
		t.Fatalf("priority classes out of order")
	}
	var zero Priority
	if zero != PriorityNormal {
		t.Fatalf("zero priority=%s, want normal", zero)
	}
	for _, p := range []Priority{PriorityOptional, PriorityNormal, PriorityHigh, PriorityCritical} {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Fatalf("parse %s: %v %v", p, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestDescriptorJSONPriority(t *testing.T) {
	var d Descriptor
	if err := json.Unmarshal([]byte(`{"id":"a","priority":"optional"}`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Priority != PriorityOptional {
		t.Fatalf("priority=%s", d.Priority)
	}
	b, _ := json.Marshal(Descriptor{ID: "b", Priority: PriorityCritical})
	if string(b) != `{"id":"b","name":"","category":"","url":"","footprint_mb":0,"priority":"critical"}` {
		t.Fatalf("json=%s", b)
	}
}
