package inbox

import (
	"context"
	"testing"
)

func TestMemoryRecordDedupes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	first, err := m.Record(ctx, "evt-1", "business.date.closed.v1")
	if err != nil || !first {
		t.Fatalf("expected first record to be new, got %v (%v)", first, err)
	}
	again, _ := m.Record(ctx, "evt-1", "business.date.closed.v1")
	if again {
		t.Fatal("expected duplicate to be reported")
	}
	other, _ := m.Record(ctx, "evt-2", "business.date.closed.v1")
	if !other {
		t.Fatal("expected distinct event to be new")
	}
}
