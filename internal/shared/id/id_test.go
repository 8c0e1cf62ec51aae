package id

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerate(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateString(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateString()

	if len(id) != 26 {
		t.Errorf("ULID should be 26 characters, got %d", len(id))
	}
}

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	tests := []struct {
		prefix string
	}{
		{"unit"},
		{"chan"},
		{"batch"},
	}

	for _, tt := range tests {
		id := gen.GenerateWithPrefix(tt.prefix)

		if !strings.HasPrefix(id, tt.prefix+"_") {
			t.Errorf("ID should start with '%s_', got: %s", tt.prefix, id)
		}

		// Verify ULID part is valid
		parts := strings.Split(id, "_")
		if len(parts) != 2 {
			t.Errorf("Prefixed ID should have format 'prefix_ulid', got: %s", id)
		}

		if !IsValid(parts[1]) {
			t.Errorf("ULID part should be valid: %s", parts[1])
		}
	}
}

func TestTypedIDGeneration(t *testing.T) {
	unitID := NewUnitID()
	chanID := NewChannelID()
	batchID := NewBatchID()

	if !strings.HasPrefix(string(unitID), "unit_") {
		t.Errorf("UnitID should start with 'unit_', got: %s", unitID)
	}

	if !strings.HasPrefix(string(chanID), "chan_") {
		t.Errorf("ChannelID should start with 'chan_', got: %s", chanID)
	}

	if !strings.HasPrefix(string(batchID), "batch_") {
		t.Errorf("BatchID should start with 'batch_', got: %s", batchID)
	}
}

func TestIsValid(t *testing.T) {
	gen := NewGenerator()

	valid := gen.GenerateString()
	if !IsValid(valid) {
		t.Errorf("Generated ULID should be valid: %s", valid)
	}

	if IsValid("not-a-ulid") {
		t.Error("Malformed string should not validate")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()

	const n = 100
	seen := make(map[string]bool, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.GenerateString()

			mu.Lock()
			defer mu.Unlock()
			if seen[id] {
				t.Errorf("Duplicate ID generated: %s", id)
			}
			seen[id] = true
		}()
	}

	wg.Wait()
}
