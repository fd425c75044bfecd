package training

import (
	"path/filepath"
	"testing"
)

func TestClassIndexMapValidate(t *testing.T) {
	t.Run("Valid bijection", func(t *testing.T) {
		m := ClassIndexMap{"cats": 0, "dogs": 1, "pandas": 2}
		if err := m.Validate(); err != nil {
			t.Errorf("Expected valid map, got error: %v", err)
		}
	})

	t.Run("Duplicate index", func(t *testing.T) {
		m := ClassIndexMap{"cats": 0, "dogs": 0}
		if err := m.Validate(); err == nil {
			t.Error("Expected error for duplicate index")
		}
	})

	t.Run("Index out of range", func(t *testing.T) {
		m := ClassIndexMap{"cats": 0, "dogs": 5}
		if err := m.Validate(); err == nil {
			t.Error("Expected error for out-of-range index")
		}
	})

	t.Run("Empty map", func(t *testing.T) {
		m := ClassIndexMap{}
		if err := m.Validate(); err == nil {
			t.Error("Expected error for empty map")
		}
	})
}

func TestClassIndexMapClasses(t *testing.T) {
	m := ClassIndexMap{"pandas": 2, "cats": 0, "dogs": 1}
	classes := m.Classes()

	expected := []string{"cats", "dogs", "pandas"}
	for i := range expected {
		if classes[i] != expected[i] {
			t.Errorf("Position %d: expected %q, got %q", i, expected[i], classes[i])
		}
	}
}

func TestClassIndexMapRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.gob")

	m := ClassIndexMap{"cats": 0, "dogs": 1, "pandas": 2}
	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadClassIndexMap(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded) != len(m) {
		t.Fatalf("Expected %d classes, got %d", len(m), len(loaded))
	}
	for name, idx := range m {
		if loaded[name] != idx {
			t.Errorf("Class %q: expected index %d, got %d", name, idx, loaded[name])
		}
	}
}

func TestClassIndexMapSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.gob")

	m := ClassIndexMap{"cats": 0, "dogs": 0}
	if err := m.Save(path); err == nil {
		t.Error("Expected save to reject an invalid map")
	}
}
