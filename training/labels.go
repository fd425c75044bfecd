package training

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// ClassIndexMap maps class directory names to the integer indices the
// model predicts. It is written before training so inference can decode
// predictions even if the run is interrupted.
type ClassIndexMap map[string]int

// Validate checks that the map is a bijection onto 0..n-1.
func (m ClassIndexMap) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("class index map is empty")
	}

	seen := make(map[int]string, len(m))
	for name, idx := range m {
		if idx < 0 || idx >= len(m) {
			return fmt.Errorf("class %q has index %d, outside [0, %d)", name, idx, len(m))
		}
		if prev, ok := seen[idx]; ok {
			return fmt.Errorf("classes %q and %q share index %d", prev, name, idx)
		}
		seen[idx] = name
	}
	return nil
}

// Classes returns the class names ordered by index.
func (m ClassIndexMap) Classes() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m[names[i]] < m[names[j]]
	})
	return names
}

// Save writes the map to path with gob encoding.
func (m ClassIndexMap) Save(path string) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid class index map: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create label map file: %v", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(m); err != nil {
		return fmt.Errorf("failed to encode label map: %v", err)
	}
	return nil
}

// LoadClassIndexMap reads a map previously written by Save and validates
// it.
func LoadClassIndexMap(path string) (ClassIndexMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open label map file: %v", err)
	}
	defer f.Close()

	var m ClassIndexMap
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode label map: %v", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("loaded label map is invalid: %v", err)
	}
	return m, nil
}
