// Package dataset loads labeled images from a directory tree where each
// subdirectory names one class.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// ImageFolderDataset indexes a class-per-subdirectory image tree. Class
// indices are assigned by sorted directory name, so the same tree always
// yields the same mapping.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

// NewImageFolderDataset scans root for class subdirectories and their
// images. Missing or empty roots are an error; training cannot proceed
// without data.
func NewImageFolderDataset(root string, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset root %s: %w", root, err)
	}

	d := &ImageFolderDataset{
		classToIdx: make(map[string]int),
	}

	var classDirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			classDirs = append(classDirs, entry.Name())
		}
	}
	sort.Strings(classDirs)

	if len(classDirs) == 0 {
		return nil, fmt.Errorf("no class directories found in %s", root)
	}

	for classIdx, className := range classDirs {
		d.classNames = append(d.classNames, className)
		d.classToIdx[className] = classIdx

		classPath := filepath.Join(root, className)
		files, err := os.ReadDir(classPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read class directory %s: %w", classPath, err)
		}

		found := 0
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if !hasImageExtension(file.Name(), extensions) {
				continue
			}
			d.imagePaths = append(d.imagePaths, filepath.Join(classPath, file.Name()))
			d.labels = append(d.labels, classIdx)
			found++
		}

		if found == 0 {
			return nil, fmt.Errorf("class directory %s contains no images", classPath)
		}
	}

	return d, nil
}

func hasImageExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Len returns the number of images in the dataset.
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and class index at the given position.
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of classes.
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the class names ordered by index.
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassToIdx returns a copy of the name-to-index mapping.
func (d *ImageFolderDataset) ClassToIdx() map[string]int {
	m := make(map[string]int, len(d.classToIdx))
	for k, v := range d.classToIdx {
		m[k] = v
	}
	return m
}

// ClassDistribution returns the sample count per class name.
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}
