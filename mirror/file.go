package mirror

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var errCorruptDocument = errors.New("corrupt mirror file")

type fileDocument struct {
	Entries map[string]string `yaml:"entries"`
}

// File stores mirror entries in a YAML document. Every write replaces the
// file through a rename so a crash never leaves a truncated document.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("mirror file path is required")
	}
	return &File{path: filepath.Clean(path)}, nil
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Entries[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Entries[key] = value
	return f.write(doc)
}

func (f *File) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	// A corrupt document is dropped as a whole.
	doc, err := f.read()
	if errors.Is(err, errCorruptDocument) {
		doc, err = fileDocument{Entries: map[string]string{}}, nil
	}
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(doc.Entries, k)
	}
	if len(doc.Entries) == 0 {
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil
	}
	return f.write(doc)
}

func (f *File) read() (fileDocument, error) {
	doc := fileDocument{Entries: map[string]string{}}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fileDocument{Entries: map[string]string{}}, fmt.Errorf("%w: %v", errCorruptDocument, err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]string{}
	}
	return doc, nil
}

func (f *File) write(doc fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode mirror file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
