// Package collections manages the on-disk layout of a local capture
// collection.
package collections

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRoot is the collection directory used when none is configured.
const DefaultRoot = "collections/mementos"

// indexDBFile is the capture index database inside the indexes directory.
const indexDBFile = "captures.db"

// Layout locates the subdirectories of one collection root.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at dir, falling back to DefaultRoot
// when dir is empty.
func NewLayout(dir string) Layout {
	if dir == "" {
		dir = DefaultRoot
	}
	return Layout{Root: dir}
}

// Indexes is the directory holding the capture index.
func (l Layout) Indexes() string { return filepath.Join(l.Root, "indexes") }

// Archive is the directory holding recorded payload files.
func (l Layout) Archive() string { return filepath.Join(l.Root, "archive") }

// Screenshots is the directory capture output is written into.
func (l Layout) Screenshots() string { return filepath.Join(l.Root, "screenshots") }

// IndexDB is the path of the capture index database.
func (l Layout) IndexDB() string { return filepath.Join(l.Indexes(), indexDBFile) }

// Ensure creates the collection directories if absent. It is safe to call
// on every run.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Indexes(), l.Archive(), l.Screenshots()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating collection directory %s: %w", dir, err)
		}
	}
	return nil
}
