// Package workspace is the code mutation service: an in-memory document
// store over a root directory, structural edit application with per-document
// exclusive access, and change events for observers.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"multiagent/pkg/logx"
)

// ChangeEvent describes one document mutation, internal or external.
type ChangeEvent struct {
	FilePath    string
	Offset      int
	OldFragment string
	NewFragment string
	Timestamp   time.Time
	External    bool
}

// ChangeListener receives change events. Listeners must be fast or hand off
// to their own goroutine; they are called synchronously.
type ChangeListener func(ChangeEvent)

// Document is one open file. Content mutations happen under the document
// lock so concurrent structural edits to the same file cannot interleave.
type Document struct {
	path    string
	mu      sync.Mutex
	content string
}

// Path returns the document's path relative to the store root.
func (d *Document) Path() string { return d.path }

// Content returns a snapshot of the document text.
func (d *Document) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// Len returns the current text length.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.content)
}

// Store owns the open documents beneath a root directory.
type Store struct {
	root   string
	logger *logx.Logger

	mu        sync.Mutex
	docs      map[string]*Document
	listeners []ChangeListener
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Store{
		root:   abs,
		logger: logx.NewLogger("workspace"),
		docs:   make(map[string]*Document),
	}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string { return s.root }

// OnChange registers a change listener.
func (s *Store) OnChange(listener ChangeListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
}

// Open returns the document for a workspace-relative path, creating the file
// and its parent directories when absent.
func (s *Store) Open(relPath string) (*Document, error) {
	relPath = filepath.ToSlash(filepath.Clean(relPath))
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return nil, fmt.Errorf("path escapes workspace: %s", relPath)
	}

	s.mu.Lock()
	if doc, ok := s.docs[relPath]; ok {
		s.mu.Unlock()
		return doc, nil
	}
	s.mu.Unlock()

	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create parent directory for %s: %w", relPath, err)
		}
		if err := os.WriteFile(abs, nil, 0o644); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", relPath, err)
		}
		s.logger.Info("Created file %s", relPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[relPath]; ok {
		return doc, nil
	}
	doc := &Document{path: relPath, content: string(data)}
	s.docs[relPath] = doc
	return doc, nil
}

// Load returns the current content of a workspace-relative path without
// opening or creating it. It reports false when the file does not exist.
func (s *Store) Load(relPath string) (string, bool) {
	relPath = filepath.ToSlash(filepath.Clean(relPath))
	if doc, ok := s.lookup(relPath); ok {
		return doc.Content(), true
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(relPath)))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// OpenPaths lists the open documents, sorted by path.
func (s *Store) OpenPaths() []string {
	s.mu.Lock()
	paths := make([]string, 0, len(s.docs))
	for p := range s.docs {
		paths = append(paths, p)
	}
	s.mu.Unlock()
	sort.Strings(paths)
	return paths
}

// lookup returns an already-open document without creating files.
func (s *Store) lookup(relPath string) (*Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[relPath]
	return doc, ok
}

// save persists the document under its own lock holder's control. Callers
// must hold doc.mu.
func (s *Store) save(doc *Document) error {
	abs := filepath.Join(s.root, filepath.FromSlash(doc.path))
	if err := os.WriteFile(abs, []byte(doc.content), 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", doc.path, err)
	}
	return nil
}

func (s *Store) emit(event ChangeEvent) {
	s.mu.Lock()
	listeners := make([]ChangeListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// reloadExternal refreshes an open document from disk and emits an external
// change event when the content differs. Used by the watcher.
func (s *Store) reloadExternal(relPath string) {
	doc, ok := s.lookup(relPath)
	if !ok {
		return
	}

	abs := filepath.Join(s.root, filepath.FromSlash(relPath))
	data, err := os.ReadFile(abs)
	if err != nil {
		s.logger.Warn("Failed to reload %s: %v", relPath, err)
		return
	}

	doc.mu.Lock()
	old := doc.content
	if old == string(data) {
		doc.mu.Unlock()
		return
	}
	doc.content = string(data)
	doc.mu.Unlock()

	s.logger.Debug("Reloaded %s after external modification", relPath)
	s.emit(ChangeEvent{
		FilePath:    relPath,
		OldFragment: old,
		NewFragment: string(data),
		Timestamp:   time.Now(),
		External:    true,
	})
}
