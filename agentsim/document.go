// Copyright © 2024 The ELPS authors

package agentsim

import (
	"sync"

	"github.com/luthersystems/lenswait/lens"
)

// Document is an open text document tracked by the simulator.
type Document struct {
	mu         sync.Mutex
	URI        string
	LanguageID string
	Version    int32
	Content    string
	lenses     lens.Snapshot
}

// Lenses returns the lenses last published for the document.
func (d *Document) Lenses() lens.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lenses
}

func (d *Document) setLenses(s lens.Snapshot) {
	d.mu.Lock()
	d.lenses = s
	d.mu.Unlock()
}

// DocumentStore manages open documents with thread-safe access.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewDocumentStore creates an empty document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]*Document)}
}

// Open adds a document to the store, replacing any previous version.
func (s *DocumentStore) Open(uri, languageID string, version int32, content string) *Document {
	doc := &Document{
		URI:        uri,
		LanguageID: languageID,
		Version:    version,
		Content:    content,
		lenses:     lens.Snapshot{},
	}
	s.mu.Lock()
	s.docs[uri] = doc
	s.mu.Unlock()
	return doc
}

// Close removes a document from the store.
func (s *DocumentStore) Close(uri string) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
}

// Get retrieves a document by URI. Returns nil if not found.
func (s *DocumentStore) Get(uri string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[uri]
}

// Len returns the number of open documents.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
