package docstore

import (
	"context"
	"errors"
	"fmt"
)

// Mutator adds and removes single documents in one per-user collection.
type Mutator struct {
	backend    Backend
	collection string
}

func NewMutator(b Backend, collection string) *Mutator {
	return &Mutator{backend: b, collection: collection}
}

// Add merge-upserts the document, keeping its creation stamp if it has one.
func (m *Mutator) Add(ctx context.Context, userID, id string, fields Fields) error {
	if m.backend == nil {
		return ErrUnavailable
	}
	p := Path{UserID: userID, Collection: m.collection, DocID: id}
	if err := m.backend.Set(ctx, p, fields, SetOptions{Merge: true, StampCreated: true}); err != nil {
		return fmt.Errorf("add %s: %w", p, err)
	}
	return nil
}

// Remove deletes the document. A document that does not exist is not an error.
func (m *Mutator) Remove(ctx context.Context, userID, id string) error {
	if m.backend == nil {
		return ErrUnavailable
	}
	p := Path{UserID: userID, Collection: m.collection, DocID: id}
	if err := m.backend.Delete(ctx, p); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}
