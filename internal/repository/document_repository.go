package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"devtoolkit/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// maxWriteAttempts bounds the read-modify-write loop when CouchDB reports a
// revision conflict from a concurrent writer.
const maxWriteAttempts = 3

type DocumentRepository interface {
	Get(ctx context.Context, userID, collection, docID string) (*domain.Document, error)
	List(ctx context.Context, userID, collection string) ([]*domain.Document, error)
	// Upsert applies mutate to the stored document (nil when absent) and
	// writes the result.
	Upsert(ctx context.Context, userID, collection, docID string, mutate func(existing *domain.Document) *domain.Document) (*domain.Document, error)
	Delete(ctx context.Context, userID, collection, docID string) error
}

type couchDocument struct {
	Rev        string                 `json:"_rev,omitempty"`
	DocType    string                 `json:"doc_type"`
	UserID     string                 `json:"user_id"`
	Collection string                 `json:"collection"`
	DocID      string                 `json:"doc_id"`
	Fields     map[string]interface{} `json:"fields"`
	CreatedAt  string                 `json:"created_at,omitempty"`
	UpdatedAt  string                 `json:"updated_at"`
}

type documentRepository struct {
	db *kivik.DB
}

func NewDocumentRepository(client *kivik.Client, dbName string) DocumentRepository {
	return &documentRepository{
		db: client.DB(dbName),
	}
}

func documentID(userID, collection, docID string) string {
	return fmt.Sprintf("doc:%s:%s:%s", userID, collection, docID)
}

func (r *documentRepository) load(ctx context.Context, userID, collection, docID string) (*couchDocument, error) {
	var doc couchDocument
	if err := r.db.Get(ctx, documentID(userID, collection, docID)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (r *documentRepository) Get(ctx context.Context, userID, collection, docID string) (*domain.Document, error) {
	doc, err := r.load(ctx, userID, collection, docID)
	if err != nil {
		return nil, err
	}
	return docToDomain(doc), nil
}

func (r *documentRepository) List(ctx context.Context, userID, collection string) ([]*domain.Document, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":   "document",
			"user_id":    userID,
			"collection": collection,
		},
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*domain.Document{}
	for rows.Next() {
		var doc couchDocument
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		docs = append(docs, docToDomain(&doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].DocID < docs[j].DocID
	})
	return docs, nil
}

func (r *documentRepository) Upsert(ctx context.Context, userID, collection, docID string, mutate func(*domain.Document) *domain.Document) (*domain.Document, error) {
	id := documentID(userID, collection, docID)

	for attempt := 1; ; attempt++ {
		var existing *domain.Document
		rev := ""
		stored, err := r.load(ctx, userID, collection, docID)
		switch {
		case err == nil:
			existing = docToDomain(stored)
			rev = stored.Rev
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}

		next := mutate(existing)
		next.UserID, next.Collection, next.DocID = userID, collection, docID

		_, err = r.db.Put(ctx, id, domainToDoc(next, rev))
		if err == nil {
			return next, nil
		}
		if kivik.HTTPStatus(err) == http.StatusConflict && attempt < maxWriteAttempts {
			continue
		}
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to write document: %w", err)
	}
}

func (r *documentRepository) Delete(ctx context.Context, userID, collection, docID string) error {
	for attempt := 1; ; attempt++ {
		stored, err := r.load(ctx, userID, collection, docID)
		if err != nil {
			return err
		}

		_, err = r.db.Delete(ctx, documentID(userID, collection, docID), stored.Rev)
		if err == nil {
			return nil
		}
		switch kivik.HTTPStatus(err) {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			if attempt < maxWriteAttempts {
				continue
			}
			return ErrConflict
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
}

func docToDomain(doc *couchDocument) *domain.Document {
	out := &domain.Document{
		UserID:     doc.UserID,
		Collection: doc.Collection,
		DocID:      doc.DocID,
		Fields:     doc.Fields,
	}
	if out.Fields == nil {
		out.Fields = map[string]interface{}{}
	}
	out.CreatedAt, _ = time.Parse(time.RFC3339Nano, doc.CreatedAt)
	out.UpdatedAt, _ = time.Parse(time.RFC3339Nano, doc.UpdatedAt)
	return out
}

func domainToDoc(d *domain.Document, rev string) couchDocument {
	doc := couchDocument{
		Rev:        rev,
		DocType:    "document",
		UserID:     d.UserID,
		Collection: d.Collection,
		DocID:      d.DocID,
		Fields:     d.Fields,
		UpdatedAt:  d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !d.CreatedAt.IsZero() {
		doc.CreatedAt = d.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc
}
