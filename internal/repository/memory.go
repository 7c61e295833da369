package repository

import (
	"context"
	"sort"
	"sync"

	"devtoolkit/internal/domain"
)

// MemoryUserRepository keeps users in process. It backs DB_DRIVER=memory
// and the handler tests.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[string]domain.User)}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = normalizeEmail(user.Email)
	if _, ok := r.users[user.ID]; ok {
		return ErrConflict
	}
	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrEmailExists
		}
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = normalizeEmail(email)
	for _, u := range r.users {
		if u.Email == email {
			found := u
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return ErrNotFound
	}
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

type MemoryDocumentRepository struct {
	mu   sync.Mutex
	docs map[string]domain.Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{docs: make(map[string]domain.Document)}
}

func (r *MemoryDocumentRepository) Get(ctx context.Context, userID, collection, docID string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.docs[documentID(userID, collection, docID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(d), nil
}

func (r *MemoryDocumentRepository) List(ctx context.Context, userID, collection string) ([]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]*domain.Document, 0)
	for _, d := range r.docs {
		if d.UserID == userID && d.Collection == collection {
			docs = append(docs, copyDocument(d))
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].DocID < docs[j].DocID
	})
	return docs, nil
}

func (r *MemoryDocumentRepository) Upsert(ctx context.Context, userID, collection, docID string, mutate func(*domain.Document) *domain.Document) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := documentID(userID, collection, docID)
	var existing *domain.Document
	if d, ok := r.docs[id]; ok {
		existing = copyDocument(d)
	}

	next := mutate(existing)
	next.UserID, next.Collection, next.DocID = userID, collection, docID
	r.docs[id] = *copyDocument(*next)
	return next, nil
}

func (r *MemoryDocumentRepository) Delete(ctx context.Context, userID, collection, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := documentID(userID, collection, docID)
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

// copyDocument copies the top-level field map. Nested values are shared;
// callers treat them as read-only.
func copyDocument(d domain.Document) *domain.Document {
	fields := make(map[string]interface{}, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	d.Fields = fields
	return &d
}
