package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/repository"
)

type mockUserRepository struct {
	mu    sync.Mutex
	users map[string]*domain.User
	err   error
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *user
	cp.Email = strings.ToLower(cp.Email)
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepository) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, user := range m.users {
		if user.Email == strings.ToLower(strings.TrimSpace(email)) {
			cp := *user
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if user, ok := m.users[id]; ok {
		cp := *user
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *mockUserRepository) Update(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type mockDocumentRepository struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func newMockDocumentRepository() *mockDocumentRepository {
	return &mockDocumentRepository{docs: make(map[string]*domain.Document)}
}

func docKey(userID, collection, docID string) string {
	return userID + "/" + collection + "/" + docID
}

func (m *mockDocumentRepository) Get(_ context.Context, userID, collection, docID string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docKey(userID, collection, docID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *mockDocumentRepository) List(_ context.Context, userID, collection string) ([]*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Document{}
	for _, doc := range m.docs {
		if doc.UserID == userID && doc.Collection == collection {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (m *mockDocumentRepository) Upsert(_ context.Context, userID, collection, docID string, mutate func(*domain.Document) *domain.Document) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(userID, collection, docID)
	var existing *domain.Document
	if doc, ok := m.docs[key]; ok {
		cp := *doc
		existing = &cp
	}
	next := mutate(existing)
	next.UserID, next.Collection, next.DocID = userID, collection, docID
	m.docs[key] = next
	return next, nil
}

func (m *mockDocumentRepository) Delete(_ context.Context, userID, collection, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := docKey(userID, collection, docID)
	if _, ok := m.docs[key]; !ok {
		return repository.ErrNotFound
	}
	delete(m.docs, key)
	return nil
}

type recordingMailer struct {
	mu     sync.Mutex
	tokens map[string]string
	err    error
}

func (m *recordingMailer) SendPasswordReset(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[email] = token
	return m.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (n *recordingNotifier) CollectionChanged(_ context.Context, userID, collection string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, userID+"/"+collection)
}
