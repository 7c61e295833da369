package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"devtoolkit/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	EmailExists(ctx context.Context, email string) (bool, error)
}

// userDoc carries the CouchDB revision alongside the user.
type userDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.User
}

type userRepository struct {
	client *kivik.Client
	dbName string
}

func NewUserRepository(client *kivik.Client, dbName string) UserRepository {
	return &userRepository{
		client: client,
		dbName: dbName,
	}
}

func userDocID(id string) string {
	return fmt.Sprintf("user:%s", id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	db := r.client.DB(r.dbName)

	user.Email = normalizeEmail(user.Email)
	_, err := db.Put(ctx, userDocID(user.ID), userDoc{DocType: "user", User: *user})
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": "user",
			"email":    normalizeEmail(email),
		},
		"limit": 1,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var doc userDoc
	if err := rows.ScanDoc(&doc); err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	return &doc.User, nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &doc.User, nil
}

func (r *userRepository) get(ctx context.Context, id string) (*userDoc, error) {
	db := r.client.DB(r.dbName)

	var doc userDoc
	if err := db.Get(ctx, userDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &doc, nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	db := r.client.DB(r.dbName)

	existing, err := r.get(ctx, user.ID)
	if err != nil {
		return err
	}

	_, err = db.Put(ctx, userDocID(user.ID), userDoc{Rev: existing.Rev, DocType: "user", User: *user})
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	return nil
}

func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
