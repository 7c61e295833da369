// Package docstore addresses per-user documents and collections and defines
// the backend contract the synchronized stores and projectors are built on.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrUnavailable     = errors.New("document store unavailable")
	ErrPermission      = errors.New("permission denied")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInvalidPath     = errors.New("invalid document path")
)

// Fields is the JSON-shaped content of a document.
type Fields map[string]any

// Path addresses users/{userId}/{collection}/{docId}.
type Path struct {
	UserID     string
	Collection string
	DocID      string
}

func (p Path) String() string {
	return "users/" + p.UserID + "/" + p.Collection + "/" + p.DocID
}

func (p Path) CollectionPath() CollectionPath {
	return CollectionPath{UserID: p.UserID, Collection: p.Collection}
}

func (p Path) Validate() error {
	if err := p.CollectionPath().Validate(); err != nil {
		return err
	}
	if !validSegment(p.DocID) {
		return fmt.Errorf("%w: document id %q", ErrInvalidPath, p.DocID)
	}
	return nil
}

func ParsePath(s string) (Path, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 4 || parts[0] != "users" {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	p := Path{UserID: parts[1], Collection: parts[2], DocID: parts[3]}
	return p, p.Validate()
}

// CollectionPath addresses users/{userId}/{collection}.
type CollectionPath struct {
	UserID     string
	Collection string
}

func (c CollectionPath) String() string {
	return "users/" + c.UserID + "/" + c.Collection
}

func (c CollectionPath) Doc(id string) Path {
	return Path{UserID: c.UserID, Collection: c.Collection, DocID: id}
}

func (c CollectionPath) Validate() error {
	if !validSegment(c.UserID) {
		return fmt.Errorf("%w: user id %q", ErrInvalidPath, c.UserID)
	}
	if !validSegment(c.Collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, c.Collection)
	}
	return nil
}

func ParseCollectionPath(s string) (CollectionPath, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) != 3 || parts[0] != "users" {
		return CollectionPath{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	c := CollectionPath{UserID: parts[1], Collection: parts[2]}
	return c, c.Validate()
}

func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, "/?#")
}

type Document struct {
	ID        string    `json:"id"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SetOptions struct {
	// Merge keeps existing fields that are not present in the write.
	Merge bool
	// StampCreated assigns CreatedAt on the backend when it is not yet set.
	StampCreated bool
}

// Snapshot is the full, ordered content of a collection at one point in
// its change sequence.
type Snapshot struct {
	Collection CollectionPath
	Docs       []Document
	Seq        uint64
}

type Subscription interface {
	Cancel()
}

// Backend is the remote document store. Watch delivers an initial snapshot
// and then one per change, on a goroutine owned by the backend; after an
// error is delivered the subscription is dead.
type Backend interface {
	Get(ctx context.Context, p Path) (*Document, error)
	Set(ctx context.Context, p Path, fields Fields, opts SetOptions) error
	Delete(ctx context.Context, p Path) error
	Watch(ctx context.Context, c CollectionPath, onSnapshot func(Snapshot), onError func(error)) (Subscription, error)
}

// SortDocs orders newest first, breaking ties by id.
func SortDocs(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// Normalize round-trips fields through JSON so every backend hands out the
// same shapes (float64 numbers, []any lists, fresh maps).
func Normalize(f Fields) (Fields, error) {
	if f == nil {
		return Fields{}, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	out := Fields{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return out, nil
}

// String returns the string field key, or "" when absent or not a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Strings returns the string elements of the list field key, skipping
// anything else.
func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Int64 returns the numeric field key truncated to an integer.
func (f Fields) Int64(key string) (int64, bool) {
	switch v := f[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}
