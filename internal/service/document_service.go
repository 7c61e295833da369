package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/metrics"
	"devtoolkit/internal/repository"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

const (
	maxFields      = 64
	maxStringLen   = 10000
	maxNestedDepth = 5
)

// ChangeNotifier is told about every committed write so live subscribers
// can be sent a fresh snapshot.
type ChangeNotifier interface {
	CollectionChanged(ctx context.Context, userID, collection string)
}

type DocumentService struct {
	docRepo  repository.DocumentRepository
	links    *bluemonday.Policy
	metrics  metrics.Recorder
	logger   *zap.Logger
	notifier ChangeNotifier
	now      func() time.Time
}

func NewDocumentService(docRepo repository.DocumentRepository, rec metrics.Recorder, logger *zap.Logger) *DocumentService {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		docRepo: docRepo,
		links:   newLinkPolicy(),
		metrics: rec,
		logger:  logger.Named("documents"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *DocumentService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// Authorize checks that callerID may access users/{userID}/{collection}.
func (s *DocumentService) Authorize(callerID, userID, collection string) error {
	if callerID == "" || callerID != userID {
		return ErrForbidden
	}
	if !domain.AllowedCollections[collection] {
		return ErrInvalidCollection
	}
	return nil
}

func (s *DocumentService) Get(ctx context.Context, callerID, userID, collection, docID string) (*domain.Document, error) {
	if err := s.Authorize(callerID, userID, collection); err != nil {
		return nil, err
	}

	doc, err := s.docRepo.Get(ctx, userID, collection, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, callerID, userID, collection string) ([]*domain.Document, error) {
	if err := s.Authorize(callerID, userID, collection); err != nil {
		return nil, err
	}

	docs, err := s.docRepo.List(ctx, userID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

type SetOptions struct {
	Merge        bool
	StampCreated bool
}

func (s *DocumentService) Set(ctx context.Context, callerID, userID, collection, docID string, fields map[string]interface{}, opts SetOptions) (*domain.Document, error) {
	if err := s.Authorize(callerID, userID, collection); err != nil {
		return nil, err
	}
	if len(fields) > maxFields {
		return nil, fmt.Errorf("%w: too many fields", ErrInvalidDocument)
	}

	for k, v := range fields {
		if err := s.checkValue(k, v, 1); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidDocument, k, err)
		}
	}

	now := s.now()
	doc, err := s.docRepo.Upsert(ctx, userID, collection, docID, func(existing *domain.Document) *domain.Document {
		next := &domain.Document{Fields: map[string]interface{}{}}
		if existing != nil {
			next.CreatedAt = existing.CreatedAt
			if opts.Merge {
				for k, v := range existing.Fields {
					next.Fields[k] = v
				}
			}
		}
		for k, v := range fields {
			next.Fields[k] = v
		}
		if opts.StampCreated && next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		return next
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}

	s.metrics.RecordDocumentWrite(collection, "set")
	s.changed(ctx, userID, collection)
	return doc, nil
}

func (s *DocumentService) Delete(ctx context.Context, callerID, userID, collection, docID string) error {
	if err := s.Authorize(callerID, userID, collection); err != nil {
		return err
	}

	if err := s.docRepo.Delete(ctx, userID, collection, docID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.metrics.RecordDocumentWrite(collection, "delete")
	s.changed(ctx, userID, collection)
	return nil
}

func (s *DocumentService) changed(ctx context.Context, userID, collection string) {
	if s.notifier == nil {
		return
	}
	s.notifier.CollectionChanged(ctx, userID, collection)
}

// newLinkPolicy admits an anchor's href only for absolute http(s) URLs.
func newLinkPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return p
}

// safeLink reports whether u would survive as a link target. Pages put url
// fields into href attributes.
func (s *DocumentService) safeLink(u string) bool {
	out := s.links.Sanitize(`<a href="` + html.EscapeString(u) + `">`)
	return strings.Contains(out, "href=")
}

// checkValue enforces size and nesting limits and rejects unsafe url fields.
// Strings are stored as sent; escaping is up to whoever renders them.
func (s *DocumentService) checkValue(key string, v interface{}, depth int) error {
	if depth > maxNestedDepth {
		return errors.New("nested too deeply")
	}

	switch t := v.(type) {
	case string:
		if len(t) > maxStringLen {
			return errors.New("value too long")
		}
		if key == "url" && t != "" && !s.safeLink(t) {
			return errors.New("url must be an absolute http or https link")
		}
	case []interface{}:
		for _, e := range t {
			if err := s.checkValue(key, e, depth+1); err != nil {
				return err
			}
		}
	case map[string]interface{}:
		for k, e := range t {
			if err := s.checkValue(k, e, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
