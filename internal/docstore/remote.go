package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"devtoolkit/internal/websocket"
)

// TokenSource hands out a valid access token for the signed-in user.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type RemoteOption func(*Remote)

func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.http = c }
}

func WithDialer(d *gws.Dialer) RemoteOption {
	return func(r *Remote) { r.dialer = d }
}

func WithLogger(l *zap.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// Remote talks to the DevToolkit server: REST for reads and writes, one
// websocket per live subscription.
type Remote struct {
	baseURL *url.URL
	tokens  TokenSource
	http    *http.Client
	dialer  *gws.Dialer
	logger  *zap.Logger
}

func NewRemote(baseURL string, tokens TokenSource, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	r := &Remote{
		baseURL: u,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  gws.DefaultDialer,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("docstore.remote")
	return r, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

func (r *Remote) endpoint(p string, query url.Values) string {
	u := *r.baseURL
	u.Path = r.baseURL.Path + "/api/v1/" + p
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (r *Remote) do(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	if err := statusError(resp.StatusCode, env.Error); err != nil {
		return err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}
	}
	return nil
}

func statusError(status int, msg string) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusUnauthorized:
		return ErrUnauthenticated
	case status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrPermission, msg)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidPath, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, msg)
	}
}

func (r *Remote) Get(ctx context.Context, p Path) (*Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var doc Document
	if err := r.do(ctx, http.MethodGet, r.endpoint(p.String(), nil), nil, &doc); err != nil {
		return nil, err
	}
	if doc.Fields == nil {
		doc.Fields = Fields{}
	}
	return &doc, nil
}

func (r *Remote) Set(ctx context.Context, p Path, fields Fields, opts SetOptions) error {
	if err := p.Validate(); err != nil {
		return err
	}
	q := url.Values{}
	q.Set("merge", strconv.FormatBool(opts.Merge))
	q.Set("stamp_created", strconv.FormatBool(opts.StampCreated))
	return r.do(ctx, http.MethodPut, r.endpoint(p.String(), q), map[string]interface{}{"fields": fields}, nil)
}

func (r *Remote) Delete(ctx context.Context, p Path) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.do(ctx, http.MethodDelete, r.endpoint(p.String(), nil), nil, nil)
}

// List returns the collection once, ordered like a snapshot.
func (r *Remote) List(ctx context.Context, c CollectionPath) ([]Document, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var docs []Document
	if err := r.do(ctx, http.MethodGet, r.endpoint(c.String(), nil), nil, &docs); err != nil {
		return nil, err
	}
	SortDocs(docs)
	return docs, nil
}

func (r *Remote) Watch(ctx context.Context, c CollectionPath, onSnapshot func(Snapshot), onError func(error)) (Subscription, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	u := *r.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = r.baseURL.Path + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	conn, resp, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			if serr := statusError(resp.StatusCode, resp.Status); serr != nil {
				return nil, serr
			}
		}
		return nil, fmt.Errorf("%w: dial: %v", ErrUnavailable, err)
	}

	sub := &remoteSubscription{
		conn:       conn,
		collection: c,
		onSnapshot: onSnapshot,
		onError:    onError,
		logger:     r.logger.With(zap.String("collection", c.String())),
		done:       make(chan struct{}),
	}

	msg, err := websocket.NewMessage(websocket.TypeSubscribe, websocket.SubscribePayload{Collection: c.String()})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", ErrUnavailable, err)
	}

	go sub.readLoop()
	return sub, nil
}

type remoteSubscription struct {
	conn       *gws.Conn
	collection CollectionPath
	onSnapshot func(Snapshot)
	onError    func(error)
	logger     *zap.Logger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (s *remoteSubscription) readLoop() {
	defer s.conn.Close()

	for {
		var msg websocket.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if s.cancelled() {
				return
			}
			s.deliverError(fmt.Errorf("%w: %v", ErrUnavailable, err))
			return
		}
		if s.cancelled() {
			return
		}

		switch msg.Type {
		case websocket.TypeSnapshot:
			var p websocket.SnapshotPayload
			if err := msg.UnmarshalPayload(&p); err != nil {
				s.logger.Warn("discarding malformed snapshot", zap.Error(err))
				continue
			}
			if p.Collection != s.collection.String() {
				continue
			}
			if s.onSnapshot != nil {
				s.onSnapshot(snapshotFromPayload(s.collection, p))
			}

		case websocket.TypeError:
			var p websocket.ErrorPayload
			_ = msg.UnmarshalPayload(&p)
			s.deliverError(errorFromPayload(p))
			return

		case websocket.TypePing:
			pong, _ := websocket.NewMessage(websocket.TypePong, nil)
			s.writeMu.Lock()
			_ = s.conn.WriteJSON(pong)
			s.writeMu.Unlock()
		}
	}
}

func (s *remoteSubscription) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *remoteSubscription) deliverError(err error) {
	s.once.Do(func() { close(s.done) })
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *remoteSubscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		msg, err := websocket.NewMessage(websocket.TypeUnsubscribe, websocket.SubscribePayload{Collection: s.collection.String()})
		s.writeMu.Lock()
		if err == nil {
			_ = s.conn.WriteJSON(msg)
		}
		_ = s.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}

func snapshotFromPayload(c CollectionPath, p websocket.SnapshotPayload) Snapshot {
	docs := make([]Document, 0, len(p.Docs))
	for _, d := range p.Docs {
		fields := Fields(d.Fields)
		if fields == nil {
			fields = Fields{}
		}
		docs = append(docs, Document{ID: d.ID, Fields: fields, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
	}
	SortDocs(docs)
	return Snapshot{Collection: c, Docs: docs, Seq: p.Seq}
}

func errorFromPayload(p websocket.ErrorPayload) error {
	switch p.Code {
	case websocket.CodePermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermission, p.Message)
	case websocket.CodeInvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidPath, p.Message)
	default:
		return fmt.Errorf("%w: %s", ErrUnavailable, p.Message)
	}
}
