package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devtoolkit/internal/websocket"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("signed out")
	}
	return string(s), nil
}

// fakeServer speaks the server's REST and websocket protocol on top of a
// Memory backend, scoped to a single user.
type fakeServer struct {
	t       *testing.T
	store   *Memory
	userID  string
	token   string
	deny    bool
	upgrade gws.Upgrader
}

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{"success": status < 400}
	if data != nil {
		body["data"] = data
	}
	if msg != "" {
		body["error"] = msg
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ws" {
		f.serveWS(w, r)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		writeEnvelope(w, http.StatusUnauthorized, nil, "unauthorized")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/")
	if strings.Count(rest, "/") == 2 {
		c, err := ParseCollectionPath(rest)
		if err != nil {
			writeEnvelope(w, http.StatusBadRequest, nil, err.Error())
			return
		}
		docs := make(chan Snapshot, 1)
		sub, err := f.store.Watch(r.Context(), c, func(s Snapshot) { docs <- s }, nil)
		require.NoError(f.t, err)
		snap := <-docs
		sub.Cancel()
		writeEnvelope(w, http.StatusOK, snap.Docs, "")
		return
	}

	p, err := ParsePath(rest)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, nil, err.Error())
		return
	}
	if p.UserID != f.userID {
		writeEnvelope(w, http.StatusForbidden, nil, "forbidden")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := f.store.Get(r.Context(), p)
		if errors.Is(err, ErrNotFound) {
			writeEnvelope(w, http.StatusNotFound, nil, "document not found")
			return
		}
		writeEnvelope(w, http.StatusOK, doc, "")
	case http.MethodPut:
		var body struct {
			Fields Fields `json:"fields"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		opts := SetOptions{
			Merge:        r.URL.Query().Get("merge") == "true",
			StampCreated: r.URL.Query().Get("stamp_created") == "true",
		}
		require.NoError(f.t, f.store.Set(r.Context(), p, body.Fields, opts))
		writeEnvelope(w, http.StatusOK, nil, "")
	case http.MethodDelete:
		err := f.store.Delete(r.Context(), p)
		if errors.Is(err, ErrNotFound) {
			writeEnvelope(w, http.StatusNotFound, nil, "document not found")
			return
		}
		writeEnvelope(w, http.StatusOK, nil, "")
	}
}

func (f *fakeServer) serveWS(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != f.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := f.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		return
	}
	var sub websocket.SubscribePayload
	require.NoError(f.t, msg.UnmarshalPayload(&sub))

	c, err := ParseCollectionPath(sub.Collection)
	if err != nil || f.deny || c.UserID != f.userID {
		out, _ := websocket.NewMessage(websocket.TypeError, websocket.ErrorPayload{
			Collection: sub.Collection,
			Code:       websocket.CodePermissionDenied,
			Message:    "missing or insufficient permissions",
		})
		_ = conn.WriteJSON(out)
		return
	}

	snaps := make(chan Snapshot, 16)
	watch, err := f.store.Watch(r.Context(), c, func(s Snapshot) { snaps <- s }, nil)
	require.NoError(f.t, err)
	defer watch.Cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case s := <-snaps:
			docs := make([]websocket.DocumentPayload, 0, len(s.Docs))
			for _, d := range s.Docs {
				docs = append(docs, websocket.DocumentPayload{ID: d.ID, Fields: d.Fields, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt})
			}
			out, _ := websocket.NewMessage(websocket.TypeSnapshot, websocket.SnapshotPayload{Collection: sub.Collection, Seq: s.Seq, Docs: docs})
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}

func newRemoteFixture(t *testing.T) (*fakeServer, *Remote) {
	t.Helper()
	fake := &fakeServer{t: t, store: NewMemory(), userID: "u1", token: "tok-u1"}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	remote, err := NewRemote(srv.URL, staticToken(fake.token))
	require.NoError(t, err)
	return fake, remote
}

func TestRemoteCRUD(t *testing.T) {
	ctx := context.Background()
	_, remote := newRemoteFixture(t)
	p := Path{UserID: "u1", Collection: "learn", DocID: "plan"}

	_, err := remote.Get(ctx, p)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, remote.Set(ctx, p, Fields{"level": "Intermediate", "done": []string{"i_fetch"}}, SetOptions{Merge: true}))
	require.NoError(t, remote.Set(ctx, p, Fields{"updatedAt": 42}, SetOptions{Merge: true}))

	doc, err := remote.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Intermediate", doc.Fields.String("level"))
	assert.Equal(t, []string{"i_fetch"}, doc.Fields.Strings("done"))
	n, ok := doc.Fields.Int64("updatedAt")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	list, err := remote.List(ctx, p.CollectionPath())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "plan", list[0].ID)

	require.NoError(t, remote.Delete(ctx, p))
	assert.ErrorIs(t, remote.Delete(ctx, p), ErrNotFound)
}

func TestRemoteErrors(t *testing.T) {
	ctx := context.Background()
	fake, remote := newRemoteFixture(t)

	_, err := remote.Get(ctx, Path{UserID: "someone-else", Collection: "learn", DocID: "plan"})
	assert.ErrorIs(t, err, ErrPermission)

	anon, err := NewRemote(remote.baseURL.String(), staticToken(""))
	require.NoError(t, err)
	_, err = anon.Get(ctx, Path{UserID: "u1", Collection: "learn", DocID: "plan"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	wrong, err := NewRemote(remote.baseURL.String(), staticToken("nope"))
	require.NoError(t, err)
	_, err = wrong.Get(ctx, Path{UserID: fake.userID, Collection: "learn", DocID: "plan"})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	down, err := NewRemote("http://127.0.0.1:1", staticToken("tok"))
	require.NoError(t, err)
	_, err = down.Get(ctx, Path{UserID: "u1", Collection: "learn", DocID: "plan"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = NewRemote("ftp://example.com", staticToken("tok"))
	assert.Error(t, err)
}

func TestRemoteWatch(t *testing.T) {
	ctx := context.Background()
	fake, remote := newRemoteFixture(t)
	c := CollectionPath{UserID: "u1", Collection: "favorites"}

	snaps := make(chan Snapshot, 16)
	sub, err := remote.Watch(ctx, c, func(s Snapshot) { snaps <- s }, func(err error) { t.Errorf("unexpected error: %v", err) })
	require.NoError(t, err)

	waitSnapshot(t, snaps, func(s Snapshot) bool { return len(s.Docs) == 0 })

	require.NoError(t, fake.store.Set(ctx, c.Doc("tool_git"), Fields{"title": "Git"}, SetOptions{Merge: true, StampCreated: true}))
	snap := waitSnapshot(t, snaps, func(s Snapshot) bool { return len(s.Docs) == 1 })
	assert.Equal(t, "tool_git", snap.Docs[0].ID)
	assert.Equal(t, "Git", snap.Docs[0].Fields.String("title"))
	assert.Equal(t, c, snap.Collection)

	sub.Cancel()
	sub.Cancel()
}

func TestRemoteWatchPermissionDenied(t *testing.T) {
	fake, remote := newRemoteFixture(t)
	fake.deny = true

	errs := make(chan error, 1)
	sub, err := remote.Watch(context.Background(), CollectionPath{UserID: "u1", Collection: "favorites"}, func(Snapshot) {}, func(err error) { errs <- err })
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrPermission)
	case <-time.After(2 * time.Second):
		t.Fatal("permission error not delivered")
	}
}

func TestRemoteWatchRejectedHandshake(t *testing.T) {
	_, remote := newRemoteFixture(t)
	bad, err := NewRemote(remote.baseURL.String(), staticToken("nope"))
	require.NoError(t, err)

	_, err = bad.Watch(context.Background(), CollectionPath{UserID: "u1", Collection: "favorites"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
