// Package syncstore keeps one typed value mirrored between local storage and
// a per-user remote document, reconciling the two when a user signs in.
package syncstore

import (
	"fmt"
	"io"
	"strings"

	"devtoolkit/internal/docstore"
)

type Source int

const (
	Local Source = iota
	Remote
)

func (s Source) String() string {
	if s == Remote {
		return "remote"
	}
	return "local"
}

// SyncedValue is a payload stamped with a client-clock time in milliseconds.
type SyncedValue[T any] struct {
	Payload   T
	UpdatedAt int64
	Source    Source
}

// Descriptor locates a value in local storage and in the user's documents.
type Descriptor struct {
	LocalKey   string
	Collection string
	DocID      string
	ExportName string
}

// Kind supplies the type-specific behavior for one stored value.
//
// Decode must tolerate malformed input: fields of the wrong type or missing
// entirely decode as empty. Progress is the scalar compared during
// reconciliation.
type Kind[T any] interface {
	Descriptor() Descriptor
	Default() T
	Normalize(T) T
	Progress(T) int
	Encode(T) docstore.Fields
	Decode(docstore.Fields) T
	Render(T) string
}

// RemoteWins reports whether remote should replace local: strictly more
// progress, or equal progress and a strictly newer stamp.
func RemoteWins[T any](local, remote SyncedValue[T], progress func(T) int) bool {
	lp, rp := progress(local.Payload), progress(remote.Payload)
	if rp != lp {
		return rp > lp
	}
	return remote.UpdatedAt > local.UpdatedAt
}

// PickByProgress returns whichever value wins reconciliation. The loser is
// discarded whole; partial progress is never merged.
func PickByProgress[T any](local, remote SyncedValue[T], progress func(T) int) SyncedValue[T] {
	if RemoteWins(local, remote, progress) {
		return remote
	}
	return local
}

type Cause int

const (
	CauseLoad Cause = iota
	CauseMutate
	CauseReset
	CauseReconcile
	CausePush
)

func (c Cause) String() string {
	switch c {
	case CauseMutate:
		return "mutate"
	case CauseReset:
		return "reset"
	case CauseReconcile:
		return "reconcile"
	case CausePush:
		return "push"
	default:
		return "load"
	}
}

type Event[T any] struct {
	Value SyncedValue[T]
	Cause Cause
}

// Download is a rendering of a payload that is produced only when written.
type Download struct {
	Filename string
	render   func() string
}

func (d *Download) WriteTo(w io.Writer) (int64, error) {
	n, err := io.Copy(w, strings.NewReader(d.render()))
	if err != nil {
		return n, fmt.Errorf("write %s: %w", d.Filename, err)
	}
	return n, nil
}

func (d *Download) String() string {
	return d.render()
}
