// ABOUTME: Session error sentinels and the error-kind taxonomy used for logging and dropping events
// ABOUTME: Kind maps any handler error onto auth, not-found, store or invalid

package session

import (
	"errors"

	"github.com/2389/chatline/internal/auth"
	"github.com/2389/chatline/internal/conversation"
	"github.com/2389/chatline/internal/store"
)

var (
	// ErrNotBound is returned for events that arrive on a session that is not
	// bound to an identity. The connection is closed.
	ErrNotBound = errors.New("session is not bound")

	ErrBadPayload       = errors.New("malformed event payload")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrIdentityMismatch = errors.New("identity does not match session")
	ErrEmptyMessage     = errors.New("message has no content")
	ErrDuplicateMessage = errors.New("duplicate client message id")
)

// ErrorKind classifies handler failures
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAuth
	KindNotFound
	KindStore
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindStore:
		return "store"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Kind classifies err. Anything unrecognized is treated as a store failure.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case auth.IsAuthError(err):
		return KindAuth
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotBound),
		errors.Is(err, ErrBadPayload),
		errors.Is(err, ErrUnknownEvent),
		errors.Is(err, ErrIdentityMismatch),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrDuplicateMessage),
		errors.Is(err, conversation.ErrInvalidParticipant):
		return KindInvalid
	default:
		return KindStore
	}
}
