// ABOUTME: Store interface and data types for chatline persistence
// ABOUTME: Defines User, Conversation, Message and the pair-key helper shared by all backends

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists for the participant pair
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateUser is returned when a user with the same email already exists
var ErrDuplicateUser = errors.New("user already exists")

// User is an identity known to the user directory
type User struct {
	ID           string
	Name         string
	Email        string
	ProfilePic   string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is the durable thread between exactly two identities.
// Sender and Receiver record who opened it; the pair itself is unordered.
type Conversation struct {
	ID        string
	PairKey   string
	Sender    string
	Receiver  string
	CreatedAt time.Time
	UpdatedAt time.Time

	// LastSeq is the store-assigned sequence of the most recent message (0 when empty).
	// Conversations are listed by LastSeq descending.
	LastSeq int64
}

// Peer returns the participant of c that is not identity.
// For a self-conversation both participants are identity.
func (c *Conversation) Peer(identity string) string {
	if c.Sender == identity {
		return c.Receiver
	}
	return c.Sender
}

// Message is a single entry in a conversation
type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	Text           string
	ImageURL       string
	VideoURL       string
	Seen           bool
	CreatedAt      time.Time

	// Seq is assigned by the store on append and defines display order
	Seq int64
}

// HasContent reports whether the message carries text or a media reference
func (m *Message) HasContent() bool {
	return m.Text != "" || m.ImageURL != "" || m.VideoURL != ""
}

// PairKey returns the canonical key for the unordered pair {a, b}.
// PairKey(a, b) == PairKey(b, a).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Store defines the interface for user, conversation and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// Conversations. CreateConversation returns ErrDuplicateConversation when
	// the pair already has a conversation; at most one exists per pair.
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, a, b string) (*Conversation, error)
	ListConversationsFor(ctx context.Context, identity string) ([]*Conversation, error)

	// Messages. AppendMessage assigns msg.Seq and bumps the conversation's
	// UpdatedAt and LastSeq; it returns ErrNotFound for an unknown conversation.
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	CountUnseen(ctx context.Context, conversationID, authorID string) (int, error)
	MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
