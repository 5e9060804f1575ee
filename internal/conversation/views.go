// ABOUTME: Read-only projections of users, messages and conversations sent to clients
// ABOUTME: JSON field names here are the wire names of the realtime protocol

package conversation

import (
	"time"

	"github.com/2389/chatline/internal/store"
)

// Profile is a user's public attributes plus a presence snapshot
type Profile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ProfilePic string `json:"profile_pic"`
	Online     bool   `json:"online"`
}

// MessageView is a message as delivered to clients
type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Text           string    `json:"text"`
	ImageURL       string    `json:"imageUrl"`
	VideoURL       string    `json:"videoUrl"`
	Seen           bool      `json:"seen"`
	AuthorID       string    `json:"msgByUserId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary is one entry of a participant's conversation list. It is derived
// on demand and never stored.
type Summary struct {
	ID        string       `json:"id"`
	Peer      Profile      `json:"peer"`
	UnseenMsg int          `json:"unseenMsg"`
	LastMsg   *MessageView `json:"lastMsg"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ViewOf projects a stored message
func ViewOf(m *store.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Text:           m.Text,
		ImageURL:       m.ImageURL,
		VideoURL:       m.VideoURL,
		Seen:           m.Seen,
		AuthorID:       m.AuthorID,
		CreatedAt:      m.CreatedAt,
	}
}

func profileOf(u *store.User, online bool) Profile {
	return Profile{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		Online:     online,
	}
}
