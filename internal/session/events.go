// ABOUTME: Inbound and outbound event names and inbound payload decoding
// ABOUTME: Payload fields use the realtime protocol's wire names

package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound events
const (
	EventMessagePage = "message-page"
	EventNewMessage  = "new message"
	EventSidebar     = "sidebar"
	EventSeen        = "seen"
)

// Outbound events
const (
	EventOnlineUser   = "onlineUser"
	EventMessageUser  = "message-user"
	EventMessage      = "message"
	EventConversation = "conversation"
)

// newMessagePayload is the body of a "new message" event
type newMessagePayload struct {
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Text        string `json:"text"`
	ImageURL    string `json:"imageUrl"`
	VideoURL    string `json:"videoUrl"`
	MsgByUserID string `json:"msgByUserId"`
	ClientMsgID string `json:"clientMsgId"`
}

func decodeNewMessage(raw json.RawMessage) (newMessagePayload, error) {
	var p newMessagePayload
	if len(raw) == 0 {
		return p, ErrBadPayload
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return p, nil
}

// decodeIdentity reads a payload that is a bare identity string. Absent or
// null payloads decode to "".
func decodeIdentity(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: expected identity string", ErrBadPayload)
	}
	return id, nil
}

// requireIdentity is decodeIdentity for payloads that must name someone
func requireIdentity(raw json.RawMessage) (string, error) {
	id, err := decodeIdentity(raw)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: identity is required", ErrBadPayload)
	}
	return id, nil
}
