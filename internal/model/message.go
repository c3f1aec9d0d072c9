package model

import (
	"strings"
	"time"
)

const (
	MessageTypeText     = "conversation"
	MessageTypeExtended = "extendedTextMessage"
	MessageTypeAudio    = "audioMessage"
	MessageTypeImage    = "imageMessage"
	MessageTypeDocument = "documentMessage"
)

// Message is a chat message as stored by the messaging API
type Message struct {
	ID          string `json:"id"`
	RemoteJID   string `json:"remote_jid"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"from_me"`
	PushName    string `json:"push_name"`
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	// Text is the body of a text message or the caption of media
	Text string `json:"text,omitempty"`
}

// Time returns the message timestamp in local time
func (m Message) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// IsGroup reports whether the message was posted to a group
func (m Message) IsGroup() bool {
	return strings.HasSuffix(m.RemoteJID, "@g.us")
}

// Sender returns the display name, falling back to the participant number
func (m Message) Sender() string {
	if m.PushName != "" {
		return m.PushName
	}
	if i := strings.Index(m.Participant, "@"); i > 0 {
		return m.Participant[:i]
	}
	return m.Participant
}
