package utils

import (
	"fmt"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// CreateTextMessage creates a WhatsApp text message
func CreateTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{
		Conversation: proto.String(text),
	}
}

// SessionNotice is the text sent to an account once its session is paired
func SessionNotice(sessionID, downloadURL string) string {
	msg := fmt.Sprintf("Session paired.\nSession ID: %s", sessionID)
	if downloadURL != "" {
		msg += "\nDownload: " + downloadURL
	}
	return msg + "\nDo not share this session with anyone."
}
