// Package chat holds the platform-neutral view of a guild chat message that
// the moderation, reaction and bot packages work on. The discord package
// converts gateway events into these types.
package chat

import "strings"

// Author is the sender of a message.
type Author struct {
	ID          string
	Username    string
	DisplayName string // guild nickname or global display name; may be empty
	Bot         bool
}

// Name returns the name the author is shown under in the channel.
func (a Author) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

// Attachment is a file attached to a message.
type Attachment struct {
	Filename    string
	ContentType string // MIME type as reported by the platform; may be empty
}

// Message is an inbound guild message.
type Message struct {
	ID          string
	ChannelID   string
	GuildID     string
	Author      Author
	Content     string
	Attachments []Attachment
}

// HasImage reports whether any attachment's content type mentions "image".
func (m Message) HasImage() bool {
	for _, a := range m.Attachments {
		if strings.Contains(a.ContentType, "image") {
			return true
		}
	}
	return false
}
