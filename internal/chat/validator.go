package chat

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxTextChars is the platform's limit on characters in one message.
const MaxTextChars = 2000

// ErrEmptyMessage is returned for an outgoing message with no text.
var ErrEmptyMessage = errors.New("chat: message text is empty")

// ValidateOutgoing checks that text can be posted as a single message.
func ValidateOutgoing(text string) error {
	if len(text) == 0 {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("chat: message contains invalid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextChars {
		return fmt.Errorf("chat: message is %d characters, limit is %d", n, MaxTextChars)
	}
	return nil
}
