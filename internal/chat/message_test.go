package chat

import (
	"strings"
	"testing"
)

func TestAuthorName(t *testing.T) {
	tests := []struct {
		author Author
		want   string
	}{
		{Author{Username: "agent", DisplayName: "Agent Smith"}, "Agent Smith"},
		{Author{Username: "agent"}, "agent"},
	}
	for _, tt := range tests {
		if got := tt.author.Name(); got != tt.want {
			t.Errorf("Name(%+v) = %q, want %q", tt.author, got, tt.want)
		}
	}
}

func TestHasImage(t *testing.T) {
	tests := []struct {
		name string
		atts []Attachment
		want bool
	}{
		{"none", nil, false},
		{"png", []Attachment{{ContentType: "image/png"}}, true},
		{"text then gif", []Attachment{{ContentType: "text/plain"}, {ContentType: "image/gif"}}, true},
		{"unknown type", []Attachment{{ContentType: ""}}, false},
		{"video", []Attachment{{ContentType: "video/mp4"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{Attachments: tt.atts}
			if got := m.HasImage(); got != tt.want {
				t.Errorf("HasImage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateOutgoing(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"ok", "agent:\nhello `[REDACTED]`", false},
		{"empty", "", true},
		{"at limit", strings.Repeat("a", MaxTextChars), false},
		{"over limit", strings.Repeat("a", MaxTextChars+1), true},
		{"multibyte at limit", strings.Repeat("█", MaxTextChars), false},
		{"invalid utf8", "\xff\xfe", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutgoing(tt.text)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutgoing() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
