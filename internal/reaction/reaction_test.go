package reaction

import (
	"slices"
	"testing"

	"github.com/nullposters/ciabot/internal/chat"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

func TestLetters(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"bad", []string{"\U0001F1E7", "\U0001F1E6", "\U0001F1E9"}},
		{"LIB", []string{"\U0001F1F1", "\U0001F1EE", "\U0001F1E7"}},
		{"noon", []string{"\U0001F1F3", "\U0001F1F4"}},
		{"", nil},
		{"a b", nil},
		{"js!", nil},
		{"café", nil},
	}
	for _, tt := range tests {
		got := Letters(tt.input)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Letters(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestReactions(t *testing.T) {
	msg := func(author, content string) chat.Message {
		return chat.Message{Author: chat.Author{ID: author}, Content: content}
	}

	tests := []struct {
		name string
		msg  chat.Message
		rng  Rand
		want []string // markers
	}{
		{"js mention", msg("1", "I love JS"), fixedRand(1), []string{"bad"}},
		{"js inside word", msg("1", "check jsonnet"), fixedRand(1), []string{"bad"}},
		{"no js", msg("1", "hello"), fixedRand(1), nil},
		{"link suppresses", msg("1", "see https://example.com/app.js"), fixedRand(0), nil},
		{"HTTP uppercase suppresses", msg(JSAuthorID, "HTTP js"), fixedRand(0), nil},
		{"lib wins draw", msg(JSAuthorID, "hello"), fixedRand(0), []string{"lib"}},
		{"lib loses draw", msg(JSAuthorID, "hello"), fixedRand(1), nil},
		{"lib for other author", msg("1", "hello"), fixedRand(0), nil},
		{"both rules", msg(JSAuthorID, "js"), fixedRand(0), []string{"bad", "lib"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(DefaultRules, tt.rng)
			var got []string
			for _, r := range e.Reactions(tt.msg) {
				got = append(got, r.Marker)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Reactions(%q) markers = %v, want %v", tt.msg.Content, got, tt.want)
			}
		})
	}
}

func TestReactions_SkipsNonLetterMarker(t *testing.T) {
	rules := []Rule{{Name: "bad", Match: func(chat.Message, Rand) string { return "no way" }}}
	e := NewEngine(rules, nil)
	if got := e.Reactions(chat.Message{Content: "x"}); len(got) != 0 {
		t.Errorf("Reactions = %+v, want none", got)
	}
}
