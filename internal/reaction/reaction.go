// Package reaction picks the letter-emoji reactions the bot adds to messages.
// It only decides; delivery is the bot's job.
package reaction

import (
	"math/rand/v2"
	"strings"

	"github.com/nullposters/ciabot/internal/chat"
)

// Rand is the random source for chance-based rules.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Rule maps a message to a marker word, or "" when the rule does not fire.
type Rule struct {
	Name  string
	Match func(msg chat.Message, rng Rand) string
}

// JSAuthorID is the member the "lib" rule targets.
const JSAuthorID = "284876500480557056"

// DefaultRules are the rules the bot runs in production, in order.
var DefaultRules = []Rule{
	{Name: "js", Match: func(msg chat.Message, _ Rand) string {
		if strings.Contains(strings.ToLower(msg.Content), "js") {
			return "bad"
		}
		return ""
	}},
	{Name: "lib", Match: func(msg chat.Message, rng Rand) string {
		if msg.Author.ID == JSAuthorID && rng.IntN(50) == 0 {
			return "lib"
		}
		return ""
	}},
}

// Reaction is one marker to spell out on a message.
type Reaction struct {
	Rule   string
	Marker string
	Emojis []string
}

// Engine evaluates reaction rules.
type Engine struct {
	rules []Rule
	rng   Rand
}

// NewEngine creates an engine for rules. A nil rng uses the process-wide
// source.
func NewEngine(rules []Rule, rng Rand) *Engine {
	if rng == nil {
		rng = globalRand{}
	}
	return &Engine{rules: rules, rng: rng}
}

// Reactions returns what to add to msg. No rule fires on a message that
// contains a link.
func (e *Engine) Reactions(msg chat.Message) []Reaction {
	if strings.Contains(strings.ToLower(msg.Content), "http") {
		return nil
	}

	var out []Reaction
	for _, r := range e.rules {
		marker := r.Match(msg, e.rng)
		if marker == "" {
			continue
		}
		emojis := Letters(marker)
		if len(emojis) == 0 {
			continue
		}
		out = append(out, Reaction{Rule: r.Name, Marker: marker, Emojis: emojis})
	}
	return out
}

// Letters spells text as regional-indicator emoji, one per distinct letter in
// order of first appearance. A reaction can only be added once per message,
// so repeated letters are dropped. Text containing anything other than ASCII
// letters yields nil.
func Letters(text string) []string {
	upper := strings.ToUpper(text)
	seen := make(map[rune]bool, len(upper))
	var out []string
	for _, r := range upper {
		if r < 'A' || r > 'Z' {
			return nil
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, string(rune(0x1F1E6+(r-'A'))))
	}
	return out
}
