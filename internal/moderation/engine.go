package moderation

import (
	"math/rand/v2"
	"strings"

	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/settings"
)

// Placeholders is the fixed catalog a redacted word is replaced with. Each
// entry is wrapped in backticks so the platform renders it as inline code.
var Placeholders = []string{
	"`[REDACTED]`",
	"`[EXPUNGED]`",
	"`[CLASSIFIED]`",
	"`[REDACTED BY CIA]`",
	"`[REDACTED BY FBI]`",
	"`[REDACTED BY NSA]`",
	"`[REDACTED BY DHS]`",
	"`[REDACTED BY MI6]`",
	"`[REDACTED BY KGB]`",
	"`********`",
	"`████████`",
}

// Rand is the random source used by the engine. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	// Float64 returns a number in [0.0, 1.0).
	Float64() float64
	// IntN returns a number in [0, n).
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// Engine decides whether to redact a message and builds the replacement.
type Engine struct {
	rng Rand
}

// NewEngine creates an engine drawing from rng. A nil rng uses the
// process-wide source.
func NewEngine(rng Rand) *Engine {
	if rng == nil {
		rng = globalRand{}
	}
	return &Engine{rng: rng}
}

// Evaluate decides what to do with msg. It assumes msg already passed the
// Gate.
//
// Content is split on single spaces, so consecutive spaces produce empty
// tokens that are candidates like any other. A message with a trigger word is
// always redacted; otherwise redaction_chance decides whether to redact at
// all. Whenever the message is redacted at least one token is replaced.
func (e *Engine) Evaluate(msg chat.Message, st settings.Settings) Outcome {
	tokens := strings.Split(msg.Content, " ")

	var triggers []int
	for i, tok := range tokens {
		if st.TriggerWords.Has(strings.ToLower(tok)) {
			triggers = append(triggers, i)
		}
	}

	var (
		candidates []int
		threshold  float64
	)
	if len(triggers) > 0 {
		candidates = triggers
		threshold = st.TriggerWordChance
	} else {
		if !(e.rng.Float64() < st.RedactionChance) {
			return Outcome{Action: NoAction}
		}
		candidates = make([]int, len(tokens))
		for i := range tokens {
			candidates[i] = i
		}
		threshold = st.RedactionChance
	}

	var replaced []int
	for _, idx := range candidates {
		if e.rng.Float64() < threshold {
			tokens[idx] = e.placeholder()
			replaced = append(replaced, idx)
		}
	}
	if len(replaced) == 0 {
		idx := candidates[e.rng.IntN(len(candidates))]
		tokens[idx] = e.placeholder()
		replaced = append(replaced, idx)
	}

	return Outcome{
		Action:    Replace,
		Text:      msg.Author.Name() + ":\n" + strings.Join(tokens, " "),
		Triggered: len(triggers) > 0,
		Replaced:  replaced,
	}
}

func (e *Engine) placeholder() string {
	return Placeholders[e.rng.IntN(len(Placeholders))]
}
