package moderation

// Action is what the engine decided to do with a message.
type Action int

const (
	// NoAction leaves the message alone.
	NoAction Action = iota
	// Replace deletes the message and reposts Outcome.Text in its place.
	Replace
)

func (a Action) String() string {
	switch a {
	case NoAction:
		return "no_action"
	case Replace:
		return "replace"
	}
	return "unknown"
}

// Outcome is the result of Engine.Evaluate.
type Outcome struct {
	Action Action
	// Text is the full replacement message, author prefix included. Empty
	// unless Action is Replace.
	Text string
	// Triggered is true when the message contained at least one trigger word.
	Triggered bool
	// Replaced lists the token indices that were swapped for a placeholder.
	Replaced []int
}

// Verdict is the result of Gate.Check.
type Verdict struct {
	Eligible bool
	// Reason names the first check that made the message ineligible. Empty
	// when Eligible.
	Reason string
}
