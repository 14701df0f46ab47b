package moderation

import (
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/settings"
)

// scriptedRand returns queued values, then repeats the last one.
type scriptedRand struct {
	floats []float64
	ints   []int
}

func (r *scriptedRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0.99
	}
	v := r.floats[0]
	if len(r.floats) > 1 {
		r.floats = r.floats[1:]
	}
	return v
}

func (r *scriptedRand) IntN(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	if len(r.ints) > 1 {
		r.ints = r.ints[1:]
	}
	return v % n
}

func msgFrom(content string) chat.Message {
	return chat.Message{
		ID:        "m1",
		ChannelID: "c1",
		Author:    chat.Author{ID: "u1", Username: "agent", DisplayName: "Agent"},
		Content:   content,
	}
}

func isPlaceholder(s string) bool {
	return slices.Contains(Placeholders, s)
}

func TestEvaluate_TriggerWordScenario(t *testing.T) {
	st := settings.Defaults()
	st.TriggerWords = settings.NewStringSet("banana")
	st.TriggerWordChance = 1.0

	e := NewEngine(rand.New(rand.NewPCG(1, 2)))
	out := e.Evaluate(msgFrom("I like banana split"), st)

	if out.Action != Replace {
		t.Fatalf("Action = %v, want replace", out.Action)
	}
	if !out.Triggered {
		t.Error("Triggered = false, want true")
	}
	if !slices.Equal(out.Replaced, []int{2}) {
		t.Errorf("Replaced = %v, want [2]", out.Replaced)
	}

	header, body, ok := strings.Cut(out.Text, "\n")
	if !ok || header != "Agent:" {
		t.Fatalf("Text = %q, want \"Agent:\\n...\"", out.Text)
	}
	tokens := strings.Split(body, " ")
	if tokens[0] != "I" || tokens[1] != "like" || tokens[len(tokens)-1] != "split" {
		t.Errorf("untouched tokens changed: %q", body)
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(body, "I like "), " split")
	if !isPlaceholder(middle) {
		t.Errorf("replacement %q is not a catalog placeholder", middle)
	}
}

func TestEvaluate_TriggerAlwaysReplaces(t *testing.T) {
	st := settings.Defaults()
	st.TriggerWords = settings.NewStringSet("cia", "fbi")
	st.TriggerWordChance = 0
	st.RedactionChance = 0

	e := NewEngine(rand.New(rand.NewPCG(7, 7)))
	messages := []string{
		"the CIA is watching",
		"fbi",
		"cia and fbi and more",
		"  Fbi  ",
	}
	for _, m := range messages {
		for i := 0; i < 50; i++ {
			out := e.Evaluate(msgFrom(m), st)
			if out.Action != Replace {
				t.Fatalf("Evaluate(%q) = %v, want replace", m, out.Action)
			}
			if len(out.Replaced) == 0 {
				t.Fatalf("Evaluate(%q) replaced nothing", m)
			}
		}
	}
}

func TestEvaluate_ForceReplacesOneTrigger(t *testing.T) {
	st := settings.Defaults()
	st.TriggerWords = settings.NewStringSet("cia", "nsa")
	st.TriggerWordChance = 0

	// Every per-candidate draw fails; IntN picks candidate 1 (the "nsa"
	// token at index 3) and then placeholder 0.
	rng := &scriptedRand{floats: []float64{0.5}, ints: []int{1, 0}}
	out := NewEngine(rng).Evaluate(msgFrom("cia spies and nsa"), st)

	if !slices.Equal(out.Replaced, []int{3}) {
		t.Fatalf("Replaced = %v, want [3]", out.Replaced)
	}
	want := "Agent:\ncia spies and `[REDACTED]`"
	if out.Text != want {
		t.Errorf("Text = %q, want %q", out.Text, want)
	}
}

func TestEvaluate_ZeroChanceNeverActs(t *testing.T) {
	st := settings.Defaults()
	st.RedactionChance = 0

	e := NewEngine(rand.New(rand.NewPCG(3, 4)))
	for i := 0; i < 1000; i++ {
		out := e.Evaluate(msgFrom("nothing to see here"), st)
		if out.Action != NoAction {
			t.Fatalf("iteration %d: Action = %v, want no_action", i, out.Action)
		}
	}

	// Even a draw of exactly 0 must fail the entry check.
	out := NewEngine(&scriptedRand{floats: []float64{0}}).Evaluate(msgFrom("hi"), st)
	if out.Action != NoAction {
		t.Errorf("Action = %v with draw 0, want no_action", out.Action)
	}
}

func TestEvaluate_RandomRedaction(t *testing.T) {
	st := settings.Defaults()
	st.RedactionChance = 0.5

	// Entry draw passes, token draws: pass, fail, pass.
	rng := &scriptedRand{floats: []float64{0.1, 0.2, 0.9, 0.3}, ints: []int{2, 4}}
	out := NewEngine(rng).Evaluate(msgFrom("one two three"), st)

	if out.Action != Replace {
		t.Fatalf("Action = %v, want replace", out.Action)
	}
	if out.Triggered {
		t.Error("Triggered = true, want false")
	}
	if !slices.Equal(out.Replaced, []int{0, 2}) {
		t.Errorf("Replaced = %v, want [0 2]", out.Replaced)
	}
	want := "Agent:\n" + Placeholders[2] + " two " + Placeholders[4]
	if out.Text != want {
		t.Errorf("Text = %q, want %q", out.Text, want)
	}
}

func TestEvaluate_ConsecutiveSpacesAreTokens(t *testing.T) {
	st := settings.Defaults()
	st.RedactionChance = 0.5

	// Entry passes, all three token draws fail, force-replace picks the
	// empty token between the two spaces.
	rng := &scriptedRand{floats: []float64{0.1, 0.9}, ints: []int{1, 0}}
	out := NewEngine(rng).Evaluate(msgFrom("a  b"), st)

	want := "Agent:\na " + Placeholders[0] + " b"
	if out.Text != want {
		t.Errorf("Text = %q, want %q", out.Text, want)
	}
}

func TestEvaluate_UsesUsernameWithoutDisplayName(t *testing.T) {
	st := settings.Defaults()
	st.TriggerWords = settings.NewStringSet("x")
	st.TriggerWordChance = 1

	msg := msgFrom("x")
	msg.Author.DisplayName = ""
	out := NewEngine(&scriptedRand{floats: []float64{0}}).Evaluate(msg, st)

	if !strings.HasPrefix(out.Text, "agent:\n") {
		t.Errorf("Text = %q, want username prefix", out.Text)
	}
}

func TestPlaceholdersAreWrapped(t *testing.T) {
	if len(Placeholders) != 11 {
		t.Fatalf("len(Placeholders) = %d, want 11", len(Placeholders))
	}
	for _, p := range Placeholders {
		if !strings.HasPrefix(p, "`") || !strings.HasSuffix(p, "`") {
			t.Errorf("placeholder %q is not wrapped in backticks", p)
		}
	}
}
