package settings

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, 0.08, d.RedactionChance)
	assert.Equal(t, 0.005, d.SelectionChance)
	assert.Equal(t, 0.1, d.TriggerWordChance)
	assert.Equal(t, ">>", d.BypassPrefix)
	assert.Empty(t, d.TriggerWords)
	assert.Empty(t, d.ChannelBlacklist)
	assert.Empty(t, d.ChannelWhitelist)
	assert.Zero(t, d.TimeoutExpiration)
}

func TestDecode_BackfillsMissingKeys(t *testing.T) {
	st, err := Decode([]byte(`{"redaction_chance": 0.5, "trigger_words": ["banana"]}`))
	require.NoError(t, err)

	assert.Equal(t, 0.5, st.RedactionChance)
	assert.Equal(t, []string{"banana"}, st.TriggerWords.Sorted())
	assert.Equal(t, ">>", st.BypassPrefix)
	assert.Equal(t, 0.1, st.TriggerWordChance)
	assert.NotNil(t, st.ChannelBlacklist)
}

func TestDecode_NullKeepsDefault(t *testing.T) {
	st, err := Decode([]byte(`{"bypass_prefix": null}`))
	require.NoError(t, err)
	assert.Equal(t, ">>", st.BypassPrefix)
}

func TestDecode_LegacySetEncoding(t *testing.T) {
	raw := `{
	  "channel_whitelist": {"py/set": [1234567890, "555"]},
	  "trigger_words": {"py/set": ["fbi", "cia"]},
	  "timeout_expiration": 1700000000.75
	}`
	st, err := Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"1234567890", "555"}, st.ChannelWhitelist.Sorted())
	assert.Equal(t, []string{"cia", "fbi"}, st.TriggerWords.Sorted())
	assert.Equal(t, int64(1700000000), st.TimeoutExpiration)
}

func TestDecode_NumericDebugChannel(t *testing.T) {
	st, err := Decode([]byte(`{"debug_channel_id": 987654321012345678}`))
	require.NoError(t, err)
	assert.Equal(t, "987654321012345678", st.DebugChannelID)
}

func TestDecode_WrongTypeNamesKey(t *testing.T) {
	_, err := Decode([]byte(`{"redaction_chance": "lots"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redaction_chance")
}

func TestDecode_UnknownKeysPreserved(t *testing.T) {
	st, err := Decode([]byte(`{"future_knob": {"a": 1}, "redaction_chance": 0.2}`))
	require.NoError(t, err)

	out, err := Encode(st)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"future_knob": {`)
	assert.Contains(t, string(out), `"a": 1`)
}

func TestEncode_RoundTripIsStable(t *testing.T) {
	st := Defaults()
	st.TriggerWords = NewStringSet("zebra", "apple", "mango")
	st.ChannelBlacklist = NewStringSet("2", "1")
	st.TimeoutExpiration = 1700000000

	first, err := Encode(st)
	require.NoError(t, err)
	decoded, err := Decode(first)
	require.NoError(t, err)
	second, err := Encode(decoded)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.True(t, strings.HasSuffix(string(first), "\n"))
	assert.Contains(t, string(first), "\"trigger_words\": [\n    \"apple\",\n    \"mango\",\n    \"zebra\"\n  ]")
}

func TestEncode_KeysSorted(t *testing.T) {
	out, err := Encode(Defaults())
	require.NoError(t, err)

	s := string(out)
	prev := -1
	for _, k := range []string{
		"bypass_prefix",
		"channel_blacklist",
		"channel_whitelist",
		"debug_channel_id",
		"redaction_chance",
		"selection_chance",
		"timeout_expiration",
		"trigger_word_chance",
		"trigger_words",
	} {
		idx := strings.Index(s, `"`+k+`"`)
		if idx < 0 {
			t.Fatalf("key %q missing from %s", k, s)
		}
		if idx < prev {
			t.Errorf("key %q out of order", k)
		}
		prev = idx
	}
}

func TestClone_IsDeep(t *testing.T) {
	st := Defaults()
	st.TriggerWords = NewStringSet("cia")
	c := st.Clone()
	c.TriggerWords["fbi"] = struct{}{}

	assert.False(t, st.TriggerWords.Has("fbi"))
}

func TestTimedOut(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		exp  int64
		want bool
	}{
		{0, false},
		{999, false},
		{1000, false},
		{1001, true},
	}
	for _, tt := range tests {
		st := Settings{TimeoutExpiration: tt.exp}
		if got := st.TimedOut(now); got != tt.want {
			t.Errorf("TimedOut(exp=%d) = %v, want %v", tt.exp, got, tt.want)
		}
	}
}

func TestEncode_DoesNotEscapeHTML(t *testing.T) {
	st := Defaults()
	st.TriggerWords = NewStringSet("<b>", "r&d")
	st.Extra = map[string]json.RawMessage{"note": json.RawMessage(`"a > b"`)}

	out, err := Encode(st)
	require.NoError(t, err)

	s := string(out)
	assert.Contains(t, s, `"bypass_prefix": ">>"`)
	assert.Contains(t, s, `"<b>"`)
	assert.Contains(t, s, `"r&d"`)
	assert.Contains(t, s, `"note": "a > b"`)
	assert.NotContains(t, s, `\u003e`)
	assert.NotContains(t, s, `\u0026`)

	decoded, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, ">>", decoded.BypassPrefix)
	assert.True(t, decoded.TriggerWords.Has("r&d"))
}

func TestDecode_UnknownNullKeyPreserved(t *testing.T) {
	st, err := Decode([]byte(`{"future_key": null, "bypass_prefix": null}`))
	require.NoError(t, err)
	assert.Equal(t, ">>", st.BypassPrefix)
	require.Contains(t, st.Extra, "future_key")

	out, err := Encode(st)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"future_key": null`)
}
