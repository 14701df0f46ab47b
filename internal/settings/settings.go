// Package settings owns the bot's tunable runtime configuration: the typed
// Settings schema, its JSON file format, and the Store that serializes every
// mutation and persists it before returning.
//
// File format (one JSON object, keys sorted, sets as sorted arrays):
//
//	{
//	  "bypass_prefix": ">>",
//	  "channel_blacklist": [],
//	  "redaction_chance": 0.08,
//	  ...
//	}
//
// Keys missing from the file are backfilled with defaults on load; keys the
// bot does not know are carried through untouched.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Key names a persisted setting.
type Key string

const (
	KeyRedactionChance   Key = "redaction_chance"
	KeySelectionChance   Key = "selection_chance"
	KeyTriggerWordChance Key = "trigger_word_chance"
	KeyTriggerWords      Key = "trigger_words"
	KeyBypassPrefix      Key = "bypass_prefix"
	KeyChannelBlacklist  Key = "channel_blacklist"
	KeyChannelWhitelist  Key = "channel_whitelist"
	KeyTimeoutExpiration Key = "timeout_expiration"
	KeyDebugChannelID    Key = "debug_channel_id"
)

// Keys lists every recognized key.
var Keys = []Key{
	KeyRedactionChance,
	KeySelectionChance,
	KeyTriggerWordChance,
	KeyTriggerWords,
	KeyBypassPrefix,
	KeyChannelBlacklist,
	KeyChannelWhitelist,
	KeyTimeoutExpiration,
	KeyDebugChannelID,
}

// Settings is the full tunable state of the bot.
//
// A Settings value handed out by Store.Snapshot is shared between readers and
// must be treated as read-only; use Clone before modifying it.
type Settings struct {
	RedactionChance   float64
	SelectionChance   float64 // kept for the command surface; the engine never reads it
	TriggerWordChance float64
	TriggerWords      StringSet
	BypassPrefix      string
	ChannelBlacklist  StringSet
	ChannelWhitelist  StringSet
	TimeoutExpiration int64 // unix seconds, 0 = no timeout
	DebugChannelID    string

	// Extra holds keys found in the file that this version does not know.
	Extra map[string]json.RawMessage
}

// Defaults returns the documented default for every key.
func Defaults() Settings {
	return Settings{
		RedactionChance:   0.08,
		SelectionChance:   0.005,
		TriggerWordChance: 0.1,
		TriggerWords:      StringSet{},
		BypassPrefix:      ">>",
		ChannelBlacklist:  StringSet{},
		ChannelWhitelist:  StringSet{},
		TimeoutExpiration: 0,
		DebugChannelID:    "",
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.TriggerWords = s.TriggerWords.Clone()
	c.ChannelBlacklist = s.ChannelBlacklist.Clone()
	c.ChannelWhitelist = s.ChannelWhitelist.Clone()
	if s.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// TimedOut reports whether the admin timeout is active at now.
func (s Settings) TimedOut(now time.Time) bool {
	return s.TimeoutExpiration != 0 && now.Unix() < s.TimeoutExpiration
}

// set returns a pointer to the set stored under key, or nil if key is not a
// set-valued key.
func (s *Settings) set(key Key) *StringSet {
	switch key {
	case KeyTriggerWords:
		return &s.TriggerWords
	case KeyChannelBlacklist:
		return &s.ChannelBlacklist
	case KeyChannelWhitelist:
		return &s.ChannelWhitelist
	}
	return nil
}

// MarshalJSON encodes every known key plus Extra. Map encoding sorts keys, so
// the output is deterministic.
func (s Settings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(Keys)+len(s.Extra))
	for k, v := range s.Extra {
		out[k] = v
	}
	out[string(KeyRedactionChance)] = s.RedactionChance
	out[string(KeySelectionChance)] = s.SelectionChance
	out[string(KeyTriggerWordChance)] = s.TriggerWordChance
	out[string(KeyTriggerWords)] = s.TriggerWords
	out[string(KeyBypassPrefix)] = s.BypassPrefix
	out[string(KeyChannelBlacklist)] = s.ChannelBlacklist
	out[string(KeyChannelWhitelist)] = s.ChannelWhitelist
	out[string(KeyTimeoutExpiration)] = s.TimeoutExpiration
	out[string(KeyDebugChannelID)] = s.DebugChannelID
	return marshal(out)
}

// UnmarshalJSON starts from Defaults and overrides each key present in data.
// Absent or null keys keep their default.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	decoded := Defaults()
	for name, value := range raw {
		if knownKey(Key(name)) && bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			continue
		}
		var err error
		switch Key(name) {
		case KeyRedactionChance:
			err = json.Unmarshal(value, &decoded.RedactionChance)
		case KeySelectionChance:
			err = json.Unmarshal(value, &decoded.SelectionChance)
		case KeyTriggerWordChance:
			err = json.Unmarshal(value, &decoded.TriggerWordChance)
		case KeyTriggerWords:
			err = json.Unmarshal(value, &decoded.TriggerWords)
		case KeyBypassPrefix:
			err = json.Unmarshal(value, &decoded.BypassPrefix)
		case KeyChannelBlacklist:
			err = json.Unmarshal(value, &decoded.ChannelBlacklist)
		case KeyChannelWhitelist:
			err = json.Unmarshal(value, &decoded.ChannelWhitelist)
		case KeyTimeoutExpiration:
			// Older files store a fractional timestamp.
			var f float64
			err = json.Unmarshal(value, &f)
			decoded.TimeoutExpiration = int64(math.Trunc(f))
		case KeyDebugChannelID:
			decoded.DebugChannelID, err = decodeID(value)
		default:
			if decoded.Extra == nil {
				decoded.Extra = make(map[string]json.RawMessage)
			}
			decoded.Extra[name] = append(json.RawMessage(nil), value...)
		}
		if err != nil {
			return fmt.Errorf("key %q: %w", name, err)
		}
	}

	*s = decoded
	return nil
}

// Encode renders s in the canonical file format: two-space indent, sorted
// keys, trailing newline. Encoding the result of a decode of Encode's output
// yields identical bytes.
func Encode(s Settings) ([]byte, error) {
	compact, err := marshal(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// marshal is json.Marshal without HTML escaping, so values such as the
// default ">>" prefix are written as typed.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses a settings file.
func Decode(data []byte) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// decodeID accepts a channel id written either as a string or as a bare
// number.
func decodeID(value json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(value, &str); err == nil {
		return str, nil
	}
	var num json.Number
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&num); err != nil {
		return "", err
	}
	return num.String(), nil
}

// StringSet is a set of strings that encodes as a sorted JSON array.
type StringSet map[string]struct{}

// NewStringSet builds a set from values.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is a member.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Sorted returns the members in ascending order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy. Cloning a nil set yields an empty set.
func (s StringSet) Clone() StringSet {
	c := make(StringSet, len(s))
	for v := range s {
		c[v] = struct{}{}
	}
	return c
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return marshal(s.Sorted())
}

// UnmarshalJSON accepts a JSON array of strings or numbers, or the
// {"py/set": [...]} object written by older versions of the bot.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var legacy struct {
			Set []json.RawMessage `json:"py/set"`
		}
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return err
		}
		return s.fromRaw(legacy.Set)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return err
	}
	return s.fromRaw(items)
}

func (s *StringSet) fromRaw(items []json.RawMessage) error {
	set := make(StringSet, len(items))
	for _, item := range items {
		v, err := decodeID(item)
		if err != nil {
			return err
		}
		set[v] = struct{}{}
	}
	*s = set
	return nil
}
