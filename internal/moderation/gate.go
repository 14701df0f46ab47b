// Package moderation decides whether a guild message may be redacted and, if
// so, produces the redacted replacement text.
package moderation

import (
	"strings"
	"time"

	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/settings"
)

// Reasons reported in Verdict.Reason. They double as metric label values.
const (
	ReasonBypassPrefix   = "bypass_prefix"
	ReasonImage          = "image_attachment"
	ReasonNotWhitelisted = "not_whitelisted"
	ReasonBlacklisted    = "blacklisted"
	ReasonTimedOut       = "timed_out"
)

// gateCheck pairs an exclusion rule with the reason it reports.
type gateCheck struct {
	name  string
	match func(msg chat.Message, st settings.Settings, now time.Time) bool
}

// gateChecks is the ordered list of exclusions applied by Gate.Check. The
// first match wins; any match makes the message ineligible.
var gateChecks = []gateCheck{
	{name: ReasonBypassPrefix, match: func(msg chat.Message, st settings.Settings, _ time.Time) bool {
		// An empty prefix would match everything, so it disables the check.
		return st.BypassPrefix != "" && strings.HasPrefix(msg.Content, st.BypassPrefix)
	}},
	{name: ReasonImage, match: func(msg chat.Message, _ settings.Settings, _ time.Time) bool {
		return msg.HasImage()
	}},
	{name: ReasonNotWhitelisted, match: func(msg chat.Message, st settings.Settings, _ time.Time) bool {
		return len(st.ChannelWhitelist) > 0 && !st.ChannelWhitelist.Has(msg.ChannelID)
	}},
	{name: ReasonBlacklisted, match: func(msg chat.Message, st settings.Settings, _ time.Time) bool {
		return st.ChannelBlacklist.Has(msg.ChannelID)
	}},
	{name: ReasonTimedOut, match: func(_ chat.Message, st settings.Settings, now time.Time) bool {
		return st.TimedOut(now)
	}},
}

// Gate filters out messages the bot must not touch. It holds no state.
type Gate struct{}

// NewGate creates a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Check evaluates msg against the current settings at time now.
func (g *Gate) Check(msg chat.Message, st settings.Settings, now time.Time) Verdict {
	for _, c := range gateChecks {
		if c.match(msg, st, now) {
			return Verdict{Eligible: false, Reason: c.name}
		}
	}
	return Verdict{Eligible: true}
}
