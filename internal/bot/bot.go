// Package bot wires the message pipeline: it filters inbound messages, fires
// letter reactions, asks the redaction engine for a verdict and carries it
// out against the chat platform.
package bot

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nullposters/ciabot/internal/audit"
	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/dedupe"
	"github.com/nullposters/ciabot/internal/metrics"
	"github.com/nullposters/ciabot/internal/moderation"
	"github.com/nullposters/ciabot/internal/reaction"
	"github.com/nullposters/ciabot/internal/settings"
)

// Platform is the chat platform the bot acts on.
type Platform interface {
	SendMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
}

// SettingsSource provides the current settings snapshot.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// Config holds process-level switches.
type Config struct {
	// Production disables development mode. Outside production the bot only
	// acts in the debug channel.
	Production bool
	// DebugChannelID is used when the settings carry no debug_channel_id.
	DebugChannelID string
	// Instance identifies this process in audit rows.
	Instance string
	// ReactionTimeout bounds one message's reaction calls. Default 10s.
	ReactionTimeout time.Duration
}

// Options carries the bot's collaborators. Nil fields get working defaults.
type Options struct {
	Gate      *moderation.Gate
	Engine    *moderation.Engine
	Reactions *reaction.Engine
	Claimer   dedupe.Claimer
	Audit     audit.Recorder
	Activity  *chat.ActivityLog
	Logger    *log.Logger
	Now       func() time.Time
}

// Bot handles inbound messages.
type Bot struct {
	cfg       Config
	platform  Platform
	settings  SettingsSource
	gate      *moderation.Gate
	engine    *moderation.Engine
	reactions *reaction.Engine
	claimer   dedupe.Claimer
	audit     audit.Recorder
	activity  *chat.ActivityLog
	logger    *log.Logger
	now       func() time.Time

	wg sync.WaitGroup
}

// New creates a bot acting on platform with settings from src.
func New(cfg Config, platform Platform, src SettingsSource, opts Options) *Bot {
	if cfg.ReactionTimeout <= 0 {
		cfg.ReactionTimeout = 10 * time.Second
	}
	b := &Bot{
		cfg:       cfg,
		platform:  platform,
		settings:  src,
		gate:      opts.Gate,
		engine:    opts.Engine,
		reactions: opts.Reactions,
		claimer:   opts.Claimer,
		audit:     opts.Audit,
		activity:  opts.Activity,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if b.gate == nil {
		b.gate = moderation.NewGate()
	}
	if b.engine == nil {
		b.engine = moderation.NewEngine(nil)
	}
	if b.reactions == nil {
		b.reactions = reaction.NewEngine(reaction.DefaultRules, nil)
	}
	if b.claimer == nil {
		b.claimer = dedupe.NewMemoryClaimer(dedupe.DefaultTTL)
	}
	if b.audit == nil {
		b.audit = audit.Nop{}
	}
	if b.logger == nil {
		b.logger = log.New(io.Discard)
	}
	b.logger = b.logger.WithPrefix("bot")
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// HandleMessage runs the full pipeline for one inbound message. Platform
// failures are logged and counted; they end processing of this message only.
func (b *Bot) HandleMessage(ctx context.Context, msg chat.Message) {
	start := time.Now()
	defer func() { metrics.HandleLatency.Observe(time.Since(start).Seconds()) }()

	if msg.Author.Bot {
		metrics.MessagesTotal.WithLabelValues("ignored").Inc()
		return
	}

	st := b.settings.Snapshot()

	if !b.cfg.Production && msg.ChannelID != b.debugChannel(st) {
		metrics.MessagesTotal.WithLabelValues("ignored").Inc()
		return
	}

	if v := b.gate.Check(msg, st, b.now()); !v.Eligible {
		metrics.GatedTotal.WithLabelValues(v.Reason).Inc()
		metrics.MessagesTotal.WithLabelValues("gated").Inc()
		b.logger.Debug("message gated", "msg_id", msg.ID, "channel", msg.ChannelID, "reason", v.Reason)
		return
	}

	// Reactions go out before the delete is issued. Their ordering relative
	// to the delete is not guaranteed; a reaction on a deleted message just
	// fails and is logged.
	b.react(ctx, msg)

	out := b.engine.Evaluate(msg, st)
	if out.Action != moderation.Replace {
		metrics.MessagesTotal.WithLabelValues("skipped").Inc()
		return
	}
	b.redact(ctx, msg, out)
}

func (b *Bot) debugChannel(st settings.Settings) string {
	if st.DebugChannelID != "" {
		return st.DebugChannelID
	}
	return b.cfg.DebugChannelID
}

func (b *Bot) redact(ctx context.Context, msg chat.Message, out moderation.Outcome) {
	logger := b.logger.With("msg_id", msg.ID, "channel", msg.ChannelID, "author", msg.Author.Username)

	if err := chat.ValidateOutgoing(out.Text); err != nil {
		// Deleting the original would lose it for good.
		logger.Warn("redacted text cannot be posted, leaving message alone", "err", err)
		metrics.MessagesTotal.WithLabelValues("too_long").Inc()
		return
	}

	owned, err := b.claimer.Claim(ctx, msg.ID)
	if err != nil {
		logger.Warn("claim failed, proceeding", "err", err)
	}
	if !owned {
		logger.Debug("message claimed by another replica", "owner", b.claimOwner(ctx, msg.ID))
		metrics.MessagesTotal.WithLabelValues("duplicate").Inc()
		return
	}

	cause := "random"
	if out.Triggered {
		cause = "trigger"
	}
	logger.Info("redacting message", "cause", cause, "words", len(out.Replaced))

	if err := b.platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		logger.Error("delete failed", "err", err)
		metrics.PlatformErrors.WithLabelValues("delete").Inc()
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return
	}

	replacementID, err := b.platform.SendMessage(ctx, msg.ChannelID, out.Text)
	if err != nil {
		logger.Error("send failed after delete", "err", err)
		metrics.PlatformErrors.WithLabelValues("send").Inc()
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return
	}

	metrics.MessagesTotal.WithLabelValues("redacted").Inc()
	metrics.RedactionsTotal.WithLabelValues(cause).Inc()
	metrics.RedactedWords.Observe(float64(len(out.Replaced)))

	if b.activity != nil {
		b.activity.Add(msg.ChannelID, chat.Redaction{
			MessageID:  msg.ID,
			ReplacedID: replacementID,
			AuthorID:   msg.Author.ID,
			AuthorName: msg.Author.Name(),
			Triggered:  out.Triggered,
			Replaced:   len(out.Replaced),
			Ts:         b.now().Unix(),
		})
	}

	err = b.audit.RecordRedaction(ctx, audit.Redaction{
		MessageID:  msg.ID,
		ChannelID:  msg.ChannelID,
		GuildID:    msg.GuildID,
		AuthorID:   msg.Author.ID,
		AuthorName: msg.Author.Name(),
		Triggered:  out.Triggered,
		Replaced:   len(out.Replaced),
		Instance:   b.cfg.Instance,
	})
	if err != nil {
		logger.Warn("audit write failed", "err", err)
	}
}

// claimOwner names the process holding the claim on id, when the claimer
// records it.
func (b *Bot) claimOwner(ctx context.Context, id string) string {
	lookup, ok := b.claimer.(dedupe.OwnerLookup)
	if !ok {
		return ""
	}
	owner, err := lookup.Owner(ctx, id)
	if err != nil {
		b.logger.Debug("claim owner lookup failed", "msg_id", id, "err", err)
		return ""
	}
	return owner
}

// react adds the message's reactions on a background goroutine.
func (b *Bot) react(ctx context.Context, msg chat.Message) {
	planned := b.reactions.Reactions(msg)
	if len(planned) == 0 {
		return
	}

	// The reactions outlive the inbound event's context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.ReactionTimeout)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		for _, r := range planned {
			if b.spell(ctx, msg, r) {
				metrics.ReactionsTotal.WithLabelValues(r.Rule).Inc()
			}
		}
	}()
}

// spell adds r's letters in order, stopping at the first failure.
func (b *Bot) spell(ctx context.Context, msg chat.Message, r reaction.Reaction) bool {
	for _, emoji := range r.Emojis {
		if err := b.platform.AddReaction(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
			b.logger.Warn("reaction failed", "msg_id", msg.ID, "channel", msg.ChannelID, "rule", r.Rule, "err", err)
			metrics.PlatformErrors.WithLabelValues("react").Inc()
			return false
		}
	}
	return true
}

// Wait blocks until every in-flight reaction goroutine has finished.
func (b *Bot) Wait() {
	b.wg.Wait()
}
