// Package discord connects the bot to Discord through discordgo. It converts
// gateway events into chat messages and command invocations, registers the
// slash commands, and implements the bot's Platform calls.
package discord

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/nullposters/ciabot/internal/auth"
	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/commands"
)

// Intents the bot needs: guild metadata (roles), guild messages and their
// content.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

// Config holds Discord connection settings.
type Config struct {
	Token string
	// GuildID, when set, registers commands on that guild only, which makes
	// them available immediately. Otherwise they are registered globally.
	GuildID string
}

// Dispatcher handles slash commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv commands.Invocation) commands.Response
	Commands() []commands.Command
}

// Adapter is a live Discord session.
type Adapter struct {
	cfg     Config
	session *discordgo.Session
	logger  *log.Logger

	mu         sync.RWMutex
	onMessage  func(context.Context, chat.Message)
	dispatcher Dispatcher
	closed     bool

	ctx      context.Context
	cancel   context.CancelFunc
	handlers sync.WaitGroup
}

// New creates an adapter. It does not connect; call Open.
func New(cfg Config, logger *log.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: no bot token configured")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = Intents

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		cfg:     cfg,
		session: s,
		logger:  logger.WithPrefix("discord"),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.AddHandler(a.handleReady)
	s.AddHandler(a.handleMessageCreate)
	s.AddHandler(a.handleInteraction)
	return a, nil
}

// OnMessage sets the inbound message handler.
func (a *Adapter) OnMessage(fn func(context.Context, chat.Message)) {
	a.mu.Lock()
	a.onMessage = fn
	a.mu.Unlock()
}

// OnCommand sets the slash command dispatcher.
func (a *Adapter) OnCommand(d Dispatcher) {
	a.mu.Lock()
	a.dispatcher = d
	a.mu.Unlock()
}

// Open connects to the gateway and registers the dispatcher's commands.
func (a *Adapter) Open(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.mu.RLock()
	d := a.dispatcher
	a.mu.RUnlock()
	if d == nil {
		return nil
	}

	appID := a.session.State.User.ID
	defs := ApplicationCommands(d.Commands())
	registered, err := a.session.ApplicationCommandBulkOverwrite(appID, a.cfg.GuildID, defs, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	scope := "global"
	if a.cfg.GuildID != "" {
		scope = "guild " + a.cfg.GuildID
	}
	a.logger.Info("commands registered", "count", len(registered), "scope", scope)
	return nil
}

// Close disconnects from the gateway and waits for in-flight handlers before
// cancelling their context.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	err := a.session.Close()
	a.handlers.Wait()
	a.cancel()
	if err != nil {
		return fmt.Errorf("discord: close: %w", err)
	}
	return nil
}

// SendMessage posts content to a channel and returns the new message's id.
func (a *Adapter) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	m, err := a.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: send to %s: %w", channelID, err)
	}
	return m.ID, nil
}

// DeleteMessage deletes a message.
func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: delete %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

// AddReaction reacts to a message with a unicode emoji.
func (a *Adapter) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := a.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: react on %s/%s: %w", channelID, messageID, err)
	}
	return nil
}

func (a *Adapter) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	a.logger.Info("logged in", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil || m.GuildID == "" {
		return
	}
	a.mu.RLock()
	fn := a.onMessage
	a.mu.RUnlock()
	if fn == nil || !a.begin() {
		return
	}
	defer a.handlers.Done()
	fn(a.ctx, ToMessage(m.Message))
}

func (a *Adapter) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	a.mu.RLock()
	d := a.dispatcher
	a.mu.RUnlock()
	if d == nil || !a.begin() {
		return
	}
	defer a.handlers.Done()

	inv := ToInvocation(i.Interaction, a.guildRoles(i.GuildID))
	resp := d.Dispatch(a.ctx, inv)

	data := &discordgo.InteractionResponseData{Content: clip(resp.Content)}
	if resp.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(a.ctx))
	if err != nil {
		a.logger.Error("interaction response failed", "command", inv.Command, "invoker", inv.Invoker.ID, "err", err)
	}
}

// begin registers an in-flight handler. It reports false once Close has
// started, and the event is dropped.
func (a *Adapter) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.handlers.Add(1)
	return true
}

// guildRoles returns the guild's roles keyed by id, from the state cache when
// possible.
func (a *Adapter) guildRoles(guildID string) map[string]*discordgo.Role {
	if guildID == "" {
		return nil
	}
	var roles []*discordgo.Role
	if g, err := a.session.State.Guild(guildID); err == nil {
		roles = g.Roles
	} else {
		fetched, err := a.session.GuildRoles(guildID, discordgo.WithContext(a.ctx))
		if err != nil {
			a.logger.Warn("guild roles unavailable", "guild", guildID, "err", err)
			return nil
		}
		roles = fetched
	}
	byID := make(map[string]*discordgo.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	return byID
}

// clip shortens content to the platform's message limit.
func clip(content string) string {
	runes := []rune(content)
	if len(runes) <= chat.MaxTextChars {
		return content
	}
	return string(runes[:chat.MaxTextChars-1]) + "…"
}

// ToMessage converts a gateway message.
func ToMessage(m *discordgo.Message) chat.Message {
	msg := chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.Author = chat.Author{
			ID:          m.Author.ID,
			Username:    m.Author.Username,
			DisplayName: m.Author.GlobalName,
			Bot:         m.Author.Bot,
		}
	}
	if m.Member != nil && m.Member.Nick != "" {
		msg.Author.DisplayName = m.Member.Nick
	}
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
	}
	return msg
}

// ToInvocation converts a slash command interaction. roles maps the guild's
// role ids to roles; unknown ids are skipped.
func ToInvocation(i *discordgo.Interaction, roles map[string]*discordgo.Role) commands.Invocation {
	data := i.ApplicationCommandData()
	inv := commands.Invocation{
		Command:   data.Name,
		ChannelID: i.ChannelID,
		GuildID:   i.GuildID,
		Options:   make(map[string]any, len(data.Options)),
	}

	var user *discordgo.User
	if i.Member != nil {
		user = i.Member.User
		for _, id := range i.Member.Roles {
			r, ok := roles[id]
			if !ok {
				continue
			}
			inv.Invoker.Roles = append(inv.Invoker.Roles, auth.Role{
				Name:           r.Name,
				Position:       r.Position,
				ManageMessages: r.Permissions&discordgo.PermissionManageMessages != 0,
				Administrator:  r.Permissions&discordgo.PermissionAdministrator != 0,
			})
		}
	}
	if user == nil {
		user = i.User
	}
	if user != nil {
		inv.Invoker.ID = user.ID
		inv.Invoker.Name = user.Username
	}

	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			inv.Options[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionNumber:
			inv.Options[opt.Name] = opt.FloatValue()
		case discordgo.ApplicationCommandOptionInteger:
			inv.Options[opt.Name] = opt.IntValue()
		default:
			inv.Options[opt.Name] = opt.Value
		}
	}
	return inv
}

// ApplicationCommands converts the router's commands into Discord command
// definitions.
func ApplicationCommands(cmds []commands.Command) []*discordgo.ApplicationCommand {
	out := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		ac := &discordgo.ApplicationCommand{
			Name:        c.Name,
			Description: c.Description,
			Type:        discordgo.ChatApplicationCommand,
		}
		for _, o := range c.Options {
			opt := &discordgo.ApplicationCommandOption{
				Name:        o.Name,
				Description: o.Description,
				Required:    o.Required,
				MinValue:    o.Min,
			}
			switch o.Type {
			case commands.OptionNumber:
				opt.Type = discordgo.ApplicationCommandOptionNumber
			case commands.OptionInteger:
				opt.Type = discordgo.ApplicationCommandOptionInteger
			default:
				opt.Type = discordgo.ApplicationCommandOptionString
			}
			if o.Max != nil {
				opt.MaxValue = *o.Max
			}
			ac.Options = append(ac.Options, opt)
		}
		out = append(out, ac)
	}
	return out
}
