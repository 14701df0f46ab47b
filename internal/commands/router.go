// Package commands implements the bot's slash commands: a Router that
// authorizes and dispatches invocations, and the built-in command set that
// reads and mutates settings.
package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nullposters/ciabot/internal/auth"
	"github.com/nullposters/ciabot/internal/metrics"
	"github.com/nullposters/ciabot/internal/settings"
)

// Response texts shown to the invoker.
const (
	MsgDenied         = "You don't have permission to do that."
	MsgAlreadyTimeout = "The bot is already in timeout."
	MsgUnknownCommand = "Unknown command."
)

// OptionType is the value type of a command option.
type OptionType int

const (
	OptionString OptionType = iota
	OptionNumber
	OptionInteger
)

// Option describes one command argument. Min and Max bound numeric options
// and are nil when unbounded.
type Option struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Min         *float64
	Max         *float64
}

// Invocation is one command call as received from the platform.
type Invocation struct {
	Command   string
	Invoker   auth.Invoker
	ChannelID string
	GuildID   string
	// Options holds argument values keyed by option name: string for
	// OptionString, float64 for OptionNumber and int64 for OptionInteger.
	Options map[string]any
}

// String returns a string option, or "" if absent.
func (inv Invocation) String(name string) string {
	v, _ := inv.Options[name].(string)
	return v
}

// Float returns a numeric option as float64.
func (inv Invocation) Float(name string) (float64, bool) {
	switch v := inv.Options[name].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Int returns an integer option.
func (inv Invocation) Int(name string) (int64, bool) {
	switch v := inv.Options[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Response is what the router sends back. Ephemeral responses are only
// visible to the invoker.
type Response struct {
	Content   string
	Ephemeral bool
	Denied    bool
}

// Handler runs a command. A returned error is logged and reported to the
// invoker as a generic failure for the command's Param.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Command is a registered slash command.
type Command struct {
	Name        string
	Description string
	Options     []Option
	// Admin restricts the command to authorized invokers.
	Admin bool
	// Param names the setting the command changes; used in failure replies.
	Param   string
	Handler Handler
}

// Authorizer decides whether an invoker may run admin commands.
type Authorizer interface {
	Authorized(inv auth.Invoker) bool
}

// Result is reported to observers after every dispatched command.
type Result struct {
	Command string
	Invoker auth.Invoker
	Outcome string // "ok", "denied" or "error"
	Err     error
}

// Router maps command names to handlers.
type Router struct {
	commands  map[string]Command
	authz     Authorizer
	logger    *log.Logger
	observers []func(context.Context, Result)
}

// NewRouter creates an empty router. Use Register or RegisterDefaults to add
// commands.
func NewRouter(authz Authorizer, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Router{
		commands: make(map[string]Command),
		authz:    authz,
		logger:   logger.WithPrefix("commands"),
	}
}

// Register adds cmd, replacing any command with the same name.
func (r *Router) Register(cmd Command) {
	r.commands[cmd.Name] = cmd
}

// Observe registers fn to be called after every dispatched command, e.g. to
// write an audit trail. fn runs synchronously on the dispatching goroutine.
func (r *Router) Observe(fn func(context.Context, Result)) {
	r.observers = append(r.observers, fn)
}

func (r *Router) notify(ctx context.Context, res Result) {
	metrics.CommandsTotal.WithLabelValues(res.Command, res.Outcome).Inc()
	for _, fn := range r.observers {
		fn(ctx, res)
	}
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch authorizes and runs inv. It never returns an error: every failure
// becomes a Response. All responses are ephemeral.
func (r *Router) Dispatch(ctx context.Context, inv Invocation) Response {
	cmd, ok := r.commands[inv.Command]
	if !ok {
		r.logger.Warn("unknown command", "command", inv.Command, "invoker", inv.Invoker.ID)
		return Response{Content: MsgUnknownCommand, Ephemeral: true}
	}

	if cmd.Admin && !r.authz.Authorized(inv.Invoker) {
		r.logger.Info("insufficient permissions",
			"command", cmd.Name, "invoker", inv.Invoker.ID, "name", inv.Invoker.Name)
		r.notify(ctx, Result{Command: cmd.Name, Invoker: inv.Invoker, Outcome: "denied"})
		return Response{Content: MsgDenied, Ephemeral: true, Denied: true}
	}

	if err := validate(cmd, inv); err != nil {
		return r.fail(ctx, cmd, inv, err)
	}

	start := time.Now()
	content, err := cmd.Handler(ctx, inv)
	if err != nil {
		return r.fail(ctx, cmd, inv, err)
	}

	r.logger.Info("command handled",
		"command", cmd.Name, "invoker", inv.Invoker.ID, "name", inv.Invoker.Name,
		"took", time.Since(start))
	r.notify(ctx, Result{Command: cmd.Name, Invoker: inv.Invoker, Outcome: "ok"})
	return Response{Content: content, Ephemeral: true}
}

func (r *Router) fail(ctx context.Context, cmd Command, inv Invocation, err error) Response {
	r.logger.Error("command failed",
		"command", cmd.Name, "invoker", inv.Invoker.ID, "name", inv.Invoker.Name, "err", err)
	r.notify(ctx, Result{Command: cmd.Name, Invoker: inv.Invoker, Outcome: "error", Err: err})
	param := cmd.Param
	if param == "" {
		param = cmd.Name
	}
	return Response{Content: fmt.Sprintf("Error updating %s", param), Ephemeral: true}
}

// validate enforces required options and numeric bounds. The platform
// enforces these too; this guards against stale command registrations.
func validate(cmd Command, inv Invocation) error {
	for _, opt := range cmd.Options {
		raw, present := inv.Options[opt.Name]
		if !present {
			if opt.Required {
				return fmt.Errorf("commands: %s: missing option %q", cmd.Name, opt.Name)
			}
			continue
		}
		switch opt.Type {
		case OptionString:
			if _, ok := raw.(string); !ok {
				return fmt.Errorf("commands: %s: option %q wants a string, got %T", cmd.Name, opt.Name, raw)
			}
		case OptionNumber, OptionInteger:
			v, ok := inv.Float(opt.Name)
			if !ok {
				return fmt.Errorf("commands: %s: option %q wants a number, got %T", cmd.Name, opt.Name, raw)
			}
			if opt.Min != nil && v < *opt.Min {
				return fmt.Errorf("commands: %s: option %q = %v below %v", cmd.Name, opt.Name, v, *opt.Min)
			}
			if opt.Max != nil && v > *opt.Max {
				return fmt.Errorf("commands: %s: option %q = %v above %v", cmd.Name, opt.Name, v, *opt.Max)
			}
		}
	}
	return nil
}

// Store is the subset of *settings.Store the built-in commands use.
type Store interface {
	Snapshot() settings.Settings
	Set(key settings.Key, value any) error
	AddToSet(key settings.Key, values []string) error
	RemoveFromSet(key settings.Key, values []string) error
	StartTimeout(now time.Time, d time.Duration) (int64, bool, error)
	Reload() (settings.Settings, error)
}
