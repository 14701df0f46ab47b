package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nullposters/ciabot/internal/settings"
)

// Bounds for numeric options.
var (
	chanceMin   = 0.0
	chanceMax   = 100.0
	durationMin = 5.0
	durationMax = 360.0
)

// Defaults configures the built-in command set.
type Defaults struct {
	Store Store
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// OnReload is called after read-json reloaded the settings file.
	OnReload func(settings.Settings)
}

// RegisterDefaults registers every built-in command on r.
func RegisterDefaults(r *Router, d Defaults) {
	if d.Now == nil {
		d.Now = time.Now
	}
	b := &builtins{Defaults: d}

	r.Register(Command{
		Name:        "change-bypass-prefix",
		Description: "Changes the prefix that allows bypassing the bot",
		Options: []Option{{
			Name: "new_prefix", Description: "The new prefix to bypass the bot",
			Type: OptionString, Required: true,
		}},
		Admin:   true,
		Param:   string(settings.KeyBypassPrefix),
		Handler: b.setString(settings.KeyBypassPrefix, "new_prefix"),
	})
	r.Register(chanceCommand("change-selected-chance",
		"Changes the chance to select any random message for redaction",
		settings.KeySelectionChance, b))
	r.Register(chanceCommand("change-redacted-chance",
		"Changes the chance to redact any random word in a selected message",
		settings.KeyRedactionChance, b))
	r.Register(chanceCommand("change-trigger-word-chance",
		"Changes the chance to redact a trigger word",
		settings.KeyTriggerWordChance, b))

	r.Register(setCommand("add-trigger-words", "new_trigger_words",
		"Adds trigger words to the list of words that trigger the bot",
		"Trigger words to add, separated by spaces",
		settings.KeyTriggerWords, b.add))
	r.Register(setCommand("remove-trigger-words", "old_trigger_words",
		"Removes trigger words from the list of words that trigger the bot",
		"Trigger words to remove, separated by spaces",
		settings.KeyTriggerWords, b.remove))
	r.Register(setCommand("add-channels-to-blacklist", "new_channel_ids",
		"Adds channels to the blacklist",
		"Channel IDs to add, separated by spaces",
		settings.KeyChannelBlacklist, b.add))
	r.Register(setCommand("remove-channels-from-blacklist", "old_channel_ids",
		"Removes channels from the blacklist",
		"Channel IDs to remove, separated by spaces",
		settings.KeyChannelBlacklist, b.remove))
	r.Register(setCommand("add-channels-to-whitelist", "new_channel_ids",
		"Adds channels to the whitelist; once non-empty the bot only acts in listed channels",
		"Channel IDs to add, separated by spaces",
		settings.KeyChannelWhitelist, b.add))
	r.Register(setCommand("remove-channels-from-whitelist", "old_channel_ids",
		"Removes channels from the whitelist",
		"Channel IDs to remove, separated by spaces",
		settings.KeyChannelWhitelist, b.remove))

	r.Register(Command{
		Name:        "change-debug-channel-id",
		Description: "Changes the channel a non-production bot is restricted to",
		Options: []Option{{
			Name: "channel_id", Description: "The channel ID the non-production bot acts in",
			Type: OptionString, Required: true,
		}},
		Admin:   true,
		Param:   string(settings.KeyDebugChannelID),
		Handler: b.setString(settings.KeyDebugChannelID, "channel_id"),
	})

	r.Register(Command{
		Name:        "bot-timeout",
		Description: "Stops the bot from redacting messages for a while, between 5 minutes and 6 hours",
		Options: []Option{{
			Name: "duration", Description: "The duration in minutes to stop redacting messages, between 5 and 360",
			Type: OptionInteger, Required: true, Min: &durationMin, Max: &durationMax,
		}},
		Admin:   true,
		Param:   string(settings.KeyTimeoutExpiration),
		Handler: b.timeout,
	})
	r.Register(Command{
		Name:        "show-values",
		Description: "Shows the current configuration values",
		Admin:       true,
		Param:       "settings",
		Handler:     b.showValues,
	})
	r.Register(Command{
		Name:        "read-json",
		Description: "Reloads the configuration values from the settings file",
		Admin:       true,
		Param:       "settings",
		Handler:     b.readJSON,
	})
	r.Register(Command{
		Name:        "help",
		Description: "Shows the help message",
		Handler:     b.help,
	})
}

func chanceCommand(name, desc string, key settings.Key, b *builtins) Command {
	return Command{
		Name:        name,
		Description: desc,
		Options: []Option{{
			Name: "new_chance", Description: "From 0 to 100, the new threshold",
			Type: OptionNumber, Required: true, Min: &chanceMin, Max: &chanceMax,
		}},
		Admin:   true,
		Param:   string(key),
		Handler: b.setChance(key),
	}
}

func setCommand(name, option, desc, optDesc string, key settings.Key, op func(settings.Key, string) Handler) Command {
	return Command{
		Name:        name,
		Description: desc,
		Options: []Option{{
			Name: option, Description: optDesc,
			Type: OptionString, Required: true,
		}},
		Admin:   true,
		Param:   string(key),
		Handler: op(key, option),
	}
}

type builtins struct {
	Defaults
}

func updated(key settings.Key) string {
	return fmt.Sprintf("Parameter %s updated successfully", key)
}

func (b *builtins) setString(key settings.Key, option string) Handler {
	return func(_ context.Context, inv Invocation) (string, error) {
		if err := b.Store.Set(key, inv.String(option)); err != nil {
			return "", err
		}
		return updated(key), nil
	}
}

func (b *builtins) setChance(key settings.Key) Handler {
	return func(_ context.Context, inv Invocation) (string, error) {
		pct, _ := inv.Float("new_chance")
		if err := b.Store.Set(key, pct/100); err != nil {
			return "", err
		}
		return updated(key), nil
	}
}

func (b *builtins) add(key settings.Key, option string) Handler {
	return func(_ context.Context, inv Invocation) (string, error) {
		raw := inv.String(option)
		if err := b.Store.AddToSet(key, strings.Fields(raw)); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s updated in parameter %s", raw, key), nil
	}
}

func (b *builtins) remove(key settings.Key, option string) Handler {
	return func(_ context.Context, inv Invocation) (string, error) {
		raw := inv.String(option)
		if err := b.Store.RemoveFromSet(key, strings.Fields(raw)); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s updated in parameter %s", raw, key), nil
	}
}

func (b *builtins) timeout(_ context.Context, inv Invocation) (string, error) {
	minutes, _ := inv.Int("duration")
	_, started, err := b.Store.StartTimeout(b.Now(), time.Duration(minutes)*time.Minute)
	if err != nil {
		return "", err
	}
	if !started {
		return MsgAlreadyTimeout, nil
	}
	return fmt.Sprintf("Timed out for %d minutes", minutes), nil
}

func (b *builtins) showValues(_ context.Context, _ Invocation) (string, error) {
	data, err := settings.Encode(b.Store.Snapshot())
	if err != nil {
		return "", fmt.Errorf("commands: encode settings: %w", err)
	}
	return "```json\n" + string(data) + "```", nil
}

func (b *builtins) readJSON(_ context.Context, _ Invocation) (string, error) {
	st, err := b.Store.Reload()
	if err != nil {
		return "", err
	}
	if b.OnReload != nil {
		b.OnReload(st)
	}
	return "Parameter settings updated successfully", nil
}

func (b *builtins) help(_ context.Context, _ Invocation) (string, error) {
	prefix := b.Store.Snapshot().BypassPrefix
	return fmt.Sprintf(helpText, prefix, prefix), nil
}

const helpText = "Bypassing the bot:\n" +
	"Type `%s` before a message to bypass the bot for important messages or if it's being super annoying.\n" +
	"Example:\n" +
	"`%shelp I'm being followed by a black van`\n" +
	"\n" +
	"Available commands:\n" +
	"`/change-selected-chance <value>`: Chance (in percentage) to select a message for changes. Kept for compatibility; redaction is driven by the two values below.\n" +
	"`/change-redacted-chance <value>`: Chance (in percentage) to redact a message without trigger words, and then each of its words. If no word is picked, one random word is redacted.\n" +
	"`/change-trigger-word-chance <value>`: Chance (in percentage) to redact each trigger word in a message. A message with a trigger word is always redacted; if no trigger word is picked, one is chosen at random.\n" +
	"`/change-bypass-prefix <value>`: Changes the bypass prefix.\n" +
	"`/add-trigger-words <values>` / `/remove-trigger-words <values>`: Edits the trigger word list. Separate words with spaces.\n" +
	"`/add-channels-to-blacklist <ids>` / `/remove-channels-from-blacklist <ids>`: Edits the channels the bot ignores.\n" +
	"`/add-channels-to-whitelist <ids>` / `/remove-channels-from-whitelist <ids>`: Edits the channels the bot is limited to. An empty whitelist means every channel.\n" +
	"`/change-debug-channel-id <id>`: Sets the only channel a non-production bot acts in.\n" +
	"`/bot-timeout <minutes>`: Stops redaction for 5 to 360 minutes.\n" +
	"`/show-values`: Responds with the current configuration.\n" +
	"`/read-json`: Reloads the configuration from the settings file.\n" +
	"`/help`: Shows this message."
