package messaging

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// SettingsChanged is published on SubjectSettingsChanged after a replica
// persisted new settings.
type SettingsChanged struct {
	Origin string `json:"origin"` // instance id of the publishing replica
	Reason string `json:"reason"` // "mutation" or "reload"
	Ts     int64  `json:"ts"`
}

// PubSub is the subset of Client the broadcaster needs.
type PubSub interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) error
}

// Broadcaster announces local settings changes and reacts to peers' changes.
type Broadcaster struct {
	bus      PubSub
	instance string
	logger   *log.Logger
	now      func() time.Time
}

// NewBroadcaster creates a broadcaster for this process. instance must be
// unique per replica; it is how a replica recognizes its own announcements.
func NewBroadcaster(bus PubSub, instance string, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Broadcaster{
		bus:      bus,
		instance: instance,
		logger:   logger.WithPrefix("broadcast"),
		now:      time.Now,
	}
}

// Announce tells peers that settings changed.
func (b *Broadcaster) Announce(reason string) error {
	data, err := json.Marshal(SettingsChanged{
		Origin: b.instance,
		Reason: reason,
		Ts:     b.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("messaging: marshal settings change: %w", err)
	}
	if err := b.bus.Publish(SubjectSettingsChanged, data); err != nil {
		return fmt.Errorf("messaging: publish settings change: %w", err)
	}
	return nil
}

// Listen calls onPeerChange for every announcement made by another replica.
// The replica's own announcements are ignored.
func (b *Broadcaster) Listen(onPeerChange func(SettingsChanged)) error {
	return b.bus.Subscribe(SubjectSettingsChanged, func(data []byte) {
		var ev SettingsChanged
		if err := json.Unmarshal(data, &ev); err != nil {
			b.logger.Warn("bad settings change event", "err", err)
			return
		}
		if ev.Origin == b.instance {
			return
		}
		b.logger.Info("peer changed settings", "origin", ev.Origin, "reason", ev.Reason)
		onPeerChange(ev)
	})
}
