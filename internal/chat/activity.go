package chat

import "sync"

// DefaultActivitySize is the number of recent redactions kept per channel.
const DefaultActivitySize = 10

// Redaction records one message the bot replaced.
type Redaction struct {
	MessageID  string `json:"message_id"`
	ReplacedID string `json:"replaced_id,omitempty"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Triggered  bool   `json:"triggered"`
	Replaced   int    `json:"replaced"`
	Ts         int64  `json:"ts"`
}

// ActivityLog keeps the last N redactions per channel in memory. It backs the
// status server's /recent endpoint. It is goroutine-safe.
type ActivityLog struct {
	size int

	mu    sync.RWMutex
	rings map[string]*ring // channelID -> ring
}

type ring struct {
	items []Redaction
	pos   int
	count int
}

// NewActivityLog creates a log holding size entries per channel. A size of
// zero or less uses DefaultActivitySize.
func NewActivityLog(size int) *ActivityLog {
	if size <= 0 {
		size = DefaultActivitySize
	}
	return &ActivityLog{
		size:  size,
		rings: make(map[string]*ring),
	}
}

// Add appends r to the channel's ring, overwriting the oldest entry when full.
func (l *ActivityLog) Add(channelID string, r Redaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rb, ok := l.rings[channelID]
	if !ok {
		rb = &ring{items: make([]Redaction, l.size)}
		l.rings[channelID] = rb
	}

	rb.items[rb.pos] = r
	rb.pos = (rb.pos + 1) % l.size
	if rb.count < l.size {
		rb.count++
	}
}

// Get returns the channel's entries oldest first. Returns an empty slice for
// a channel with no activity.
func (l *ActivityLog) Get(channelID string) []Redaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rb, ok := l.rings[channelID]
	if !ok {
		return []Redaction{}
	}
	return rb.ordered(l.size)
}

// Snapshot returns every channel's entries, keyed by channel id.
func (l *ActivityLog) Snapshot() map[string][]Redaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][]Redaction, len(l.rings))
	for id, rb := range l.rings {
		out[id] = rb.ordered(l.size)
	}
	return out
}

func (rb *ring) ordered(size int) []Redaction {
	result := make([]Redaction, rb.count)
	// The oldest entry is at (pos - count) mod size.
	start := (rb.pos - rb.count + size) % size
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%size]
	}
	return result
}
