package settings

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrUnknownKey is returned for a key that is not part of the schema.
	ErrUnknownKey = errors.New("settings: unknown key")

	// ErrWrongType is returned when a value does not match the key's type,
	// or when a set operation targets a scalar key (and vice versa).
	ErrWrongType = errors.New("settings: wrong value type for key")

	// ErrOutOfRange is returned for a chance outside [0,1].
	ErrOutOfRange = errors.New("settings: value out of range")

	// ErrNoValues is returned when a set operation receives only blank values.
	ErrNoValues = errors.New("settings: no values given")

	// ErrNotInSet is returned by RemoveFromSet when a value is not a member.
	ErrNotInSet = errors.New("settings: value not in set")
)

// LoadError reports a settings file that exists but cannot be read or
// parsed. At startup it is fatal.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("settings: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store holds the current Settings snapshot and its backing file.
//
// Reads (Snapshot) are lock-free. Every mutation is serialized under one
// mutex, applied to a copy, written to disk, and only then published as the
// new snapshot, so a failed write leaves the previous state in place.
type Store struct {
	path   string
	logger *log.Logger

	mu      sync.Mutex
	current atomic.Pointer[Settings]
	digest  [sha256.Size]byte // hash of the file bytes last read or written

	hookMu sync.RWMutex
	hooks  []func(Settings)
}

// NewStore creates a store for path holding default settings. It performs
// no I/O; call Reload (or use Open) to read the file.
func NewStore(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Store{
		path:   path,
		logger: logger.WithPrefix("settings"),
	}
	def := Defaults()
	s.current.Store(&def)
	return s
}

// Open creates a store, loads the file at path and rewrites it in normalized
// form. A missing file is created with defaults.
func Open(path string, logger *log.Logger) (*Store, error) {
	s := NewStore(path, logger)
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current settings. The result is shared and must not
// be modified.
func (s *Store) Snapshot() Settings {
	return *s.current.Load()
}

// OnChange registers fn to be called after every successful mutation. Hooks
// are not called for reloads.
func (s *Store) OnChange(fn func(Settings)) {
	s.hookMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hookMu.Unlock()
}

// Load reads and decodes the backing file without touching the in-memory
// snapshot. A missing file yields defaults.
func (s *Store) Load() (Settings, error) {
	st, _, err := s.read()
	return st, err
}

func (s *Store) read() (Settings, []byte, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil, nil
	}
	if err != nil {
		return Settings{}, nil, &LoadError{Path: s.path, Err: err}
	}
	st, err := Decode(raw)
	if err != nil {
		return Settings{}, nil, &LoadError{Path: s.path, Err: err}
	}
	return st, raw, nil
}

// Save writes st to disk and makes it the current snapshot.
func (s *Store) Save(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st = st.Clone()
	if err := s.write(st); err != nil {
		return err
	}
	s.current.Store(&st)
	return nil
}

// Reload re-reads the backing file and replaces the snapshot wholesale. The
// file is rewritten only if normalization changed its contents.
func (s *Store) Reload() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

// ReloadIfChanged reloads only if the file differs from what the store last
// read or wrote. It is used by the file watcher so the store's own writes do
// not trigger a reload.
func (s *Store) ReloadIfChanged() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, &LoadError{Path: s.path, Err: err}
	}
	if err == nil && sha256.Sum256(raw) == s.digest {
		return false, nil
	}
	if _, err := s.reloadLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) reloadLocked() (Settings, error) {
	st, raw, err := s.read()
	if err != nil {
		return Settings{}, err
	}

	normalized, err := Encode(st)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: encode: %w", err)
	}
	if !bytes.Equal(raw, normalized) {
		if err := writeFileAtomic(s.path, normalized); err != nil {
			return Settings{}, fmt.Errorf("settings: normalize %s: %w", s.path, err)
		}
		s.logger.Info("settings file normalized", "path", s.path)
	}
	s.digest = sha256.Sum256(normalized)
	s.current.Store(&st)
	return st, nil
}

// write persists st. Callers hold s.mu.
func (s *Store) write(st Settings) error {
	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("settings: save %s: %w", s.path, err)
	}
	s.digest = sha256.Sum256(data)
	return nil
}

// mutate applies fn to a copy of the current settings, persists it and
// publishes it. On any error the snapshot is left unchanged.
func (s *Store) mutate(fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()
	next := s.current.Load().Clone()
	if err := fn(&next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	if err := s.write(next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	s.current.Store(&next)
	s.mu.Unlock()

	s.hookMu.RLock()
	hooks := s.hooks
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(next)
	}
	return next, nil
}

// Set assigns a scalar key. Chances take a float64 in [0,1]; the timeout
// takes unix seconds as any integer or float type; the prefix and debug
// channel take strings.
func (s *Store) Set(key Key, value any) error {
	_, err := s.mutate(func(st *Settings) error {
		return assign(st, key, value)
	})
	return err
}

func assign(st *Settings, key Key, value any) error {
	switch key {
	case KeyRedactionChance, KeySelectionChance, KeyTriggerWordChance:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: %s wants float64, got %T", ErrWrongType, key, value)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: %s = %v", ErrOutOfRange, key, f)
		}
		switch key {
		case KeyRedactionChance:
			st.RedactionChance = f
		case KeySelectionChance:
			st.SelectionChance = f
		default:
			st.TriggerWordChance = f
		}
	case KeyBypassPrefix, KeyDebugChannelID:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s wants string, got %T", ErrWrongType, key, value)
		}
		if key == KeyBypassPrefix {
			st.BypassPrefix = v
		} else {
			st.DebugChannelID = v
		}
	case KeyTimeoutExpiration:
		switch v := value.(type) {
		case int64:
			st.TimeoutExpiration = v
		case int:
			st.TimeoutExpiration = int64(v)
		case float64:
			st.TimeoutExpiration = int64(v)
		default:
			return fmt.Errorf("%w: %s wants unix seconds, got %T", ErrWrongType, key, value)
		}
	case KeyTriggerWords, KeyChannelBlacklist, KeyChannelWhitelist:
		return fmt.Errorf("%w: %s is a set", ErrWrongType, key)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// AddToSet adds values to a set-valued key. Values are trimmed, blanks are
// dropped, and trigger words are lowercased.
func (s *Store) AddToSet(key Key, values []string) error {
	_, err := s.mutate(func(st *Settings) error {
		set, clean, err := setOperands(st, key, values)
		if err != nil {
			return err
		}
		for _, v := range clean {
			(*set)[v] = struct{}{}
		}
		return nil
	})
	return err
}

// RemoveFromSet removes values from a set-valued key. If any value is not a
// member nothing is removed and the error wraps ErrNotInSet.
func (s *Store) RemoveFromSet(key Key, values []string) error {
	_, err := s.mutate(func(st *Settings) error {
		set, clean, err := setOperands(st, key, values)
		if err != nil {
			return err
		}
		var missing []string
		for _, v := range clean {
			if !set.Has(v) {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s %s", ErrNotInSet, key, strings.Join(missing, " "))
		}
		for _, v := range clean {
			delete(*set, v)
		}
		return nil
	})
	return err
}

func setOperands(st *Settings, key Key, values []string) (*StringSet, []string, error) {
	set := st.set(key)
	if set == nil {
		if !knownKey(key) {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		return nil, nil, fmt.Errorf("%w: %s is not a set", ErrWrongType, key)
	}
	if *set == nil {
		*set = StringSet{}
	}

	clean := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if key == KeyTriggerWords {
			v = strings.ToLower(v)
		}
		clean = append(clean, v)
	}
	if len(clean) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoValues, key)
	}
	return set, clean, nil
}

func knownKey(key Key) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// StartTimeout suspends the bot until now+d unless a timeout is already
// active, in which case the current expiration is returned with
// started=false and nothing changes.
func (s *Store) StartTimeout(now time.Time, d time.Duration) (expiration int64, started bool, err error) {
	var active bool
	next, err := s.mutate(func(st *Settings) error {
		if st.TimedOut(now) {
			active = true
			expiration = st.TimeoutExpiration
			return errTimeoutActive
		}
		st.TimeoutExpiration = now.Add(d).Unix()
		return nil
	})
	if active {
		return expiration, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return next.TimeoutExpiration, true, nil
}

var errTimeoutActive = errors.New("settings: timeout already active")

// writeFileAtomic writes data to a temp file next to path and renames it into
// place, so a concurrent reader sees either the old or the new contents.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
