package diskcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Store is a key -> JSON file cache. Every entry is a whole-file overwrite so a
// reader always sees a fully-formed entry; writes go through a temp file plus
// rename, and Set/Update/Invalidate on the same key serialize on a per-key lock.
// Staleness is indistinguishable from absence: both come back as a miss.
type Store struct {
	dir           string
	defaultExpiry time.Duration
	log           *zap.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	writeErrors prometheus.Counter
}

type Config struct {
	Dir           string
	DefaultExpiry time.Duration
	Now           func() time.Time
}

type envelope struct {
	Data        json.RawMessage `json:"data"`
	LastUpdated time.Time       `json:"lastUpdated"`
	Expiry      float64         `json:"expiry"`
}

var (
	ErrNoDir  = errors.New("cache dir required")
	ErrBadKey = errors.New("cache key must not contain path elements")
)

// validKey rejects anything that could name a file outside the cache dir.
// Keys are derived from identity headers among other things, so traversal
// attempts do reach this layer.
func validKey(key string) bool {
	if key == "" || strings.Contains(key, "..") {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}

func NewStore(cfg Config, reg *prometheus.Registry, log *zap.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, ErrNoDir
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{
		dir:           cfg.Dir,
		defaultExpiry: cfg.DefaultExpiry,
		log:           log,
		now:           cfg.Now,
		locks:         make(map[string]*sync.Mutex),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Disk cache hits",
		}, []string{"key"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Disk cache misses (absent, stale or unreadable)",
		}, []string{"key"}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_write_errors_total",
			Help: "Disk cache write failures",
		}),
	}

	if reg != nil {
		reg.MustRegister(s.hits, s.misses, s.writeErrors)
	}

	return s, nil
}

func (s *Store) Ping() error {
	probe := filepath.Join(s.dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

// Get reads a key using the expiry recorded by the write that produced it.
func (s *Store) Get(key string, out any) bool {
	env, ok := s.read(key)
	if !ok {
		s.misses.WithLabelValues(key).Inc()
		return false
	}
	return s.decode(key, env, out, time.Duration(env.Expiry*float64(time.Minute)))
}

// GetWithExpiry reads a key with an expiry override instead of the stored one.
func (s *Store) GetWithExpiry(key string, out any, expiry time.Duration) bool {
	env, ok := s.read(key)
	if !ok {
		s.misses.WithLabelValues(key).Inc()
		return false
	}
	return s.decode(key, env, out, expiry)
}

// Peek reads a key ignoring staleness entirely.
func (s *Store) Peek(key string, out any) bool {
	env, ok := s.read(key)
	if !ok {
		return false
	}
	return json.Unmarshal(env.Data, out) == nil
}

func (s *Store) decode(key string, env envelope, out any, expiry time.Duration) bool {
	if s.now().Sub(env.LastUpdated) > expiry {
		s.misses.WithLabelValues(key).Inc()
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		s.log.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		s.misses.WithLabelValues(key).Inc()
		return false
	}
	s.hits.WithLabelValues(key).Inc()
	return true
}

func (s *Store) Set(key string, v any) error {
	return s.SetWithExpiry(key, v, s.defaultExpiry)
}

func (s *Store) SetWithExpiry(key string, v any, expiry time.Duration) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.writeErrors.Inc()
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	return s.write(key, envelope{
		Data:        data,
		LastUpdated: s.now(),
		Expiry:      expiry.Minutes(),
	})
}

// Update applies a read-modify-write under the key's lock. fn receives the raw
// cached data (nil when the file is absent or corrupt) and returns the value to
// persist. The stored expiry is preserved; LastUpdated is reset.
func (s *Store) Update(key string, fn func(data json.RawMessage) (any, error)) error {
	if !validKey(key) {
		return fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	expiry := s.defaultExpiry.Minutes()
	var raw json.RawMessage
	if env, ok := s.read(key); ok {
		raw = env.Data
		if env.Expiry > 0 {
			expiry = env.Expiry
		}
	}

	v, err := fn(raw)
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		s.writeErrors.Inc()
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	return s.write(key, envelope{
		Data:        data,
		LastUpdated: s.now(),
		Expiry:      expiry,
	})
}

func (s *Store) Invalidate(key string) {
	if !validKey(key) {
		s.log.Warn("cache key rejected", zap.String("key", key))
		return
	}
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) Clear() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("cache clear failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s.Invalidate(strings.TrimSuffix(e.Name(), ".json"))
	}
}

func (s *Store) read(key string) (envelope, bool) {
	if !validKey(key) {
		s.log.Warn("cache key rejected", zap.String("key", key))
		return envelope{}, false
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return envelope{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("cache file corrupt", zap.String("key", key), zap.Error(err))
		return envelope{}, false
	}
	return env, true
}

func (s *Store) write(key string, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		s.writeErrors.Inc()
		return err
	}

	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		s.writeErrors.Inc()
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.writeErrors.Inc()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		s.writeErrors.Inc()
		return err
	}

	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		s.writeErrors.Inc()
		return err
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
