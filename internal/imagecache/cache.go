package imagecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Meta describes one mirrored image. The filename is a deterministic hash of
// the original URL, so the same URL always resolves to the same local file.
type Meta struct {
	OriginalURL  string    `json:"originalUrl"`
	LocalPath    string    `json:"localPath"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mimeType"`
	DownloadedAt time.Time `json:"downloadedAt"`
	LastAccessed time.Time `json:"lastAccessed"`
}

type Stats struct {
	Images int   `json:"images"`
	Bytes  int64 `json:"bytes"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

type Config struct {
	Dir          string
	PublicPrefix string
	Hosts        []string
	Timeout      time.Duration
	Now          func() time.Time
}

type Cache struct {
	dir      string
	filesDir string
	prefix   string
	hosts    map[string]struct{}
	client   *http.Client
	log      *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	images map[string]Meta
	stats  Stats

	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
	errCounter  prometheus.Counter
}

const (
	metaFile  = "images.json"
	statsFile = "stats.json"
	filesSub  = "files"
)

var imageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".webp": {}, ".svg": {}, ".avif": {}, ".ico": {},
}

func New(cfg Config, reg *prometheus.Registry, log *zap.Logger) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("image cache dir required")
	}
	filesDir := filepath.Join(cfg.Dir, filesSub)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = "/images"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}

	hosts := make(map[string]struct{}, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = struct{}{}
		}
	}

	c := &Cache{
		dir:      cfg.Dir,
		filesDir: filesDir,
		prefix:   strings.TrimRight(cfg.PublicPrefix, "/"),
		hosts:    hosts,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      log,
		now:      cfg.Now,
		images:   make(map[string]Meta),
		hitCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_cache_hits_total",
			Help: "Image cache hits",
		}),
		missCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_cache_misses_total",
			Help: "Image cache misses",
		}),
		errCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "image_cache_errors_total",
			Help: "Image download failures",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.hitCounter, c.missCounter, c.errCounter)
	}

	c.load()
	return c, nil
}

// CachedImageURL returns a local URL for the given image, downloading it on
// first sight. URLs that are not images or not on an allowed host pass through
// verbatim, as does anything that fails to download: a broken cache must never
// break the displayed image.
func (c *Cache) CachedImageURL(ctx context.Context, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return raw
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if _, ok := imageExts[ext]; !ok {
		return raw
	}
	if _, ok := c.hosts[strings.ToLower(u.Host)]; !ok {
		return raw
	}

	if local, ok := c.hit(raw); ok {
		return local
	}

	m, err := c.download(ctx, raw, ext)
	if err != nil {
		c.errCounter.Inc()
		c.mu.Lock()
		c.stats.Errors++
		c.saveStatsLocked()
		c.mu.Unlock()
		c.log.Warn("image download failed", zap.String("url", raw), zap.Error(err))
		return raw
	}

	c.mu.Lock()
	c.images[raw] = m
	c.stats.Images = len(c.images)
	c.stats.Bytes += m.Size
	c.saveLocked()
	c.mu.Unlock()

	return c.prefix + "/" + m.Filename
}

func (c *Cache) hit(raw string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.images[raw]
	if !ok {
		c.stats.Misses++
		c.missCounter.Inc()
		c.saveStatsLocked()
		return "", false
	}

	if _, err := os.Stat(m.LocalPath); err != nil {
		// backing file vanished out from under us
		delete(c.images, raw)
		c.stats.Images = len(c.images)
		c.stats.Bytes -= m.Size
		c.stats.Misses++
		c.missCounter.Inc()
		c.saveLocked()
		return "", false
	}

	m.LastAccessed = c.now()
	c.images[raw] = m
	c.stats.Hits++
	c.hitCounter.Inc()
	c.saveLocked()

	return c.prefix + "/" + m.Filename, true
}

func (c *Cache) download(ctx context.Context, raw, ext string) (Meta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return Meta{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Meta{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Meta{}, fmt.Errorf("status=%d", resp.StatusCode)
	}

	sum := sha256.Sum256([]byte(raw))
	filename := hex.EncodeToString(sum[:]) + ext
	dest := filepath.Join(c.filesDir, filename)

	tmp, err := os.CreateTemp(c.filesDir, "dl.*.tmp")
	if err != nil {
		return Meta{}, err
	}

	size, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return Meta{}, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return Meta{}, err
	}

	now := c.now()
	return Meta{
		OriginalURL:  raw,
		LocalPath:    dest,
		Filename:     filename,
		Size:         size,
		MimeType:     resp.Header.Get("Content-Type"),
		DownloadedAt: now,
		LastAccessed: now,
	}, nil
}

const (
	batchSize  = 5
	batchDelay = 200 * time.Millisecond
)

// CacheAll mirrors a set of URLs in batches of five with a short pause between
// batches. The pacing keeps a bulk refresh from hammering the origin server.
func (c *Cache) CacheAll(ctx context.Context, urls []string) {
	seen := make(map[string]struct{}, len(urls))
	unique := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}

	for i := 0; i < len(unique); i += batchSize {
		end := i + batchSize
		if end > len(unique) {
			end = len(unique)
		}

		var wg sync.WaitGroup
		for _, u := range unique[i:end] {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				c.CachedImageURL(ctx, u)
			}(u)
		}
		wg.Wait()

		if end < len(unique) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(batchDelay):
			}
		}
	}
}

// Cleanup evicts entries not accessed within maxAge, deleting backing files.
func (c *Cache) Cleanup(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	removed := 0

	for u, m := range c.images {
		if m.LastAccessed.After(cutoff) {
			continue
		}
		if err := os.Remove(m.LocalPath); err != nil && !os.IsNotExist(err) {
			c.log.Warn("image evict failed", zap.String("file", m.LocalPath), zap.Error(err))
			continue
		}
		delete(c.images, u)
		c.stats.Bytes -= m.Size
		removed++
	}

	if removed > 0 {
		c.stats.Images = len(c.images)
		c.saveLocked()
	}
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Handler serves the cached image files under the public prefix.
func (c *Cache) Handler() http.Handler {
	return http.StripPrefix(c.prefix+"/", http.FileServer(http.Dir(c.filesDir)))
}

func (c *Cache) load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, err := os.ReadFile(filepath.Join(c.dir, metaFile)); err == nil {
		if err := json.Unmarshal(data, &c.images); err != nil {
			c.log.Warn("image metadata corrupt, starting empty", zap.Error(err))
			c.images = make(map[string]Meta)
		}
	}
	if data, err := os.ReadFile(filepath.Join(c.dir, statsFile)); err == nil {
		_ = json.Unmarshal(data, &c.stats)
	}
	c.stats.Images = len(c.images)
}

func (c *Cache) saveLocked() {
	data, err := json.Marshal(c.images)
	if err == nil {
		err = os.WriteFile(filepath.Join(c.dir, metaFile), data, 0o644)
	}
	if err != nil {
		c.log.Warn("image metadata save failed", zap.Error(err))
	}
	c.saveStatsLocked()
}

func (c *Cache) saveStatsLocked() {
	data, err := json.Marshal(c.stats)
	if err == nil {
		err = os.WriteFile(filepath.Join(c.dir, statsFile), data, 0o644)
	}
	if err != nil {
		c.log.Warn("image stats save failed", zap.Error(err))
	}
}
