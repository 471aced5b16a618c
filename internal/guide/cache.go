package guide

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/savid/tvguide/internal/playlist"
	"github.com/savid/tvguide/internal/xmltv"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRefreshInterval bounds how often auto-refresh fetches the guide.
	DefaultRefreshInterval = 5 * time.Minute

	dialTimeout    = 10 * time.Second
	requestTimeout = 2 * time.Minute
	maxBodySize    = 500 * 1024 * 1024 // 500MB for large guide documents
)

// Status is an observability snapshot of the cache.
type Status struct {
	Enabled      bool
	SourceURL    string
	Refreshing   bool
	LastRefresh  time.Time
	LastError    error
	ChannelCount int
	ProgramCount int
}

// Cache owns the guide refresh lifecycle around a Resolver. Queries are
// always answered from the already-parsed in-memory document; fetching and
// parsing happen off the calling goroutine and the finished document is
// swapped in atomically. On failure the previous document keeps serving.
type Cache struct {
	log        logrus.FieldLogger
	resolver   *Resolver
	httpClient *http.Client
	interval   time.Duration

	mu          sync.Mutex
	url         string
	enabled     bool
	refreshing  bool
	lastRefresh time.Time
	lastErr     error

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCache creates a guide cache around a resolver. A non-positive interval
// falls back to DefaultRefreshInterval.
func NewCache(log logrus.FieldLogger, resolver *Resolver, interval time.Duration) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	return &Cache{
		log:      log.WithField("component", "guidecache"),
		resolver: resolver,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: dialTimeout,
				}).DialContext,
			},
		},
		interval: interval,
	}
}

// Configure sets or clears the guide source. Enabling or changing the URL
// triggers an immediate refresh; disabling drops the document on next access
// and causes any in-flight result to be discarded when it lands.
func (c *Cache) Configure(url string, enabled bool) {
	c.mu.Lock()
	changed := c.url != url || c.enabled != enabled
	c.url = url
	c.enabled = enabled
	c.mu.Unlock()

	if !changed {
		return
	}

	c.log.WithFields(logrus.Fields{
		"url":     url,
		"enabled": enabled,
	}).Info("Guide source configured")

	if enabled && url != "" {
		c.RequestRefresh()
	}
}

// Resolve answers a query from the in-memory document, clearing it first if
// the guide source has been disabled since the last access. It never fetches
// or parses synchronously.
func (c *Cache) Resolve(ch playlist.Channel, now time.Time) Result {
	c.dropIfDisabled()

	return c.resolver.Resolve(ch, now)
}

// RequestRefresh begins a background fetch+parse of the guide source. It is
// idempotent: a refresh already in flight makes this call a no-op, as does a
// disabled or unset source.
func (c *Cache) RequestRefresh() {
	c.mu.Lock()

	if c.refreshing || !c.enabled || c.url == "" {
		c.mu.Unlock()

		return
	}

	c.refreshing = true
	url := c.url
	c.mu.Unlock()

	go c.refresh(url)
}

// Start begins the auto-refresh loop, firing at most once per interval.
func (c *Cache) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return nil // Already running
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(runCtx)

	c.log.WithField("interval", c.interval).Info("Guide auto-refresh started")

	return nil
}

// Stop stops the auto-refresh loop.
func (c *Cache) Stop() {
	c.runMu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.runMu.Unlock()

	if cancel != nil {
		cancel()

		if done != nil {
			<-done
		}
	}

	c.log.Info("Guide auto-refresh stopped")
}

// Status returns an observability snapshot.
func (c *Cache) Status() Status {
	doc := c.resolver.Document()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Enabled:     c.enabled,
		SourceURL:   c.url,
		Refreshing:  c.refreshing,
		LastRefresh: c.lastRefresh,
		LastError:   c.lastErr,
	}

	if doc != nil {
		status.ChannelCount = len(doc.Programs)
		status.ProgramCount = doc.ProgramCount()
	}

	return status
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RequestRefresh()
		}
	}
}

// refresh fetches and parses the guide, then publishes the new document.
// The url captured at request time is compared against the current
// configuration at publish time so a stale in-flight result from a
// reconfigured or disabled source is discarded silently.
func (c *Cache) refresh(url string) {
	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	c.log.WithField("url", url).Info("Refreshing guide")

	doc, err := c.fetchAndParse(url)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()

		c.log.WithError(err).Warn("Guide refresh failed, keeping previous document")

		return
	}

	c.mu.Lock()
	stale := !c.enabled || c.url != url

	if !stale {
		c.lastRefresh = time.Now()
		c.lastErr = nil
	}
	c.mu.Unlock()

	if stale {
		c.log.WithField("url", url).Debug("Discarding stale guide refresh result")

		return
	}

	c.resolver.SetDocument(doc)

	c.log.WithFields(logrus.Fields{
		"channels":   len(doc.Programs),
		"programmes": doc.ProgramCount(),
	}).Info("Guide refreshed")
}

func (c *Cache) fetchAndParse(url string) (*xmltv.Document, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("guide fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code fetching guide: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read guide body: %w", err)
	}

	c.log.WithField("size", len(data)).Debug("Fetched guide data")

	doc, err := xmltv.Parse(c.log, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse guide: %w", err)
	}

	doc.Source = url

	return doc, nil
}

// dropIfDisabled clears the in-memory document lazily after the source has
// been disabled.
func (c *Cache) dropIfDisabled() {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()

	if !enabled && c.resolver.Document() != nil {
		c.resolver.SetDocument(nil)
	}
}
