package embed

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pef-moderation/firehose-automod/automod/countstore"
	"github.com/pef-moderation/firehose-automod/automod/matcher"
	"github.com/pef-moderation/firehose-automod/automod/router"
)

// truncationMark is the horizontal ellipsis appended to shortened link text.
const truncationMark = "…"

var backlogGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_embed_backlog",
	Help: "Embed-info lists waiting in the checker queue.",
})

var embedsChecked = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_embeds_checked_total",
	Help: "Embeds processed, by category.",
}, []string{"category"})

var repetitionAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_embed_repetition_alerts_total",
	Help: "Geometric repetition milestones crossed, by category.",
}, []string{"category"})

var urisSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_embed_uris_skipped_total",
	Help: "External URIs dropped before probing, by cause.",
}, []string{"cause"})

// CheckerConfig carries the embed pipeline's slice of the daemon
// configuration.
type CheckerConfig struct {
	Workers       int
	QueueLimit    int
	RedirectLimit int

	URIHostPrefix string
	WhitelistURIs []string

	ImageFactor  int
	VideoFactor  int
	RecordFactor int
	LinkFactor   int

	// Probes per second across all workers. Zero disables the limiter.
	RedirectRateLimit float64
}

// Checker fans embed-info lists out to a fixed worker pool. Producers block
// when the queue is full.
type Checker struct {
	cfg       CheckerConfig
	counts    *countstore.CountStore
	matcher   matcher.Matcher
	router    *router.Router
	follower  *RedirectFollower
	logger    *slog.Logger
	queue     chan EmbedInfo
	whitelist map[string]bool
}

func NewChecker(cfg CheckerConfig, counts *countstore.CountStore, m matcher.Matcher, r *router.Router, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 1024
	}
	whitelist := make(map[string]bool, len(cfg.WhitelistURIs))
	for _, host := range cfg.WhitelistURIs {
		whitelist[host] = true
	}
	c := &Checker{
		cfg:       cfg,
		counts:    counts,
		matcher:   m,
		router:    r,
		logger:    logger.With("subsystem", "embed"),
		queue:     make(chan EmbedInfo, cfg.QueueLimit),
		whitelist: whitelist,
	}
	c.follower = NewRedirectFollower(c, cfg.RedirectLimit, cfg.RedirectRateLimit, c.logger)
	return c
}

// WaitEnqueue queues one embed-info list, blocking while the queue is full.
func (c *Checker) WaitEnqueue(info EmbedInfo) {
	c.queue <- info
	backlogGauge.Inc()
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have finished their in-flight lists.
func (c *Checker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Checker) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-c.queue:
			backlogGauge.Dec()
			c.process(ctx, info)
		}
	}
}

func (c *Checker) process(ctx context.Context, info EmbedInfo) {
	for _, e := range info.Embeds {
		switch {
		case e.Image != nil:
			c.imageSeen(info.Repo, info.Path, e.Image.CID)
		case e.Video != nil:
			c.videoSeen(info.Repo, info.Path, e.Video.CID)
		case e.Record != nil:
			c.recordSeen(info.Repo, info.Path, e.Record.URI)
		case e.External != nil:
			c.uriSeen(ctx, info.Repo, info.Path, e.External.URI)
		}
	}
}

func (c *Checker) countAndAlert(category countstore.Category, factor int, repo, path, key string) int {
	count, _ := c.counts.InsertOrIncrement(category, key)
	embedsChecked.WithLabelValues(string(category)).Inc()
	if countstore.AlertNeeded(count, factor) {
		repetitionAlerts.WithLabelValues(string(category)).Inc()
		c.logger.Warn("repeated embed",
			"category", category,
			"key", key,
			"count", count,
			"repo", repo,
			"path", path)
	}
	return count
}

func (c *Checker) imageSeen(repo, path, cid string) {
	c.countAndAlert(countstore.CategoryImage, c.cfg.ImageFactor, repo, path, cid)
}

func (c *Checker) videoSeen(repo, path, cid string) {
	c.countAndAlert(countstore.CategoryVideo, c.cfg.VideoFactor, repo, path, cid)
}

func (c *Checker) recordSeen(repo, path, uri string) {
	c.countAndAlert(countstore.CategoryRecord, c.cfg.RecordFactor, repo, path, uri)
}

func (c *Checker) uriSeen(ctx context.Context, repo, path, uri string) {
	admitted, normalized := c.ShouldProcessURI(uri)
	if !admitted {
		return
	}
	count := c.countAndAlert(countstore.CategoryLink, c.cfg.LinkFactor, repo, path, normalized)
	if count > 1 {
		// chain already probed on first sight
		return
	}
	c.follower.Follow(ctx, repo, path, normalized)
}

// ShouldProcessURI decides whether an external URI enters the link pipeline.
// It strips a trailing truncation ellipsis, rejects unparseable URLs, trims
// the configured host prefix, and drops whitelisted hosts. Returns the
// normalized URI on admission.
func (c *Checker) ShouldProcessURI(uri string) (bool, string) {
	trimmed := strings.TrimSuffix(uri, truncationMark)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.Scheme == "" {
		urisSkipped.WithLabelValues("malformed").Inc()
		c.logger.Info("malformed external uri, skipping", "uri", uri)
		return false, ""
	}
	host := strings.TrimPrefix(u.Host, c.cfg.URIHostPrefix)
	if c.whitelist[host] {
		urisSkipped.WithLabelValues("whitelisted").Inc()
		return false, ""
	}
	return true, trimmed
}
