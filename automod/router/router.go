// Package router drains moderation decisions onto the client facade. One
// bounded queue, one worker, one facade call per decision.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	comatproto "github.com/pef-moderation/firehose-automod/api/atproto"
	"github.com/pef-moderation/firehose-automod/automod/matcher"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_router_queue_depth",
	Help: "Decisions waiting in the action router queue.",
})

var decisionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_router_decisions_total",
	Help: "Decisions drained from the queue, by kind and outcome.",
}, []string{"kind", "outcome"})

// Emitter is the slice of the client facade the router drives. The facade
// handles readiness, dry-run and session freshness internally.
type Emitter interface {
	SendReport(ctx context.Context, repo, path, reasonType, reason string) error
}

// MatchDecision reports that rule matches fired for content in a repository.
// Path locates the record the matches came from; it travels in the report
// payload, the report subject stays at account level.
type MatchDecision struct {
	Repo    string
	Path    string
	Matches []matcher.MatchResult
}

// AccountReport is a pre-rendered account-level report.
type AccountReport struct {
	Repo   string
	Reason string
}

// ChainReport is the reason payload for a redirect-limit overflow.
type ChainReport struct {
	Root  string   `json:"root"`
	Chain []string `json:"chain"`
}

// Reason renders the chain as the report reason string.
func (c ChainReport) Reason() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("redirect chain from %s (%d hops)", c.Root, len(c.Chain))
	}
	return string(b)
}

type decision struct {
	match  *MatchDecision
	report *AccountReport
}

// Router is the bounded-queue worker between decision producers and the
// facade. Enqueue blocks when the queue is full.
type Router struct {
	emitter Emitter
	queue   chan decision
	logger  *slog.Logger
}

func NewRouter(emitter Emitter, queueLimit int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if queueLimit <= 0 {
		queueLimit = 1024
	}
	return &Router{
		emitter: emitter,
		queue:   make(chan decision, queueLimit),
		logger:  logger.With("subsystem", "router"),
	}
}

// EnqueueMatch queues a rule-match decision, blocking while the queue is full.
func (r *Router) EnqueueMatch(d MatchDecision) {
	r.queue <- decision{match: &d}
	queueDepth.Inc()
}

// EnqueueReport queues an account-level report, blocking while the queue is
// full.
func (r *Router) EnqueueReport(d AccountReport) {
	r.queue <- decision{report: &d}
	queueDepth.Inc()
}

// Run drains the queue until ctx is cancelled, then returns after finishing
// the in-flight decision.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-r.queue:
			queueDepth.Dec()
			r.process(ctx, d)
		}
	}
}

func (r *Router) process(ctx context.Context, d decision) {
	switch {
	case d.match != nil:
		reason, err := json.Marshal(map[string][]matcher.MatchResult{d.match.Path: d.match.Matches})
		if err != nil {
			decisionsProcessed.WithLabelValues("match", "error").Inc()
			r.logger.Error("encoding match reason", "repo", d.match.Repo, "err", err)
			return
		}
		if err := r.emitter.SendReport(ctx, d.match.Repo, "", comatproto.ReasonOther, string(reason)); err != nil {
			decisionsProcessed.WithLabelValues("match", "error").Inc()
			r.logger.Error("match report failed", "repo", d.match.Repo, "path", d.match.Path, "err", err)
			return
		}
		decisionsProcessed.WithLabelValues("match", "ok").Inc()
	case d.report != nil:
		if err := r.emitter.SendReport(ctx, d.report.Repo, "", comatproto.ReasonSpam, d.report.Reason); err != nil {
			decisionsProcessed.WithLabelValues("report", "error").Inc()
			r.logger.Error("account report failed", "repo", d.report.Repo, "err", err)
			return
		}
		decisionsProcessed.WithLabelValues("report", "ok").Inc()
	}
}
