// Package consumer bridges a firehose event source onto the moderation
// pipeline. The wire transport is pluggable; this package owns the fan-out
// from decoded events to the embed checker and the account event cache.
package consumer

import (
	"context"
	"log/slog"

	"github.com/pef-moderation/firehose-automod/automod/embed"
	"github.com/pef-moderation/firehose-automod/automod/eventcache"
)

// Source produces decoded firehose events. Implementations run until ctx is
// cancelled.
type Source interface {
	Run(ctx context.Context, sink *Sink) error
}

// Sink receives decoded events and routes them into the pipeline.
type Sink struct {
	checker *embed.Checker
	cache   *eventcache.EventCache
	logger  *slog.Logger
}

func NewSink(checker *embed.Checker, cache *eventcache.EventCache, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		checker: checker,
		cache:   cache,
		logger:  logger.With("subsystem", "consumer"),
	}
}

// HandleEvent folds an account event into the cache.
func (s *Sink) HandleEvent(ev eventcache.Event) {
	s.cache.Record(ev)
}

// HandleEmbeds queues a record's embeds for checking. Blocks under
// backpressure.
func (s *Sink) HandleEmbeds(info embed.EmbedInfo) {
	s.checker.WaitEnqueue(info)
}

// NopSource is the placeholder source used until a wire subscriber is
// attached. It parks until cancellation.
type NopSource struct{}

func (NopSource) Run(ctx context.Context, _ *Sink) error {
	<-ctx.Done()
	return ctx.Err()
}
