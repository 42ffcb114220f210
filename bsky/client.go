package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	comatproto "github.com/pef-moderation/firehose-automod/api/atproto"
	appbsky "github.com/pef-moderation/firehose-automod/api/bsky"
	toolsozone "github.com/pef-moderation/firehose-automod/api/ozone"
	"github.com/pef-moderation/firehose-automod/xrpc"
)

var emissionsDroppedNotReady = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_emissions_dropped_not_ready_total",
	Help: "Moderation emissions dropped because no session was established.",
})

var emissionsDryRun = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_emissions_dry_run_total",
	Help: "Moderation emissions short-circuited by dry-run mode.",
}, []string{"kind"})

var emissionsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_emissions_sent_total",
	Help: "Moderation emissions delivered to the service.",
}, []string{"kind"})

var contentSubjectsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_content_subjects_dropped_total",
	Help: "Emissions dropped because they targeted record paths instead of accounts.",
})

var profileCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_profile_cache_total",
	Help: "Profile lookups by cache outcome.",
}, []string{"outcome"})

// ClientConfig carries the facade's slice of the daemon configuration.
type ClientConfig struct {
	Host       string
	Handle     string
	Password   string
	Did        string
	ServiceDID string
	DryRun     bool
	UseToken   bool

	ProfileCacheSize int
	ProfileCacheTTL  time.Duration
}

const (
	defaultProfileCacheSize = 10_000
	defaultProfileCacheTTL  = 15 * time.Minute
)

// Client is the moderation service facade. All label, tag, acknowledge,
// comment and report traffic funnels through it, with session freshness
// checked before each authenticated call.
type Client struct {
	cfg       ClientConfig
	transport *xrpc.Client
	session   *SessionManager
	logger    *slog.Logger

	profiles *lru.LRU[string, *appbsky.ActorDefs_ProfileViewDetailed]
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProfileCacheSize <= 0 {
		cfg.ProfileCacheSize = defaultProfileCacheSize
	}
	if cfg.ProfileCacheTTL <= 0 {
		cfg.ProfileCacheTTL = defaultProfileCacheTTL
	}

	transport := &xrpc.Client{
		Host:       cfg.Host,
		ServiceDID: cfg.ServiceDID,
		Logger:     logger.With("subsystem", "xrpc"),
	}
	session := NewSessionManager(transport, Credentials{
		Identifier: cfg.Handle,
		Password:   cfg.Password,
	}, logger)

	return &Client{
		cfg:       cfg,
		transport: transport,
		session:   session,
		logger:    logger.With("subsystem", "client"),
		profiles:  lru.NewLRU[string, *appbsky.ActorDefs_ProfileViewDetailed](cfg.ProfileCacheSize, nil, cfg.ProfileCacheTTL),
	}
}

// Connect establishes the moderation session. Must succeed before any
// emission goes out.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// IsReady reports whether a session has been established.
func (c *Client) IsReady() bool {
	return c.session.DID() != ""
}

// Session exposes the manager for callers that drive refresh on their own
// cadence.
func (c *Client) Session() *SessionManager {
	return c.session
}

// checkWrite gates every emission: readiness, subject shape, dry-run, and
// session freshness. Returns (proceed, err); proceed false with nil err means
// the emission was intentionally dropped or short-circuited.
func (c *Client) checkWrite(ctx context.Context, kind, repo, path string) (bool, error) {
	if !c.IsReady() {
		emissionsDroppedNotReady.Inc()
		c.logger.Warn("emission dropped, client not ready", "kind", kind, "repo", repo)
		return false, nil
	}
	if path != "" {
		contentSubjectsDropped.Inc()
		c.logger.Warn("content-level subjects not supported, dropping", "kind", kind, "repo", repo, "path", path)
		return false, nil
	}
	if c.cfg.DryRun {
		emissionsDryRun.WithLabelValues(kind).Inc()
		c.logger.Info("dry run, skipping emission", "kind", kind, "repo", repo)
		return false, nil
	}
	if err := c.session.CheckRefresh(ctx); err != nil {
		return false, fmt.Errorf("session refresh before %s: %w", kind, err)
	}
	return true, nil
}

func (c *Client) emitEvent(ctx context.Context, kind, repo string, event *toolsozone.ModerationEmitEvent_Input_Event) error {
	input := &toolsozone.ModerationEmitEvent_Input{
		CreatedBy: c.session.DID(),
		Event:     event,
		Subject: &toolsozone.ModerationEmitEvent_Input_Subject{
			AdminDefs_RepoRef: &comatproto.AdminDefs_RepoRef{
				Did: repo,
			},
		},
		SubjectBlobCids: []string{},
	}
	out, err := toolsozone.ModerationEmitEvent(ctx, c.transport, input)
	if err != nil {
		return fmt.Errorf("emitEvent %s for %s: %w", kind, repo, err)
	}
	emissionsSent.WithLabelValues(kind).Inc()
	c.logger.Info("moderation event emitted", "kind", kind, "repo", repo, "eventID", out.Id)
	return nil
}

// LabelAccount applies the given label values to an account.
func (c *Client) LabelAccount(ctx context.Context, repo, path string, labels []string, comment string) error {
	ok, err := c.checkWrite(ctx, "label", repo, path)
	if !ok {
		return err
	}
	ev := &toolsozone.ModerationDefs_ModEventLabel{
		CreateLabelVals: labels,
		NegateLabelVals: []string{},
	}
	if comment != "" {
		ev.Comment = &comment
	}
	return c.emitEvent(ctx, "label", repo, &toolsozone.ModerationEmitEvent_Input_Event{
		ModerationDefs_ModEventLabel: ev,
	})
}

// AddCommentForSubject attaches a moderation comment to an account subject.
func (c *Client) AddCommentForSubject(ctx context.Context, repo, path, comment string) error {
	ok, err := c.checkWrite(ctx, "comment", repo, path)
	if !ok {
		return err
	}
	return c.emitEvent(ctx, "comment", repo, &toolsozone.ModerationEmitEvent_Input_Event{
		ModerationDefs_ModEventComment: &toolsozone.ModerationDefs_ModEventComment{
			Comment: comment,
		},
	})
}

// AcknowledgeSubject marks open reports on an account as handled.
func (c *Client) AcknowledgeSubject(ctx context.Context, repo, path string) error {
	ok, err := c.checkWrite(ctx, "acknowledge", repo, path)
	if !ok {
		return err
	}
	return c.emitEvent(ctx, "acknowledge", repo, &toolsozone.ModerationEmitEvent_Input_Event{
		ModerationDefs_ModEventAcknowledge: &toolsozone.ModerationDefs_ModEventAcknowledge{},
	})
}

// TagReportSubject adds the given tags to an account subject.
func (c *Client) TagReportSubject(ctx context.Context, repo, path string, tags []string) error {
	ok, err := c.checkWrite(ctx, "tag", repo, path)
	if !ok {
		return err
	}
	return c.emitEvent(ctx, "tag", repo, &toolsozone.ModerationEmitEvent_Input_Event{
		ModerationDefs_ModEventTag: &toolsozone.ModerationDefs_ModEventTag{
			Add:    tags,
			Remove: []string{},
		},
	})
}

// SendReport files a report against an account with the given reason payload.
// Link-redirection reports serialize the hop chain into the reason as JSON.
func (c *Client) SendReport(ctx context.Context, repo, path, reasonType, reason string) error {
	ok, err := c.checkWrite(ctx, "report", repo, path)
	if !ok {
		return err
	}
	input := &comatproto.ModerationCreateReport_Input{
		ReasonType: &reasonType,
		Subject: &comatproto.ModerationCreateReport_Input_Subject{
			AdminDefs_RepoRef: &comatproto.AdminDefs_RepoRef{
				Did: repo,
			},
		},
	}
	if reason != "" {
		input.Reason = &reason
	}
	out, err := comatproto.ModerationCreateReport(ctx, c.transport, input)
	if err != nil {
		return fmt.Errorf("createReport for %s: %w", repo, err)
	}
	emissionsSent.WithLabelValues("report").Inc()
	c.logger.Info("report filed", "repo", repo, "reasonType", reasonType, "reportID", out.Id)
	return nil
}

// readClient returns the transport to use for read calls, honoring the
// use_token setting.
func (c *Client) readClient() *xrpc.Client {
	if c.cfg.UseToken {
		return c.transport
	}
	return c.transport.WithAuth(nil)
}

// GetProfile fetches an account profile, consulting the expirable cache first.
func (c *Client) GetProfile(ctx context.Context, actor string) (*appbsky.ActorDefs_ProfileViewDetailed, error) {
	if p, ok := c.profiles.Get(actor); ok {
		profileCacheHits.WithLabelValues("hit").Inc()
		return p, nil
	}
	profileCacheHits.WithLabelValues("miss").Inc()

	p, err := appbsky.ActorGetProfile(ctx, c.readClient(), actor)
	if err != nil {
		return nil, fmt.Errorf("getProfile %s: %w", actor, err)
	}
	c.profiles.Add(actor, p)
	return p, nil
}

// GetProfiles fetches up to GetProfilesMax profiles in one call. Cached
// entries are served locally; only misses go to the API.
func (c *Client) GetProfiles(ctx context.Context, actors []string) ([]*appbsky.ActorDefs_ProfileViewDetailed, error) {
	if len(actors) > appbsky.GetProfilesMax {
		return nil, fmt.Errorf("getProfiles limited to %d actors, got %d", appbsky.GetProfilesMax, len(actors))
	}

	var result []*appbsky.ActorDefs_ProfileViewDetailed
	var misses []string
	for _, actor := range actors {
		if p, ok := c.profiles.Get(actor); ok {
			profileCacheHits.WithLabelValues("hit").Inc()
			result = append(result, p)
		} else {
			profileCacheHits.WithLabelValues("miss").Inc()
			misses = append(misses, actor)
		}
	}
	if len(misses) == 0 {
		return result, nil
	}

	out, err := appbsky.ActorGetProfiles(ctx, c.readClient(), misses)
	if err != nil {
		return nil, fmt.Errorf("getProfiles: %w", err)
	}
	for _, p := range out.Profiles {
		c.profiles.Add(p.Did, p)
		result = append(result, p)
	}
	return result, nil
}

// CreateRecord writes a record into the session account's repository.
func (c *Client) CreateRecord(ctx context.Context, collection, rkey string, record any) (*comatproto.RepoCreateRecord_Output, error) {
	if !c.IsReady() {
		return nil, fmt.Errorf("client not ready")
	}
	if err := c.session.CheckRefresh(ctx); err != nil {
		return nil, fmt.Errorf("session refresh before createRecord: %w", err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	input := &comatproto.RepoCreateRecord_Input{
		Collection: collection,
		Repo:       c.session.DID(),
		Record:     raw,
	}
	if rkey != "" {
		input.Rkey = &rkey
	}
	return comatproto.RepoCreateRecord(ctx, c.transport, input)
}

// GetRecord fetches a single record.
func (c *Client) GetRecord(ctx context.Context, repo, collection, rkey string) (*comatproto.RepoGetRecord_Output, error) {
	return comatproto.RepoGetRecord(ctx, c.readClient(), "", collection, repo, rkey)
}

// PutRecord creates or replaces a record in the session account's repository.
func (c *Client) PutRecord(ctx context.Context, collection, rkey string, record any) (*comatproto.RepoPutRecord_Output, error) {
	if !c.IsReady() {
		return nil, fmt.Errorf("client not ready")
	}
	if err := c.session.CheckRefresh(ctx); err != nil {
		return nil, fmt.Errorf("session refresh before putRecord: %w", err)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	input := &comatproto.RepoPutRecord_Input{
		Collection: collection,
		Repo:       c.session.DID(),
		Rkey:       rkey,
		Record:     raw,
	}
	return comatproto.RepoPutRecord(ctx, c.transport, input)
}
