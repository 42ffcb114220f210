package embed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/pef-moderation/firehose-automod/automod/countstore"
	"github.com/pef-moderation/firehose-automod/automod/matcher"
	"github.com/pef-moderation/firehose-automod/automod/router"
	"github.com/pef-moderation/firehose-automod/util/ssrf"
)

const maxProbeRetries = 5

// RedirectedLabel names the candidate position for URLs observed mid-chain.
const RedirectedLabel = "redirected_url"

var errRedirectLimit = errors.New("redirect hop limit exceeded")

var redirectOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_redirect_outcomes_total",
	Help: "Redirect chains by terminal outcome.",
}, []string{"outcome"})

var redirectHops = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "automod_redirect_hops",
	Help:    "Observed hops per redirect chain.",
	Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
})

// RedirectFollower probes external URLs, walking their redirect chains hop by
// hop. Chains touch many distinct hosts once, so the connection pool keeps at
// most one idle connection per endpoint with a short TTL.
type RedirectFollower struct {
	checker  *Checker
	hopLimit int
	limiter  *rate.Limiter
	client   *http.Client
	logger   *slog.Logger
}

func NewRedirectFollower(checker *Checker, hopLimit int, probesPerSecond float64, logger *slog.Logger) *RedirectFollower {
	if logger == nil {
		logger = slog.Default()
	}
	if hopLimit <= 0 {
		hopLimit = 5
	}
	var limiter *rate.Limiter
	if probesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(probesPerSecond), 1)
	}
	// probes chase attacker-controlled URLs; never let them dial into
	// private address space
	transport := &http.Transport{
		DialContext:         ssrf.PublicOnlyDialer().DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     5 * time.Second,
	}
	return &RedirectFollower{
		checker:  checker,
		hopLimit: hopLimit,
		limiter:  limiter,
		client: &http.Client{
			Transport: transport,
			Timeout:   20 * time.Second,
		},
		logger: logger.With("subsystem", "redirect"),
	}
}

// Follow probes rootURL and walks its redirect chain. Each hop is admitted
// through the same counter and whitelist checks as a fresh URI; matches along
// the chain are routed as decisions, and exceeding the hop limit files one
// account-level report carrying the whole chain.
func (f *RedirectFollower) Follow(ctx context.Context, repo, path, rootURL string) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return
		}
	}

	var chain []string
	checkRedirect := func(req *http.Request, via []*http.Request) error {
		next := req.URL.String()
		chain = append(chain, next)
		if len(via) > f.hopLimit {
			return errRedirectLimit
		}

		admitted, normalized := f.checker.ShouldProcessURI(next)
		if !admitted {
			return http.ErrUseLastResponse
		}
		_, inserted := f.checker.counts.InsertOrIncrement(countstore.CategoryLink, normalized)
		if !inserted {
			return http.ErrUseLastResponse
		}

		matches := f.checker.matcher.AllMatchesForCandidates([]matcher.Candidate{
			{Root: rootURL, Label: RedirectedLabel, Value: next},
		})
		if len(matches) > 0 {
			f.checker.router.EnqueueMatch(router.MatchDecision{
				Repo:    repo,
				Path:    path,
				Matches: matches,
			})
		}
		return nil
	}

	client := &http.Client{
		Transport:     f.client.Transport,
		Timeout:       f.client.Timeout,
		CheckRedirect: checkRedirect,
	}

	resp, err := f.probe(ctx, client, rootURL)
	redirectHops.Observe(float64(len(chain)))

	switch {
	case err == nil:
		redirectOutcomes.WithLabelValues("redirect_ok").Inc()
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	case errors.Is(err, errRedirectLimit):
		redirectOutcomes.WithLabelValues("redirect_limit_exceeded").Inc()
		f.logger.Warn("redirect limit exceeded",
			"root", rootURL,
			"hops", len(chain),
			"repo", repo)
		f.checker.router.EnqueueReport(router.AccountReport{
			Repo:   repo,
			Reason: router.ChainReport{Root: rootURL, Chain: chain}.Reason(),
		})
	default:
		redirectOutcomes.WithLabelValues("redirect_error").Inc()
		f.logger.Info("redirect probe failed", "root", rootURL, "err", err)
	}
}

func (f *RedirectFollower) probe(ctx context.Context, client *http.Client, rootURL string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxProbeRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", rootURL, nil)
		if err != nil {
			return nil, err
		}
		maskAsBrowser(req)

		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		if !isTransientEOF(err) {
			return nil, err
		}
		f.logger.Debug("transient probe failure, retry", "url", rootURL, "attempt", attempt+1, "err", err)
		lastErr = err
	}
	return nil, lastErr
}

// maskAsBrowser makes the probe look like an ordinary desktop browser visit.
// Link shorteners serve bot user agents differently.
func maskAsBrowser(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	req.Header.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func isTransientEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET)
}
