// Package ctgov retrieves studies and search exports from the
// ClinicalTrials.gov registry.
package ctgov

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/trialsync/internal/config"
	"github.com/sells-group/trialsync/internal/fetcher"
	"github.com/sells-group/trialsync/internal/model"
	"github.com/sells-group/trialsync/internal/parser"
	"github.com/sells-group/trialsync/internal/resilience"
)

// DefaultConcurrency bounds FetchAll when no concurrency is given.
const DefaultConcurrency = 20

// Options configures a Client.
type Options struct {
	// BaseURL is the full-study query endpoint.
	BaseURL string
	// SearchURL is the tabular search export endpoint.
	SearchURL string
	// Timeout bounds each request attempt.
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// Client talks to the registry through a Fetcher.
type Client struct {
	fetcher fetcher.Fetcher
	opts    Options
}

// NewClient creates a Client. The fetcher should not retry on its own;
// FetchStudy retries according to opts.Retry.
func NewClient(f fetcher.Fetcher, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{fetcher: f, opts: opts}
}

// NewFromConfig builds a Client and its HTTP fetcher from configuration.
func NewFromConfig(cfg config.RegistryConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.UserAgent,
		Timeout:    timeout,
		MaxRetries: 1,
	})
	return NewClient(f, Options{
		BaseURL:   cfg.BaseURL,
		SearchURL: cfg.SearchURL,
		Timeout:   timeout,
		Retry:     resilience.FromRetryConfig(cfg.MaxAttempts, cfg.InitialBackoffMs, cfg.MaxBackoffMs),
	})
}

var errEmptyResult = eris.New("no FullStudy in response")

// FetchStudy returns the first FullStudy document for nctID. Empty results
// and transient transport failures are retried; once retries are spent the
// error is a *model.RetrievalTransientError.
func (c *Client) FetchStudy(ctx context.Context, nctID string) ([]byte, error) {
	studyURL, err := c.studyURL(nctID)
	if err != nil {
		return nil, err
	}

	retry := c.opts.Retry
	retry.ShouldRetry = func(err error) bool {
		var rte *model.RetrievalTransientError
		return errors.As(err, &rte) || resilience.IsTransient(err)
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("ctgov", "fetch_study")
	}

	data, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return c.fetchOnce(ctx, nctID, studyURL)
	})
	if err != nil {
		var rte *model.RetrievalTransientError
		if errors.As(err, &rte) || (ctx.Err() == nil && resilience.IsTransient(err)) {
			if rte == nil {
				rte = &model.RetrievalTransientError{NCTID: nctID, Err: err}
			}
			return nil, rte
		}
		return nil, eris.Wrapf(err, "ctgov: fetch %s", nctID)
	}
	return data, nil
}

func (c *Client) fetchOnce(ctx context.Context, nctID, studyURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	body, err := c.fetcher.Download(ctx, studyURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	studies, errs := parser.SplitFullStudies(ctx, body)
	first, ok := <-studies
	for range studies {
	}
	if err := <-errs; err != nil && !ok {
		return nil, eris.Wrap(err, "ctgov: decode response")
	}
	if !ok {
		return nil, &model.RetrievalTransientError{NCTID: nctID, Err: errEmptyResult}
	}
	return first, nil
}

func (c *Client) studyURL(nctID string) (string, error) {
	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return "", eris.Wrap(err, "ctgov: parse base url")
	}
	q := u.Query()
	q.Set("expr", nctID)
	q.Set("max_rnk", "1")
	q.Set("fmt", "xml")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Result is the outcome of one FetchAll task.
type Result struct {
	NCTID string
	Data  []byte
	Err   error
}

// FetchAll fetches every identifier with at most concurrency requests in
// flight (DefaultConcurrency when concurrency is not positive). Results are
// in input order. A failed identifier carries its error and never stops the
// others; the returned error is non-nil only when ctx ended first.
func (c *Client) FetchAll(ctx context.Context, ids []string, concurrency int) ([]Result, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range ids {
		if ctx.Err() != nil {
			results[i] = Result{NCTID: id, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			data, err := c.FetchStudy(ctx, id)
			results[i] = Result{NCTID: id, Data: data, Err: err}
			if err != nil {
				zap.L().Warn("ctgov: fetch failed",
					zap.String("component", "ctgov"),
					zap.String("nct_id", id),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	zap.L().Info("ctgov: fetch complete",
		zap.String("component", "ctgov"),
		zap.Int("requested", len(ids)),
		zap.Int("failed", failed),
	)
	return results, ctx.Err()
}

// SearchQuery selects studies by registry last-update window.
type SearchQuery struct {
	From *time.Time
	To   *time.Time
	// Term is an optional free-text term such as an identifier.
	Term string
}

const searchDateLayout = "01/02/2006"

// SearchURL renders the tabular export URL for q.
func (c *Client) SearchURL(q SearchQuery) (string, error) {
	u, err := url.Parse(c.opts.SearchURL)
	if err != nil {
		return "", eris.Wrap(err, "ctgov: parse search url")
	}
	v := u.Query()
	v.Set("down_count", "10000")
	v.Set("down_flds", "all")
	v.Set("down_fmt", "csv")
	v["flds"] = []string{"a", "b", "y"}
	if q.From != nil {
		v.Set("lupd_s", q.From.Format(searchDateLayout))
	}
	if q.To != nil {
		v.Set("lupd_e", q.To.Format(searchDateLayout))
	}
	if q.Term != "" {
		v.Set("term", q.Term)
	}
	u.RawQuery = v.Encode()
	return u.String(), nil
}

// DownloadSearchCSV opens the tabular export for q. The caller closes it.
func (c *Client) DownloadSearchCSV(ctx context.Context, q SearchQuery) (io.ReadCloser, error) {
	searchURL, err := c.SearchURL(q)
	if err != nil {
		return nil, err
	}
	var body io.ReadCloser
	err = resilience.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		var derr error
		body, derr = c.fetcher.Download(ctx, searchURL)
		return derr
	})
	if err != nil {
		return nil, eris.Wrap(err, "ctgov: download search export")
	}
	return body, nil
}

// DownloadArchive downloads a ZIP of legacy study XML into dir and extracts
// its .xml entries, returning their paths. The archive itself is removed.
func (c *Client) DownloadArchive(ctx context.Context, archiveURL, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "ctgov: create archive dir")
	}
	zipPath := filepath.Join(dir, "studies.zip")

	n, err := c.fetcher.DownloadToFile(ctx, archiveURL, zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "ctgov: download archive")
	}
	defer os.Remove(zipPath) //nolint:errcheck

	files, err := fetcher.ExtractZIP(zipPath, dir, fetcher.HasExt(".xml"))
	if err != nil {
		return files, eris.Wrap(err, "ctgov: extract archive")
	}
	zap.L().Info("ctgov: archive extracted",
		zap.String("component", "ctgov"),
		zap.Int64("bytes", n),
		zap.Int("files", len(files)),
	)
	return files, nil
}
