// Package collector fetches every property row the external source returns for
// a free-text term and normalizes it into records.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"harvester/internal/config"
	"harvester/internal/core/failure"
	"harvester/internal/core/records"
	"harvester/internal/logger"

	"golang.org/x/time/rate"
)

// Options configures a Collector. Timeout bounds each HTTP call, RPS paces
// calls across all terms (zero disables pacing) and Attempts applies per page
// with Backoff doubling between tries.
type Options struct {
	BaseURL    string
	SearchPath string
	Year       string
	PageSize   int
	MaxPages   int
	Timeout    time.Duration
	RPS        float64
	Attempts   int
	Backoff    time.Duration
	HTTPClient *http.Client
}

func OptionsFromConfig(c config.SourceConfig) Options {
	return Options{
		BaseURL:    c.BaseURL,
		SearchPath: c.SearchPath,
		Year:       c.Year,
		PageSize:   c.PageSize,
		MaxPages:   c.MaxPages,
		Timeout:    c.Timeout,
		RPS:        c.RPS,
		Attempts:   c.Attempts,
		Backoff:    c.Backoff,
	}
}

// Result is everything collected for one term. Advertised is the total the
// source reported; Dropped counts rows without a property id.
type Result struct {
	Records    []records.Record
	Advertised int
	Pages      int
	Calls      int
	Dropped    int
	Duplicates int
}

type Collector struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

func New(opts Options) *Collector {
	if opts.PageSize <= 0 {
		opts.PageSize = 1000
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 50
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	return &Collector{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.New("Collector"),
	}
}

// Collect pages through the source until the advertised total is reached.
// A short result set is an error, never a silent partial success.
func (c *Collector) Collect(ctx context.Context, term, token string) (Result, error) {
	var res Result
	if token == "" {
		return res, failure.New(failure.CredentialAcquisition, "collect", errors.New("no token available"))
	}

	profile := pickProfile()
	seen := make(map[string]struct{})
	for page := 1; page <= c.opts.MaxPages; page++ {
		body, calls, err := c.fetchWithRetry(ctx, term, token, page, profile)
		res.Calls += calls
		if err != nil {
			return res, err
		}
		res.Pages++
		if page == 1 {
			res.Advertised = body.TotalProperty.PropertyCount
		}
		if len(body.Results) == 0 {
			break
		}
		fresh := 0
		for _, row := range body.Results {
			rec, ok := row.toRecord()
			if !ok {
				res.Dropped++
				fresh++
				continue
			}
			if _, dup := seen[rec.ExternalID]; dup {
				res.Duplicates++
				continue
			}
			seen[rec.ExternalID] = struct{}{}
			res.Records = append(res.Records, rec)
			fresh++
		}
		if len(res.Records)+res.Dropped >= res.Advertised {
			break
		}
		// A page of nothing but repeats means the source is not advancing.
		if fresh == 0 {
			break
		}
	}

	// Completeness is judged on distinct rows so repeated pages cannot pass
	// for a full result set.
	if got := len(res.Records) + res.Dropped; got < res.Advertised {
		if res.Duplicates > 0 {
			return res, failure.New(failure.MalformedResponse, "collect",
				fmt.Errorf("incomplete result set: %d distinct of %d rows after %d pages (%d repeated rows)",
					got, res.Advertised, res.Pages, res.Duplicates))
		}
		return res, failure.New(failure.MalformedResponse, "collect",
			fmt.Errorf("incomplete result set: got %d of %d rows after %d pages", got, res.Advertised, res.Pages))
	}
	c.log.Debug().Str("term", term).Int("records", len(res.Records)).Int("advertised", res.Advertised).
		Int("pages", res.Pages).Int("dropped", res.Dropped).Msg("collected")
	return res, nil
}

// fetchWithRetry applies the same retry policy to every failure class.
func (c *Collector) fetchWithRetry(ctx context.Context, term, token string, page int, profile headerProfile) (*searchResponse, int, error) {
	delay := c.opts.Backoff
	var lastErr error
	calls := 0
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, calls, failure.New(failure.UpstreamTimeout, "rate limiter", err)
		}
		calls++
		body, err := c.fetchPage(ctx, term, token, page, profile)
		if err == nil {
			return body, calls, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == c.opts.Attempts {
			break
		}
		c.log.Warn().Str("term", term).Int("page", page).Int("attempt", attempt).
			Str("kind", string(failure.KindOf(err))).Err(err).Msgf("retrying in %v", delay)
		if err := sleep(ctx, delay); err != nil {
			break
		}
		delay *= 2
	}
	return nil, calls, lastErr
}

func (c *Collector) fetchPage(ctx context.Context, term, token string, page int, profile headerProfile) (*searchResponse, error) {
	op := fmt.Sprintf("search page %d", page)

	payload, err := json.Marshal(searchRequest{
		PYear:          condition{Operator: "=", Value: c.opts.Year},
		FullTextSearch: condition{Operator: "match", Value: term},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(c.opts.PageSize))
	reqURL := c.opts.BaseURL + c.opts.SearchPath + "?" + params.Encode()

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", token)
	profile.apply(req, c.opts.BaseURL)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, failure.New(failure.UpstreamTimeout, op, err)
		}
		return nil, failure.New(failure.UpstreamError, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, failure.New(failure.UpstreamTimeout, op, err)
		}
		return nil, failure.New(failure.MalformedResponse, op, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, failure.New(failure.AuthorizationExpired, op, fmt.Errorf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return nil, failure.New(failure.UpstreamTimeout, op, fmt.Errorf("upstream returned %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, failure.New(failure.UpstreamError, op, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, snippet(body)))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, failure.New(failure.MalformedResponse, op, fmt.Errorf("decode %d bytes: %w", len(body), err))
	}
	if out.TotalProperty == nil {
		return nil, failure.New(failure.MalformedResponse, op, errors.New("response has no totalProperty"))
	}
	return &out, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
