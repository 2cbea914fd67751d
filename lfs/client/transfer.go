// Package client implements the LFS HTTP client (C4): batch negotiation,
// ranged transfers, retry classification, and local/shared promotion.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/scmforge/scmcore/internal/config"
	"github.com/scmforge/scmcore/internal/errs"
	"github.com/scmforge/scmcore/internal/metrics"
	"github.com/scmforge/scmcore/lfs/inserter"
)

// Client is the LFS HTTP client: one per repository session, shared across
// concurrent object transfers.
type Client struct {
	cfg     config.LFS
	rhc     *retryablehttp.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	meters  *metrics.Meters
	bufPool *BufferPool
	policy  *RetryPolicy
}

// New builds a Client from the §6 lfs.* configuration.
func New(cfg config.LFS, m *metrics.Meters) *Client {
	policy := NewRetryPolicy(cfg.BackoffTimes, cfg.ThrottleBackoffTimes, m)

	rhc := retryablehttp.NewClient()
	rhc.Logger = nil
	rhc.CheckRetry = policy.CheckRetry
	rhc.Backoff = policy.Backoff
	rhc.RetryMax = ladderLen(policy.ErrorLadder, policy.ThrottledLadder)
	if cfg.RequestTimeoutMS > 0 {
		rhc.HTTPClient.Timeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	concurrency := cfg.ConcurrentFetches
	if concurrency <= 0 {
		concurrency = 30
	}
	chunkSize := int(cfg.DownloadChunkSize)
	if chunkSize <= 0 {
		chunkSize = 5 << 20
	}

	return &Client{
		cfg:     cfg,
		rhc:     rhc,
		limiter: limiter,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		meters:  m,
		bufPool: NewBufferPool(chunkSize),
		policy:  policy,
	}
}

func (c *Client) httpClient() *http.Client { return c.rhc.StandardClient() }

// Batch negotiates download or upload actions for a set of objects.
func (c *Client) Batch(ctx context.Context, op Operation, objects []Object) ([]BatchObjectResp, error) {
	return Batch(ctx, c.httpClient(), c.cfg.URL, op, objects)
}

// wait applies the optional per-session rate limit before issuing a request:
// a request that would exceed the rate fails with errs.RateLimited.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if !c.limiter.Allow() {
		if c.meters != nil {
			c.meters.RequestsRateLimited.Inc()
		}
		return &errs.RateLimited{}
	}
	return nil
}

// Download fetches a single object by sha256/size into sink via a fresh
// inserter, using the ranged-GET action the server returned for it. If the
// server signals the object is gone (410), the caller's inserter is
// redacted rather than erroring.
func (c *Client) Download(ctx context.Context, action BatchAction, obj Object, sink inserter.Sink) error {
	ins := inserter.New(sink, obj.Sha256, uint64(obj.Size))

	if obj.Size == 0 {
		return ins.Finish()
	}

	chunkSize := int64(c.bufPool.chunkSize)
	for start := int64(0); start < obj.Size; start += chunkSize {
		end := start + chunkSize - 1
		if end >= obj.Size {
			end = obj.Size - 1
		}
		data, redacted, err := c.getRange(ctx, action, start, end)
		if err != nil {
			return err
		}
		if redacted {
			if err := ins.Redact(); err != nil {
				return err
			}
			return ins.Finish()
		}
		if err := ins.AddChunk(data); err != nil {
			return err
		}
	}
	if err := ins.Finish(); err != nil {
		return err
	}
	if c.meters != nil {
		c.meters.ObjectsDownloaded.Inc()
		c.meters.BytesDownloaded.Add(float64(obj.Size))
	}
	return nil
}

// getRange issues one ranged GET, returning the (possibly zstd-decoded)
// bytes, or redacted=true on a 410 Gone response.
func (c *Client) getRange(ctx context.Context, action BatchAction, start, end int64) (data []byte, redacted bool, err error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	defer c.sem.Release(1)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, action.Href, nil)
	if err != nil {
		return nil, false, err
	}
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	if c.cfg.AcceptZstd {
		req.Header.Set("Accept-Encoding", "zstd")
	}

	resp, err := c.rhc.Do(req)
	if err != nil {
		return nil, false, classifyAndWrap(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusGone:
		return nil, true, nil
	case http.StatusOK, http.StatusPartialContent:
	default:
		return nil, false, httpStatusErr(resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}
	if resp.Header.Get("Content-Encoding") == "zstd" {
		body, err = decodeZstd(body)
		if err != nil {
			return nil, false, err
		}
	}
	return body, false, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.Transport{Category: errs.CategoryEndOfStream, Inner: err}
	}
	return data, nil
}

func decodeZstd(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(b, nil)
}

// DownloadMany fetches a batch of objects concurrently (bounded by the
// client's configured concurrency), returning the first error encountered.
// mkSink builds the per-object sink lazily so callers can route to
// Log/File/Memory sinks as appropriate.
func (c *Client) DownloadMany(ctx context.Context, actions map[string]BatchAction, objects []Object, mkSink func(Object) (inserter.Sink, error)) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, obj := range objects {
		obj := obj
		action, ok := actions[obj.Sha256.Hex()]
		if !ok {
			return fmt.Errorf("lfs client: no download action for %s", obj.Sha256.Hex())
		}
		g.Go(func() error {
			sink, err := mkSink(obj)
			if err != nil {
				return err
			}
			return c.Download(gctx, action, obj, sink)
		})
	}
	return g.Wait()
}

// Upload sends an object's content, read from content, to the server's
// assigned upload href.
func (c *Client) Upload(ctx context.Context, action BatchAction, obj Object, content io.Reader) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, action.Href, content)
	if err != nil {
		return err
	}
	req.ContentLength = obj.Size
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}

	resp, err := c.rhc.Do(req)
	if err != nil {
		return classifyAndWrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return httpStatusErr(resp.StatusCode)
	}
	if c.meters != nil {
		c.meters.ObjectsUploaded.Inc()
		c.meters.BytesUploaded.Add(float64(obj.Size))
	}
	return nil
}

// Verify calls the server's optional "verify" action after a successful
// upload, per the Git-LFS basic transfer adapter.
func (c *Client) Verify(ctx context.Context, action BatchAction, obj Object) error {
	body, err := json.Marshal(struct {
		Oid  string `json:"oid"`
		Size int64  `json:"size"`
	}{obj.Sha256.Hex(), obj.Size})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, action.Href, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	for k, v := range action.Header {
		req.Header.Set(k, v)
	}
	resp, err := c.rhc.Do(req)
	if err != nil {
		return classifyAndWrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return httpStatusErr(resp.StatusCode)
	}
	return nil
}
