package export

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// PushConfig configures the HTTP push sink.
type PushConfig struct {
	URL          string
	Timeout      time.Duration
	RetryMax     int
	RatePerSec   float64 // 0 = unpaced
	GzipPayloads bool
}

// PushSink ships batches to an HTTP collector as gzip-compressed JSON.
// Retries are idempotent on the collector side via the batch ID and a
// per-attempt request ID header. The sink runs off the measured path; the
// exporter's bounded buffer absorbs its latency.
type PushSink struct {
	cfg     PushConfig
	client  *retryablehttp.Client
	limiter *rate.Limiter
	log     *logging.Logger
}

// NewPushSink creates a push sink.
func NewPushSink(cfg PushConfig, log *logging.Logger) (*PushSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("export: push URL cannot be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if log == nil {
		log = logging.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil // zap below, not retryablehttp's own logger

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}

	return &PushSink{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		log:     log,
	}, nil
}

// Ship implements Sink.
func (p *PushSink) Ship(ctx context.Context, batch *Batch) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	payload, err := sonic.Marshal(batch)
	if err != nil {
		return fmt.Errorf("export: encode batch: %w", err)
	}

	body := payload
	if p.cfg.GzipPayloads {
		if body, err = gzipBytes(payload); err != nil {
			return fmt.Errorf("export: compress batch: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.GzipPayloads {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.Header.Set("X-Batch-ID", batch.ID)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("export: push to %s: %w", p.cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("export: collector returned %s", resp.Status)
	}
	return nil
}
