// Package notify gives the downstream notification sink named in spec.md
// §1 ("contract: at-least-once delivery with retry") one concrete shape: a
// webhook POST retried with exponential backoff, driven off the in-process
// event bus. Failures are logged and swallowed — the event bus's fan-out is
// already best-effort, so a sink failure never affects ingestion.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/colinzhu/limit-monitoring-sub000/internal/eventbus"
)

// Sink delivers one recalculation event downstream, at least once.
type Sink interface {
	Notify(ctx context.Context, evt eventbus.GroupRecalculated) error
}

// WebhookSink POSTs a JSON body describing the recalculated group to a
// configured URL.
type WebhookSink struct {
	URL        string
	HTTPClient *http.Client
	MaxElapsed time.Duration
}

func NewWebhookSink(url string, timeout, maxElapsed time.Duration) *WebhookSink {
	return &WebhookSink{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		MaxElapsed: maxElapsed,
	}
}

func (w *WebhookSink) Notify(ctx context.Context, evt eventbus.GroupRecalculated) error {
	if w.URL == "" {
		return nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = w.MaxElapsed

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return errStatus(resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(errStatus(resp.StatusCode))
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

type errStatus int

func (e errStatus) Error() string {
	return "notification sink responded with unexpected status"
}

// Consume drains the bus subscription channel forever, delivering each
// event and logging failures, until ctx is cancelled.
func Consume(ctx context.Context, sink Sink, ch <-chan eventbus.GroupRecalculated, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if err := sink.Notify(ctx, evt); err != nil {
				logger.Warn("notification delivery failed",
					zap.String("correlation_id", evt.CorrelationID),
					zap.String("pts", evt.Key.PTS),
					zap.Error(err))
			}
		}
	}
}
