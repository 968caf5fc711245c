// Package dispatch delivers lead events to operator-configured webhook
// destinations and logs every attempt.
//
// Delivery is at-most-once: a failed POST is logged with its failure kind
// and never retried automatically. Replay re-sends a logged payload on
// operator request.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-engine/internal/config"
	"github.com/sells-group/lead-engine/internal/metrics"
	"github.com/sells-group/lead-engine/internal/model"
	"github.com/sells-group/lead-engine/internal/resilience"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	ListDestinations(ctx context.Context, enabledOnly bool) ([]model.Destination, error)
	GetDestination(ctx context.Context, id string) (*model.Destination, error)
	InsertDelivery(ctx context.Context, d *model.Delivery) error
	GetDelivery(ctx context.Context, id string) (*model.Delivery, error)
}

// Envelope is the body POSTed to every destination.
type Envelope struct {
	Event     model.EventType `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Lead      model.Snapshot  `json:"lead"`
	Data      map[string]any  `json:"data"`
}

// DeliveryResult is the outcome of one destination's delivery.
type DeliveryResult struct {
	DeliveryID      string        `json:"delivery_id"`
	DestinationID   string        `json:"destination_id"`
	DestinationName string        `json:"destination"`
	StatusCode      int           `json:"status_code"`
	Outcome         string        `json:"outcome"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// DeliveryError reports a destination that answered with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("dispatch: destination returned status %d", e.StatusCode)
}

// Dispatcher fans events out to webhook destinations.
type Dispatcher struct {
	store   Store
	client  *http.Client
	limiter *rate.Limiter
	cfg     config.DispatchConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Dispatcher. metrics may be nil.
func New(store Store, cfg config.DispatchConfig, m *metrics.Metrics) *Dispatcher {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 10
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = 1000
	}
	if cfg.Source == "" {
		cfg.Source = "lead-engine"
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := max(cfg.Burst, 1)

	return &Dispatcher{
		store:   store,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second},
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch delivers event for lead to every enabled destination that
// subscribes to it and serves the lead's tenant. Destinations are delivered
// concurrently; each gets exactly one delivery log row. Failures are
// reported in the results, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, event model.EventType, lead *model.Lead, data map[string]any) []DeliveryResult {
	if lead == nil || !event.Dispatchable() {
		return nil
	}
	log := zap.L().With(
		zap.String("event", string(event)),
		zap.String("tenant_id", lead.TenantID),
		zap.String("lead_id", lead.ID),
	)

	all, err := d.store.ListDestinations(ctx, true)
	if err != nil {
		log.Error("dispatch: list destinations", zap.Error(err))
		return nil
	}
	var targets []model.Destination
	for _, dest := range all {
		if dest.Enabled && dest.Subscribes(event) && dest.InScope(lead.TenantID) {
			targets = append(targets, dest)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(Envelope{
		Event:     event,
		Timestamp: d.now(),
		Source:    d.cfg.Source,
		Lead:      lead.Snapshot(),
		Data:      data,
	})
	if err != nil {
		log.Error("dispatch: marshal envelope", zap.Error(err))
		return nil
	}

	results := make([]DeliveryResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxConcurrency)
	for i := range targets {
		dest := targets[i]
		g.Go(func() error {
			results[i] = d.deliver(gctx, &dest, &model.Delivery{
				DestinationID: dest.ID,
				TenantID:      lead.TenantID,
				LeadID:        lead.ID,
				Event:         event,
				Payload:       payload,
			})
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Replay re-sends a logged delivery's payload to its destination and logs
// the attempt as a new row pointing at the original.
func (d *Dispatcher) Replay(ctx context.Context, deliveryID string) (*DeliveryResult, error) {
	orig, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: load delivery")
	}
	if orig == nil {
		return nil, model.NewNotFoundError("delivery", deliveryID)
	}
	dest, err := d.store.GetDestination(ctx, orig.DestinationID)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: load destination")
	}
	if dest == nil {
		return nil, model.NewNotFoundError("destination", orig.DestinationID)
	}

	res := d.deliver(ctx, dest, &model.Delivery{
		DestinationID: dest.ID,
		TenantID:      orig.TenantID,
		LeadID:        orig.LeadID,
		Event:         orig.Event,
		Payload:       orig.Payload,
		ReplayOf:      &orig.ID,
	})
	return &res, nil
}

// deliver POSTs row.Payload to dest, fills in the outcome and writes the
// log row.
func (d *Dispatcher) deliver(ctx context.Context, dest *model.Destination, row *model.Delivery) DeliveryResult {
	start := time.Now()
	status, body, err := d.post(ctx, dest, row.Payload)
	elapsed := time.Since(start)

	row.StatusCode = status
	row.ResponseBody = body
	row.DurationMs = elapsed.Milliseconds()
	row.Outcome = model.OutcomeSuccess
	if err != nil {
		row.Outcome = model.OutcomeError
		row.Error = err.Error()
		row.ErrorKind = classify(err)
	}

	log := zap.L().With(
		zap.String("destination", dest.Name),
		zap.String("event", string(row.Event)),
		zap.String("lead_id", row.LeadID),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
	)
	if err != nil {
		log.Warn("dispatch: delivery failed", zap.String("error_kind", row.ErrorKind), zap.Error(err))
	} else {
		log.Info("dispatch: delivered")
	}

	// The log row is written even when the caller has gone away.
	if ierr := d.store.InsertDelivery(context.WithoutCancel(ctx), row); ierr != nil {
		log.Error("dispatch: write delivery log", zap.Error(ierr))
	}
	d.metrics.Delivery(string(row.Event), row.Outcome, elapsed)

	return DeliveryResult{
		DeliveryID:      row.ID,
		DestinationID:   dest.ID,
		DestinationName: dest.Name,
		StatusCode:      status,
		Outcome:         row.Outcome,
		ErrorKind:       row.ErrorKind,
		Error:           row.Error,
		Duration:        elapsed,
	}
}

func (d *Dispatcher) post(ctx context.Context, dest *model.Destination, payload []byte) (int, string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, "", eris.Wrap(err, "dispatch: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", eris.Wrap(err, "dispatch: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", eris.Wrap(err, "dispatch: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(d.cfg.BodyLimit)))
	body := strings.ToValidUTF8(string(raw), "")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, &DeliveryError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp.StatusCode, body, nil
}

func classify(err error) string {
	var de *DeliveryError
	if errors.As(err, &de) {
		return resilience.ClassifyStatus(de.StatusCode)
	}
	return resilience.ClassifyError(err)
}
