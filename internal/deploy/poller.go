// Package deploy triggers bot deployments and waits for them to settle.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// DefaultInterval is the pause between two status reads.
const DefaultInterval = 500 * time.Millisecond

var errInProgress = errors.New("deployment in progress")

// Poller deploys bots and polls their deployment status.
//
// Without a timeout the poll loop only ends on a terminal status or when
// the context is cancelled: a deployment that never leaves IN_PROGRESS
// blocks forever.
type Poller struct {
	client     *client.Client
	logger     *slog.Logger
	interval   time.Duration
	timeout    time.Duration
	autoDeploy bool
	newTimer   func() backoff.Timer
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the pause between status reads.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout bounds Wait. Zero means unbounded.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) { p.timeout = d }
}

// WithAutoDeploy controls the autoDeploy flag of deploy requests.
// Disabling it appends autoDeploy=false.
func WithAutoDeploy(enabled bool) Option {
	return func(p *Poller) { p.autoDeploy = enabled }
}

// WithTimer supplies the timer used between polls. Tests pass a timer
// that fires immediately to run the loop in simulated time.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(p *Poller) { p.newTimer = newTimer }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPoller returns a Poller using c.
func NewPoller(c *client.Client, opts ...Option) *Poller {
	p := &Poller{
		client:     c,
		logger:     c.Logger(),
		interval:   DefaultInterval,
		autoDeploy: true,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deploy triggers the deployment of id and waits until it is READY.
func (p *Poller) Deploy(ctx context.Context, id resource.ID) error {
	if err := p.Trigger(ctx, id); err != nil {
		return err
	}
	_, err := p.Wait(ctx, id)
	return err
}

// Trigger requests the deployment of id once.
func (p *Poller) Trigger(ctx context.Context, id resource.ID) error {
	path := fmt.Sprintf("/administration/%s/deploy/%s?version=%d", p.client.Environment(), id.ID, id.Version)
	if !p.autoDeploy {
		path += "&autoDeploy=false"
	}
	resp, err := p.client.Do(ctx, client.Request{Method: http.MethodPost, Path: path})
	if err != nil {
		return fmt.Errorf("deploy bot %s: %w", id.ID, err)
	}
	if resp.Status < 200 || resp.Status > 299 {
		return resource.Violation("deploy", resp, "2xx status")
	}
	p.logger.Info("deployment triggered", "bot", id.ID, "version", id.Version)
	return nil
}

// Status reads the current deployment status of id.
func (p *Poller) Status(ctx context.Context, id resource.ID) (Status, error) {
	path := fmt.Sprintf("/administration/%s/deploymentstatus/%s?version=%d", p.client.Environment(), id.ID, id.Version)
	resp, err := p.client.GetText(ctx, path)
	if err != nil {
		return "", fmt.Errorf("deployment status of bot %s: %w", id.ID, err)
	}
	if resp.Status != http.StatusOK {
		return "", resource.Violation("deployment status", resp, "status 200")
	}
	status, err := ParseStatus(resp.Text())
	if err != nil {
		return "", resource.Violation("deployment status", resp, "IN_PROGRESS, READY or ERROR")
	}
	return status, nil
}

// Wait polls the status of id until it is terminal. READY returns nil,
// ERROR returns a *FailedError, and an expired timeout a *TimeoutError.
// A status read never happens after a terminal status was observed.
func (p *Poller) Wait(ctx context.Context, id resource.ID) (Status, error) {
	pollCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var last Status
	polls := 0
	op := func() error {
		status, err := p.Status(pollCtx, id)
		if err != nil {
			if pollCtx.Err() != nil {
				return err
			}
			return backoff.Permanent(err)
		}
		polls++
		last = status
		switch status {
		case StatusReady:
			return nil
		case StatusError:
			return backoff.Permanent(&FailedError{ID: id})
		case StatusInProgress:
			return errInProgress
		default:
			return backoff.Permanent(fmt.Errorf("bot %s version %d: deployment %s", id.ID, id.Version, status))
		}
	}
	notify := func(_ error, next time.Duration) {
		p.logger.Debug("deployment in progress", "bot", id.ID, "version", id.Version, "next_poll", next)
	}

	var timer backoff.Timer
	if p.newTimer != nil {
		timer = p.newTimer()
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(p.interval), pollCtx)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, timer); err != nil {
		if p.timeout > 0 && ctx.Err() == nil && errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
			return last, &TimeoutError{ID: id, Last: last, After: p.timeout}
		}
		if IsFailed(err) {
			p.logger.Warn("deployment failed", "bot", id.ID, "version", id.Version, "polls", polls)
		}
		return last, err
	}
	p.logger.Info("deployment ready", "bot", id.ID, "version", id.Version, "polls", polls)
	return StatusReady, nil
}

// DeployAll deploys every id concurrently. The first failure cancels the
// remaining deployments and is returned.
func (p *Poller) DeployAll(ctx context.Context, ids ...resource.ID) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			return p.Deploy(gctx, id)
		})
	}
	return g.Wait()
}
