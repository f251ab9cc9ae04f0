// Package coupler defines the contract with the external vegetation model
// process and wraps every exchange with a deadline. A failed or timed out
// exchange is fatal for the run and is never retried.
package coupler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/copan-lpjml/internal/dataset"
	"github.com/talgya/copan-lpjml/internal/metrics"
	"github.com/talgya/copan-lpjml/internal/world"
)

// Operation names used in errors, logs and metrics.
const (
	OpReadInput          = "read_input"
	OpReadHistoricOutput = "read_historic_output"
	OpSendInput          = "send_input"
	OpReadOutput         = "read_output"
	OpClose              = "close"
)

// DefaultTimeout bounds a single exchange when none is configured.
const DefaultTimeout = 30 * time.Second

// ErrClosed is returned by exchanges after Close.
var ErrClosed = errors.New("coupler closed")

// Coupler is the external process exchanging yearly inputs and outputs.
type Coupler interface {
	Grid() *world.Grid
	NeighbourMatrix() ([][]int, error)
	FirstYear() int
	LastYear() int

	ReadInput(ctx context.Context) (*dataset.Dataset, error)
	ReadHistoricOutput(ctx context.Context) (*dataset.Dataset, error)
	SendInput(ctx context.Context, ds *dataset.Dataset, year int) error
	ReadOutput(ctx context.Context, year int) (*dataset.Dataset, error)
	Close() error
}

// ExternalSyncError reports a failed exchange with the external process.
type ExternalSyncError struct {
	Op   string
	Year int // 0 when the exchange is not tied to a year
	Err  error
}

func (e *ExternalSyncError) Error() string {
	if e.Year != 0 {
		return fmt.Sprintf("coupler: %s year %d: %v", e.Op, e.Year, e.Err)
	}
	return fmt.Sprintf("coupler: %s: %v", e.Op, e.Err)
}

func (e *ExternalSyncError) Unwrap() error { return e.Err }

// Client runs exchanges against a Coupler under a per-call timeout.
type Client struct {
	Coupler
	timeout time.Duration
}

// NewClient wraps c. A non-positive timeout uses DefaultTimeout.
func NewClient(c Coupler, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Coupler: c, timeout: timeout}
}

// Timeout returns the per-exchange deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// ReadInput reads the initial input data.
func (c *Client) ReadInput(ctx context.Context) (*dataset.Dataset, error) {
	return exchange(ctx, c.timeout, OpReadInput, 0, c.Coupler.ReadInput)
}

// ReadHistoricOutput reads the outputs of the spin-up period.
func (c *Client) ReadHistoricOutput(ctx context.Context) (*dataset.Dataset, error) {
	return exchange(ctx, c.timeout, OpReadHistoricOutput, 0, c.Coupler.ReadHistoricOutput)
}

// SendInput sends the input data for year.
func (c *Client) SendInput(ctx context.Context, ds *dataset.Dataset, year int) error {
	_, err := exchange(ctx, c.timeout, OpSendInput, year, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Coupler.SendInput(ctx, ds, year)
	})
	return err
}

// ReadOutput reads the output data of year.
func (c *Client) ReadOutput(ctx context.Context, year int) (*dataset.Dataset, error) {
	return exchange(ctx, c.timeout, OpReadOutput, year, func(ctx context.Context) (*dataset.Dataset, error) {
		return c.Coupler.ReadOutput(ctx, year)
	})
}

// Close closes the connection to the external process.
func (c *Client) Close() error {
	if err := c.Coupler.Close(); err != nil {
		metrics.ExchangeFailTotal.WithLabelValues(OpClose).Inc()
		return &ExternalSyncError{Op: OpClose, Err: err}
	}
	return nil
}

type result[T any] struct {
	val T
	err error
}

// exchange calls fn under a deadline. fn runs in its own goroutine; the
// caller returns at the deadline even if fn ignores ctx.
func exchange[T any](ctx context.Context, timeout time.Duration, op string, year int,
	fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	var zero T
	var err error
	select {
	case r := <-done:
		if r.err == nil {
			metrics.ExchangeDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
			slog.Debug("coupler exchange", "op", op, "year", year, "elapsed", time.Since(start))
			return r.val, nil
		}
		err = r.err
	case <-ctx.Done():
		// The call is abandoned, not cancelled; fn may still run until it returns.
		err = ctx.Err()
	}

	metrics.ExchangeFailTotal.WithLabelValues(op).Inc()
	slog.Error("coupler exchange failed", "op", op, "year", year, "error", err)
	return zero, &ExternalSyncError{Op: op, Year: year, Err: err}
}
