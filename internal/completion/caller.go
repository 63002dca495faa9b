package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

// CallerConfig tunes the Caller.
type CallerConfig struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	Retry      resilience.RetryConfig
	Breaker    resilience.CircuitBreakerConfig
}

// Caller is the one call site for completions. It applies, in order: the
// rate limiter, the circuit breaker, a per-call timeout and retries on
// transient errors. Invalid output gets one local repair and then one
// repair round-trip.
type Caller struct {
	completer Completer
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
	timeout   time.Duration
	calc      *cost.Calculator
}

// NewCaller wraps a Completer.
func NewCaller(c Completer, cfg CallerConfig, calc *cost.Calculator) *Caller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger(c.Provider(), "complete")
	}
	if cfg.Breaker.OnStateChange == nil {
		provider := c.Provider()
		cfg.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("completion: circuit breaker state change",
				zap.String("provider", provider),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}
	if calc == nil {
		calc = cost.NewCalculator(cost.Rates{})
	}
	return &Caller{
		completer: c,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		breaker:   resilience.NewCircuitBreaker(cfg.Breaker),
		retry:     cfg.Retry,
		timeout:   cfg.Timeout,
		calc:      calc,
	}
}

// Provider reports the backing provider.
func (c *Caller) Provider() string { return c.completer.Provider() }

// Call runs a completion and returns its JSON value. Usage of every attempt,
// including failed ones, is recorded on tr under req.Phase.
func (c *Caller) Call(ctx context.Context, tr *cost.Tracker, req Request) (json.RawMessage, error) {
	raw, err := c.attempt(ctx, tr, req)
	if err == nil {
		if err = validate(req, raw); err == nil {
			return raw, nil
		}
	}

	var inv *resilience.InvalidOutputError
	if !errors.As(err, &inv) {
		return nil, err
	}
	if fixed, ok := RepairJSON(inv.Raw); ok && validate(req, fixed) == nil {
		zap.L().Debug("completion: repaired output locally", zap.String("phase", req.Phase))
		return fixed, nil
	}

	zap.L().Warn("completion: invalid output, requesting repair",
		zap.String("phase", req.Phase),
		zap.Error(err),
	)
	repair := req
	repair.Prompt = repairPrompt(req, inv)
	raw, err = c.attempt(ctx, tr, repair)
	if err == nil {
		err = validate(req, raw)
	}
	if err != nil {
		return nil, eris.Wrap(err, "completion: repair attempt")
	}
	return raw, nil
}

// validate runs req.Validate, reporting failures as invalid output.
func validate(req Request, raw json.RawMessage) error {
	if req.Validate == nil {
		return nil
	}
	err := req.Validate(raw)
	if err == nil || resilience.IsInvalidOutput(err) {
		return err
	}
	return resilience.NewInvalidOutputError(err, string(raw))
}

// Decode runs Call and unmarshals into out.
func (c *Caller) Decode(ctx context.Context, tr *cost.Tracker, req Request, out any) error {
	raw, err := c.Call(ctx, tr, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resilience.NewInvalidOutputError(eris.Wrap(err, "completion: decode"), string(raw))
	}
	return nil
}

func (c *Caller) attempt(ctx context.Context, tr *cost.Tracker, req Request) (json.RawMessage, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (json.RawMessage, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "completion: rate limiter wait")
		}
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (json.RawMessage, error) {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			resp, err := c.completer.Complete(cctx, req)
			if resp != nil {
				u := resp.Usage
				u.Cost = c.calc.Cost(c.completer.Provider(), resp.Model, u)
				tr.Add(req.Phase, u)
				cost.LogCost(u, c.completer.Provider(), resp.Model, req.Phase)
			}
			if err != nil {
				return nil, err
			}
			return resp.Raw, nil
		})
	})
}

func repairPrompt(req Request, inv *resilience.InvalidOutputError) string {
	prev := inv.Raw
	if len(prev) > 4000 {
		prev = prev[:4000]
	}
	return fmt.Sprintf(
		"%s\n\nYour previous answer could not be parsed (%v). Previous answer:\n%s\n\nReturn only valid JSON. Keep the response short enough to finish.",
		req.Prompt, inv.Err, prev,
	)
}
