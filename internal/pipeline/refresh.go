package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
)

// defaultRefreshTimeout bounds a refresh once it is detached from the
// leading request's context.
const defaultRefreshTimeout = 30 * time.Second

type refreshResult struct {
	token string
	err   error
}

// coordinator makes sure at most one token refresh is in flight. The first
// request to see a 401 leads the refresh; requests that see a 401 while it
// runs queue up and are woken in arrival order with its result.
type coordinator struct {
	source  Refresher
	tokens  TokenSource
	timeout time.Duration
	metrics *Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult
}

// renew returns a token to retry with after a request sent with sent got a
// 401.
func (c *coordinator) renew(ctx context.Context, sent string) (string, error) {
	c.mu.Lock()

	// Someone refreshed after this request went out.
	if cur := c.tokens.Token(); cur != "" && cur != sent {
		c.mu.Unlock()
		return cur, nil
	}

	if c.inFlight {
		ch := make(chan refreshResult, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		c.metrics.waiter()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			// ch is buffered, so the leader never blocks on an abandoned waiter.
			return "", ctx.Err()
		}
	}

	c.inFlight = true
	c.mu.Unlock()

	return c.lead(ctx)
}

func (c *coordinator) lead(ctx context.Context) (string, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	token, err := c.source.RefreshToken(rctx)
	cancel()

	if err == nil && token == "" {
		err = apperrors.ErrSessionExpired
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}

	switch {
	case err == nil:
		c.metrics.refresh(refreshSuccess)
		c.logger.Debug("token refreshed", slog.Int("waiters", len(waiters)))
	case errors.Is(err, apperrors.ErrSessionExpired):
		c.metrics.refresh(refreshExpired)
		c.logger.Info("token refresh rejected", slog.Int("waiters", len(waiters)))
	default:
		c.metrics.refresh(refreshFailure)
		c.logger.Warn("token refresh failed",
			slog.Int("waiters", len(waiters)),
			slog.String("error", err.Error()),
		)
	}

	if err != nil {
		return "", err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	return token, nil
}
