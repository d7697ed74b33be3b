package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/session"
)

var (
	errNoRefreshToken = errors.New("no refresh token")
	// errSessionGone: the request carried a token but the session was cleared
	// before its 401 came back, by a logout or by another request's failed
	// refresh. Whoever cleared it already signalled the logout.
	errSessionGone = fmt.Errorf("%w: session cleared while the request was in flight", ErrSessionEnded)
)

// refreshAndReplay runs the refresh protocol for a request that got its first 401.
// The replay goes out exactly once and its outcome is returned as is.
func (g *Gateway) refreshAndReplay(ctx context.Context, d Descriptor, first *exchange, out any) error {
	unauthorized := &StatusError{
		Method:     first.method,
		Path:       first.path,
		StatusCode: first.status,
		Body:       first.body,
		RequestID:  first.requestID,
	}

	replay := d
	replay.retried = true

	pair, ok, err := g.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	if !ok && first.token != "" {
		return fmt.Errorf("%w: %w", errSessionGone, unauthorized)
	}

	// Another request already refreshed while this one was in flight.
	if ok && pair.Access != "" && pair.Access != first.token {
		g.metrics.ObserveRefresh(metrics.RefreshShared)
		return g.replay(ctx, replay, out)
	}

	// Flights are keyed by the refresh token so concurrent 401s share one call.
	key := ""
	if ok {
		key = pair.Refresh
	}

	ch := g.flights.DoChan(key, func() (any, error) {
		return g.refresh(context.WithoutCancel(ctx), first.token, first.requestID)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrSessionEnded) {
				return fmt.Errorf("%w: %w", res.Err, unauthorized)
			}
			return res.Err
		}
		if res.Shared {
			g.logger.DebugContext(ctx, "Joined in-flight token refresh",
				log.FieldRequestID, first.requestID)
		}
	}

	return g.replay(ctx, replay, out)
}

func (g *Gateway) replay(ctx context.Context, d Descriptor, out any) error {
	x, err := g.send(ctx, d)
	if err != nil {
		return err
	}
	return g.finish(x, out)
}

// refresh trades the refresh token for a new access token and stores it.
// Any failure of the exchange itself ends the session. failed is the access
// token the server rejected.
func (g *Gateway) refresh(ctx context.Context, failed, requestID string) (string, error) {
	pair, ok, err := g.store.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	if ok && pair.Access != "" && pair.Access != failed {
		g.metrics.ObserveRefresh(metrics.RefreshShared)
		return pair.Access, nil
	}
	if !ok && failed != "" {
		return "", errSessionGone
	}
	if !ok || pair.Refresh == "" {
		return "", g.endSession(ctx, errNoRefreshToken, requestID)
	}

	access, err := g.exchangeRefresh(ctx, pair.Refresh, requestID)
	if err != nil {
		return "", g.endSession(ctx, err, requestID)
	}

	if err := g.store.SetAccess(ctx, access); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			// Logged out while the refresh was in flight.
			g.metrics.ObserveRefresh(metrics.RefreshFailure)
			return "", fmt.Errorf("%w: %w", ErrSessionEnded, err)
		}
		return "", fmt.Errorf("store refreshed access token: %w", err)
	}

	g.metrics.ObserveRefresh(metrics.RefreshSuccess)
	g.logger.InfoContext(ctx, "Access token refreshed",
		log.FieldRequestID, requestID,
		log.FieldOperation, log.OpRefresh,
		log.FieldToken, log.Redact(access))
	return access, nil
}

// exchangeRefresh posts the refresh token directly, outside Do, so a 401
// here can never start another refresh.
func (g *Gateway) exchangeRefresh(ctx context.Context, refresh, requestID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refresh": refresh})
	if err != nil {
		return "", fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(RefreshPath, ""), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	g.setHeaders(req, requestID, true)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.ObserveRequest(http.MethodPost, 0, time.Since(start))
		return "", fmt.Errorf("%w: refresh: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	g.metrics.ObserveRequest(http.MethodPost, resp.StatusCode, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("%w: read refresh response: %w", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{
			Method:     http.MethodPost,
			Path:       RefreshPath,
			StatusCode: resp.StatusCode,
			Body:       body,
			RequestID:  requestID,
		}
	}

	var out struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if out.Access == "" {
		return "", errors.New("refresh response has no access token")
	}
	return out.Access, nil
}

// endSession clears the store and signals logout. The returned error
// carries ErrSessionEnded with cause as text only, so a refresh that
// failed on the network does not read as a transport error to callers.
func (g *Gateway) endSession(ctx context.Context, cause error, requestID string) error {
	g.metrics.ObserveRefresh(metrics.RefreshFailure)

	if err := g.store.Clear(ctx); err != nil {
		g.logger.ErrorContext(ctx, "Failed to clear session after refresh failure",
			log.FieldRequestID, requestID,
			log.FieldError, err.Error(),
			log.FieldErrorType, log.ErrorTypeStorage)
	}

	g.metrics.ObserveLogout()
	g.logger.WarnContext(ctx, "Session ended, sign in required",
		log.FieldRequestID, requestID,
		log.FieldOperation, log.OpLogout,
		log.FieldError, cause.Error(),
		log.FieldErrorType, log.ErrorTypeSession)

	err := fmt.Errorf("%w: refresh failed: %v", ErrSessionEnded, cause)
	if g.notifier != nil {
		g.notifier.SessionEnded(ctx, err)
	}
	return err
}
