package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	route := labels("handler", handler, "method", method)
	defaultRegistry.inc("contentflow_http_requests_total", "Total number of HTTP requests processed.",
		append(route, label{"code", strconv.Itoa(status)}))
	if status >= http.StatusInternalServerError {
		defaultRegistry.inc("contentflow_http_request_errors_total", "Total number of HTTP requests that resulted in a server error.", route)
	}
	defaultRegistry.observe("contentflow_http_request_duration_seconds", "HTTP request duration in seconds.", route, duration.Seconds())
}

// ObserveRequest counts a finished request.
func ObserveRequest(mode, outcome string) {
	defaultRegistry.inc("contentflow_requests_total", "Orchestrated requests by execution mode and outcome.",
		labels("mode", mode, "outcome", outcome))
}

// ObserveStep counts a resolved plan step.
func ObserveStep(status string) {
	defaultRegistry.inc("contentflow_steps_total", "Plan steps resolved by status.", labels("status", status))
}

// ObserveAction counts an action log record by persistence outcome.
func ObserveAction(outcome string) {
	defaultRegistry.inc("contentflow_actions_total", "Tool actions handled by the action log processor.", labels("outcome", outcome))
}

// ObservePhase records how long an orchestration phase took.
func ObservePhase(phase string, duration time.Duration) {
	defaultRegistry.observe("contentflow_phase_duration_seconds", "Orchestration phase duration in seconds.",
		labels("phase", phase), duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultRegistry.render())
	})
}

// StartServer serves /metrics on its own listener until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
