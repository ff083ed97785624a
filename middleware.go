package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/metalab/rendezvous/internal/rvmetrics"
	"github.com/metalab/rendezvous/internal/util/stringutil"
)

//
// CanonicalLogLineMiddleware
//

type CanonicalLogLineMiddleware struct {
	// A channel over which log data is sent as it's generated, if the channel
	// is set. This is intended for testing purposes so that we can verify log
	// data being generated.
	logDataChan chan map[string]any

	logger *logrus.Logger
}

func (m *CanonicalLogLineMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		requestStart := time.Now()

		next.ServeHTTP(w, r)

		duration := PrettyDuration(time.Since(requestStart))

		routeStr := routeTemplate(r)
		routeOrPath := routeStr
		if routeOrPath == "" {
			routeOrPath = r.URL.Path
		}

		logData := map[string]any{
			"content_type": r.Header.Get("Content-Type"),
			"duration":     duration,
			"http_method":  r.Method,
			"http_path":    r.URL.Path,
			"http_route":   routeStr,
			"ip":           m.getIP(r).String(),
			"query_string": stringutil.SampleLong(r.URL.RawQuery),
			"request_id":   ctxContainer.RequestID,
			"status":       ctxContainer.StatusCode,
			"user_agent":   r.UserAgent(),
		}

		if m.logDataChan != nil {
			m.logDataChan <- logData
		}

		m.logger.WithFields(logrus.Fields(logData)).
			Infof("canonical_log_line %s %s -> %v (%s)", r.Method, routeOrPath, ctxContainer.StatusCode, duration)
	})
}

func (m *CanonicalLogLineMiddleware) getIP(r *http.Request) net.IP {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		// `X-Forwarded-For` may contain a number of IP addresses, with the
		// original client in the leftmost position, and each intermediary proxy
		// following. In these cases, just include the original IP so that we
		// can aggregate on it from logging.
		ips := strings.Split(forwardedFor, ",")
		return net.ParseIP(strings.TrimSpace(ips[0]))
	}

	ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return nil
	}

	return net.ParseIP(ipStr)
}

// PrettyDuration exists for the simple purpose of making a duration more useful
// when it's emitted to a JSON log or as a string.
//
// A duration will normally produce a string like "42.334µs" which is somewhat
// useful for humans, but not friendly for machine ingestion or aggregation.
// This standardizes the way we spit out durations in the log line to give us a
// normal seconds fraction like "0.000042" instead.
type PrettyDuration time.Duration

func (d PrettyDuration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d PrettyDuration) String() string {
	return fmt.Sprintf(`%05fs`, time.Duration(d).Seconds())
}

//
// ContextContainerMiddleware
//

// Internal type so that we can produce a guaranteed unique global context
// value.
type contextContainerContextKey struct{}

// ContextContainer is a type embedded to context that facilitates access to
// various values.
type ContextContainer struct {
	RequestID  string
	StatusCode int
}

func ContextContainerFrom(ctx context.Context) *ContextContainer {
	return ctx.Value(contextContainerContextKey{}).(*ContextContainer)
}

// ContextContainerMiddleware embeds a context early in the request stack, which
// can be used to set various values along a request's lifecycle that can then
// be introspected by entities including other middleware.
type ContextContainerMiddleware struct{}

func (m *ContextContainerMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, contextContainerContextKey{}, &ContextContainer{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

//
// InspectableWriterMiddleware
//

// InspectableWriter wraps a response writer so that the status code sent back
// can be read after the fact.
type InspectableWriter struct {
	http.ResponseWriter

	StatusCode int

	wroteHeader bool
}

// Hijack passes through to the underlying writer so that connections can still
// be upgraded to WebSockets.
func (w *InspectableWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, xerrors.New("underlying response writer doesn't support hijacking")
	}

	w.StatusCode = http.StatusSwitchingProtocols
	w.wroteHeader = true

	return hijacker.Hijack()
}

func (w *InspectableWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *InspectableWriter) Write(data []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func (w *InspectableWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.StatusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// InspectableWriterMiddleware records the final status of every response into
// the request's context container.
type InspectableWriterMiddleware struct{}

func NewInspectableWriterMiddleware() *InspectableWriterMiddleware {
	return &InspectableWriterMiddleware{}
}

func (m *InspectableWriterMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inspectableWriter := &InspectableWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(inspectableWriter, r)

		ContextContainerFrom(r.Context()).StatusCode = inspectableWriter.StatusCode
	})
}

//
// MetricsMiddleware
//

type MetricsMiddleware struct{}

func (m *MetricsMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		requestStart := time.Now()

		next.ServeHTTP(w, r)

		route := routeTemplate(r)
		if route == "" {
			route = "unknown"
		}

		rvmetrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ctxContainer.StatusCode)).Inc()
		rvmetrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(requestStart).Seconds())
	})
}

//
// RequestIDMiddleware
//

const requestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns every request a random ID, stores it in the
// context container for logging, and echoes it back in a response header.
type RequestIDMiddleware struct{}

func (m *RequestIDMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()

		ContextContainerFrom(r.Context()).RequestID = requestID
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r)
	})
}

//
// TimeoutMiddleware
//

// TimeoutMiddleware bounds how long a handler may run. The handler writes into
// a buffer, and if it doesn't finish in time, the buffer is discarded and a 504
// goes back to the client instead.
//
// Buffering means streaming responses and hijacked connections won't work
// behind this middleware, so it shouldn't be applied to the kiosk feed.
type TimeoutMiddleware struct {
	timeout time.Duration
}

func NewTimeoutMiddleware(timeout time.Duration) *TimeoutMiddleware {
	return &TimeoutMiddleware{timeout: timeout}
}

func (m *TimeoutMiddleware) Wrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestStart := time.Now()

		if r.Context().Err() != nil {
			m.writeTimeout(r.Context(), w, requestStart)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), m.timeout)
		defer cancel()

		var (
			bufWriter = &timeoutWriter{header: make(http.Header)}
			done      = make(chan struct{})
			panicChan = make(chan any, 1)
		)

		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicChan <- p
				}
			}()

			next.ServeHTTP(bufWriter, r.WithContext(ctx))
			close(done)
		}()

		select {
		case p := <-panicChan:
			panic(p)

		case <-done:
			// A handler that returned because its context was cancelled timed
			// out just the same.
			if ctx.Err() != nil {
				m.writeTimeout(ctx, w, requestStart)
				return
			}

			bufWriter.flushTo(w)

		case <-ctx.Done():
			bufWriter.abandon()
			m.writeTimeout(ctx, w, requestStart)
		}
	})
}

func (m *TimeoutMiddleware) writeTimeout(ctx context.Context, w http.ResponseWriter, requestStart time.Time) {
	err := &RequestTimeoutError{
		canceled: errors.Is(ctx.Err(), context.Canceled),
		elapsed:  PrettyDuration(time.Since(requestStart)),
		maximum:  PrettyDuration(m.timeout),
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = w.Write([]byte(err.Error()))
}

// Buffers a response. Once abandoned, further writes are dropped.
type timeoutWriter struct {
	mu         sync.Mutex
	abandoned  bool
	body       bytes.Buffer
	header     http.Header
	statusCode int
}

func (w *timeoutWriter) Header() http.Header {
	return w.header
}

func (w *timeoutWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.abandoned {
		return 0, http.ErrHandlerTimeout
	}
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.body.Write(data)
}

func (w *timeoutWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.abandoned || w.statusCode != 0 {
		return
	}
	w.statusCode = statusCode
}

func (w *timeoutWriter) abandon() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.abandoned = true
}

func (w *timeoutWriter) flushTo(dst http.ResponseWriter) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for k, vs := range w.header {
		dst.Header()[k] = vs
	}

	statusCode := w.statusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	dst.WriteHeader(statusCode)
	_, _ = dst.Write(w.body.Bytes())
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}

	pathTemplate, _ := route.GetPathTemplate()
	return pathTemplate
}
