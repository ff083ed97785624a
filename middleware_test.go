package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/metalab/rendezvous/internal/rvmetrics"
)

func TestCanonicalLogLineMiddleware(t *testing.T) {
	ctx := context.Background()
	logDataChan := make(chan map[string]any, 1)

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&CanonicalLogLineMiddleware{logDataChan: logDataChan, logger: logrus.New()}).Wrapper)
	router.HandleFunc("/hello/{name}", func(w http.ResponseWriter, r *http.Request) {
		ctxContainer := ContextContainerFrom(r.Context())
		ctxContainer.RequestID = "req_123"
		ctxContainer.StatusCode = http.StatusCreated
		w.WriteHeader(http.StatusCreated)
	})

	recorder := httptest.NewRecorder()
	r := mustNewRequest(ctx, http.MethodPost, "/hello/dave", nil, nil)
	r.Header.Set("Content-Type", "text/html")
	r.Header.Set("User-Agent", "test-agent")
	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	router.ServeHTTP(recorder, r)

	logData := <-logDataChan
	require.Equal(t, map[string]any{
		"content_type": "text/html",
		"duration":     logData["duration"], // hard to assert on
		"http_method":  http.MethodPost,
		"http_path":    "/hello/dave",
		"http_route":   "/hello/{name}",
		"ip":           "10.0.0.1",
		"query_string": "",
		"request_id":   "req_123",
		"status":       http.StatusCreated,
		"user_agent":   "test-agent",
	}, logData)
}

func TestContextContainerMiddleware(t *testing.T) {
	ctx := context.Background()
	var ctxContainer *ContextContainer

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		ctxContainer = ContextContainerFrom(r.Context())
		ctxContainer.StatusCode = http.StatusCreated
		w.WriteHeader(http.StatusCreated)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, mustNewRequest(ctx, http.MethodGet, "/hello", nil, nil))

	require.Equal(t, http.StatusCreated, ctxContainer.StatusCode)
}

func TestInspectableWriterMiddlewareWrapper(t *testing.T) {
	var (
		ctx               context.Context
		ctxContainer      *ContextContainer
		handler           http.Handler
		inspectableWriter *InspectableWriter
		writeResponse     func(w http.ResponseWriter)
	)

	setup := func(test func(*testing.T)) func(*testing.T) {
		return func(t *testing.T) {
			t.Helper()

			ctx = context.Background()

			writeResponse = func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte("hello"))
			}

			handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxContainer = ContextContainerFrom(r.Context())
				inspectableWriter = w.(*InspectableWriter)
				writeResponse(w)
			})
			handler = NewInspectableWriterMiddleware().Wrapper(handler)
			handler = (&ContextContainerMiddleware{}).Wrapper(handler)

			test(t)
		}
	}

	t.Run("TracksStatus", setup(func(t *testing.T) {
		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusCreated, inspectableWriter.StatusCode)
		require.Equal(t, http.StatusCreated, ctxContainer.StatusCode)
		require.Equal(t, "hello", recorder.Body.String())
	}))

	t.Run("TracksDefaultStatus", setup(func(t *testing.T) {
		writeResponse = func(w http.ResponseWriter) {
			_, err := w.Write([]byte{})
			require.NoError(t, err)
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusOK, inspectableWriter.StatusCode)
		require.Equal(t, http.StatusOK, ctxContainer.StatusCode)
	}))

	t.Run("FirstStatusWins", setup(func(t *testing.T) {
		writeResponse = func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusNotFound)
			w.WriteHeader(http.StatusOK)
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusNotFound, inspectableWriter.StatusCode)
	}))

	// A recorder can't be hijacked, which should come back as an error rather
	// than a panic.
	t.Run("HijackUnsupported", setup(func(t *testing.T) {
		var hijackErr error
		writeResponse = func(w http.ResponseWriter) {
			_, _, hijackErr = w.(http.Hijacker).Hijack()
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Error(t, hijackErr)
	}))
}

func TestMetricsMiddleware(t *testing.T) {
	ctx := context.Background()

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&MetricsMiddleware{}).Wrapper)
	router.Use(NewInspectableWriterMiddleware().Wrapper)
	router.HandleFunc("/metrics-test/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	counter := rvmetrics.RequestsTotal.WithLabelValues("/metrics-test/{name}", http.MethodGet, "202")
	before := testutil.ToFloat64(counter)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, mustNewRequest(ctx, http.MethodGet, "/metrics-test/dave", nil, nil))

	require.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRequestIDMiddleware(t *testing.T) {
	ctx := context.Background()
	var requestID string

	router := mux.NewRouter()
	router.Use((&ContextContainerMiddleware{}).Wrapper)
	router.Use((&RequestIDMiddleware{}).Wrapper)
	router.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		requestID = ContextContainerFrom(r.Context()).RequestID
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, mustNewRequest(ctx, http.MethodGet, "/hello", nil, nil))

	_, err := uuid.Parse(requestID)
	require.NoError(t, err)
	require.Equal(t, requestID, recorder.Header().Get("X-Request-Id"))

	// Every request gets its own.
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, mustNewRequest(ctx, http.MethodGet, "/hello", nil, nil))
	require.NotEqual(t, requestID, recorder.Header().Get("X-Request-Id"))
}

func TestTimeoutMiddlewareWrapper(t *testing.T) {
	var (
		ctx         context.Context
		handler     http.Handler
		handlerFunc func(w http.ResponseWriter, r *http.Request)
	)

	setup := func(test func(*testing.T)) func(*testing.T) {
		return func(t *testing.T) {
			ctx = context.Background()

			handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if handlerFunc != nil {
					handlerFunc(w, r)
				}
			})
			handler = NewTimeoutMiddleware(50 * time.Millisecond).Wrapper(handler)

			test(t)
		}
	}

	t.Run("DoesNothingWithoutTimeout", setup(func(t *testing.T) {
		handlerFunc = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("X-Custom", "value")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("created"))
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusCreated, recorder.Result().StatusCode) //nolint:bodyclose
		require.Equal(t, "value", recorder.Header().Get("X-Custom"))
		require.Equal(t, "created", recorder.Body.String())
	}))

	t.Run("DefaultStatus", setup(func(t *testing.T) {
		handlerFunc = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusOK, recorder.Result().StatusCode) //nolint:bodyclose
		require.Equal(t, "ok", recorder.Body.String())
	}))

	t.Run("HandlesCanceled", setup(func(t *testing.T) {
		handlerFunc = func(_ http.ResponseWriter, r *http.Request) {
		}

		cancelCtx, cancel := context.WithCancel(context.Background())
		cancel()

		recorder := httptest.NewRecorder()
		req := mustNewRequest(cancelCtx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusGatewayTimeout, recorder.Result().StatusCode) //nolint:bodyclose
		require.Regexp(t,
			`\AThe request was canceled after 0\.\d+s \(maximum request time is 0\.050000s\).\z`,
			recorder.Body.String())
	}))

	t.Run("HandlesTimeout", setup(func(t *testing.T) {
		handlerFunc = func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(5 * time.Second):
				require.Fail(t, "Timed out waiting for cancellation")
			case <-r.Context().Done():
			}

			// Too late, so this never reaches the client.
			_, _ = w.Write([]byte("late"))
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		handler.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusGatewayTimeout, recorder.Result().StatusCode) //nolint:bodyclose
		require.Regexp(t,
			`\AThe request timed out after 0\.\d+s \(maximum request time is 0\.050000s\).\z`,
			recorder.Body.String())
	}))

	t.Run("PropagatesPanic", setup(func(t *testing.T) {
		handlerFunc = func(_ http.ResponseWriter, _ *http.Request) {
			panic("handler panic")
		}

		recorder := httptest.NewRecorder()
		req := mustNewRequest(ctx, http.MethodGet, "/", nil, nil)
		require.PanicsWithValue(t, "handler panic", func() { handler.ServeHTTP(recorder, req) })
	}))
}

func TestPrettyDuration(t *testing.T) {
	require.Equal(t, "0.000042s", PrettyDuration(42*time.Microsecond).String())
	require.Equal(t, "1.500000s", PrettyDuration(1500*time.Millisecond).String())

	data, err := PrettyDuration(50 * time.Millisecond).MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"0.050000s"`, string(data))
}
