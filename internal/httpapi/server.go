package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"artifactd/internal/download"
	"artifactd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListArtifacts() []types.Descriptor
	Status() types.StatusResponse
	Ready() bool
	EnsureLoaded(ctx context.Context, id string) error
	Unload(id string) error
	SetForeground(fg bool)
	// Subscribe streams download progress for id, current value first.
	Subscribe(id string) (<-chan download.Progress, func())
	// CancelDownload reports whether a running download was cancelled.
	CancelDownload(id string) bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Compression for JSON endpoints only; the progress stream must flush per line.
	r.With(middleware.Compress(5)).Get("/artifacts", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ArtifactsResponse{Artifacts: svc.ListArtifacts()})
	})

	r.With(middleware.Compress(5)).Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Post("/artifacts/{id}/load", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req types.LoadRequest
		if r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
				writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		lvl := requestLevel(r)
		start := time.Now()
		if req.Wait != nil && !*req.Wait {
			go func() {
				ctx, cancel := withLoadTimeout(serverBaseCtx)
				defer cancel()
				if err := svc.EnsureLoaded(ctx, id); err != nil {
					logRequest(r, zerolog.ErrorLevel, lvl, statusFor(err), start, err, "background load failed")
				}
			}()
			writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "state": "loading"})
			return
		}
		// Join server base context with request context so shutdown cancels work too.
		joined, cancelJoin := joinContexts(serverBaseCtx, r.Context())
		defer cancelJoin()
		ctx, cancel := withLoadTimeout(joined)
		defer cancel()
		if err := svc.EnsureLoaded(ctx, id); err != nil {
			if joined.Err() != nil {
				return
			}
			status := statusFor(err)
			if status == http.StatusConflict || status == http.StatusServiceUnavailable {
				IncrementRejection(rejectionReason(status))
			}
			writeJSONError(w, status, err.Error())
			logRequest(r, zerolog.InfoLevel, lvl, status, start, err, "load end")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": "loaded"})
		logRequest(r, zerolog.InfoLevel, lvl, http.StatusOK, start, nil, "load end")
	})

	r.Delete("/artifacts/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Unload(id); err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/artifacts/{id}/download", func(w http.ResponseWriter, r *http.Request) {
		if !svc.CancelDownload(chi.URLParam(r, "id")) {
			writeJSONError(w, http.StatusNotFound, "no download in progress")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	r.Get("/artifacts/{id}/progress", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		updates, stop := svc.Subscribe(id)
		defer stop()
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if requestLevel(r) <= zerolog.DebugLevel {
			writer = io.MultiWriter(w, &progressLineWriter{id: id})
		}
		enc := json.NewEncoder(writer)
		// The first value is the current state: idle, or the terminal value
		// of an earlier transfer. Only a transfer seen in flight ends the stream.
		inFlight := false
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-updates:
				if !ok {
					return
				}
				if err := enc.Encode(p); err != nil {
					return
				}
				if flush != nil {
					flush()
				}
				if p.Terminal() {
					if inFlight {
						return
					}
					continue
				}
				if p.Phase != download.PhaseIdle {
					inFlight = true
				}
			}
		}
	})

	r.Post("/lifecycle", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.ForegroundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		svc.SetForeground(req.Foreground)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func withLoadTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if loadTimeout > 0 {
		return context.WithTimeout(ctx, time.Duration(loadTimeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

// logRequest emits one event at level ev when the request's level admits it.
func logRequest(r *http.Request, ev, lvl zerolog.Level, status int, start time.Time, err error, msg string) {
	if lvl == zerolog.Disabled || ev < lvl {
		return
	}
	z := zlog.WithLevel(ev).Str("path", r.URL.Path).Int("status", status).Dur("dur", time.Since(start))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg(msg)
}

func rejectionReason(status int) string {
	if status == http.StatusConflict {
		return "busy"
	}
	return "insufficient_memory"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Err(err).Msg("encode response")
	}
}
