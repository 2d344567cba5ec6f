package handlers

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/rschio/milkbill/internal/auth"
	"github.com/rschio/milkbill/internal/web"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func middlewareWeb(tracer trace.Tracer, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, "web", trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.Pattern),
		))
		defer span.End()

		v := web.Values{
			TraceID: span.SpanContext().TraceID().String(),
			Tracer:  tracer,
			Now:     time.Now().UTC(),
		}
		ctx = web.SetValues(ctx, &v)
		r = r.WithContext(ctx)

		h(w, r)

		span.SetAttributes(attribute.Int("http.status_code", v.StatusCode))
	})
}

func (s *Server) logging(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		v := web.GetValues(ctx)

		s.log.InfoContext(ctx, "request started", "method", r.Method, "path", r.URL.Path,
			"remoteaddr", r.RemoteAddr)

		h(w, r)

		s.log.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path,
			"remoteaddr", r.RemoteAddr, "statuscode", v.StatusCode, "since", time.Since(v.Now).String())
	}
}

func (s *Server) measure(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := web.GetValues(r.Context())

		h(w, r)

		s.metrics.Requests.WithLabelValues(r.Method, r.Pattern, strconv.Itoa(v.StatusCode)).Inc()
		s.metrics.RequestDuration.WithLabelValues(r.Pattern).Observe(time.Since(v.Now).Seconds())
	}
}

func (s *Server) panics(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				ctx := r.Context()
				s.log.ErrorContext(ctx, "panic", "ERROR", fmt.Sprint(rec), "trace", string(debug.Stack()))

				// The handler may have written its response before panicking.
				if web.GetValues(ctx).StatusCode != 0 {
					return
				}
				web.RespondError(ctx, w, http.StatusText(http.StatusInternalServerError), nil, http.StatusInternalServerError)
			}
		}()

		h(w, r)
	}
}

// authenticate rejects requests without a valid admin bearer token and
// stores the token claims in the request context.
func (s *Server) authenticate(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		claims, err := s.auth.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			s.respondError(ctx, w, err)
			return
		}
		if err := auth.Authorize(claims); err != nil {
			s.respondError(ctx, w, err)
			return
		}

		h(w, r.WithContext(auth.SetClaims(ctx, claims)))
	}
}

// cors answers preflight requests and sets the CORS headers for origin.
func cors(origin string, h http.Handler) http.Handler {
	if origin == "" {
		return h
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if origin != "*" {
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		h.ServeHTTP(w, r)
	})
}
