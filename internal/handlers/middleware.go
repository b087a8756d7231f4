package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sre-platform/internal/auth"
	"sre-platform/internal/models"
)

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder remembers the status code and the matched route.
type statusRecorder struct {
	http.ResponseWriter
	status int
	route  string
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// logRequests assigns a request id, logs the request once it is done and
// records it in the HTTP metrics.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, route: "unmatched"}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		d := time.Since(start)
		h.Metrics.ObserveHTTP(r.Method, rec.route, rec.status, d)
		h.logger().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", d),
			zap.String("request_id", id))
	})
}

// routeLabel copies the matched route template onto the recorder so
// metrics are labelled by route rather than raw path.
func routeLabel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rec, ok := w.(*statusRecorder); ok {
			if tpl, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil {
				rec.route = tpl
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.logger().Error("panic serving request",
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()))
				writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(h.CORSOrigins, "*") || slices.Contains(h.CORSOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-Sentinel-Signature")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

var publicPaths = []string{
	"/health",
	"/metrics",
	"/auth/login",
	"/auth/2fa/verify",
	"/webhook",
	"/push/vapid-key",
}

func isPublic(path string) bool {
	path = strings.TrimPrefix(path, apiPrefix)
	return slices.Contains(publicPaths, path) || strings.HasPrefix(path, "/telegram/")
}

// authenticate attaches the caller to the request context and enforces
// roles. With auth disabled every request passes, but a valid session is
// still attached so /auth/me keeps working.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		p, err := h.Auth.Authenticate(r)
		if err == nil {
			r = r.WithContext(auth.WithPrincipal(r.Context(), p))
		}
		if !h.Auth.Enabled() || isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if err := authorize(p, r); err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authorize(p *auth.Principal, r *http.Request) error {
	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	if path == "/users" || strings.HasPrefix(path, "/users/") {
		if p.Role != models.RoleAdmin {
			return fmt.Errorf("%w: admin role required", errForbidden)
		}
		return nil
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}
	// Every user manages their own account and push subscriptions.
	if strings.HasPrefix(path, "/auth/") || strings.HasPrefix(path, "/push/") {
		return nil
	}
	if !p.Role.CanWrite() {
		return fmt.Errorf("%w: role %s is read-only", errForbidden, p.Role)
	}
	return nil
}

// actor returns the caller to stamp on writes, or nil when anonymous.
func actor(r *http.Request) *models.Actor {
	return auth.FromContext(r.Context()).Actor()
}
