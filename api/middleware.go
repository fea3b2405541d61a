package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"library-api/library"
)

type contextKey int

const (
	principalKey contextKey = iota
	requestInfoKey
)

// requestInfo is shared by the outer middleware and everything below it for
// the lifetime of one request.
type requestInfo struct {
	id        string
	principal string
}

// WithPrincipal returns a copy of ctx carrying user.
func WithPrincipal(ctx context.Context, user *library.User) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.principal = user.Username
	}
	return context.WithValue(ctx, principalKey, user)
}

// PrincipalFromContext returns the authenticated user of a request, if any.
func PrincipalFromContext(ctx context.Context) (*library.User, bool) {
	user, ok := ctx.Value(principalKey).(*library.User)
	return user, ok
}

// RequestID returns the id assigned to the request by the server.
func RequestID(ctx context.Context) string {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		return info.id
	}
	return ""
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
		sw.ResponseWriter.WriteHeader(code)
	}
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

// requestID assigns the request id, taken from X-Request-ID when the client
// sent one, and echoes it back.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestInfoKey, &requestInfo{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog writes one entry per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrapWriter(w)
		next.ServeHTTP(sw, r)

		entry := s.log(r).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   sw.status,
			"duration": time.Since(start),
		})
		if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok && info.principal != "" {
			entry = entry.WithField("principal", info.principal)
		}
		if sw.status >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Info("request")
	})
}

// recoverer turns a handler panic into a logged 500. When the handler had
// already started its response, the panic is only logged.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapWriter(w)
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				err := fmt.Errorf("panic: %v", v)
				if sw.written {
					s.log(r).WithError(err).WithField("status", sw.status).Error("panic after response started")
					return
				}
				s.writeError(sw, r, err)
			}
		}()
		next.ServeHTTP(sw, r)
	})
}

// authenticate resolves the Authorization header to a principal. The keyword
// may be Bearer or Token, in any case.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, msg := bearerToken(r.Header.Get("Authorization"))
		if msg != "" {
			unauthorized(w, msg)
			return
		}
		user, err := s.manager.Authenticate(r.Context(), key)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user)))
	})
}

// bearerToken extracts the key from an Authorization header value. On failure
// it returns the message to report instead.
func bearerToken(header string) (string, string) {
	fields := strings.Fields(header)
	if len(fields) == 0 {
		return "", msgNoAuth
	}
	switch strings.ToLower(fields[0]) {
	case "bearer", "token":
	default:
		return "", msgNoAuth
	}
	switch len(fields) {
	case 1:
		return "", msgNoCreds
	case 2:
		return fields[1], ""
	}
	return "", msgSpaces
}

func (s *Server) log(r *http.Request) *logrus.Entry {
	return s.logger.WithField("request_id", RequestID(r.Context()))
}
