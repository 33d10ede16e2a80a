package server

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/discordbridge/pkg/discord/errclass"
)

const maxBodyBytes = 1 << 20

type ctxKey int

const (
	identityKey ctxKey = iota
	requestIDKey
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// IdentityFromContext returns the caller identity resolved by the auth
// middleware.
func IdentityFromContext(ctx context.Context) string {
	s, _ := ctx.Value(identityKey).(string)
	return s
}

func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

func requestIDFromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" {
		id = uuid.NewString()
	}
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestIDFromRequest(r)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// withAuth resolves the caller identity from X-API-Key or a bearer token.
// With no keys configured every caller is admitted under its remote address.
func withAuth(keys map[string]string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity string
		if len(keys) == 0 {
			identity = "anonymous:" + remoteHost(r)
		} else {
			name, ok := keys[apiKeyFromRequest(r)]
			if !ok {
				writeErrorBody(w, r, http.StatusUnauthorized, errorBody{Code: "UNAUTHORIZED", Message: "missing or invalid api key"})
				return
			}
			identity = name
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

func apiKeyFromRequest(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).
			Str("component", "server").
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("response write failed")
	}
}

func writeData(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, r, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError maps err through the classifier onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	c := errclass.Classify(err)
	status := c.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := errorBody{Code: c.Kind.String(), Message: c.Message}
	if c.Kind == errclass.KindUnknown {
		body.Message = "internal error"
	}
	if c.RetryAfter > 0 {
		body.RetryAfter = int(math.Ceil(c.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}
	ev := log.Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).
		Str("component", "server").
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("path", r.URL.Path).
		Int("status", status).
		Str("code", body.Code).
		Msg("request failed")
	writeErrorBody(w, r, status, body)
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	writeJSON(w, r, status, envelope{Success: false, Error: &body})
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorBody(w, r, http.StatusBadRequest, errorBody{Code: errclass.KindValidation.String(), Message: err.Error()})
}
