package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"go.uber.org/zap"
)

// Issuer mints access tokens for the token endpoint.
type Issuer interface {
	Issue(subject string) (string, time.Time, error)
}

// Authenticator checks login credentials for the token endpoint.
type Authenticator interface {
	Check(name, password string) bool
}

// maxEventBody caps the body of a publish request.
const maxEventBody = 1 << 20

// NewRouter returns the HTTP surface of the development server:
//
//	GET  /ws                    realtime endpoint
//	POST /token                 password login, when issuer and users are set
//	POST /events/{category}     publish an event, ?to= limits recipients
//	GET  /status                connection counts
func NewRouter(listener *Listener, issuer Issuer, users Authenticator) *mux.Router {
	h := &handlers{listener: listener, issuer: issuer, users: users, logger: listener.logger}

	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc(realtime.UpgradePath, listener.ServeWebsocket).Methods(http.MethodGet)
	if issuer != nil && users != nil {
		r.HandleFunc(auth.TokenPath, h.token).Methods(http.MethodPost)
	}
	r.HandleFunc("/events/{category}", h.publish).Methods(http.MethodPost)
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)

	return r
}

type handlers struct {
	listener *Listener
	issuer   Issuer
	users    Authenticator
	logger   *zap.Logger
}

func (h *handlers) token(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	if username == "" || !h.users.Check(username, password) {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
		return
	}

	token, _, err := h.issuer.Issue(username)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Could not issue token"})
		return
	}

	writeJSON(w, http.StatusOK, auth.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *handlers) publish(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Not authenticated"})
		return
	}
	subject, err := h.listener.config.verifier.VerifySubject(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
		return
	}

	category, err := realtime.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": err.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Could not read body"})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Body must be JSON"})
		return
	}

	to := r.URL.Query().Get("to")
	delivered, err := h.listener.Broadcast(r.Context(), category, json.RawMessage(body), to)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	h.logger.Info("Published event",
		zap.String("subject", subject),
		zap.String("category", string(category)),
		zap.String("to", to),
		zap.Int("delivered", delivered),
	)

	writeJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"connections":   h.listener.ConnectionCount(),
		"authenticated": h.listener.AuthenticatedCount(),
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (h *handlers) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == realtime.UpgradePath {
			// The upgrade needs the raw writer to hijack the connection.
			h.logger.Info("Request", zap.String("method", r.Method), zap.String("url", r.URL.String()))
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("Request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.Int("status", rec.status),
		)
	})
}
