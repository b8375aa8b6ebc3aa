// Package server wires the public HTTP surface: token issuance and the
// streaming proxy.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/coursekit/streamgate/auth"
	"github.com/coursekit/streamgate/gateway"
	"github.com/coursekit/streamgate/token"
)

type Server struct {
	issuer  *token.Issuer
	gateway *gateway.Gateway
}

// NewRouter builds the HTTP handler. The token endpoint requires a verified
// bearer identity; the stream endpoint's authority is the session id alone.
func NewRouter(jwtSecret string, issuer *token.Issuer, gw *gateway.Gateway) http.Handler {
	s := &Server{issuer: issuer, gateway: gw}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggerMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api/video", func(api chi.Router) {
		api.With(auth.Middleware(jwtSecret)).Post("/playbackToken", s.handlePlaybackToken)
	})

	r.Get("/stream/{sessionID}/*", s.handleStream)
	r.Get("/stream/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Malformed stream path", http.StatusBadRequest)
	})

	return r
}

type playbackTokenRequest struct {
	VideoID string `json:"videoId"`
}

func (s *Server) handlePlaybackToken(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req playbackTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VideoID == "" {
		http.Error(w, "videoId is required", http.StatusBadRequest)
		return
	}

	rc := token.ReqContext{
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
		Referer:   r.Header.Get("Referer"),
		ClientIP:  r.RemoteAddr,
	}

	grant, err := s.issuer.Issue(r.Context(), ident, req.VideoID, rc)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNoEntitlement):
			http.Error(w, "No active entitlement", http.StatusForbidden)
		case errors.Is(err, token.ErrVideoNotFound):
			http.Error(w, "Unknown video", http.StatusNotFound)
		default:
			log.Error().Err(err).Str("video_id", req.VideoID).Msg("Failed to issue playback token")
			http.Error(w, "Internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	resource := chi.URLParam(r, "*")
	if sessionID == "" || resource == "" {
		http.Error(w, "Malformed stream path", http.StatusBadRequest)
		return
	}
	s.gateway.Stream(w, r, sessionID, resource)
}

func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug().Msgf("Request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
