package ws

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"domainflow/internal/auth"
)

// Handler wraps the Socket.IO server with JWT authentication on the
// handshake. Requests without a valid token never reach the server.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Socket.IO handshake is a GET to /socket.io/?EIO=4&transport=polling
		if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/socket.io/") {
			token := extractToken(r)
			if token == "" {
				log.Printf("[WebSocket] Handshake rejected: No token from %s", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := auth.ParseToken(token)
			if err != nil {
				log.Printf("[WebSocket] Handshake rejected: Invalid token from %s: %v", r.RemoteAddr, err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			log.Printf("[WebSocket] Handshake accepted: user=%s (ID=%d)", claims.Username, claims.UID)
		}

		h.server.ServeHTTP(w, r)
	})
}

// extractToken extracts a JWT from the request.
// Priority: 1. token query parameter, 2. Authorization header.
func extractToken(r *http.Request) string {
	// Socket.IO client: io("url", { auth: { token: "xxx" } }) arrives as
	// ?token=xxx on the handshake request.
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	return ""
}

func parseClaims(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, errors.New("no token provided")
	}
	return auth.ParseToken(token)
}
