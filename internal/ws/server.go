package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

type identityProvider interface {
	Identify(token string) (string, error)
}

type Server struct {
	identity identityProvider
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(identity identityProvider, hub *Hub) *Server {
	return &Server{
		identity: identity,
		hub:      hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections resolves the handshake identity, upgrades the request
// and runs the connection until it closes.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}

	userID, err := s.identity.Identify(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn, err := NewConnection(s.hub, ws, userID)
	if err != nil {
		log.Printf("error registering connection for user %s: %v", userID, err)
		_ = ws.Close()
		return
	}

	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("connection for user %s closed with error: %v", userID, err)
	}
}
