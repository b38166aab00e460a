package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"aether/internal/api"
	"aether/internal/identity"
	"aether/internal/storage"
	"aether/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(identity *identity.Service, hub *ws.Hub, storage *storage.BboltStorage, addr string, historyLimit int) *APIServer {
	server := ws.NewServer(identity, hub)
	apiHandlers := api.New(identity, storage, historyLimit)

	mux := http.NewServeMux()

	// Contacts and friends
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/friends", apiHandlers.RequireAuth(apiHandlers.FriendsHandler))
	mux.HandleFunc("POST /api/friends/request", apiHandlers.RequireAuth(apiHandlers.FriendRequestHandler))
	mux.HandleFunc("POST /api/friends/accept", apiHandlers.RequireAuth(apiHandlers.FriendAcceptHandler))
	mux.HandleFunc("POST /api/friends/reject", apiHandlers.RequireAuth(apiHandlers.FriendRejectHandler))

	// Message history and deletion
	mux.HandleFunc("GET /api/messages/{peerId}", apiHandlers.RequireAuth(apiHandlers.DirectMessagesHandler))
	mux.HandleFunc("GET /api/unread", apiHandlers.RequireAuth(apiHandlers.UnreadHandler))
	mux.HandleFunc("DELETE /api/messages/{id}/for-me", apiHandlers.RequireAuth(apiHandlers.DeleteForMeHandler))
	mux.HandleFunc("DELETE /api/messages/{id}/for-all", apiHandlers.RequireAuth(apiHandlers.DeleteForAllHandler))

	// Communities
	mux.HandleFunc("POST /api/communities", apiHandlers.RequireAuth(apiHandlers.CreateCommunityHandler))
	mux.HandleFunc("GET /api/communities", apiHandlers.RequireAuth(apiHandlers.MyCommunitiesHandler))
	mux.HandleFunc("POST /api/communities/join", apiHandlers.RequireAuth(apiHandlers.JoinCommunityHandler))
	mux.HandleFunc("GET /api/communities/{id}/requests", apiHandlers.RequireAuth(apiHandlers.JoinRequestsHandler))
	mux.HandleFunc("POST /api/communities/{id}/approve", apiHandlers.RequireAuth(apiHandlers.ApproveMemberHandler))
	mux.HandleFunc("POST /api/communities/{id}/reject", apiHandlers.RequireAuth(apiHandlers.RejectMemberHandler))
	mux.HandleFunc("POST /api/communities/{id}/kick", apiHandlers.RequireAuth(apiHandlers.KickMemberHandler))
	mux.HandleFunc("POST /api/communities/{id}/leave", apiHandlers.RequireAuth(apiHandlers.LeaveCommunityHandler))
	mux.HandleFunc("GET /api/communities/{id}/messages", apiHandlers.RequireAuth(apiHandlers.CommunityMessagesHandler))

	// Group rooms
	mux.HandleFunc("POST /api/rooms", apiHandlers.RequireAuth(apiHandlers.CreateRoomHandler))
	mux.HandleFunc("GET /api/rooms/{id}/messages", apiHandlers.RequireAuth(apiHandlers.RoomMessagesHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
