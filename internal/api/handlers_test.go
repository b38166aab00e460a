package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"aether/internal/models"
	"aether/internal/storage"

	"github.com/stretchr/testify/require"
)

type stubIdentity struct {
	tokens map[string]string
}

func (s *stubIdentity) Identify(token string) (string, error) {
	if userID, ok := s.tokens[token]; ok {
		return userID, nil
	}
	return "", models.ErrNotFound
}

type testEnv struct {
	mux   *http.ServeMux
	store *storage.BboltStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "api_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := storage.NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	identity := &stubIdentity{tokens: map[string]string{}}
	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, store.UpsertUser(models.User{ID: name, Username: name}))
		identity.tokens["tok-"+name] = name
	}

	a := New(identity, store, 100)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users", a.RequireAuth(a.UsersHandler))
	mux.HandleFunc("GET /api/friends", a.RequireAuth(a.FriendsHandler))
	mux.HandleFunc("POST /api/friends/request", a.RequireAuth(a.FriendRequestHandler))
	mux.HandleFunc("POST /api/friends/accept", a.RequireAuth(a.FriendAcceptHandler))
	mux.HandleFunc("POST /api/friends/reject", a.RequireAuth(a.FriendRejectHandler))
	mux.HandleFunc("GET /api/messages/{peerId}", a.RequireAuth(a.DirectMessagesHandler))
	mux.HandleFunc("GET /api/unread", a.RequireAuth(a.UnreadHandler))
	mux.HandleFunc("DELETE /api/messages/{id}/for-me", a.RequireAuth(a.DeleteForMeHandler))
	mux.HandleFunc("DELETE /api/messages/{id}/for-all", a.RequireAuth(a.DeleteForAllHandler))
	mux.HandleFunc("POST /api/communities", a.RequireAuth(a.CreateCommunityHandler))
	mux.HandleFunc("GET /api/communities", a.RequireAuth(a.MyCommunitiesHandler))
	mux.HandleFunc("POST /api/communities/join", a.RequireAuth(a.JoinCommunityHandler))
	mux.HandleFunc("GET /api/communities/{id}/requests", a.RequireAuth(a.JoinRequestsHandler))
	mux.HandleFunc("POST /api/communities/{id}/approve", a.RequireAuth(a.ApproveMemberHandler))
	mux.HandleFunc("POST /api/communities/{id}/reject", a.RequireAuth(a.RejectMemberHandler))
	mux.HandleFunc("POST /api/communities/{id}/kick", a.RequireAuth(a.KickMemberHandler))
	mux.HandleFunc("POST /api/communities/{id}/leave", a.RequireAuth(a.LeaveCommunityHandler))
	mux.HandleFunc("GET /api/communities/{id}/messages", a.RequireAuth(a.CommunityMessagesHandler))
	mux.HandleFunc("POST /api/rooms", a.RequireAuth(a.CreateRoomHandler))
	mux.HandleFunc("GET /api/rooms/{id}/messages", a.RequireAuth(a.RoomMessagesHandler))

	return &testEnv{mux: mux, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("token", "tok-"+user)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, "GET", "/api/users", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]models.UserSummary](t, rec)
	require.Len(t, users, 2) // everyone but alice
}

func TestCommunityWorkflow(t *testing.T) {
	env := newTestEnv(t)

	// Alice creates a community and becomes its active owner.
	rec := env.do(t, "POST", "/api/communities", "alice", map[string]string{
		"name":        "Gophers",
		"description": "all things Go",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	community := decode[models.Community](t, rec)
	require.NotEmpty(t, community.ID)
	require.Len(t, community.AccessCode, 8)

	// Bob joins by access code; lowercase input normalizes fine.
	rec = env.do(t, "POST", "/api/communities/join", "bob", map[string]string{
		"accessCode": strings.ToLower(community.AccessCode),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// Duplicate join request conflicts.
	rec = env.do(t, "POST", "/api/communities/join", "bob", map[string]string{
		"accessCode": community.AccessCode,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Pending members cannot read history or see the request queue.
	rec = env.do(t, "GET", "/api/communities/"+community.ID+"/messages", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, "GET", "/api/communities/"+community.ID+"/requests", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The owner sees bob's pending request and approves it.
	rec = env.do(t, "GET", "/api/communities/"+community.ID+"/requests", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]models.Membership](t, rec)
	require.Len(t, pending, 1)
	require.Equal(t, "bob", pending[0].UserID)

	rec = env.do(t, "POST", "/api/communities/"+community.ID+"/approve", "alice", map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/communities/"+community.ID+"/messages", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Members do not see the access code in their community list.
	rec = env.do(t, "GET", "/api/communities", "bob", nil)
	communities := decode[[]models.Community](t, rec)
	require.Len(t, communities, 1)
	require.Empty(t, communities[0].AccessCode)

	rec = env.do(t, "GET", "/api/communities", "alice", nil)
	communities = decode[[]models.Community](t, rec)
	require.Equal(t, community.AccessCode, communities[0].AccessCode)

	// A plain member cannot kick; the owner cannot be kicked or leave.
	rec = env.do(t, "POST", "/api/communities/"+community.ID+"/kick", "bob", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, "POST", "/api/communities/"+community.ID+"/leave", "alice", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The owner kicks bob; his access is gone.
	rec = env.do(t, "POST", "/api/communities/"+community.ID+"/kick", "alice", map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, "GET", "/api/communities/"+community.ID+"/messages", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRejectJoinRequest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/communities", "alice", map[string]string{"name": "Club"})
	community := decode[models.Community](t, rec)

	rec = env.do(t, "POST", "/api/communities/join", "carol", map[string]string{"accessCode": community.AccessCode})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "POST", "/api/communities/"+community.ID+"/reject", "alice", map[string]string{"userId": "carol"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Rejecting twice finds nothing pending.
	rec = env.do(t, "POST", "/api/communities/"+community.ID+"/reject", "alice", map[string]string{"userId": "carol"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	// A rejected user may ask again.
	rec = env.do(t, "POST", "/api/communities/join", "carol", map[string]string{"accessCode": community.AccessCode})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDirectHistoryAndUnread(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now().UnixNano()

	msgs := []models.Message{
		{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "ping", Timestamp: base},
		{ID: "m2", SenderID: "alice", ReceiverID: "bob", Content: "ping again", Timestamp: base + 1},
		{ID: "m3", SenderID: "bob", ReceiverID: "alice", Content: "pong", Timestamp: base + 2, ReplyToID: "m1"},
	}
	for _, m := range msgs {
		require.NoError(t, env.store.InsertMessage(m))
	}

	rec := env.do(t, "GET", "/api/unread", "bob", nil)
	counts := decode[map[string]int](t, rec)
	require.Equal(t, 2, counts["alice"])

	// Fetching the history flips the peer's messages to read.
	rec = env.do(t, "GET", "/api/messages/alice", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]models.MessagePayload](t, rec)
	require.Len(t, history, 3)
	require.Equal(t, "alice", history[0].SenderName)
	require.Equal(t, "ping", history[2].ReplyContent)
	require.Equal(t, "alice", history[2].ReplyAuthor)

	rec = env.do(t, "GET", "/api/unread", "bob", nil)
	counts = decode[map[string]int](t, rec)
	require.Equal(t, 0, counts["alice"])
}

func TestDeleteEndpoints(t *testing.T) {
	env := newTestEnv(t)
	msg := models.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob",
		Content: "typo", Timestamp: time.Now().UnixNano(),
	}
	require.NoError(t, env.store.InsertMessage(msg))

	// An outsider can touch neither variant.
	rec := env.do(t, "DELETE", "/api/messages/m1/for-me", "carol", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, "DELETE", "/api/messages/m1/for-all", "bob", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Delete-for-me hides the message for bob only.
	rec = env.do(t, "DELETE", "/api/messages/m1/for-me", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, "GET", "/api/messages/bob", "alice", nil)
	require.Len(t, decode[[]models.MessagePayload](t, rec), 1)
	rec = env.do(t, "GET", "/api/messages/alice", "bob", nil)
	require.Len(t, decode[[]models.MessagePayload](t, rec), 0)

	// Delete-for-all removes the row and echoes the routing fields for the
	// client's relay event.
	rec = env.do(t, "DELETE", "/api/messages/m1/for-all", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]string](t, rec)
	require.Equal(t, "m1", resp["messageId"])
	require.Equal(t, "bob", resp["receiverId"])

	_, err := env.store.GetMessage("m1")
	require.ErrorIs(t, err, models.ErrNotFound)

	rec = env.do(t, "DELETE", "/api/messages/m1/for-all", "alice", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFriendEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/friends/request", "alice", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, "POST", "/api/friends/request", "alice", map[string]string{"userId": "ghost"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, "POST", "/api/friends/request", "alice", map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, "POST", "/api/friends/request", "bob", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Only the addressee resolves the request.
	rec = env.do(t, "POST", "/api/friends/accept", "alice", map[string]string{"userId": "bob"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, "POST", "/api/friends/accept", "bob", map[string]string{"userId": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, "GET", "/api/friends", "alice", nil)
	friends := decode[[]models.UserSummary](t, rec)
	require.Len(t, friends, 1)
	require.Equal(t, "bob", friends[0].ID)
}

func TestRoomEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/rooms", "alice", map[string]any{
		"name":      "weekend-trip",
		"memberIds": []string{"bob"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	room := decode[models.Room](t, rec)
	require.NotEmpty(t, room.ID)

	require.NoError(t, env.store.InsertMessage(models.Message{
		ID: "rm1", SenderID: "alice", RoomID: room.ID,
		Content: "who drives?", Timestamp: time.Now().UnixNano(),
	}))

	for _, user := range []string{"alice", "bob"} {
		rec = env.do(t, "GET", "/api/rooms/"+room.ID+"/messages", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, decode[[]models.MessagePayload](t, rec), 1)
	}

	rec = env.do(t, "GET", "/api/rooms/"+room.ID+"/messages", "carol", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
