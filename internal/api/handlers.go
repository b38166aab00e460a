package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"aether/internal/content"
	"aether/internal/models"
	"aether/internal/storage"

	"github.com/google/uuid"
)

const accessCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

type identityProvider interface {
	Identify(token string) (string, error)
}

type API struct {
	identity     identityProvider
	store        *storage.BboltStorage
	historyLimit int

	now   func() time.Time
	newID func() string
}

func New(identity identityProvider, store *storage.BboltStorage, historyLimit int) *API {
	return &API{
		identity:     identity,
		store:        store,
		historyLimit: historyLimit,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// RequireAuth resolves the request identity and rejects unauthenticated
// calls before the handler runs.
func (a *API) RequireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("token")
		if token == "" {
			if c, err := r.Cookie("token"); err == nil {
				token = c.Value
			}
		}
		userID, err := a.identity.Identify(token)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		log.Printf("failed to encode error response: %v", err)
	}
}

func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		log.Printf("storage error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) limit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return a.historyLimit
}

// --- Contacts and friends ---

// UsersHandler returns the contact list: everyone but the caller.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := a.store.ListUsers()
	if err != nil {
		writeStorageError(w, err)
		return
	}
	contacts := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		if u.ID == userID {
			continue
		}
		contacts = append(contacts, u.Summary())
	}
	writeJSON(w, contacts)
}

func (a *API) FriendsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	friends, err := a.store.ListFriends(userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	summaries := make([]models.UserSummary, 0, len(friends))
	for _, f := range friends {
		summaries = append(summaries, f.Summary())
	}
	writeJSON(w, summaries)
}

func (a *API) FriendRequestHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	if req.UserID == userID {
		writeError(w, http.StatusBadRequest, "cannot add yourself")
		return
	}
	if _, err := a.store.GetUser(req.UserID); err != nil {
		writeStorageError(w, err)
		return
	}
	if err := a.store.RequestFriend(userID, req.UserID, a.now().Unix()); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": string(models.FriendPending)})
}

func (a *API) FriendAcceptHandler(w http.ResponseWriter, r *http.Request, userID string) {
	a.resolveFriendRequest(w, r, userID, models.FriendAccepted)
}

func (a *API) FriendRejectHandler(w http.ResponseWriter, r *http.Request, userID string) {
	a.resolveFriendRequest(w, r, userID, models.FriendRejected)
}

func (a *API) resolveFriendRequest(w http.ResponseWriter, r *http.Request, userID string, status models.FriendshipStatus) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}

	var err error
	if status == models.FriendAccepted {
		err = a.store.AcceptFriend(userID, req.UserID)
	} else {
		err = a.store.RejectFriend(userID, req.UserID)
	}
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": string(status)})
}

// --- Message history ---

// DirectMessagesHandler returns the history with a peer and flips the
// peer's unread messages to read, mirroring a client opening the chat.
func (a *API) DirectMessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	peerID := r.PathValue("peerId")
	messages, err := a.store.ListDirectMessages(userID, peerID, a.limit(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if _, err := a.store.MarkRead(peerID, userID); err != nil {
		log.Printf("failed to mark messages read for %s: %v", userID, err)
	}
	writeJSON(w, a.enrich(messages))
}

func (a *API) CommunityMessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communityID := r.PathValue("id")
	if _, ok := a.activeRole(communityID, userID); !ok {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	messages, err := a.store.ListCommunityMessages(communityID, userID, a.limit(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, a.enrich(messages))
}

func (a *API) RoomMessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	member, err := a.store.IsRoomMember(roomID, userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	messages, err := a.store.ListRoomMessages(roomID, userID, a.limit(r))
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, a.enrich(messages))
}

func (a *API) UnreadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	counts, err := a.store.UnreadCounts(userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, counts)
}

// enrich joins sender display names onto history rows.
func (a *API) enrich(messages []models.Message) []models.MessagePayload {
	names := make(map[string]string)
	username := func(id string) string {
		if name, ok := names[id]; ok {
			return name
		}
		name := ""
		if user, err := a.store.GetUser(id); err == nil {
			name = user.Username
		}
		names[id] = name
		return name
	}

	payloads := make([]models.MessagePayload, 0, len(messages))
	for _, m := range messages {
		p := models.MessagePayload{Message: m, SenderName: username(m.SenderID)}
		if m.ReplyToID != "" {
			if quoted, err := a.store.GetMessage(m.ReplyToID); err == nil {
				p.ReplyContent = quoted.Content
				p.ReplyAuthor = username(quoted.SenderID)
			}
		}
		payloads = append(payloads, p)
	}
	return payloads
}

// --- Message deletion ---

// DeleteForMeHandler records a per-viewer suppression; nobody else is
// notified and the row stays.
func (a *API) DeleteForMeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	messageID := r.PathValue("id")
	msg, err := a.store.GetMessage(messageID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if !a.canSee(msg, userID) {
		writeError(w, http.StatusForbidden, "no access to this message")
		return
	}
	if err := a.store.SuppressMessage(messageID, userID); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "deleted for you"})
}

// DeleteForAllHandler hard-removes a message. Only the persistence half:
// the client follows up with a delete-message relay event carrying the
// discriminator echoed in this response.
func (a *API) DeleteForAllHandler(w http.ResponseWriter, r *http.Request, userID string) {
	messageID := r.PathValue("id")
	msg, err := a.store.GetMessage(messageID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if msg.SenderID != userID {
		writeError(w, http.StatusForbidden, "only sender can delete for everyone")
		return
	}
	if err := a.store.DeleteMessage(messageID); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{
		"messageId":   messageID,
		"receiverId":  msg.ReceiverID,
		"communityId": msg.CommunityID,
		"roomId":      msg.RoomID,
	})
}

func (a *API) canSee(msg models.Message, userID string) bool {
	switch {
	case msg.CommunityID != "":
		_, ok := a.activeRole(msg.CommunityID, userID)
		return ok
	case msg.RoomID != "":
		member, err := a.store.IsRoomMember(msg.RoomID, userID)
		return err == nil && member
	default:
		return userID == msg.SenderID || userID == msg.ReceiverID
	}
}

// --- Communities ---

func (a *API) CreateCommunityHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := content.Sanitize(req.Name)
	if len(name) < 2 {
		writeError(w, http.StatusBadRequest, "name required (min 2 chars)")
		return
	}

	community := models.Community{
		ID:          a.newID(),
		Name:        name,
		Description: content.Sanitize(req.Description),
		CreatedBy:   userID,
		CreatedAt:   a.now().Unix(),
	}

	// Retry on access code collisions; CreateCommunity is atomic, so a
	// duplicate code simply conflicts.
	var err error
	for range 10 {
		community.AccessCode, err = generateAccessCode()
		if err != nil {
			break
		}
		if err = a.store.CreateCommunity(community); !errors.Is(err, models.ErrConflict) {
			break
		}
	}
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, community)
}

func (a *API) MyCommunitiesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communities, err := a.store.ListUserCommunities(userID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	// Access codes are only shown to owners and admins.
	for i, c := range communities {
		if role, ok := a.activeRole(c.ID, userID); !ok || role == models.RoleMember {
			communities[i].AccessCode = ""
		}
	}
	writeJSON(w, communities)
}

func (a *API) JoinCommunityHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		AccessCode string `json:"accessCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code, ok := content.NormalizeAccessCode(req.AccessCode)
	if !ok {
		writeError(w, http.StatusBadRequest, "access code required")
		return
	}

	community, err := a.store.GetCommunityByCode(code)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if err := a.store.RequestJoin(community.ID, userID, a.now().Unix()); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{
		"message":       "join request sent, waiting for approval",
		"communityName": community.Name,
	})
}

func (a *API) JoinRequestsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communityID := r.PathValue("id")
	if !a.requireModerator(w, communityID, userID) {
		return
	}
	pending, err := a.store.ListMembers(communityID, models.MemberPending)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, pending)
}

func (a *API) ApproveMemberHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communityID := r.PathValue("id")
	if !a.requireModerator(w, communityID, userID) {
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	if err := a.store.ApproveMember(communityID, req.UserID); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "member approved"})
}

func (a *API) RejectMemberHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communityID := r.PathValue("id")
	if !a.requireModerator(w, communityID, userID) {
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	membership, err := a.store.GetMembership(communityID, req.UserID)
	if err != nil || membership.Status != models.MemberPending {
		writeError(w, http.StatusNotFound, "no pending request from this user")
		return
	}
	if err := a.store.RemoveMember(communityID, req.UserID); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "request rejected"})
}

func (a *API) KickMemberHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communityID := r.PathValue("id")
	myRole, ok := a.activeRole(communityID, userID)
	if !ok || myRole == models.RoleMember {
		writeError(w, http.StatusForbidden, "insufficient permissions")
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	target, err := a.store.GetMembership(communityID, req.UserID)
	if err != nil || target.Status != models.MemberActive {
		writeError(w, http.StatusNotFound, "user not in community")
		return
	}
	if target.Role == models.RoleOwner {
		writeError(w, http.StatusForbidden, "cannot kick the owner")
		return
	}
	if target.Role == models.RoleAdmin && myRole != models.RoleOwner {
		writeError(w, http.StatusForbidden, "only owner can kick admins")
		return
	}
	if err := a.store.RemoveMember(communityID, req.UserID); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "member removed"})
}

func (a *API) LeaveCommunityHandler(w http.ResponseWriter, r *http.Request, userID string) {
	communityID := r.PathValue("id")
	role, ok := a.activeRole(communityID, userID)
	if !ok {
		writeError(w, http.StatusNotFound, "not a member")
		return
	}
	if role == models.RoleOwner {
		writeError(w, http.StatusForbidden, "owner cannot leave, transfer ownership first")
		return
	}
	if err := a.store.RemoveMember(communityID, userID); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "left community"})
}

func (a *API) activeRole(communityID, userID string) (models.MemberRole, bool) {
	membership, err := a.store.GetMembership(communityID, userID)
	if err != nil || membership.Status != models.MemberActive {
		return "", false
	}
	return membership.Role, true
}

func (a *API) requireModerator(w http.ResponseWriter, communityID, userID string) bool {
	role, ok := a.activeRole(communityID, userID)
	if !ok || role == models.RoleMember {
		writeError(w, http.StatusForbidden, "only owner or admin may do this")
		return false
	}
	return true
}

// --- Rooms ---

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := content.Sanitize(req.Name)
	if name == "" || req.MemberIDs == nil {
		writeError(w, http.StatusBadRequest, "room name and member IDs required")
		return
	}

	room := models.Room{
		ID:        a.newID(),
		Name:      name,
		CreatedBy: userID,
		CreatedAt: a.now().Unix(),
	}
	if err := a.store.CreateRoom(room, req.MemberIDs); err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, room)
}

func generateAccessCode() (string, error) {
	code := make([]byte, 8)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(accessCodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
