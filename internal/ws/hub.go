package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aether/internal/content"
	"aether/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

// senderCacheTTL bounds how stale cached sender display metadata can get
// after a profile edit elsewhere.
const senderCacheTTL = time.Minute

// Store is the persistence contract the hub needs. All calls may fail with
// a storage error, in which case no broadcast happens.
type Store interface {
	GetUser(id string) (models.User, error)
	SetPresence(id string, online bool, lastSeen int64) error
	ListUserChannels(userID string) ([]models.Channel, error)
	GetMembership(communityID, userID string) (models.Membership, error)
	IsRoomMember(roomID, userID string) (bool, error)
	InsertMessage(m models.Message) error
	GetMessage(id string) (models.Message, error)
	MarkRead(senderID, receiverID string) (int, error)
	ToggleReaction(messageID, userID, emoji string) (int, bool, error)
}

// Hub routes every client event: it persists what is durable, resolves the
// recipient channel and fans the event out through the registry.
type Hub struct {
	registry *Registry
	store    Store
	senders  geche.Geche[string, models.UserSummary]

	now   func() time.Time
	newID func() string
}

func NewHub(ctx context.Context, store Store, registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		store:    store,
		senders:  geche.NewMapTTLCache[string, models.UserSummary](ctx, senderCacheTTL, time.Second),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Connect registers a connection and subscribes it to the user's self
// channel plus every active community and room membership.
func (h *Hub) Connect(userID, connID string) (chan models.ServerEvent, error) {
	channels, err := h.store.ListUserChannels(userID)
	if err != nil {
		return nil, err
	}

	ch := h.registry.Add(userID, connID)
	h.registry.Subscribe(userID, models.SelfChannel(userID))
	for _, channel := range channels {
		h.registry.Subscribe(userID, channel)
	}
	return ch, nil
}

// Disconnect drops a connection. When it was the user's last one the user
// goes offline and the change is broadcast to every connection.
func (h *Hub) Disconnect(userID, connID string) {
	if last := h.registry.Remove(userID, connID); !last {
		return
	}
	if err := h.store.SetPresence(userID, false, h.now().Unix()); err != nil {
		slog.Error("failed to persist offline presence", "user_id", userID, "error", err)
	}
	h.registry.BroadcastAll(models.ServerEvent{
		Type:   models.ServerEventUserStatus,
		UserID: userID,
		Online: false,
	})
}

// HandleEvent dispatches one inbound client event. Validation and
// authorization failures drop the event silently; storage failures are
// logged and produce no broadcast.
func (h *Hub) HandleEvent(userID, connID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventUserOnline:
		h.handleUserOnline(userID)
	case models.ClientEventPrivateMessage:
		h.handlePrivateMessage(userID, connID, ev)
	case models.ClientEventCommunityMessage, models.ClientEventGroupMessage:
		h.handleChannelMessage(userID, connID, ev)
	case models.ClientEventTyping:
		h.handleTyping(userID, ev, models.ServerEventTyping)
	case models.ClientEventStopTyping:
		h.handleTyping(userID, ev, models.ServerEventStopTyping)
	case models.ClientEventMessagesRead:
		h.handleMessagesRead(userID, ev)
	case models.ClientEventMessageReaction:
		h.handleReaction(userID, ev)
	case models.ClientEventDeleteMessage:
		h.handleDeleteMessage(userID, ev)
	case models.ClientEventJoinCommunity:
		h.handleJoinCommunity(userID, ev)
	case models.ClientEventFriendRequest, models.ClientEventFriendAccepted, models.ClientEventFriendRejected:
		h.handleFriendEvent(userID, ev)
	case models.ClientEventCallUser, models.ClientEventCallAnswer, models.ClientEventICECandidate,
		models.ClientEventCallReject, models.ClientEventCallEnd:
		h.handleCallEvent(userID, connID, ev)
	}
}

func (h *Hub) handleUserOnline(userID string) {
	if err := h.store.SetPresence(userID, true, h.now().Unix()); err != nil {
		slog.Error("failed to persist online presence", "user_id", userID, "error", err)
		return
	}
	h.registry.MarkOnline(userID)
	h.registry.BroadcastAll(models.ServerEvent{
		Type:   models.ServerEventUserStatus,
		UserID: userID,
		Online: true,
	})
}

func (h *Hub) handlePrivateMessage(userID, connID string, ev models.ClientEvent) {
	text := content.Sanitize(ev.Content)
	if ev.ReceiverID == "" || text == "" {
		return
	}

	msg := models.Message{
		ID:         h.newID(),
		SenderID:   userID,
		ReceiverID: ev.ReceiverID,
		Content:    text,
		Kind:       messageKind(ev.Kind),
		Timestamp:  h.now().UnixNano(),
		ReplyToID:  ev.ReplyToID,
	}
	if err := h.store.InsertMessage(msg); err != nil {
		slog.Error("failed to persist direct message", "sender_id", userID, "error", err)
		return
	}

	payload := h.messagePayload(msg)
	h.registry.Broadcast(models.SelfChannel(ev.ReceiverID), models.ServerEvent{
		Type:    models.ServerEventPrivateMessage,
		Message: &payload,
	})
	// Confirmation goes only to the connection that sent the message.
	h.registry.SendToConn(userID, connID, models.ServerEvent{
		Type:    models.ServerEventMessageSent,
		Message: &payload,
	})
}

// handleChannelMessage covers community and group-room messages. A sender
// without active membership is silently dropped: that is stale client
// state, not a user-facing error.
func (h *Hub) handleChannelMessage(userID, connID string, ev models.ClientEvent) {
	text := content.Sanitize(ev.Content)
	if text == "" {
		return
	}

	msg := models.Message{
		ID:        h.newID(),
		SenderID:  userID,
		Content:   text,
		Kind:      messageKind(ev.Kind),
		Timestamp: h.now().UnixNano(),
		ReplyToID: ev.ReplyToID,
	}

	var eventType models.ServerEventType
	switch ev.Type {
	case models.ClientEventCommunityMessage:
		if ev.CommunityID == "" || !h.isActiveMember(ev.CommunityID, userID) {
			return
		}
		msg.CommunityID = ev.CommunityID
		eventType = models.ServerEventCommunityMessage
	default:
		if ev.RoomID == "" {
			return
		}
		if member, err := h.store.IsRoomMember(ev.RoomID, userID); err != nil || !member {
			return
		}
		msg.RoomID = ev.RoomID
		eventType = models.ServerEventGroupMessage
	}

	if err := h.store.InsertMessage(msg); err != nil {
		slog.Error("failed to persist channel message", "sender_id", userID, "error", err)
		return
	}

	payload := h.messagePayload(msg)
	h.registry.Broadcast(msg.Channel(), models.ServerEvent{
		Type:    eventType,
		Message: &payload,
	})
}

func (h *Hub) handleTyping(userID string, ev models.ClientEvent, eventType models.ServerEventType) {
	sender, err := h.senderSummary(userID)
	if err != nil {
		return
	}

	out := models.ServerEvent{
		Type:     eventType,
		UserID:   userID,
		Username: sender.Username,
	}
	if ev.CommunityID != "" {
		out.CommunityID = ev.CommunityID
		h.registry.BroadcastExcept(models.CommunityChannel(ev.CommunityID), userID, out)
		return
	}
	if ev.ReceiverID != "" {
		h.registry.SendToUser(ev.ReceiverID, out)
	}
}

func (h *Hub) handleMessagesRead(userID string, ev models.ClientEvent) {
	if ev.SenderID == "" {
		return
	}
	if _, err := h.store.MarkRead(ev.SenderID, userID); err != nil {
		slog.Error("failed to mark messages read", "reader_id", userID, "error", err)
		return
	}
	h.registry.SendToUser(ev.SenderID, models.ServerEvent{
		Type:     models.ServerEventMessagesRead,
		ReaderID: userID,
	})
}

func (h *Hub) handleReaction(userID string, ev models.ClientEvent) {
	if ev.MessageID == "" || ev.Emoji == "" {
		return
	}
	msg, err := h.store.GetMessage(ev.MessageID)
	if err != nil {
		return
	}
	if !h.canSee(msg, userID) {
		return
	}

	count, reacted, err := h.store.ToggleReaction(msg.ID, userID, ev.Emoji)
	if err != nil {
		slog.Error("failed to toggle reaction", "message_id", msg.ID, "error", err)
		return
	}

	out := models.ServerEvent{
		Type: models.ServerEventMessageReaction,
		Reaction: &models.ReactionPayload{
			MessageID: msg.ID,
			Emoji:     ev.Emoji,
			UserID:    userID,
			Count:     count,
			Reacted:   reacted,
		},
	}
	if msg.CommunityID == "" && msg.RoomID == "" {
		// Direct message channel: both participants.
		h.registry.SendToUser(msg.SenderID, out)
		h.registry.SendToUser(msg.ReceiverID, out)
		return
	}
	h.registry.Broadcast(msg.Channel(), out)
}

// handleDeleteMessage is the broadcast half of delete-for-all; the
// persistence half is the HTTP mutation. The relay only fires once the row
// is actually gone.
func (h *Hub) handleDeleteMessage(userID string, ev models.ClientEvent) {
	if ev.MessageID == "" {
		return
	}
	if _, err := h.store.GetMessage(ev.MessageID); !errors.Is(err, models.ErrNotFound) {
		return
	}

	out := models.ServerEvent{
		Type:      models.ServerEventMessageDeleted,
		MessageID: ev.MessageID,
	}
	switch {
	case ev.CommunityID != "":
		h.registry.BroadcastExcept(models.CommunityChannel(ev.CommunityID), userID, out)
	case ev.RoomID != "":
		h.registry.BroadcastExcept(models.RoomChannel(ev.RoomID), userID, out)
	case ev.ReceiverID != "":
		h.registry.SendToUser(ev.ReceiverID, out)
	}
}

// handleJoinCommunity subscribes a live connection to a channel it was just
// approved into, without requiring a reconnect.
func (h *Hub) handleJoinCommunity(userID string, ev models.ClientEvent) {
	if ev.CommunityID == "" || !h.isActiveMember(ev.CommunityID, userID) {
		return
	}
	h.registry.Subscribe(userID, models.CommunityChannel(ev.CommunityID))

	sender, err := h.senderSummary(userID)
	if err != nil {
		return
	}
	h.registry.BroadcastExcept(models.CommunityChannel(ev.CommunityID), userID, models.ServerEvent{
		Type:        models.ServerEventCommunityMemberJoined,
		CommunityID: ev.CommunityID,
		User:        &sender,
	})
}

func (h *Hub) handleFriendEvent(userID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventFriendRequest:
		if ev.ReceiverID == "" {
			return
		}
		sender, err := h.senderSummary(userID)
		if err != nil {
			return
		}
		h.registry.SendToUser(ev.ReceiverID, models.ServerEvent{
			Type: models.ServerEventFriendRequestReceived,
			User: &sender,
		})
	case models.ClientEventFriendAccepted:
		if ev.FriendID == "" {
			return
		}
		// The original requester needs the full profile with presence to add
		// the new friend to their list.
		user, err := h.store.GetUser(userID)
		if err != nil {
			return
		}
		summary := user.Summary()
		h.registry.SendToUser(ev.FriendID, models.ServerEvent{
			Type: models.ServerEventFriendRequestAccepted,
			User: &summary,
		})
	case models.ClientEventFriendRejected:
		if ev.FriendID == "" {
			return
		}
		h.registry.SendToUser(ev.FriendID, models.ServerEvent{
			Type:   models.ServerEventFriendRequestRejected,
			UserID: userID,
		})
	}
}

var callMirror = map[models.ClientEventType]models.ServerEventType{
	models.ClientEventCallUser:     models.ServerEventIncomingCall,
	models.ClientEventCallAnswer:   models.ServerEventCallAnswered,
	models.ClientEventICECandidate: models.ServerEventICECandidate,
	models.ClientEventCallReject:   models.ServerEventCallRejected,
	models.ClientEventCallEnd:      models.ServerEventCallEnded,
}

// handleCallEvent relays a signaling payload verbatim to every live
// connection of the target. Nothing is persisted and no call state is kept.
func (h *Hub) handleCallEvent(userID, connID string, ev models.ClientEvent) {
	if ev.TargetUserID == "" {
		return
	}
	h.registry.SendToUser(ev.TargetUserID, models.ServerEvent{
		Type:    callMirror[ev.Type],
		From:    connID,
		UserID:  userID,
		Payload: ev.Payload,
	})
}

func (h *Hub) isActiveMember(communityID, userID string) bool {
	membership, err := h.store.GetMembership(communityID, userID)
	return err == nil && membership.Status == models.MemberActive
}

func (h *Hub) canSee(msg models.Message, userID string) bool {
	switch {
	case msg.CommunityID != "":
		return h.isActiveMember(msg.CommunityID, userID)
	case msg.RoomID != "":
		member, err := h.store.IsRoomMember(msg.RoomID, userID)
		return err == nil && member
	default:
		return userID == msg.SenderID || userID == msg.ReceiverID
	}
}

func (h *Hub) senderSummary(userID string) (models.UserSummary, error) {
	if summary, err := h.senders.Get(userID); err == nil {
		return summary, nil
	}
	user, err := h.store.GetUser(userID)
	if err != nil {
		return models.UserSummary{}, err
	}
	summary := user.Summary()
	h.senders.Set(userID, summary)
	return summary, nil
}

// messagePayload joins a persisted message with sender display metadata
// and, for replies, the quoted message.
func (h *Hub) messagePayload(msg models.Message) models.MessagePayload {
	payload := models.MessagePayload{Message: msg}
	if sender, err := h.senderSummary(msg.SenderID); err == nil {
		payload.SenderName = sender.Username
	}
	if msg.ReplyToID != "" {
		if quoted, err := h.store.GetMessage(msg.ReplyToID); err == nil {
			payload.ReplyContent = quoted.Content
			if author, err := h.senderSummary(quoted.SenderID); err == nil {
				payload.ReplyAuthor = author.Username
			}
		}
	}
	return payload
}

func messageKind(kind models.MessageKind) models.MessageKind {
	if kind == "" {
		return models.MessageKindText
	}
	return kind
}
