package models

import "encoding/json"

type ClientEventType string

const (
	ClientEventUserOnline       ClientEventType = "user-online"
	ClientEventPrivateMessage   ClientEventType = "private-message"
	ClientEventCommunityMessage ClientEventType = "community-message"
	ClientEventGroupMessage     ClientEventType = "group-message"
	ClientEventTyping           ClientEventType = "typing"
	ClientEventStopTyping       ClientEventType = "stop-typing"
	ClientEventMessagesRead     ClientEventType = "messages-read"
	ClientEventMessageReaction  ClientEventType = "message-reaction"
	ClientEventDeleteMessage    ClientEventType = "delete-message"
	ClientEventJoinCommunity    ClientEventType = "join-community"
	ClientEventFriendRequest    ClientEventType = "friend-request"
	ClientEventFriendAccepted   ClientEventType = "friend-accepted"
	ClientEventFriendRejected   ClientEventType = "friend-rejected"
	ClientEventCallUser         ClientEventType = "call-user"
	ClientEventCallAnswer       ClientEventType = "call-answer"
	ClientEventICECandidate     ClientEventType = "ice-candidate"
	ClientEventCallReject       ClientEventType = "call-reject"
	ClientEventCallEnd          ClientEventType = "call-end"
)

// ClientEvent is the closed union of events a connected client may send.
// Which fields are required depends on Type; handlers drop events with
// missing fields rather than erroring back.
type ClientEvent struct {
	Type         ClientEventType `json:"type"`
	ReceiverID   string          `json:"receiverId,omitempty"`
	CommunityID  string          `json:"communityId,omitempty"`
	RoomID       string          `json:"roomId,omitempty"`
	SenderID     string          `json:"senderId,omitempty"` // messages-read
	FriendID     string          `json:"friendId,omitempty"`
	Content      string          `json:"content,omitempty"`
	Kind         MessageKind     `json:"kind,omitempty"`
	ReplyToID    string          `json:"replyToId,omitempty"`
	MessageID    string          `json:"messageId,omitempty"`
	Emoji        string          `json:"emoji,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	// Payload is the opaque call-signaling body, relayed verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ServerEventType string

const (
	ServerEventUserStatus            ServerEventType = "user-status"
	ServerEventPrivateMessage        ServerEventType = "private-message"
	ServerEventMessageSent           ServerEventType = "message-sent"
	ServerEventCommunityMessage      ServerEventType = "community-message"
	ServerEventGroupMessage          ServerEventType = "group-message"
	ServerEventTyping                ServerEventType = "typing"
	ServerEventStopTyping            ServerEventType = "stop-typing"
	ServerEventMessagesRead          ServerEventType = "messages-read"
	ServerEventMessageReaction       ServerEventType = "message-reaction"
	ServerEventMessageDeleted        ServerEventType = "message-deleted"
	ServerEventCommunityMemberJoined ServerEventType = "community-member-joined"
	ServerEventFriendRequestReceived ServerEventType = "friend-request-received"
	ServerEventFriendRequestAccepted ServerEventType = "friend-request-accepted"
	ServerEventFriendRequestRejected ServerEventType = "friend-request-rejected"
	ServerEventIncomingCall          ServerEventType = "incoming-call"
	ServerEventCallAnswered          ServerEventType = "call-answered"
	ServerEventICECandidate          ServerEventType = "ice-candidate"
	ServerEventCallRejected          ServerEventType = "call-rejected"
	ServerEventCallEnded             ServerEventType = "call-ended"
)

// MessagePayload is a persisted message joined with sender display metadata
// and, for replies, the quoted message's content and author.
type MessagePayload struct {
	Message
	SenderName   string `json:"senderName"`
	ReplyContent string `json:"replyContent,omitempty"`
	ReplyAuthor  string `json:"replyAuthor,omitempty"`
}

// ReactionPayload carries the recomputed state of one (message, emoji) pill.
type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Count     int    `json:"count"`
	Reacted   bool   `json:"reacted"`
}

// ServerEvent is the closed union of events pushed to clients.
type ServerEvent struct {
	Type        ServerEventType  `json:"type"`
	UserID      string           `json:"userId,omitempty"`
	Username    string           `json:"username,omitempty"`
	Online      bool             `json:"online"` // user-status only
	CommunityID string           `json:"communityId,omitempty"`
	ReaderID    string           `json:"readerId,omitempty"`
	MessageID   string           `json:"messageId,omitempty"`
	Message     *MessagePayload  `json:"message,omitempty"`
	Reaction    *ReactionPayload `json:"reaction,omitempty"`
	User        *UserSummary     `json:"user,omitempty"`
	// From is the sending connection's identifier on call-signaling events,
	// so the target can correlate multi-step handshakes.
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
