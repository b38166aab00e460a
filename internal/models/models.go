package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrForbidden = errors.New("forbidden")
)

// User represents a user in the system.
type User struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Presence Presence `json:"presence"`
}

// Presence represents the online status of a user.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

// UserSummary is the sender metadata joined onto outgoing events.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online,omitempty"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

func (u User) Summary() UserSummary {
	return UserSummary{
		ID:       u.ID,
		Username: u.Username,
		Online:   u.Presence.Online,
		LastSeen: u.Presence.LastSeen,
	}
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindFile  MessageKind = "file"
)

// Message is a persisted chat message. Exactly one of ReceiverID,
// CommunityID and RoomID is set.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"senderId"`
	ReceiverID  string      `json:"receiverId,omitempty"`
	CommunityID string      `json:"communityId,omitempty"`
	RoomID      string      `json:"roomId,omitempty"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"kind"`
	Timestamp   int64       `json:"timestamp"` // Unix timestamp (nanoseconds)
	Read        bool        `json:"read"`
	ReplyToID   string      `json:"replyToId,omitempty"`
}

// Channel returns the broadcast scope the message belongs to. For a direct
// message that is the receiver's self channel.
func (m Message) Channel() Channel {
	switch {
	case m.CommunityID != "":
		return CommunityChannel(m.CommunityID)
	case m.RoomID != "":
		return RoomChannel(m.RoomID)
	default:
		return SelfChannel(m.ReceiverID)
	}
}

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
)

// Membership grants a user visibility in a community or room.
type Membership struct {
	UserID   string       `json:"userId"`
	Role     MemberRole   `json:"role"`
	Status   MemberStatus `json:"status"`
	JoinedAt int64        `json:"joinedAt"`
}

// Community is an access-code-gated group with a join-approval workflow.
type Community struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AccessCode  string `json:"accessCode,omitempty"`
	CreatedBy   string `json:"createdBy"`
	CreatedAt   int64  `json:"createdAt"`
}

// Room is a plain group chat without the approval workflow.
type Room struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"`
}

type FriendshipStatus string

const (
	FriendPending  FriendshipStatus = "pending"
	FriendAccepted FriendshipStatus = "accepted"
	FriendRejected FriendshipStatus = "rejected"
)

// Friendship holds at most one non-rejected relationship per unordered
// user pair.
type Friendship struct {
	SenderID   string           `json:"senderId"`
	ReceiverID string           `json:"receiverId"`
	Status     FriendshipStatus `json:"status"`
	CreatedAt  int64            `json:"createdAt"`
}

type ChannelKind string

const (
	ChannelSelf      ChannelKind = "user"
	ChannelRoom      ChannelKind = "room"
	ChannelCommunity ChannelKind = "community"
)

// Channel is a logical broadcast scope: a user's own identity, a room or a
// community.
type Channel struct {
	Kind ChannelKind
	ID   string
}

func SelfChannel(userID string) Channel {
	return Channel{Kind: ChannelSelf, ID: userID}
}

func RoomChannel(roomID string) Channel {
	return Channel{Kind: ChannelRoom, ID: roomID}
}

func CommunityChannel(communityID string) Channel {
	return Channel{Kind: ChannelCommunity, ID: communityID}
}

func (c Channel) String() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.ID)
}
