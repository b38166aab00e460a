package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID       string `msgpack:"id"`
	Username string `msgpack:"username"`
	Online   bool   `msgpack:"online"`
	LastSeen int64  `msgpack:"lastSeen"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBToken struct {
	UserID string `msgpack:"userId"`
	Token  string `msgpack:"token"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Token)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBCommunity struct {
	ID          string `msgpack:"id"`
	Name        string `msgpack:"name"`
	Description string `msgpack:"description"`
	AccessCode  string `msgpack:"accessCode"`
	CreatedBy   string `msgpack:"createdBy"`
	CreatedAt   int64  `msgpack:"createdAt"`
}

func (c *DBCommunity) Key() []byte {
	return []byte(c.ID)
}

func (c *DBCommunity) MarshalBinary() (data []byte, err error) {
	type alias DBCommunity
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCommunity) UnmarshalBinary(data []byte) error {
	type alias DBCommunity
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBRoom struct {
	ID        string `msgpack:"id"`
	Name      string `msgpack:"name"`
	CreatedBy string `msgpack:"createdBy"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

// DBMembership lives in a nested bucket per community or room, keyed by the
// member's user id.
type DBMembership struct {
	UserID   string `msgpack:"userId"`
	Role     string `msgpack:"role"`
	Status   string `msgpack:"status"`
	JoinedAt int64  `msgpack:"joinedAt"`
}

func (m *DBMembership) Key() []byte {
	return []byte(m.UserID)
}

func (m *DBMembership) MarshalBinary() (data []byte, err error) {
	type alias DBMembership
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMembership) UnmarshalBinary(data []byte) error {
	type alias DBMembership
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessage lives in a nested bucket per conversation, keyed by timestamp
// then id so a cursor walk yields server-assigned chronological order.
type DBMessage struct {
	ID          string `msgpack:"id"`
	SenderID    string `msgpack:"senderId"`
	ReceiverID  string `msgpack:"receiverId"`
	CommunityID string `msgpack:"communityId"`
	RoomID      string `msgpack:"roomId"`
	Content     string `msgpack:"content"`
	Kind        string `msgpack:"kind"`
	Timestamp   int64  `msgpack:"timestamp"`
	Read        bool   `msgpack:"read"`
	ReplyToID   string `msgpack:"replyToId"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.Timestamp))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef is the message_index row pointing a message id at its
// conversation bucket and full key.
type DBMessageRef struct {
	ID           string `msgpack:"id"`
	Conversation string `msgpack:"conversation"`
	MsgKey       []byte `msgpack:"msgKey"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.ID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBFriendship struct {
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Status     string `msgpack:"status"`
	CreatedAt  int64  `msgpack:"createdAt"`
}

// Key is the unordered user pair, so at most one relationship row can exist
// per pair.
func (f *DBFriendship) Key() []byte {
	return pairKey(f.SenderID, f.ReceiverID)
}

func (f *DBFriendship) MarshalBinary() (data []byte, err error) {
	type alias DBFriendship
	return msgpack.Marshal((*alias)(f))
}

func (f *DBFriendship) UnmarshalBinary(data []byte) error {
	type alias DBFriendship
	return msgpack.Unmarshal(data, (*alias)(f))
}
