package storage

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"aether/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers            = []byte("users")
	bucketTokens           = []byte("tokens")
	bucketCommunities      = []byte("communities")
	bucketCommunityCodes   = []byte("community_codes")
	bucketCommunityMembers = []byte("community_members")
	bucketRooms            = []byte("rooms")
	bucketRoomMembers      = []byte("room_members")
	bucketMessages         = []byte("messages")
	bucketMessageIndex     = []byte("message_index")
	bucketReactions        = []byte("reactions")
	bucketDeletedMessages  = []byte("deleted_messages")
	bucketFriendships      = []byte("friendships")
)

var allBuckets = [][]byte{
	bucketUsers, bucketTokens,
	bucketCommunities, bucketCommunityCodes, bucketCommunityMembers,
	bucketRooms, bucketRoomMembers,
	bucketMessages, bucketMessageIndex,
	bucketReactions, bucketDeletedMessages,
	bucketFriendships,
}

const dmPrefix = "dm:"

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// pairKey builds a key from an unordered user pair.
func pairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}

// dmConversation is the nested-bucket name for the direct message history
// between two users, the same for both directions.
func dmConversation(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return dmPrefix + ids[0] + ":" + ids[1]
}

// conversationFor maps a message to its history bucket name.
func conversationFor(m models.Message) string {
	switch {
	case m.CommunityID != "":
		return models.CommunityChannel(m.CommunityID).String()
	case m.RoomID != "":
		return models.RoomChannel(m.RoomID).String()
	default:
		return dmConversation(m.SenderID, m.ReceiverID)
	}
}

// --- Users ---

func (s *BboltStorage) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:       user.ID,
			Username: user.Username,
			Online:   user.Presence.Online,
			LastSeen: user.Presence.LastSeen,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		u, err := getUser(tx, id)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, err
}

func getUser(tx *bbolt.Tx, id string) (models.User, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return models.User{}, models.ErrNotFound
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return models.User{}, err
	}
	return models.User{
		ID:       dbUser.ID,
		Username: dbUser.Username,
		Presence: models.Presence{
			Online:   dbUser.Online,
			LastSeen: dbUser.LastSeen,
		},
	}, nil
}

func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, models.User{
				ID:       dbUser.ID,
				Username: dbUser.Username,
				Presence: models.Presence{
					Online:   dbUser.Online,
					LastSeen: dbUser.LastSeen,
				},
			})
			return nil
		})
	})
	return users, err
}

// SetPresence persists the online flag and last-seen timestamp.
func (s *BboltStorage) SetPresence(id string, online bool, lastSeen int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.Online = online
		dbUser.LastSeen = lastSeen
		newData, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), newData)
	})
}

// --- Tokens ---

func (s *BboltStorage) UpsertToken(userID, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbToken := &DBToken{UserID: userID, Token: token}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) LookupToken(token string) (string, error) {
	var userID string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(token))
		if data == nil {
			return models.ErrNotFound
		}
		var dbToken DBToken
		if err := dbToken.UnmarshalBinary(data); err != nil {
			return err
		}
		userID = dbToken.UserID
		return nil
	})
	return userID, err
}

// --- Communities and memberships ---

// CreateCommunity stores the community, its access code index and the owner
// membership in one transaction.
func (s *BboltStorage) CreateCommunity(c models.Community) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketCommunityCodes).Get([]byte(c.AccessCode)) != nil {
			return models.ErrConflict
		}

		dbCommunity := &DBCommunity{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			AccessCode:  c.AccessCode,
			CreatedBy:   c.CreatedBy,
			CreatedAt:   c.CreatedAt,
		}
		data, err := dbCommunity.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCommunities).Put(dbCommunity.Key(), data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCommunityCodes).Put([]byte(c.AccessCode), []byte(c.ID)); err != nil {
			return err
		}

		return putMembership(tx, bucketCommunityMembers, c.ID, DBMembership{
			UserID:   c.CreatedBy,
			Role:     string(models.RoleOwner),
			Status:   string(models.MemberActive),
			JoinedAt: c.CreatedAt,
		})
	})
}

func putMembership(tx *bbolt.Tx, bucket []byte, groupID string, m DBMembership) error {
	b, err := tx.Bucket(bucket).CreateBucketIfNotExists([]byte(groupID))
	if err != nil {
		return err
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(m.Key(), data)
}

func (s *BboltStorage) GetCommunity(id string) (models.Community, error) {
	var community models.Community
	err := s.db.View(func(tx *bbolt.Tx) error {
		c, err := getCommunity(tx, id)
		if err != nil {
			return err
		}
		community = c
		return nil
	})
	return community, err
}

func getCommunity(tx *bbolt.Tx, id string) (models.Community, error) {
	data := tx.Bucket(bucketCommunities).Get([]byte(id))
	if data == nil {
		return models.Community{}, models.ErrNotFound
	}
	var dbCommunity DBCommunity
	if err := dbCommunity.UnmarshalBinary(data); err != nil {
		return models.Community{}, err
	}
	return models.Community{
		ID:          dbCommunity.ID,
		Name:        dbCommunity.Name,
		Description: dbCommunity.Description,
		AccessCode:  dbCommunity.AccessCode,
		CreatedBy:   dbCommunity.CreatedBy,
		CreatedAt:   dbCommunity.CreatedAt,
	}, nil
}

func (s *BboltStorage) GetCommunityByCode(code string) (models.Community, error) {
	var community models.Community
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketCommunityCodes).Get([]byte(code))
		if id == nil {
			return models.ErrNotFound
		}
		c, err := getCommunity(tx, string(id))
		if err != nil {
			return err
		}
		community = c
		return nil
	})
	return community, err
}

// RequestJoin records a pending membership. Duplicate active or pending
// memberships are conflicts, matching the join-approval workflow.
func (s *BboltStorage) RequestJoin(communityID, userID string, now int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketCommunities).Get([]byte(communityID)) == nil {
			return models.ErrNotFound
		}
		if b := tx.Bucket(bucketCommunityMembers).Bucket([]byte(communityID)); b != nil {
			if b.Get([]byte(userID)) != nil {
				return models.ErrConflict
			}
		}
		return putMembership(tx, bucketCommunityMembers, communityID, DBMembership{
			UserID:   userID,
			Role:     string(models.RoleMember),
			Status:   string(models.MemberPending),
			JoinedAt: now,
		})
	})
}

// ApproveMember flips a pending membership to active.
func (s *BboltStorage) ApproveMember(communityID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCommunityMembers).Bucket([]byte(communityID))
		if b == nil {
			return models.ErrNotFound
		}
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}
		var m DBMembership
		if err := m.UnmarshalBinary(data); err != nil {
			return err
		}
		if m.Status != string(models.MemberPending) {
			return models.ErrNotFound
		}
		m.Status = string(models.MemberActive)
		newData, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(m.Key(), newData)
	})
}

// RemoveMember drops a membership row (reject, kick or leave).
func (s *BboltStorage) RemoveMember(communityID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCommunityMembers).Bucket([]byte(communityID))
		if b == nil {
			return models.ErrNotFound
		}
		if b.Get([]byte(userID)) == nil {
			return models.ErrNotFound
		}
		return b.Delete([]byte(userID))
	})
}

func (s *BboltStorage) GetMembership(communityID, userID string) (models.Membership, error) {
	var membership models.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCommunityMembers).Bucket([]byte(communityID))
		if b == nil {
			return models.ErrNotFound
		}
		data := b.Get([]byte(userID))
		if data == nil {
			return models.ErrNotFound
		}
		var m DBMembership
		if err := m.UnmarshalBinary(data); err != nil {
			return err
		}
		membership = toMembership(m)
		return nil
	})
	return membership, err
}

func toMembership(m DBMembership) models.Membership {
	return models.Membership{
		UserID:   m.UserID,
		Role:     models.MemberRole(m.Role),
		Status:   models.MemberStatus(m.Status),
		JoinedAt: m.JoinedAt,
	}
}

// ListMembers returns community memberships, filtered by status unless
// status is empty.
func (s *BboltStorage) ListMembers(communityID string, status models.MemberStatus) ([]models.Membership, error) {
	var members []models.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCommunityMembers).Bucket([]byte(communityID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var m DBMembership
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			if status != "" && m.Status != string(status) {
				return nil
			}
			members = append(members, toMembership(m))
			return nil
		})
	})
	return members, err
}

// ListUserChannels returns every community and room channel where the user
// has an active membership. The self channel is the caller's concern.
func (s *BboltStorage) ListUserChannels(userID string) ([]models.Channel, error) {
	var channels []models.Channel
	err := s.db.View(func(tx *bbolt.Tx) error {
		communityMembers := tx.Bucket(bucketCommunityMembers)
		err := communityMembers.ForEachBucket(func(k []byte) error {
			data := communityMembers.Bucket(k).Get([]byte(userID))
			if data == nil {
				return nil
			}
			var m DBMembership
			if err := m.UnmarshalBinary(data); err != nil {
				return err
			}
			if m.Status == string(models.MemberActive) {
				channels = append(channels, models.CommunityChannel(string(k)))
			}
			return nil
		})
		if err != nil {
			return err
		}

		roomMembers := tx.Bucket(bucketRoomMembers)
		return roomMembers.ForEachBucket(func(k []byte) error {
			if roomMembers.Bucket(k).Get([]byte(userID)) != nil {
				channels = append(channels, models.RoomChannel(string(k)))
			}
			return nil
		})
	})
	return channels, err
}

func (s *BboltStorage) ListUserCommunities(userID string) ([]models.Community, error) {
	channels, err := s.ListUserChannels(userID)
	if err != nil {
		return nil, err
	}
	var communities []models.Community
	err = s.db.View(func(tx *bbolt.Tx) error {
		for _, ch := range channels {
			if ch.Kind != models.ChannelCommunity {
				continue
			}
			c, err := getCommunity(tx, ch.ID)
			if err != nil {
				return err
			}
			communities = append(communities, c)
		}
		return nil
	})
	return communities, err
}

// --- Rooms ---

func (s *BboltStorage) CreateRoom(room models.Room, memberIDs []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbRoom := &DBRoom{
			ID:        room.ID,
			Name:      room.Name,
			CreatedBy: room.CreatedBy,
			CreatedAt: room.CreatedAt,
		}
		data, err := dbRoom.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRooms).Put(dbRoom.Key(), data); err != nil {
			return err
		}

		for _, memberID := range append([]string{room.CreatedBy}, memberIDs...) {
			err := putMembership(tx, bucketRoomMembers, room.ID, DBMembership{
				UserID:   memberID,
				Role:     string(models.RoleMember),
				Status:   string(models.MemberActive),
				JoinedAt: room.CreatedAt,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BboltStorage) GetRoom(id string) (models.Room, error) {
	var room models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRooms).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbRoom DBRoom
		if err := dbRoom.UnmarshalBinary(data); err != nil {
			return err
		}
		room = models.Room{
			ID:        dbRoom.ID,
			Name:      dbRoom.Name,
			CreatedBy: dbRoom.CreatedBy,
			CreatedAt: dbRoom.CreatedAt,
		}
		return nil
	})
	return room, err
}

func (s *BboltStorage) IsRoomMember(roomID, userID string) (bool, error) {
	var member bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRoomMembers).Bucket([]byte(roomID))
		member = b != nil && b.Get([]byte(userID)) != nil
		return nil
	})
	return member, err
}

// --- Messages ---

func (s *BboltStorage) InsertMessage(m models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		conversation := conversationFor(m)
		b, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conversation))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}

		dbMessage := fromMessage(m)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := b.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := &DBMessageRef{ID: m.ID, Conversation: conversation, MsgKey: dbMessage.Key()}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIndex).Put(ref.Key(), refData)
	})
}

func fromMessage(m models.Message) DBMessage {
	return DBMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		CommunityID: m.CommunityID,
		RoomID:      m.RoomID,
		Content:     m.Content,
		Kind:        string(m.Kind),
		Timestamp:   m.Timestamp,
		Read:        m.Read,
		ReplyToID:   m.ReplyToID,
	}
}

func toMessage(m DBMessage) models.Message {
	return models.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		CommunityID: m.CommunityID,
		RoomID:      m.RoomID,
		Content:     m.Content,
		Kind:        models.MessageKind(m.Kind),
		Timestamp:   m.Timestamp,
		Read:        m.Read,
		ReplyToID:   m.ReplyToID,
	}
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var message models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		m, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		message = m
		return nil
	})
	return message, err
}

func getMessage(tx *bbolt.Tx, id string) (models.Message, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if refData == nil {
		return models.Message{}, models.ErrNotFound
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return models.Message{}, err
	}
	b := tx.Bucket(bucketMessages).Bucket([]byte(ref.Conversation))
	if b == nil {
		return models.Message{}, models.ErrNotFound
	}
	data := b.Get(ref.MsgKey)
	if data == nil {
		return models.Message{}, models.ErrNotFound
	}
	var dbMessage DBMessage
	if err := dbMessage.UnmarshalBinary(data); err != nil {
		return models.Message{}, err
	}
	return toMessage(dbMessage), nil
}

// DeleteMessage hard-removes a message, its index row, its reactions and any
// per-viewer suppressions.
func (s *BboltStorage) DeleteMessage(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
		if refData == nil {
			return models.ErrNotFound
		}
		var ref DBMessageRef
		if err := ref.UnmarshalBinary(refData); err != nil {
			return err
		}

		if b := tx.Bucket(bucketMessages).Bucket([]byte(ref.Conversation)); b != nil {
			if err := b.Delete(ref.MsgKey); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketMessageIndex).Delete([]byte(id)); err != nil {
			return err
		}
		if tx.Bucket(bucketReactions).Bucket([]byte(id)) != nil {
			if err := tx.Bucket(bucketReactions).DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}

		deleted := tx.Bucket(bucketDeletedMessages)
		prefix := append([]byte(id), 0)
		c := deleted.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
			if err := deleted.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// SuppressMessage records a per-viewer deletion. Insert-or-ignore.
func (s *BboltStorage) SuppressMessage(messageID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := suppressionKey(messageID, userID)
		return tx.Bucket(bucketDeletedMessages).Put(key, []byte{1})
	})
}

func suppressionKey(messageID, userID string) []byte {
	return []byte(messageID + "\x00" + userID)
}

func isSuppressed(tx *bbolt.Tx, messageID, userID string) bool {
	return tx.Bucket(bucketDeletedMessages).Get(suppressionKey(messageID, userID)) != nil
}

// MarkRead flips unread direct messages from sender to receiver to read and
// returns how many were flipped.
func (s *BboltStorage) MarkRead(senderID, receiverID string) (int, error) {
	var flipped int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(dmConversation(senderID, receiverID)))
		if b == nil {
			return nil
		}

		// Collect first: mutating a bucket during ForEach is not allowed.
		type update struct {
			key  []byte
			data []byte
		}
		var updates []update
		err := b.ForEach(func(k, v []byte) error {
			var m DBMessage
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			if m.SenderID != senderID || m.ReceiverID != receiverID || m.Read {
				return nil
			}
			m.Read = true
			data, err := m.MarshalBinary()
			if err != nil {
				return err
			}
			updates = append(updates, update{key: append([]byte(nil), k...), data: data})
			return nil
		})
		if err != nil {
			return err
		}

		for _, u := range updates {
			if err := b.Put(u.key, u.data); err != nil {
				return err
			}
			flipped++
		}
		return nil
	})
	return flipped, err
}

// ListDirectMessages returns the direct history between viewer and peer in
// timestamp order, omitting messages the viewer deleted for themselves.
func (s *BboltStorage) ListDirectMessages(viewerID, peerID string, limit int) ([]models.Message, error) {
	return s.listConversation(dmConversation(viewerID, peerID), viewerID, limit)
}

func (s *BboltStorage) ListCommunityMessages(communityID, viewerID string, limit int) ([]models.Message, error) {
	return s.listConversation(models.CommunityChannel(communityID).String(), viewerID, limit)
}

func (s *BboltStorage) ListRoomMessages(roomID, viewerID string, limit int) ([]models.Message, error) {
	return s.listConversation(models.RoomChannel(roomID).String(), viewerID, limit)
}

func (s *BboltStorage) listConversation(conversation, viewerID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages).Bucket([]byte(conversation))
		if b == nil {
			return nil // no messages yet
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(messages) < limit; k, v = c.Next() {
			var m DBMessage
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			if isSuppressed(tx, m.ID, viewerID) {
				continue
			}
			messages = append(messages, toMessage(m))
		}
		return nil
	})
	return messages, err
}

// UnreadCounts returns, per sender, the number of unread direct messages
// addressed to the receiver.
func (s *BboltStorage) UnreadCounts(receiverID string) (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		return messages.ForEachBucket(func(name []byte) error {
			conversation := string(name)
			if !strings.HasPrefix(conversation, dmPrefix) {
				return nil
			}
			parts := strings.SplitN(conversation[len(dmPrefix):], ":", 2)
			if len(parts) != 2 || (parts[0] != receiverID && parts[1] != receiverID) {
				return nil
			}
			return messages.Bucket(name).ForEach(func(k, v []byte) error {
				var m DBMessage
				if err := m.UnmarshalBinary(v); err != nil {
					return err
				}
				if m.ReceiverID != receiverID || m.Read || isSuppressed(tx, m.ID, receiverID) {
					return nil
				}
				counts[m.SenderID]++
				return nil
			})
		})
	})
	return counts, err
}

// --- Reactions ---

// ToggleReaction flips the (message, user, emoji) reaction row inside one
// transaction and returns the recomputed count and whether the user now has
// the reaction. bbolt serializes writers, so concurrent identical toggles
// cannot double-count.
func (s *BboltStorage) ToggleReaction(messageID, userID, emoji string) (int, bool, error) {
	var (
		count   int
		reacted bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketMessageIndex).Get([]byte(messageID)) == nil {
			return models.ErrNotFound
		}
		b, err := tx.Bucket(bucketReactions).CreateBucketIfNotExists([]byte(messageID))
		if err != nil {
			return err
		}

		key := []byte(userID + "\x00" + emoji)
		if b.Get(key) != nil {
			if err := b.Delete(key); err != nil {
				return err
			}
			reacted = false
		} else {
			if err := b.Put(key, []byte{1}); err != nil {
				return err
			}
			reacted = true
		}

		suffix := []byte("\x00" + emoji)
		return b.ForEach(func(k, v []byte) error {
			if bytes.HasSuffix(k, suffix) {
				count++
			}
			return nil
		})
	})
	return count, reacted, err
}

// --- Friendships ---

// RequestFriend creates or reopens a friend request. An existing accepted or
// pending relationship is a conflict; a rejected one flips back to pending
// with the new sender.
func (s *BboltStorage) RequestFriend(senderID, receiverID string, now int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships)
		key := pairKey(senderID, receiverID)
		if data := b.Get(key); data != nil {
			var f DBFriendship
			if err := f.UnmarshalBinary(data); err != nil {
				return err
			}
			if f.Status != string(models.FriendRejected) {
				return models.ErrConflict
			}
		}
		f := &DBFriendship{
			SenderID:   senderID,
			ReceiverID: receiverID,
			Status:     string(models.FriendPending),
			CreatedAt:  now,
		}
		data, err := f.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BboltStorage) setFriendStatus(receiverID, senderID string, status models.FriendshipStatus) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFriendships)
		key := pairKey(senderID, receiverID)
		data := b.Get(key)
		if data == nil {
			return models.ErrNotFound
		}
		var f DBFriendship
		if err := f.UnmarshalBinary(data); err != nil {
			return err
		}
		// Only the addressee of a pending request can resolve it.
		if f.Status != string(models.FriendPending) || f.ReceiverID != receiverID {
			return models.ErrNotFound
		}
		f.Status = string(status)
		newData, err := f.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, newData)
	})
}

func (s *BboltStorage) AcceptFriend(receiverID, senderID string) error {
	return s.setFriendStatus(receiverID, senderID, models.FriendAccepted)
}

func (s *BboltStorage) RejectFriend(receiverID, senderID string) error {
	return s.setFriendStatus(receiverID, senderID, models.FriendRejected)
}

func (s *BboltStorage) GetFriendship(a, b string) (models.Friendship, error) {
	var friendship models.Friendship
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFriendships).Get(pairKey(a, b))
		if data == nil {
			return models.ErrNotFound
		}
		var f DBFriendship
		if err := f.UnmarshalBinary(data); err != nil {
			return err
		}
		friendship = models.Friendship{
			SenderID:   f.SenderID,
			ReceiverID: f.ReceiverID,
			Status:     models.FriendshipStatus(f.Status),
			CreatedAt:  f.CreatedAt,
		}
		return nil
	})
	return friendship, err
}

// ListFriends returns the users on the other end of accepted friendships.
func (s *BboltStorage) ListFriends(userID string) ([]models.User, error) {
	var friends []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFriendships).ForEach(func(k, v []byte) error {
			var f DBFriendship
			if err := f.UnmarshalBinary(v); err != nil {
				return err
			}
			if f.Status != string(models.FriendAccepted) {
				return nil
			}
			var otherID string
			switch userID {
			case f.SenderID:
				otherID = f.ReceiverID
			case f.ReceiverID:
				otherID = f.SenderID
			default:
				return nil
			}
			user, err := getUser(tx, otherID)
			if err != nil {
				return err
			}
			friends = append(friends, user)
			return nil
		})
	})
	return friends, err
}
