package ws

import (
	"sync"

	"aether/internal/models"
)

// sendBuffer is the per-connection outbound queue. A full queue drops the
// event; missed live pushes are recovered via history re-fetch, never
// retried.
const sendBuffer = 100

// Registry is the process-wide record of live connections and their channel
// subscriptions. A user may hold several connections at once; presence is
// derived from the count, not from any single socket.
type Registry struct {
	mu sync.RWMutex

	// userID -> connID -> outbound event queue
	conns map[string]map[string]chan models.ServerEvent

	// channel key -> set of subscribed userIDs
	channels map[string]map[string]struct{}

	// users that sent an explicit user-online since connecting
	announced map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]map[string]chan models.ServerEvent),
		channels:  make(map[string]map[string]struct{}),
		announced: make(map[string]struct{}),
	}
}

// Add registers a connection and returns its outbound queue.
func (r *Registry) Add(userID, connID string) chan models.ServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan models.ServerEvent, sendBuffer)
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[string]chan models.ServerEvent)
	}
	r.conns[userID][connID] = ch
	return ch
}

// Remove drops a connection and reports whether it was the user's last one.
// On the last removal the user is also unsubscribed from every channel.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.conns[userID]
	if !ok {
		return false
	}
	ch, ok := conns[connID]
	if !ok {
		return false
	}
	close(ch)
	delete(conns, connID)
	if len(conns) > 0 {
		return false
	}

	delete(r.conns, userID)
	delete(r.announced, userID)
	for key, members := range r.channels {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.channels, key)
		}
	}
	return true
}

// MarkOnline records that the user announced themselves with a user-online
// event.
func (r *Registry) MarkOnline(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[userID]; ok {
		r.announced[userID] = struct{}{}
	}
}

// IsOnline reports whether the user has at least one live connection and has
// announced themselves since connecting.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, announced := r.announced[userID]
	return announced && len(r.conns[userID]) > 0
}

func (r *Registry) Subscribe(userID string, ch models.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ch.String()
	if r.channels[key] == nil {
		r.channels[key] = make(map[string]struct{})
	}
	r.channels[key][userID] = struct{}{}
}

func (r *Registry) Unsubscribe(userID string, ch models.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ch.String()
	if members, ok := r.channels[key]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.channels, key)
		}
	}
}

// SendToUser delivers an event to every live connection of one user.
func (r *Registry) SendToUser(userID string, ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.conns[userID] {
		push(ch, ev)
	}
}

// SendToConn delivers an event to a single connection.
func (r *Registry) SendToConn(userID, connID string, ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ch, ok := r.conns[userID][connID]; ok {
		push(ch, ev)
	}
}

// Broadcast delivers an event to every connection of every user subscribed
// to the channel.
func (r *Registry) Broadcast(channel models.Channel, ev models.ServerEvent) {
	r.broadcast(channel, "", ev)
}

// BroadcastExcept is Broadcast minus one user, for events where the actor
// already knows (typing, member-joined, delete relays).
func (r *Registry) BroadcastExcept(channel models.Channel, exceptUserID string, ev models.ServerEvent) {
	r.broadcast(channel, exceptUserID, ev)
}

func (r *Registry) broadcast(channel models.Channel, exceptUserID string, ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID := range r.channels[channel.String()] {
		if userID == exceptUserID {
			continue
		}
		for _, ch := range r.conns[userID] {
			push(ch, ev)
		}
	}
}

// BroadcastAll delivers an event to every live connection regardless of
// channel membership. Presence changes use this deliberately.
func (r *Registry) BroadcastAll(ev models.ServerEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conns := range r.conns {
		for _, ch := range conns {
			push(ch, ev)
		}
	}
}

func push(ch chan models.ServerEvent, ev models.ServerEvent) {
	select {
	case ch <- ev:
	default:
		// Slow consumer, drop. History re-fetch covers the gap.
	}
}
