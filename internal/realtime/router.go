package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Router tracks live connections and their room subscriptions, and fans
// payloads out to a room's subscribers.
//
// Membership is consulted under the lock at broadcast time, so once
// Leave returns, no later Broadcast for that room can reach the
// connection. That is the no-leakage guarantee the client relies on when
// it switches rooms. Per-room delivery order matches Broadcast call order
// because each connection's payloads flow through one ordered channel.
type Router struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection               // connectionID -> connection
	rooms        map[uuid.UUID]map[string]*Connection // roomID -> connectionID -> connection
	sessionRooms map[string]map[uuid.UUID]struct{}    // connectionID -> subscribed roomIDs
}

func NewRouter() *Router {
	return &Router{
		sessions:     make(map[string]*Connection),
		rooms:        make(map[uuid.UUID]map[string]*Connection),
		sessionRooms: make(map[string]map[uuid.UUID]struct{}),
	}
}

// Attach registers a connection and starts its write loop. Call it from
// the goroutine that will read the connection, before the first
// ReadFrame; Start arms the read-side deadline and pong handler.
func (r *Router) Attach(conn *Connection) {
	r.mu.Lock()
	r.sessions[conn.ID] = conn
	r.sessionRooms[conn.ID] = make(map[uuid.UUID]struct{})
	r.mu.Unlock()

	conn.Start()
}

// Detach removes a connection and all its subscriptions. The connection
// itself is closed by the caller.
func (r *Router) Detach(conn *Connection) {
	r.mu.Lock()
	r.detachLocked(conn.ID)
	r.mu.Unlock()
}

// Join subscribes the connection to a room. No-op if the connection was
// already detached, which closes the race between a late Join and
// connection teardown.
func (r *Router) Join(roomID uuid.UUID, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[conn.ID]; !ok {
		return
	}

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[roomID] = room
	}
	room[conn.ID] = conn
	r.sessionRooms[conn.ID][roomID] = struct{}{}
}

// Leave unsubscribes the connection from a room.
func (r *Router) Leave(roomID uuid.UUID, conn *Connection) {
	r.mu.Lock()
	r.leaveLocked(roomID, conn.ID)
	r.mu.Unlock()
}

// IsJoined reports whether the connection is subscribed to the room.
func (r *Router) IsJoined(roomID uuid.UUID, conn *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessionRooms[conn.ID][roomID]
	return ok
}

// Broadcast delivers payload to every connection subscribed to the room.
// excludeUserID, when non-nil, skips that user's connections (typing
// events go to everyone but the typist; messages echo to the sender).
// Returns the number of connections the payload was queued for.
func (r *Router) Broadcast(roomID uuid.UUID, payload []byte, excludeUserID *uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[roomID]
	if len(room) == 0 {
		return 0
	}

	delivered := 0
	for _, conn := range room {
		if excludeUserID != nil && conn.User.ID == *excludeUserID {
			continue
		}
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates all tracked connections and clears router state.
func (r *Router) Close() {
	r.mu.Lock()
	sessions := make([]*Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		sessions = append(sessions, conn)
	}
	r.sessions = make(map[string]*Connection)
	r.rooms = make(map[uuid.UUID]map[string]*Connection)
	r.sessionRooms = make(map[string]map[uuid.UUID]struct{})
	r.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(1001, "server shutdown")
	}
}

func (r *Router) detachLocked(connID string) {
	if _, ok := r.sessions[connID]; !ok {
		return
	}
	delete(r.sessions, connID)

	for roomID := range r.sessionRooms[connID] {
		r.leaveLocked(roomID, connID)
	}
	delete(r.sessionRooms, connID)
}

func (r *Router) leaveLocked(roomID uuid.UUID, connID string) {
	room := r.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	if memberships, ok := r.sessionRooms[connID]; ok {
		delete(memberships, roomID)
	}
}
