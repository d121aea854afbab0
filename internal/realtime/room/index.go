package room

import "sync"

// Index keeps two-way membership between rooms and connection IDs. Rooms
// exist exactly while they have members: first Join creates, last Leave
// deletes. Both directions are updated under one lock so they never
// disagree.
type Index struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
	conns map[string]map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to room. Joining twice is a no-op.
func (i *Index) Join(room, connID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	members, ok := i.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		i.rooms[room] = members
	}
	members[connID] = struct{}{}

	joined, ok := i.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		i.conns[connID] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes connID from room, deleting the room when it empties.
// Leaving a room the connection is not in is a no-op.
func (i *Index) Leave(room, connID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.leaveLocked(room, connID)
}

// LeaveAll removes connID from every room it joined.
func (i *Index) LeaveAll(connID string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for room := range i.conns[connID] {
		i.leaveLocked(room, connID)
	}
}

func (i *Index) leaveLocked(room, connID string) {
	if members, ok := i.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(i.rooms, room)
		}
	}
	if joined, ok := i.conns[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(i.conns, connID)
		}
	}
}

func (i *Index) IsMember(room, connID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.rooms[room][connID]
	return ok
}

// Members returns a snapshot of the connection IDs in room.
func (i *Index) Members(room string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	members := i.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Rooms returns a snapshot of the rooms connID has joined.
func (i *Index) Rooms(connID string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	joined := i.conns[connID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	return out
}

func (i *Index) MemberCount(room string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.rooms[room])
}

// Exists reports whether room currently has members. An emptied room is
// indistinguishable from one never created.
func (i *Index) Exists(room string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.rooms[room]
	return ok
}
