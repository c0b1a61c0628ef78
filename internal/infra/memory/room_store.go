package memory

import (
	"context"
	"sync"

	"coderoom-service/internal/app"
	"coderoom-service/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomRepository.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.LiveRoom
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.LiveRoom),
	}
}

func (s *RoomStore) Insert(room *app.LiveRoom) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Code()]; ok {
		return false
	}
	s.rooms[room.Code()] = room
	return true
}

func (s *RoomStore) Get(code string) (*app.LiveRoom, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
}

func (s *RoomStore) All() []*app.LiveRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*app.LiveRoom, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Save is a no-op: the live room already is the authoritative copy.
func (s *RoomStore) Save(context.Context, domain.Room) {}
