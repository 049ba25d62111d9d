package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/media"
	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

// Registry owns the live rooms. Every room carries its own media router;
// the registry allocates one on first join and releases it when the room
// empties out.
type Registry struct {
	engine media.Engine

	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

func NewRegistry(engine media.Engine) *Registry {
	return &Registry{
		engine: engine,
		rooms:  make(map[string]*domain.Room),
	}
}

// GetOrCreate returns the room with the given ID, creating it with a fresh
// router when it does not exist yet. The second return reports creation.
func (r *Registry) GetOrCreate(ctx context.Context, roomID string) (*domain.Room, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[roomID]; ok {
		return room, false, nil
	}

	router, err := r.engine.NewRouter(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrEngineAllocation, err)
	}
	room := domain.NewRoom(roomID, router)
	r.rooms[roomID] = room

	pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).Msg("room created")
	return room, true, nil
}

// Get returns a room by ID.
func (r *Registry) Get(roomID string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// Rooms snapshots the current room set. Callers take each room's lock
// before inspecting it.
func (r *Registry) Rooms() []*domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

// RemoveIfEmpty destroys the room when nobody is left in it, releasing its
// router. The emptiness check happens under the room lock before the
// registry drops it, so a concurrent join either lands first and keeps the
// room alive or observes a fresh room on its next GetOrCreate.
func (r *Registry) RemoveIfEmpty(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}

	room.Mu.Lock()
	empty := room.Empty()
	if empty {
		room.Removed = true
	}
	room.Mu.Unlock()
	if !empty {
		return false
	}

	delete(r.rooms, roomID)
	if err := room.Router.Close(); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("router close failed")
	}
	pkglog.L().Info().Str(pkglog.FieldRoomID, roomID).Msg("room destroyed")
	return true
}

// Close tears down every room concurrently and then the engine itself.
// Used on shutdown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[string]*domain.Room)
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, room := range rooms {
		room := room
		g.Go(func() error {
			room.Mu.Lock()
			defer room.Mu.Unlock()
			room.Removed = true
			for _, p := range room.Peers {
				for _, c := range p.Consumers {
					c.Close()
				}
				for _, prod := range p.Producers {
					prod.Close()
				}
				for _, t := range p.Transports {
					t.Close()
				}
			}
			return room.Router.Close()
		})
	}
	if err := g.Wait(); err != nil {
		pkglog.L().Warn().Err(err).Msg("room teardown failed")
	}
	return r.engine.Close()
}
