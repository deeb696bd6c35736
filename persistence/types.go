package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/negohq/negochat/config"
	"github.com/negohq/negochat/types"
)

// ErrNotFound is returned when a referenced record does not exist. Backends
// translate their native not-found errors into this one.
var ErrNotFound = errors.New("record not found")

// Persister is the storage contract of the coordination engine. Both
// backends provide the same semantics: idempotent membership writes,
// single-shot join request consumption and a last-message cache on rooms.
type Persister interface {
	// CreateRoom stores a new room. Missing identifiers (id, code, invite
	// token) are generated; a join code collision is retried once.
	CreateRoom(room *types.Room) error
	GetRoom(id string) (*types.Room, error)
	GetRoomByCode(code int) (*types.Room, error)
	GetRoomByInviteToken(token string) (*types.Room, error)
	GetRooms() ([]*types.Room, error)
	StoreRoom(room types.Room) error
	// RotateInviteToken replaces a room's invite credential and returns the
	// new token. Outstanding join requests are unaffected.
	RotateInviteToken(roomId string) (string, error)
	// EnsureRoomCreator adopts name as the room creator if the room has
	// none. A no-op when a creator is already set.
	EnsureRoomCreator(roomId, name string) error

	// AddMember upserts a membership row keyed by connection id. A
	// connection is a member of at most one room, so a second insert for
	// the same connection moves it.
	AddMember(member types.Member) error
	// RemoveMemberByConn deletes the membership of a connection and returns
	// the removed row, or (nil, nil) when there was none.
	RemoveMemberByConn(connId string) (*types.Member, error)
	// RemoveMemberByName deletes the earliest-joined membership with the
	// given display name in the room.
	RemoveMemberByName(roomId, name string) (*types.Member, error)
	MemberByConn(connId string) (*types.Member, error)
	MemberByName(roomId, name string) (*types.Member, error)
	// MemberNames returns the distinct display names in the room, ordered
	// by first join.
	MemberNames(roomId string) ([]string, error)
	// CountMembers counts distinct display names, not connections.
	CountMembers(roomId string) (int, error)

	AddJoinRequest(req *types.JoinRequest) error
	GetJoinRequest(id uint) (*types.JoinRequest, error)
	// TakeJoinRequest atomically reads and deletes a pending request, so
	// concurrent resolutions consume it at most once.
	TakeJoinRequest(id uint) (*types.JoinRequest, error)
	DeleteJoinRequest(id uint) error
	// DeleteJoinRequestsBefore drops requests created before cutoff and
	// returns the removed requests so callers can notify the requesters.
	DeleteJoinRequestsBefore(cutoff time.Time) ([]*types.JoinRequest, error)

	// SaveMessage appends a message, assigns its monotonic id and updates
	// the room's last-message cache in the same step.
	SaveMessage(msg *types.Message) error
	// GetMessages returns up to limit most recent messages in ascending
	// id order.
	GetMessages(roomId string, limit int) ([]*types.Message, error)

	AddDealEvent(ev *types.DealEvent) error
	GetDealEvents(roomId string, limit int) ([]*types.DealEvent, error)

	GetAgentTemplate(key string) (*types.AgentTemplate, error)
	StoreAgentTemplate(tpl types.AgentTemplate) error

	Close() error
}

// NewPersister selects the backend from the configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "", "gorm", "sqlite", "postgres":
		return NewGormPersister(cfg)
	case "buntdb":
		return NewBuntPersister(cfg)
	}
	return nil, fmt.Errorf("unknown persistence type %s", cfg.PersistenceConfig.Type)
}
