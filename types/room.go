package types

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room is a durable, creator-owned space. Rooms are created via the CRUD
// surface (or the admin CLI) and are never deleted by the coordination
// engine itself; a room persists even when its membership drops to zero.
type Room struct {
	Id                 string         `json:"id" gorm:"primaryKey"`
	Code               int            `json:"code" gorm:"uniqueIndex"`
	InviteToken        string         `json:"inviteToken" gorm:"uniqueIndex"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	MaxUsers           int            `json:"maxUsers"`
	CreatedBy          string         `json:"createdBy"`
	AssignedTo         string         `json:"assignedTo"`
	ChannelType        string         `json:"channelType"`
	Status             string         `json:"status"`
	LastMessageAt      *time.Time     `json:"lastMessageAt,omitempty"`
	LastMessageFrom    string         `json:"lastMessageFrom,omitempty"`
	LastMessagePreview string         `json:"lastMessagePreview,omitempty"`
	Tags               JSONStringMap  `json:"tags,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"-"`
	DeletedAt          gorm.DeletedAt `json:"-" gorm:"index"`
}

// Member is one live connection's durable membership in a room. A connection
// id appears in at most one room at a time (unique index on ConnId).
type Member struct {
	Id       uint      `json:"-" gorm:"primaryKey"`
	RoomId   string    `json:"roomId" gorm:"index"`
	ConnId   string    `json:"connId" gorm:"uniqueIndex"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// JoinRequest is a transient record of an invite-token join awaiting the
// creator's decision. It is consumed (deleted) exactly once.
type JoinRequest struct {
	Id            uint      `json:"requestId" gorm:"primaryKey"`
	RoomId        string    `json:"roomId" gorm:"index"`
	RequesterName string    `json:"requesterName"`
	RequesterConn string    `json:"requesterConn" gorm:"index"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

const JoinRequestPending = "pending"

// DealEvent is one append-only audit entry for a negotiated-term change.
type DealEvent struct {
	Id        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomId    string    `json:"roomId" gorm:"index"`
	Actor     string    `json:"actor"`
	Field     string    `json:"field"`
	OldValue  *string   `json:"oldValue"`
	NewValue  string    `json:"newValue"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewRoomId returns a fresh room identifier.
func NewRoomId() string {
	return uuid.NewString()
}

// NewInviteToken returns a 32-character opaque invite credential. The token
// space is large enough that uniqueness is enforced only by the store's
// unique index, with no generate-and-check loop.
func NewInviteToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewRoomCode returns a random 6-digit numeric join code. Codes can collide;
// callers insert under the unique index and retry once on conflict.
func NewRoomCode() int {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 100000 + int(time.Now().UnixNano()%900000)
	}
	return 100000 + int(binary.BigEndian.Uint64(b[:])%900000)
}

// NewConnId returns an identifier for a live connection.
func NewConnId() string {
	return uuid.NewString()
}
