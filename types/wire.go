package types

import (
	"encoding/json"
	"time"
)

// WebsocketMessage is the framing for every websocket frame in both
// directions.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client-to-server events.
const (
	EventSetUsername        = "set-username"
	EventJoinRoom           = "join-room"
	EventRequestJoinRoom    = "request-join-room"
	EventJoinRequestAccept  = "join-request-accept"
	EventJoinRequestDecline = "join-request-decline"
	EventRemoveMember       = "remove-member"
	EventUpdateDealTerm     = "update-deal-term"
	EventSendMessage        = "send-message"
	EventTyping             = "typing"
	EventStopTyping         = "stop-typing"
)

// Server-to-client events.
const (
	EventMessageHistory  = "message-history"
	EventNewMessage      = "new-message"
	EventRoomUpdate      = "room-update"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventJoinRequest     = "join-request"
	EventJoinApproved    = "join-approved"
	EventJoinDeclined    = "join-declined"
	EventRemovedFromRoom = "removed-from-room"
	EventDealEvent       = "deal-event"
	EventDealTermUpdated = "deal-term-updated"
	EventUserTyping      = "user-typing"
	EventUserStopTyping  = "user-stop-typing"
	EventError           = "error"
)

// SetUsernameData registers a display name for a connection that has not
// joined a room yet.
type SetUsernameData struct {
	DisplayName string `mapstructure:"displayName"`
}

// JoinRoomData is a direct join by room id.
type JoinRoomData struct {
	RoomId      string `mapstructure:"roomId"`
	DisplayName string `mapstructure:"displayName"`
}

// RequestJoinData opens the invite handshake.
type RequestJoinData struct {
	InviteToken string `mapstructure:"inviteToken"`
	DisplayName string `mapstructure:"displayName"`
}

// RequestActionData resolves a pending join request.
type RequestActionData struct {
	RequestId uint `mapstructure:"requestId"`
}

// RemoveMemberData is the creator-only removal of a member by display name.
type RemoveMemberData struct {
	RoomId     string `mapstructure:"roomId"`
	TargetName string `mapstructure:"targetName"`
}

// DealTermUpdateData records a negotiated-term change.
type DealTermUpdateData struct {
	RoomId   string  `mapstructure:"roomId"`
	Field    string  `mapstructure:"field"`
	OldValue *string `mapstructure:"oldValue"`
	NewValue string  `mapstructure:"newValue"`
}

// SendMessageData is an inbound chat message submission. Payload carries the
// structured fields for typed kinds; Filter optionally restricts delivery.
type SendMessageData struct {
	Message  string                 `mapstructure:"message"`
	Type     string                 `mapstructure:"type"`
	Location *Location              `mapstructure:"location"`
	Payload  map[string]interface{} `mapstructure:"payload"`
	ReplyTo  *int64                 `mapstructure:"replyToMessageId"`
	ClientId string                 `mapstructure:"clientId"`
	Filter   string                 `mapstructure:"filter"`
}

// TypingData is a typing indicator pass-through.
type TypingData struct {
	RoomId      string `mapstructure:"roomId"`
	DisplayName string `mapstructure:"displayName"`
}

// WireMessage is a message as broadcast and as replayed in history. The
// display text always lives in Message; structured kinds additionally carry
// their typed payload, and documents expose a url shortcut.
type WireMessage struct {
	Id          int64       `json:"id"`
	Sender      string      `json:"sender"`
	Message     string      `json:"message"`
	Type        string      `json:"type"`
	Location    *Location   `json:"location,omitempty"`
	Payload     interface{} `json:"payload,omitempty"`
	DocumentURL string      `json:"documentUrl,omitempty"`
	ReplyTo     *int64      `json:"replyToMessageId,omitempty"`
	ClientId    string      `json:"clientId,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Reconstruct decodes a stored message into its wire form.
func Reconstruct(msg *Message) WireMessage {
	env := DecodeBody(msg.Body)
	wm := WireMessage{
		Id:        msg.Id,
		Sender:    msg.Sender,
		Message:   env.Text,
		Type:      env.Kind,
		Location:  env.Location,
		Payload:   env.Payload(),
		ReplyTo:   msg.ReplyTo,
		Timestamp: msg.CreatedAt,
	}
	if env.Kind == KindDocument && env.Document != nil {
		wm.DocumentURL = env.Document.URL
	}
	return wm
}

// RoomUpdateData is the presence snapshot broadcast on every membership
// change. Users holds distinct display names; UserCount is their number.
type RoomUpdateData struct {
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// UserEventData announces a join or leave.
type UserEventData struct {
	DisplayName string `json:"displayName"`
}

// JoinRequestData notifies the creator of a pending invite join.
type JoinRequestData struct {
	RequestId     uint   `json:"requestId"`
	RoomId        string `json:"roomId"`
	RoomName      string `json:"roomName"`
	RequesterName string `json:"requesterName"`
}

// JoinApprovedData is the full room bootstrap sent to an accepted requester.
type JoinApprovedData struct {
	RoomId      string        `json:"roomId"`
	RoomName    string        `json:"roomName"`
	RoomCode    int           `json:"roomCode"`
	Description string        `json:"description,omitempty"`
	MaxUsers    int           `json:"maxUsers"`
	CreatedBy   string        `json:"createdBy"`
	Messages    []WireMessage `json:"messages"`
	Users       []string      `json:"users"`
	UserCount   int           `json:"userCount"`
}

// RoomNoticeData names a room in a decline or removal notice.
type RoomNoticeData struct {
	RoomId   string `json:"roomId"`
	RoomName string `json:"roomName"`
}

// DealTermUpdatedData is the compact form of a deal-term change.
type DealTermUpdatedData struct {
	Field    string `json:"field"`
	NewValue string `json:"newValue"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// MarshalEvent frames an event and its payload for the wire.
func MarshalEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: data})
}
