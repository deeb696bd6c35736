package ws

import "errors"

// Operation failures surfaced to clients as error events. The error text is
// the user-facing message.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrInvalidInvite      = errors.New("invalid or expired invite link")
	ErrCreatorUnreachable = errors.New("room creator is not available to approve your request")
	ErrNotAuthorized      = errors.New("only the room creator can do that")
	ErrRequestNotFound    = errors.New("join request not found or already handled")
	ErrSelfRemoval        = errors.New("you cannot remove yourself from the room")
	ErrNameRequired       = errors.New("a display name and invite token are required")
	ErrMemberNotFound     = errors.New("user not found in room")
)
