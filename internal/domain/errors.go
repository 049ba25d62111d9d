package domain

import "errors"

// Error kinds. All are local to the request that raised them and are only
// ever reported to the originating connection.
var (
	ErrRoomNotFound             = errors.New("room not found")
	ErrPeerNotFound             = errors.New("peer not found")
	ErrUnauthorized             = errors.New("not authorized")
	ErrTransportNotFound        = errors.New("transport not found")
	ErrIncompatibleCapabilities = errors.New("incompatible rtp capabilities")
	ErrEngineAllocation         = errors.New("media engine allocation failed")
)

// Wire error codes.
const (
	ErrCodeRoomNotFound      = "ROOM_NOT_FOUND"
	ErrCodePeerNotFound      = "PEER_NOT_FOUND"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeTransportNotFound = "TRANSPORT_NOT_FOUND"
	ErrCodeIncompatible      = "INCOMPATIBLE_CAPABILITIES"
	ErrCodeEngineFailure     = "ENGINE_FAILURE"
	ErrCodeBadRequest        = "BAD_REQUEST"
)

// NewErrorMessage builds an error message for the wire.
func NewErrorMessage(code, message string) *Message {
	return NewMessage(MsgTypeError, ErrorData{Code: code, Message: message})
}

// CodeForError maps an error kind to its wire code.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return ErrCodeRoomNotFound
	case errors.Is(err, ErrPeerNotFound):
		return ErrCodePeerNotFound
	case errors.Is(err, ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, ErrTransportNotFound):
		return ErrCodeTransportNotFound
	case errors.Is(err, ErrIncompatibleCapabilities):
		return ErrCodeIncompatible
	case errors.Is(err, ErrEngineAllocation):
		return ErrCodeEngineFailure
	default:
		return ErrCodeBadRequest
	}
}
