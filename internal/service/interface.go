package service

import (
	"context"

	"github.com/shuklatul1021/Waveline/internal/domain"
)

// SignalService drives the meeting signaling state machine. Errors returned
// here are reported only to the connection that issued the request; every
// side effect on other participants goes out as a broadcast.
type SignalService interface {
	JoinRoom(ctx context.Context, conn domain.Conn, peerID string, data domain.JoinRoomData) error
	ApproveJoin(ctx context.Context, peerID string, data domain.AdmissionData) error
	RejectJoin(ctx context.Context, peerID string, data domain.AdmissionData) error
	CreateTransport(ctx context.Context, peerID string, data domain.CreateTransportData) error
	ConnectTransport(ctx context.Context, peerID string, data domain.ConnectTransportData) error
	Produce(ctx context.Context, peerID string, data domain.ProduceData) error
	Consume(ctx context.Context, peerID string, data domain.ConsumeData) error
	LeaveRoom(ctx context.Context, peerID string, data domain.LeaveRoomData) error
	Disconnect(ctx context.Context, peerID string)
}
