package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shuklatul1021/Waveline/internal/domain"
	"github.com/shuklatul1021/Waveline/internal/hub"
	"github.com/shuklatul1021/Waveline/internal/meetings"
	"github.com/shuklatul1021/Waveline/internal/service"
	pkglog "github.com/shuklatul1021/Waveline/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// WSHandler handles WebSocket connections.
type WSHandler struct {
	hub      *hub.Hub
	service  service.SignalService
	meetings *meetings.Client // nil when the directory gate is disabled
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, svc service.SignalService, meetingsClient *meetings.Client) *WSHandler {
	return &WSHandler{
		hub:      h,
		service:  svc,
		meetings: meetingsClient,
	}
}

// HandleWebSocket handles WebSocket upgrade and message routing. Each
// connection is assigned a peer ID and greeted with a welcome message.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.L()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	peerID := uuid.New().String()
	client := &hub.Client{
		ID:   peerID,
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	client.SetDisconnectHandler(func(c *hub.Client) {
		h.service.Disconnect(context.Background(), c.ID)
	})

	h.hub.Register(client)

	go client.WritePump()

	client.SendMessage(domain.NewMessage(domain.MsgTypeWelcome, domain.WelcomeData{PeerID: peerID}))

	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := context.Background()

	var err error
	switch env.Type {
	case domain.MsgTypeJoinRoom:
		var data domain.JoinRoomData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		if err = h.checkMeeting(ctx, data.RoomID); err != nil {
			break
		}
		err = h.service.JoinRoom(ctx, client, client.ID, data)

	case domain.MsgTypeApproveJoin:
		var data domain.AdmissionData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.ApproveJoin(ctx, client.ID, data)

	case domain.MsgTypeRejectJoin:
		var data domain.AdmissionData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.RejectJoin(ctx, client.ID, data)

	case domain.MsgTypeCreateTransport:
		var data domain.CreateTransportData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.CreateTransport(ctx, client.ID, data)

	case domain.MsgTypeConnectTransport:
		var data domain.ConnectTransportData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.ConnectTransport(ctx, client.ID, data)

	case domain.MsgTypeProduce:
		var data domain.ProduceData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.Produce(ctx, client.ID, data)

	case domain.MsgTypeConsume:
		var data domain.ConsumeData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.Consume(ctx, client.ID, data)

	case domain.MsgTypeLeaveRoom:
		var data domain.LeaveRoomData
		if err = json.Unmarshal(env.Data, &data); err != nil {
			break
		}
		err = h.service.LeaveRoom(ctx, client.ID, data)

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type: "+env.Type))
		return
	}

	if err != nil {
		pkglog.L().Warn().Err(err).
			Str(pkglog.FieldPeerID, client.ID).
			Str("type", env.Type).
			Msg("request failed")
		client.SendMessage(domain.NewErrorMessage(domain.CodeForError(err), err.Error()))
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}

// checkMeeting consults the meetings directory before letting a join
// through. With no directory configured every room ID is accepted.
func (h *WSHandler) checkMeeting(ctx context.Context, roomID string) error {
	if h.meetings == nil {
		return nil
	}
	m, err := h.meetings.GetMeeting(ctx, roomID)
	if err != nil {
		if errors.Is(err, meetings.ErrMeetingNotFound) {
			return domain.ErrRoomNotFound
		}
		return err
	}
	if m.Status == "ended" {
		return domain.ErrRoomNotFound
	}
	return nil
}
