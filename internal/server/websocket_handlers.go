package server

import (
	"context"
	"errors"

	"marketchat/internal/hub"
	"marketchat/internal/observability"
	"marketchat/internal/protocol"
	"marketchat/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketHandler upgrades GET /ws?userId= and runs the connection's pumps.
// The userId query parameter scopes the connection to the authenticated
// viewer, mirroring how the widget connects.
func (s *Server) WebSocketHandler() fiber.Handler {
	wsLog := observability.NewWSLogger("chat hub")

	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()

		userID := conn.Query("userId")
		if err := s.authorizeSocket(userID, conn.Query("token")); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			wsLog.LogError(ctx, userID, err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		wsLog.LogConnect(ctx, userID)

		client.IncomingHandler = func(c *hub.Client, frame []byte) {
			event, derr := protocol.Decode(frame)
			if derr != nil {
				wsLog.LogError(ctx, userID, derr, "decode")
				return
			}
			s.dispatchEvent(ctx, c, event)
		}

		go client.WritePump()
		client.ReadPump()

		wsLog.LogDisconnect(ctx, userID, "connection closed")
	})
}

// authorizeSocket decides whether a websocket handshake may proceed as
// userID. In production a verified token matching userID is mandatory; in
// development a missing token is tolerated so local widget builds can connect,
// but a token that is present must still verify.
func (s *Server) authorizeSocket(userID, token string) error {
	if userID == "" {
		return errSocketUnauthorized
	}
	if token == "" {
		if s.config.IsProduction() {
			return errSocketUnauthorized
		}
		return nil
	}
	sub, err := s.parseToken(token)
	if err != nil || sub != userID {
		return errSocketUnauthorized
	}
	return nil
}

var errSocketUnauthorized = errors.New("websocket handshake unauthorized")

// dispatchEvent handles one decoded client event. The switch is exhaustive
// over the client-originated half of the protocol; server-originated events
// arriving from a client are ignored.
func (s *Server) dispatchEvent(ctx context.Context, c *hub.Client, event protocol.Event) {
	observability.RecordWebSocketEvent(event.EventName())

	switch ev := event.(type) {
	case protocol.SendMessage:
		s.handleSendMessage(ctx, c, ev)

	case protocol.Typing:
		// Forwarded verbatim; the recipient's tracker decides relevance.
		if ev.From == c.UserID && ev.To != "" {
			s.sendEvent(ctx, ev.To, protocol.Typing{From: ev.From})
		}

	case protocol.StopTyping:
		if ev.From == c.UserID && ev.To != "" {
			s.sendEvent(ctx, ev.To, protocol.StopTyping{From: ev.From})
		}

	case protocol.MarkAsRead:
		s.handleMarkAsRead(ctx, c, ev)

	case protocol.GetHistory:
		s.handleGetHistory(ctx, c, ev)

	case protocol.Unknown:
		// Newer clients may emit events this server predates.

	default:
		// Server-to-client events echoed back by a confused client.
	}
}

func (s *Server) handleSendMessage(ctx context.Context, c *hub.Client, ev protocol.SendMessage) {
	if ev.SenderID != c.UserID {
		return
	}

	message, err := s.chatService.Send(ctx, service.SendMessageInput{
		SenderID:   ev.SenderID,
		ReceiverID: ev.ReceiverID,
		Content:    ev.Content,
	})
	if err != nil {
		return
	}

	// Echo to both parties so the sender's thread and the receiver's thread
	// observe the same persisted object.
	s.sendEvent(ctx, message.SenderID, protocol.ReceiveMessage{Message: *message})
	s.sendEvent(ctx, message.ReceiverID, protocol.ReceiveMessage{Message: *message})

	if s.hub.IsOnline(message.ReceiverID) {
		if derr := s.chatService.MarkDelivered(ctx, message.ID); derr == nil {
			s.sendEvent(ctx, message.SenderID, protocol.MessageDelivered{MessageID: message.ID})
		}
	}

	// Out-of-band notice for recipients not scoped to this sender.
	s.sendEvent(ctx, message.ReceiverID, protocol.MessageNotification{
		To:      message.ReceiverID,
		From:    message.SenderID,
		Content: message.Content,
		Time:    message.Time,
	})
}

func (s *Server) handleMarkAsRead(ctx context.Context, c *hub.Client, ev protocol.MarkAsRead) {
	if ev.UserID != c.UserID || ev.ReceiverID == "" {
		return
	}

	changed, err := s.chatService.MarkAllRead(ctx, ev.UserID, ev.ReceiverID)
	if err != nil || changed == 0 {
		return
	}
	s.sendEvent(ctx, ev.ReceiverID, protocol.AllMessagesRead{From: ev.UserID})
}

func (s *Server) handleGetHistory(ctx context.Context, c *hub.Client, ev protocol.GetHistory) {
	if ev.UserID != c.UserID || ev.ReceiverID == "" {
		return
	}

	history, err := s.chatService.History(ctx, ev.UserID, ev.ReceiverID)
	if err != nil {
		return
	}
	s.hub.SendEvent(c.UserID, protocol.MessagesHistory{
		Partner:  history.Partner,
		Messages: history.Messages,
	})
}

// sendEvent delivers an event to the user's local connections, or publishes
// it for other nodes when the user is not connected here.
func (s *Server) sendEvent(ctx context.Context, userID string, event protocol.Event) {
	frame, err := protocol.Encode(event)
	if err != nil {
		return
	}
	if s.hub.HasLocal(userID) {
		observability.RecordMessage("local")
		s.hub.SendToUser(userID, frame)
		return
	}
	observability.RecordMessage("redis")
	if perr := s.notifier.PublishUser(ctx, userID, frame); perr != nil {
		observability.GlobalLogger.WarnContext(ctx, "publish event failed",
			"user_id", userID, "event", event.EventName(), "error", perr.Error())
	}
}
