package server

import (
	"context"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/orchestrator"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 20 * time.Second
	socketPingPeriod = (socketPongWait * 4) / 5
	socketReadLimit  = 1024
)

const (
	CommandStatus = "status"
	CommandEvent  = "event"
	CommandError  = "error"
)

// Message is the message that the server sends to the websocket client.
// The first message is always the status snapshot, then events of the batch follow.
// The last message is the status snapshot after the terminal event.
type Message struct {
	Command string               `json:"command"`          // Command is the kind of the message.
	Error   string               `json:"error,omitempty"`  // Error is the error message that is sent to the client.
	Status  *orchestrator.Status `json:"status,omitempty"` // Status is the snapshot of the batch run.
	Event   *orchestrator.Event  `json:"event,omitempty"`  // Event is the state transition of the batch run.
}

func (s *server) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if _, err := s.authorize(c); err != nil {
		return err
	}
	return c.Next()
}

func (s *server) serveEvents(conn *websocket.Conn) {
	id := conn.Params("id")
	run, ok := s.srv.Executor.Lookup(id)
	if !ok {
		s.write(conn, &Message{Command: CommandError, Error: fmt.Sprintf("batch %s not found", id)})
		return
	}

	var events <-chan orchestrator.Event
	if s.srv.Events != nil {
		sub := s.srv.Events.Subscribe()
		defer sub.Cancel()
		events = sub.Channel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go s.readPump(conn, cancel)

	status := run.Status()
	if err := s.write(conn, &Message{Command: CommandStatus, Status: &status}); err != nil {
		return
	}
	if status.State.IsTerminal() {
		s.close(conn, "batch run finished")
		return
	}

	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.close(conn, "server stopped")
			return
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if e.BatchID != id {
				continue
			}
			if err := s.write(conn, &Message{Command: CommandEvent, Event: &e}); err != nil {
				return
			}
		case <-run.Done():
			s.flush(conn, id, events)
			status := run.Status()
			if err := s.write(conn, &Message{Command: CommandStatus, Status: &status}); err != nil {
				return
			}
			s.close(conn, "batch run finished")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, []byte(id)); err != nil {
				s.log.Error(fmt.Sprintf("socket closing connection of batch %s due to %s", id, err))
				return
			}
		}
	}
}

// flush writes events of the batch that are already buffered.
func (s *server) flush(conn *websocket.Conn, id string, events <-chan orchestrator.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.BatchID != id {
				continue
			}
			if err := s.write(conn, &Message{Command: CommandEvent, Event: &e}); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(socketReadLimit)
	conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(socketPongWait)); return nil })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Info(fmt.Sprintf("socket closing connection due to unexpected error %s", err))
			}
			return
		}
	}
}

func (s *server) write(conn *websocket.Conn, msg *Message) error {
	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Error(fmt.Sprintf("socket failed to write message: %s", err))
		return err
	}
	return nil
}

func (s *server) close(conn *websocket.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	if err != nil {
		s.log.Error(fmt.Sprintf("socket write closing msg error, %s", err.Error()))
	}
}
