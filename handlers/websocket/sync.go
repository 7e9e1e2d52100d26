// Package websocket pushes live board changes to connected clients over
// socket.io. Each board is a room; a client joins with its bearer token.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"genui-canvas/core"
	"genui-canvas/handlers/auth"
	"genui-canvas/workspace"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

const (
	EventJoin      = "join-board"
	EventJoinAck   = "join-board-ack"
	EventChange    = "board-change"
	EventBroadcast = "server-volatile-broadcast"
)

var ErrMissingBoard = errors.New("board id is required")

type (
	ackInvoker func(err error, payload map[string]any)

	// emitFunc sends an event to every socket in a room.
	emitFunc func(room socketio.Room, event string, args ...any) error

	Hub struct {
		srv  *socketio.Server
		ws   *workspace.Workspace
		emit emitFunc

		mu    sync.RWMutex
		rooms map[socketio.Room]int

		unwatch func()
	}
)

// RoomFor names the socket.io room of a board.
func RoomFor(ref workspace.Ref) socketio.Room {
	return socketio.Room(ref.UserID + "/" + ref.BoardID)
}

// NewHub creates the socket.io server and starts forwarding every change on
// a live board to that board's room.
func NewHub(ws *workspace.Workspace) *Hub {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	h := &Hub{
		srv:   socketio.NewServer(nil, opts),
		ws:    ws,
		rooms: make(map[socketio.Room]int),
	}
	h.emit = func(room socketio.Room, event string, args ...any) error {
		return h.srv.To(room).Emit(event, args...)
	}
	h.srv.On("connection", h.onConnection)
	h.unwatch = ws.Watch(h.forward)
	return h
}

func (h *Hub) Server() *socketio.Server { return h.srv }

// Rooms returns the number of sockets in each occupied room.
func (h *Hub) Rooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.rooms))
	for k, v := range h.rooms {
		out[string(k)] = v
	}
	return out
}

func (h *Hub) Close() {
	h.unwatch()
	h.srv.Close(nil)
}

func (h *Hub) forward(ref workspace.Ref, c core.Change) {
	room := RoomFor(ref)
	h.mu.RLock()
	occupied := h.rooms[room] > 0
	h.mu.RUnlock()
	if !occupied {
		return
	}
	if err := h.emit(room, EventChange, c); err != nil {
		logrus.WithError(err).WithField("room", room).Warn("Failed to forward board change")
	}
}

// join resolves the board a client asked for. The token decides the owner,
// so a client can only join its own boards.
func (h *Hub) join(ctx context.Context, token, boardID string) (*workspace.Board, error) {
	if boardID == "" {
		return nil, ErrMissingBoard
	}
	claims, err := auth.ParseJWT(token)
	if err != nil {
		return nil, err
	}
	return h.ws.Open(ctx, workspace.Ref{UserID: claims.Subject, BoardID: boardID})
}

func (h *Hub) setOccupancy(room socketio.Room, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 {
		delete(h.rooms, room)
		return
	}
	h.rooms[room] = n
}

//nolint:errcheck // Socket.IO event handlers do not return useful errors
func (h *Hub) onConnection(clients ...any) {
	socket, ok := clients[0].(*socketio.Socket)
	if !ok {
		return
	}
	me := socket.Id()
	log := logrus.WithField("socket_id", me)

	// join-board(boardId, token[, ack])
	socket.On(EventJoin, func(datas ...any) {
		ack, args := extractAck(datas)
		boardID, token := stringArg(args, 0), stringArg(args, 1)

		b, err := h.join(context.Background(), token, boardID)
		if err != nil {
			log.WithError(err).Warn("Rejected board join")
			respondWithAck(socket, ack, EventJoinAck, map[string]any{
				"status": "error",
				"error":  err.Error(),
			}, err)
			return
		}

		room := RoomFor(b.Ref)
		socket.Join(room)
		log.WithField("room", room).Info("Socket joined board")

		h.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
			if fetchErr != nil {
				respondWithAck(socket, ack, EventJoinAck, map[string]any{
					"status": "error",
					"error":  fetchErr.Error(),
				}, fetchErr)
				return
			}
			h.setOccupancy(room, len(users))

			ids := make([]socketio.SocketId, 0, len(users))
			for _, u := range users {
				ids = append(ids, u.Id())
			}
			h.srv.In(room).Emit("room-user-change", ids)

			respondWithAck(socket, ack, EventJoinAck, map[string]any{
				"status":     "ok",
				"user_count": len(users),
				"board":      b.Editor.Export(),
				"streaming":  b.Controller.Active(),
			}, nil)
		})
	})

	// Cursor positions and other ephemeral state are relayed, never stored.
	socket.On(EventBroadcast, func(datas ...any) {
		roomID, payload, metadata, ack := parseBroadcastArgs(datas)
		room := socketio.Room(roomID)
		if roomID == "" || !joined(socket, room) {
			err := fmt.Errorf("not a member of room %q", roomID)
			respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, err), err)
			return
		}
		err := socket.Volatile().Broadcast().To(room).Emit("client-broadcast", payload, metadata)
		respondWithAck(socket, ack, "broadcast-ack", makeBroadcastAckPayload(payload, err), err)
	})

	socket.On("disconnecting", func(...any) {
		for _, room := range socket.Rooms().Keys() {
			if room == socketio.Room(me) {
				continue
			}
			h.srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
				others := make([]socketio.SocketId, 0, len(users))
				for _, u := range users {
					if u.Id() != me {
						others = append(others, u.Id())
					}
				}
				h.setOccupancy(room, len(others))
				if len(others) > 0 {
					h.srv.In(room).Emit("room-user-change", others)
				}
			})
		}
	})

	socket.On("disconnect", func(...any) {
		socket.RemoveAllListeners("")
	})
}

func joined(socket *socketio.Socket, room socketio.Room) bool {
	for _, r := range socket.Rooms().Keys() {
		if r == room {
			return true
		}
	}
	return false
}

func stringArg(args []any, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts whatever callback shape the socket library hands over into
// an ackInvoker. Single-argument callbacks get the error or the payload.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			var v any
			switch {
			case len(args) == 1 && err != nil:
				v = err
			case len(args) == 1:
				v = payload
			case i == 0:
				v = err
			case i == 1:
				v = payload
			}
			args[i] = coerceValue(v, typ.In(i))
		}
		value.Call(args)
	}
}

func coerceValue(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}
	return reflect.Zero(target)
}

func respondWithAck(socket *socketio.Socket, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
	if event != "" && payload != nil {
		_ = socket.Emit(event, payload)
	}
}

func parseBroadcastArgs(datas []any) (roomID string, payload, metadata any, ack ackInvoker) {
	ack, args := extractAck(datas)
	if len(args) < 3 {
		return "", nil, nil, ack
	}
	roomID, _ = args[0].(string)
	return roomID, args[1], args[2], ack
}

func makeBroadcastAckPayload(original any, ackErr error) map[string]any {
	response := map[string]any{"status": "ok"}
	if ackErr != nil {
		response["status"] = "error"
		response["error"] = ackErr.Error()
	}
	if m, ok := original.(map[string]any); ok {
		if id, ok := m["__collabMessageId"].(string); ok {
			response["messageId"] = id
		}
	}
	return response
}
