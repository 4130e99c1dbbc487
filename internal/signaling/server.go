package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

const (
	maxFrameSize = 64 * 1024
	defaultRoom  = "lobby"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is a minimal room relay: it tracks who is in which room,
// broadcasts roster changes and forwards signals between members.
type Server struct {
	members *hashmap.Map[protocol.PeerID, *member]
	router  chi.Router
}

type member struct {
	conn *websocket.Conn
	room string

	mu sync.Mutex // serializes writes

	pmu    sync.Mutex // guards player; never held while taking mu
	player protocol.Player
}

func (m *member) send(event protocol.Event, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendLocked(event, payload)
}

func (m *member) sendLocked(event protocol.Event, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

func (m *member) snapshot() protocol.Player {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	return m.player
}

// NewServer builds the relay's HTTP handler: /ws for participants and
// /healthz for probes.
func NewServer() *Server {
	s := &Server{members: hashmap.New[protocol.PeerID, *member]()}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok %d\n", s.members.Len())
	})
	r.Get("/ws", s.handleWS)
	s.router = r

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("relay listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

// Members returns the number of connected participants.
func (s *Server) Members() int { return s.members.Len() }

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("relay: upgrade: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	id, m, err := s.admit(conn)
	if err != nil {
		util.LogWarning("relay: rejected %s: %v", r.RemoteAddr, err)
		data, _ := protocol.Encode(protocol.EventError, protocol.ErrorMessage{Message: err.Error()})
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.TextMessage, data)
		return
	}
	defer s.leave(id, m)

	util.LogInfo("relay: %s joined room %q", id, m.room)
	s.serve(id, m)
}

// admit reads the join frame and registers the member.
func (s *Server) admit(conn *websocket.Conn) (protocol.PeerID, *member, error) {
	conn.SetReadDeadline(time.Now().Add(joinWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", nil, fmt.Errorf("read join: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(data)
	if err != nil {
		return "", nil, err
	}
	if env.Event != protocol.EventJoinRoom {
		return "", nil, fmt.Errorf("expected %s, got %s", protocol.EventJoinRoom, env.Event)
	}
	join, err := protocol.DecodeData[protocol.JoinRoom](env)
	if err != nil {
		return "", nil, err
	}

	id := join.SessionID
	if id == "" {
		id = protocol.PeerID(uuid.NewString())
	}
	room := join.RoomCode
	if room == "" {
		room = defaultRoom
	}

	m := &member{
		conn:   conn,
		room:   room,
		player: protocol.Player{PlayerID: id, Username: join.Username, X: join.X, Y: join.Y},
	}
	// Holding the write lock from registration until the roster is out
	// makes any concurrent broadcast to m queue up behind the roster.
	m.mu.Lock()
	if !s.members.Insert(id, m) {
		m.mu.Unlock()
		return "", nil, fmt.Errorf("session %s is already connected", id)
	}

	roster := map[protocol.PeerID]protocol.Player{id: m.snapshot()}
	for _, other := range s.roomMembers(room, id) {
		p := other.snapshot()
		roster[p.PlayerID] = p
	}
	err = m.sendLocked(protocol.EventCurrentUsers, protocol.CurrentUsers{SessionID: id, Players: roster})
	m.mu.Unlock()
	if err != nil {
		s.members.Del(id)
		return "", nil, err
	}
	s.broadcast(room, id, protocol.EventNewUserJoined, m.snapshot())
	return id, m, nil
}

func (s *Server) leave(id protocol.PeerID, m *member) {
	s.members.Del(id)
	s.broadcast(m.room, id, protocol.EventUserLeft, protocol.UserLeft{PlayerID: id})
	util.LogInfo("relay: %s left room %q", id, m.room)
}

func (s *Server) serve(id protocol.PeerID, m *member) {
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				util.LogDebug("relay: %s read: %v", id, err)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.reject(m, err)
			continue
		}

		switch env.Event {
		case protocol.EventPlayerMove:
			move, err := protocol.DecodeData[protocol.PlayerMove](env)
			if err != nil {
				s.reject(m, err)
				continue
			}
			m.pmu.Lock()
			m.player.X, m.player.Y, m.player.Direction = move.X, move.Y, move.Direction
			m.pmu.Unlock()
			s.broadcast(m.room, id, protocol.EventPlayerMoved, m.snapshot())

		case protocol.EventSendSignal:
			msg, err := protocol.DecodeData[protocol.SendSignal](env)
			if err != nil {
				s.reject(m, err)
				continue
			}
			s.forward(m, msg.TargetSocketID, protocol.EventReceiveSignal,
				protocol.ReceiveSignal{FromUserID: id, Signal: msg.Signal})

		case protocol.EventClosePeer:
			msg, err := protocol.DecodeData[protocol.ClosePeer](env)
			if err != nil {
				s.reject(m, err)
				continue
			}
			s.forward(m, msg.TargetSocketID, protocol.EventClosePeer, protocol.ClosePeer{FromUserID: id})

		case protocol.EventQuitRoom:
			return

		default:
			s.reject(m, fmt.Errorf("unsupported event %s", env.Event))
		}
	}
}

// forward delivers to a member of from's room.
func (s *Server) forward(from *member, to protocol.PeerID, event protocol.Event, payload any) {
	target, ok := s.members.Get(to)
	if !ok || target.room != from.room {
		s.reject(from, fmt.Errorf("participant %s is not in the room", to))
		return
	}
	if err := target.send(event, payload); err != nil {
		util.LogDebug("relay: forward %s to %s: %v", event, to, err)
	}
}

func (s *Server) broadcast(room string, except protocol.PeerID, event protocol.Event, payload any) {
	for _, m := range s.roomMembers(room, except) {
		if err := m.send(event, payload); err != nil {
			util.LogDebug("relay: broadcast %s: %v", event, err)
		}
	}
}

func (s *Server) roomMembers(room string, except protocol.PeerID) []*member {
	var out []*member
	s.members.Range(func(id protocol.PeerID, m *member) bool {
		if m.room == room && id != except {
			out = append(out, m)
		}
		return true
	})
	return out
}

func (s *Server) reject(m *member, err error) {
	if sendErr := m.send(protocol.EventError, protocol.ErrorMessage{Message: err.Error()}); sendErr != nil {
		util.LogDebug("relay: report error: %v", sendErr)
	}
}
