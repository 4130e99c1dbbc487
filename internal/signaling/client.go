// Package signaling connects participants through a WebSocket room relay:
// the Client side used by each participant and the relay Server.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/proximity/internal/peer"
	"github.com/1ureka/proximity/internal/protocol"
	"github.com/1ureka/proximity/internal/util"
)

// ErrClosed is returned by writes on a closed client.
var ErrClosed = errors.New("signaling: connection closed")

const (
	writeWait = 5 * time.Second
	joinWait  = 10 * time.Second
)

// RoomHandler receives roster events. *world.World satisfies it.
type RoomHandler interface {
	SetPlayers(map[protocol.PeerID]protocol.Player)
	AddPlayer(protocol.Player)
	MovePlayer(protocol.Player)
	RemovePlayer(protocol.PeerID)
}

var _ peer.Channel = (*Client)(nil)

// Client is one participant's connection to the room relay. It is the
// signaling channel of the negotiation engine and the source of room
// events. Inbound handlers run on the Run goroutine, in arrival order.
type Client struct {
	conn   *websocket.Conn
	self   protocol.PeerID
	roster map[protocol.PeerID]protocol.Player

	mu      sync.Mutex // serializes writes
	closing atomic.Bool
	closed  atomic.Bool

	hmu      sync.RWMutex
	room     RoomHandler
	onSignal func(protocol.PeerID, protocol.Signal)
	onClose  func(protocol.PeerID)
}

// Dial connects to the relay at url, joins the room and waits for the
// roster. The returned client is not reading yet; call Run.
func Dial(ctx context.Context, url string, join protocol.JoinRoom) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Client{conn: conn}
	if err := c.join(ctx, join); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) join(ctx context.Context, join protocol.JoinRoom) error {
	if err := c.emit(protocol.EventJoinRoom, join); err != nil {
		return err
	}

	deadline := time.Now().Add(joinWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		env, err := c.read()
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		switch env.Event {
		case protocol.EventCurrentUsers:
			users, err := protocol.DecodeData[protocol.CurrentUsers](env)
			if err != nil {
				return fmt.Errorf("join room: %w", err)
			}
			c.self = users.SessionID
			if c.self == "" {
				c.self = join.SessionID
			}
			c.roster = users.Players
			return nil
		case protocol.EventError:
			msg, _ := protocol.DecodeData[protocol.ErrorMessage](env)
			return fmt.Errorf("join rejected: %s", msg.Message)
		default:
			util.LogDebug("signaling: ignoring %s before roster", env.Event)
		}
	}
}

// Self returns the id the relay knows this participant by.
func (c *Client) Self() protocol.PeerID { return c.self }

// Roster returns the players present when the client joined.
func (c *Client) Roster() map[protocol.PeerID]protocol.Player { return c.roster }

// SetRoom registers the roster handler. Run feeds it the join roster first.
func (c *Client) SetRoom(h RoomHandler) {
	c.hmu.Lock()
	c.room = h
	c.hmu.Unlock()
}

func (c *Client) OnSignal(fn func(protocol.PeerID, protocol.Signal)) {
	c.hmu.Lock()
	c.onSignal = fn
	c.hmu.Unlock()
}

func (c *Client) OnClose(fn func(protocol.PeerID)) {
	c.hmu.Lock()
	c.onClose = fn
	c.hmu.Unlock()
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send relays s to the participant to.
func (c *Client) Send(to protocol.PeerID, s protocol.Signal) error {
	raw, err := protocol.EncodeSignal(s)
	if err != nil {
		return err
	}
	return c.emit(protocol.EventSendSignal, protocol.SendSignal{TargetSocketID: to, Signal: raw})
}

// EmitClose tells to that we tore down our connection to it.
func (c *Client) EmitClose(to protocol.PeerID) error {
	return c.emit(protocol.EventClosePeer, protocol.ClosePeer{TargetSocketID: to})
}

// Move publishes the local position.
func (c *Client) Move(x, y float64, direction string) error {
	return c.emit(protocol.EventPlayerMove, protocol.PlayerMove{X: x, Y: y, Direction: direction})
}

func (c *Client) emit(event protocol.Event, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Client) write(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// Close leaves the room and closes the connection.
func (c *Client) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.emit(protocol.EventQuitRoom, nil); err != nil {
		util.LogDebug("signaling: quit room: %v", err)
	}
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed.Store(true)
	return c.conn.Close()
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

func (c *Client) read() (protocol.Envelope, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(data)
}

// Run reads relay events until ctx is done or the connection drops. It
// returns nil after Close or cancellation.
func (c *Client) Run(ctx context.Context) error {
	if h := c.handler(); h != nil && c.roster != nil {
		h.SetPlayers(c.roster)
	}

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				return nil
			}
			return fmt.Errorf("read relay event: %w", err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("signaling: %v", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) handler() RoomHandler {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.room
}

func (c *Client) dispatch(env protocol.Envelope) {
	c.hmu.RLock()
	room, onSignal, onClose := c.room, c.onSignal, c.onClose
	c.hmu.RUnlock()

	switch env.Event {
	case protocol.EventCurrentUsers:
		users, err := protocol.DecodeData[protocol.CurrentUsers](env)
		if err == nil && room != nil {
			room.SetPlayers(users.Players)
		}
		c.warnOn(err)

	case protocol.EventNewUserJoined:
		p, err := protocol.DecodeData[protocol.Player](env)
		if err == nil && room != nil {
			room.AddPlayer(p)
		}
		c.warnOn(err)

	case protocol.EventPlayerMoved:
		p, err := protocol.DecodeData[protocol.Player](env)
		if err == nil && room != nil {
			room.MovePlayer(p)
		}
		c.warnOn(err)

	case protocol.EventUserLeft:
		left, err := protocol.DecodeData[protocol.UserLeft](env)
		if err != nil {
			c.warnOn(err)
			return
		}
		if room != nil {
			room.RemovePlayer(left.PlayerID)
		}
		// A participant that left holds no connections anymore.
		if onClose != nil {
			onClose(left.PlayerID)
		}

	case protocol.EventReceiveSignal:
		msg, err := protocol.DecodeData[protocol.ReceiveSignal](env)
		if err != nil {
			c.warnOn(err)
			return
		}
		s, err := protocol.DecodeSignal(msg.Signal)
		if err != nil {
			util.Stats.AddDropped()
			util.LogPeerWarning(string(msg.FromUserID), "dropping signal: %v", err)
			return
		}
		if onSignal != nil {
			onSignal(msg.FromUserID, s)
		}

	case protocol.EventClosePeer:
		msg, err := protocol.DecodeData[protocol.ClosePeer](env)
		if err == nil && onClose != nil {
			onClose(msg.FromUserID)
		}
		c.warnOn(err)

	case protocol.EventError:
		msg, _ := protocol.DecodeData[protocol.ErrorMessage](env)
		util.LogWarning("relay error: %s", msg.Message)

	default:
		util.LogDebug("signaling: ignoring event %s", env.Event)
	}
}

func (c *Client) warnOn(err error) {
	if err != nil {
		util.LogWarning("signaling: %v", err)
	}
}
