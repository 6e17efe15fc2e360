package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sketchwall/backend/internal/canvas"
	"github.com/sketchwall/backend/internal/ratelimit"
	"github.com/sketchwall/backend/internal/session"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 256 * 1024
	sendBufferSize   = 512
	actionsPerSecond = 100
	actionBurst      = 200
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errConnClosed     = errors.New("connection closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. It parses inbound envelopes into
// session calls and implements session.Observer by queueing outbound
// frames on a bounded channel; a full channel counts as a delivery
// failure, which the session swallows.
type Client struct {
	sess     *session.Session
	conn     *websocket.Conn
	send     chan []byte
	clientID string
	limiter  *ratelimit.Limiter

	// The admitted identity of the connection. name binds when a
	// registration succeeds or when the admin approves a join; until
	// then only register and join frames are accepted. pendingJoin holds
	// a queued join request awaiting the decision, which arrives on the
	// deciding caller's goroutine, so both fields are mutex-guarded.
	// Every frame acts as the bound identity regardless of its payload.
	idMu        sync.Mutex
	name        string
	pendingJoin string

	// Guards send against pushes racing the teardown in readPump: the
	// session can still hold this observer (e.g. as a pending join) when
	// the connection dies.
	sendMu     sync.Mutex
	sendClosed bool
}

// identity returns the bound username and any join still awaiting a
// decision, read at one consistent point.
func (c *Client) identity() (name, pendingJoin string) {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.name, c.pendingJoin
}

func (c *Client) bindName(name string) {
	c.idMu.Lock()
	c.name = name
	c.idMu.Unlock()
}

func (c *Client) setPendingJoin(name string) {
	c.idMu.Lock()
	c.pendingJoin = name
	c.idMu.Unlock()
}

func ServeWs(sess *session.Session, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		sess:     sess,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		clientID: uuid.NewString(),
		limiter:  ratelimit.NewLimiter(actionsPerSecond, actionBurst),
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		name, pendingJoin := c.identity()
		if name != "" {
			c.sess.Unregister(name)
		}
		if pendingJoin != "" {
			c.sess.AbandonJoin(pendingJoin)
		}
		c.conn.Close()
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error from %s: %v", c.clientID, err)
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("⚠️ Invalid frame from client %s: %v", c.clientID, err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env Envelope) {
	// Everything except register and join requires an admitted identity.
	// A queued join is not one: the requester can do nothing until the
	// admin decides.
	name, pendingJoin := c.identity()
	if name == "" && env.Type != MsgRegister && env.Type != MsgJoin {
		c.pushError("not registered")
		return
	}

	switch env.Type {
	case MsgRegister:
		if name != "" || pendingJoin != "" {
			c.pushError("already registered")
			return
		}
		history, users, err := c.sess.Register(env.Name, c)
		if err != nil {
			c.pushError(err.Error())
			return
		}
		c.bindName(env.Name)
		c.push(Envelope{Type: MsgRegistered, History: history, Users: users})

	case MsgJoin:
		if name != "" || pendingJoin != "" {
			c.pushError("already registered")
			return
		}
		// The decision arrives asynchronously as a join_decision frame
		// and binds the identity in NotifyJoinDecision, only on approval.
		// pendingJoin is set before the request so an approval racing the
		// return of RequestJoin still finds it.
		c.setPendingJoin(env.Name)
		if !c.sess.RequestJoin(env.Name, c) {
			c.setPendingJoin("")
		}

	case MsgAction:
		if env.Action == nil {
			return
		}
		if !c.limiter.Allow() {
			log.Printf("⚠️ Rate limit exceeded for %q, dropping action", name)
			return
		}
		a := *env.Action
		a.Owner = name // the connection's identity wins over the payload
		c.sess.BroadcastAction(a)

	case MsgChat:
		c.sess.SendChat(name, env.Text)

	case MsgUndo:
		c.sess.Undo(name)

	case MsgRedo:
		c.sess.Redo(name)

	case MsgLoad:
		c.sess.LoadHistory(env.History)

	case MsgClear:
		c.sess.ClearBoard()

	case MsgApprove:
		if err := c.sess.ApproveJoin(name, env.Name); err != nil {
			c.pushError(err.Error())
		}

	case MsgReject:
		if err := c.sess.RejectJoin(name, env.Name); err != nil {
			c.pushError(err.Error())
		}

	case MsgKick:
		if err := c.sess.Kick(name, env.Name); err != nil {
			c.pushError(err.Error())
		}

	case MsgClose:
		if err := c.sess.CloseBoard(name); err != nil {
			c.pushError(err.Error())
		}

	case MsgUsers:
		c.push(Envelope{Type: MsgUserList, Users: c.sess.ActiveUsers()})

	default:
		log.Printf("⚠️ Unknown frame type %q from %s", env.Type, c.clientID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues a frame without blocking. The session holds its lock during
// fan-out, so a stuck client must not be able to stall it.
func (c *Client) push(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) pushError(msg string) {
	c.push(Envelope{Type: MsgError, Error: msg})
}

// session.Observer implementation

func (c *Client) ReceiveAction(a canvas.Action) error {
	return c.push(Envelope{Type: MsgAction, Action: &a})
}

func (c *Client) ReceiveFullHistory(history []canvas.Action) error {
	return c.push(Envelope{Type: MsgHistory, History: history})
}

func (c *Client) ReceiveChat(sender, text string) error {
	return c.push(Envelope{Type: MsgChat, Sender: sender, Text: text})
}

func (c *Client) UpdateUserList(names []string) error {
	return c.push(Envelope{Type: MsgUserList, Users: names})
}

func (c *Client) NotifyJoinRequest(candidate string) error {
	return c.push(Envelope{Type: MsgJoinRequest, Name: candidate})
}

// NotifyJoinDecision settles the pending join. Approval is the only
// place a joiner's identity binds; a rejection leaves the connection
// anonymous, so the name is free to be registered by someone else
// without this connection inheriting it.
func (c *Client) NotifyJoinDecision(approved bool) error {
	c.idMu.Lock()
	if c.pendingJoin != "" {
		if approved {
			c.name = c.pendingJoin
		}
		c.pendingJoin = ""
	}
	c.idMu.Unlock()
	return c.push(Envelope{Type: MsgJoinDecision, Approved: approved})
}

func (c *Client) NotifyBoardClosed() error {
	return c.push(Envelope{Type: MsgBoardClosed})
}

func (c *Client) ReceiveKick() error {
	return c.push(Envelope{Type: MsgKicked})
}
