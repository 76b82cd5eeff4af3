package relay

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// wsConn adapts a websocket to the hub's connection interface. Writes are
// serialized with sendMu since the underlying conn allows one writer.
type wsConn struct {
	id        string
	role      Role
	sessionID string

	sendMu sync.Mutex
	ws     *websocket.Conn
}

func newWSConn(ws *websocket.Conn, role Role, sessionID string) *wsConn {
	return &wsConn{
		id:        newConnID(),
		role:      role,
		sessionID: sessionID,
		ws:        ws,
	}
}

// newConnID mints a connection id in the same style as session and tunnel
// ids, so a log line always shows which kind of entity it names.
func newConnID() string {
	buf := make([]byte, 9)
	_, _ = rand.Read(buf)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return "conn_" + strings.ToLower(encoded)
}

func (c *wsConn) ID() string        { return c.id }
func (c *wsConn) Role() Role        { return c.role }
func (c *wsConn) SessionID() string { return c.sessionID }

func (c *wsConn) Send(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Receive(ctx context.Context) (Envelope, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) Close(ctx context.Context, reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

func (c *wsConn) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.ws.Ping(ctx)
}
