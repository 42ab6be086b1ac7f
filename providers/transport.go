package providers

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pulsegate/socket/src/types"
)

const writeWait = 10 * time.Second

// wsTransport adapts a websocket connection to the Transport capability.
// The websocket library reassembles fragments and answers pings itself, so
// this adapter only ever surfaces complete text/binary frames; a normal
// peer close arrives as a close frame result rather than an error.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(c *websocket.Conn) *wsTransport {
	return &wsTransport{conn: c}
}

func (t *wsTransport) ReceiveFrame(timeout time.Duration) ([]byte, types.FrameType, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, 0, err
	}
	mt, data, err := t.conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, 0, types.ErrReceiveAgain
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, types.FrameClose, nil
		}
		return nil, 0, err
	}
	switch mt {
	case websocket.TextMessage:
		return data, types.FrameText, nil
	case websocket.BinaryMessage:
		return data, types.FrameBinary, nil
	}
	return data, types.FrameType(mt), nil
}

func (t *wsTransport) SendText(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *wsTransport) SendPong() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) SendClose() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.conn.Close()
}
