package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Transport is one live socket. The manager is its only user.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports. Faked in tests.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}

// WebsocketDialer dials real websocket transports.
type WebsocketDialer struct{}

// Dial opens a websocket connection.
func (WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsTransport{ws: ws}, nil
}

type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.ws.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.ws.Close()
}
