package lnd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// WSClient assina o stream de invoices via websocket. Cada mensagem recebida
// é tratada como um chunk; o enquadramento continua sendo por '\n'
type WSClient struct {
	URL      string // ex: wss://node:8080 (http/https são convertidos)
	Macaroon string
	Dialer   *websocket.Dialer
}

func NewWS(base, macaroon string) *WSClient {
	u := strings.TrimRight(base, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return &WSClient{URL: u, Macaroon: macaroon, Dialer: websocket.DefaultDialer}
}

func (c *WSClient) Subscribe(ctx context.Context) (ChunkSource, error) {
	h := http.Header{}
	h.Set(MacaroonHeader, c.Macaroon)

	conn, _, err := c.Dialer.DialContext(ctx, c.URL+"/v1/invoices/subscribe?method=GET", h)
	if err != nil {
		return nil, fmt.Errorf("dial invoice ws: %w", err)
	}
	// o proxy REST espera o corpo da requisição como primeira mensagem
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{}")); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	w := &wsChunks{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // desbloqueia ReadMessage
		case <-w.done:
		}
	}()
	return w, nil
}

type wsChunks struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (w *wsChunks) Next(ctx context.Context) ([]byte, error) {
	_, msg, err := w.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return msg, nil
}

func (w *wsChunks) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}
