package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"depthwatch/logger"
)

const defaultReconnectDelay = 2 * time.Second

// RunWebSocket dials url and pumps messages into handler until the context
// is cancelled. On any dial, subscribe or read failure the socket is torn
// down and re-dialed after the reconnect delay. onConnect runs after each
// successful dial (subscriptions go there); outgoing writes from handlers
// must go through the conn passed to the handler.
func RunWebSocket(ctx context.Context, url string, reconnectDelay time.Duration, log *logger.Entry, onConnect func(*websocket.Conn) error, handler func(*websocket.Conn, []byte)) {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	dialer := websocket.DefaultDialer
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithError(err).WithField("url", url).Warn("failed to connect to websocket")
			if waitForReconnect(ctx, reconnectDelay) {
				return
			}
			continue
		}

		if onConnect != nil {
			if err := onConnect(conn); err != nil {
				log.WithError(err).WithField("url", url).Warn("websocket subscribe failed")
				conn.Close()
				if waitForReconnect(ctx, reconnectDelay) {
					return
				}
				continue
			}
		}

		if err := readMessages(ctx, conn, handler); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("url", url).Warn("websocket read loop ended")
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		logger.IncrementReconnect()
		if waitForReconnect(ctx, reconnectDelay) {
			return
		}
	}
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler func(*websocket.Conn, []byte)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			handler(conn, msg)
		}
	}
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
