package gateway

import (
	"context"
	"sync"

	ws "nhooyr.io/websocket"
)

// wsTransport adapts a device WebSocket to orchestrator.Transport.
// Conn writes are safe for concurrent use, so only Read is single-owner.
type wsTransport struct {
	c    *ws.Conn
	once sync.Once
}

func newTransport(c *ws.Conn) *wsTransport { return &wsTransport{c: c} }

func (t *wsTransport) Read(ctx context.Context) (bool, []byte, error) {
	for {
		typ, data, err := t.c.Read(ctx)
		if err != nil {
			return false, nil, err
		}
		metricFramesIn.WithLabelValues(kind(typ)).Inc()
		switch typ {
		case ws.MessageBinary:
			return true, data, nil
		case ws.MessageText:
			return false, data, nil
		}
	}
}

func (t *wsTransport) Write(ctx context.Context, binary bool, data []byte) error {
	typ := ws.MessageText
	if binary {
		typ = ws.MessageBinary
	}
	if err := t.c.Write(ctx, typ, data); err != nil {
		return err
	}
	metricFramesOut.WithLabelValues(kind(typ)).Inc()
	return nil
}

func (t *wsTransport) Close(reason string) error {
	var err error
	t.once.Do(func() {
		// close reasons are limited to 123 bytes on the wire
		if len(reason) > 120 {
			reason = reason[:120]
		}
		err = t.c.Close(ws.StatusNormalClosure, reason)
	})
	return err
}

func kind(t ws.MessageType) string {
	if t == ws.MessageBinary {
		return "binary"
	}
	return "text"
}
