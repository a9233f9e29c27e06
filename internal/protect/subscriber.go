package protect

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 60 * time.Second
	readDeadline   = 90 * time.Second
	pingInterval   = 30 * time.Second
)

// Handler receives parsed camera state transitions. It must not block; the
// pipeline queue behind it absorbs bursts.
type Handler func(ev *RawEvent)

// Subscriber holds a persistent websocket subscription to one controller and
// reconnects with exponential backoff.
type Subscriber struct {
	url     string
	apiKey  string
	handler Handler
	dialer  *websocket.Dialer
}

func NewSubscriber(url, apiKey string, handler Handler) *Subscriber {
	return &Subscriber{
		url:     url,
		apiKey:  apiKey,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run maintains the subscription until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("[WARN] Protect: subscription dropped (%v), reconnecting in %s", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Subscriber) connectAndRead(ctx context.Context) error {
	header := map[string][]string{}
	if s.apiKey != "" {
		header["Authorization"] = []string{"Bearer " + s.apiKey}
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("[INFO] Protect: subscribed to %s", s.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ev := parseStateMessage(raw, time.Now().UTC()); ev != nil {
			s.handler(ev)
		}
	}
}
