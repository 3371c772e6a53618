package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"grocery-pos-terminal/internal/model"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL string
	// ReconnectDelay is the fixed pause between attempts. Zero retries immediately.
	ReconnectDelay time.Duration
	Header         http.Header
	// Buffer sizes the event channels.
	Buffer int
}

// Client keeps one WebSocket to the backend open and turns its frames into
// typed events. It reconnects forever after a fixed delay.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	payments chan model.PaymentSuccess
	messages chan model.RealtimeMessage

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func NewClient(cfg Config) *Client {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	return &Client{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		payments: make(chan model.PaymentSuccess, cfg.Buffer),
		messages: make(chan model.RealtimeMessage, cfg.Buffer),
	}
}

func (c *Client) PaymentSuccess() <-chan model.PaymentSuccess {
	return c.payments
}

func (c *Client) Notifications() <-chan model.RealtimeMessage {
	return c.messages
}

// Connect starts the supervised loop. Calling it while running is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
}

// Disconnect closes the socket, stops reconnecting and resets the state so
// Connect can be called again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes v as JSON. It reports false and does nothing when the socket is not open.
func (c *Client) Send(v interface{}) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		log.Warn().Err(err).Msg("realtime send failed")
		return false
	}
	return true
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("realtime connection lost")

		if c.cfg.ReconnectDelay > 0 {
			timer := time.NewTimer(c.cfg.ReconnectDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	c.setConn(conn)
	defer c.setConn(nil)
	log.Info().Str("url", c.cfg.URL).Msg("realtime connected")

	c.Send(model.Frame{Type: model.EventPing, At: time.Now().UnixMilli()})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn().Err(err).Msg("dropping malformed realtime frame")
		return
	}
	// Some producers put the event fields beside type instead of under data
	payload := []byte(frame.Data)
	if len(payload) == 0 || string(payload) == "null" {
		payload = data
	}

	switch frame.Type {
	case model.EventPaymentSuccess:
		var ev model.PaymentSuccess
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn().Err(err).Msg("dropping malformed payment_success frame")
			return
		}
		if ev.OrderCode == 0 {
			log.Warn().Msg("dropping payment_success frame without an order code")
			return
		}
		select {
		case c.payments <- ev:
		case <-ctx.Done():
		}

	case model.EventMessage:
		var msg model.RealtimeMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn().Err(err).Msg("dropping malformed message frame")
			return
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
		}

	default:
		log.Debug().Str("type", string(frame.Type)).Msg("ignoring realtime frame")
	}
}
