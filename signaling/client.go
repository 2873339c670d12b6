package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/savi/crypto"
	"github.com/opd-ai/savi/limits"
	"github.com/opd-ai/savi/observe"
	"github.com/sirupsen/logrus"
)

// closeGrace bounds how long Close waits for queued messages to be written.
const closeGrace = time.Second

// ClientConfig configures a relay client.
type ClientConfig struct {
	// Host and Port locate the relay. Host may be a bracketed IPv6 literal.
	Host string
	Port int

	// Username is sent as the username query parameter.
	Username string

	// Key is the relay cipher key printed by the hosting side.
	Key string

	// Suite must match the hosting side.
	Suite crypto.Suite

	// HandshakeTimeout bounds the WebSocket upgrade. Default: 10s.
	HandshakeTimeout time.Duration
}

// BuildURL returns the relay endpoint for username.
func BuildURL(host string, port int, username string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(trimBrackets(host), strconv.Itoa(port)),
		Path:     "/",
		RawQuery: url.Values{"username": []string{username}}.Encode(),
	}
	return u.String()
}

// Client is one peer's connection to the relay.
type Client struct {
	conn    *websocket.Conn
	cipher  *crypto.CipherBox
	out     *outbox
	handler func(string)
	metrics *observe.Metrics

	done      chan struct{}
	flushed   chan struct{}
	errMu     sync.Mutex
	err       error
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the relay. handler receives every decrypted message, in
// order, on the client's read goroutine; it must not block for long.
func Dial(ctx context.Context, cfg ClientConfig, handler func(string), metrics *observe.Metrics) (*Client, error) {
	if cfg.Username == "" {
		return nil, ErrMissingUsername
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("%w: empty relay key", crypto.ErrInvalidKey)
	}
	cipher, err := crypto.NewCipherBoxWithSuite(cfg.Key, cfg.Suite)
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTime
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if handler == nil {
		handler = func(string) {}
	}

	target := BuildURL(cfg.Host, cfg.Port, cfg.Username)
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %v (status %d)", ErrDial, target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDial, target, err)
	}
	conn.SetReadLimit(limits.MaxControlMessage)

	c := &Client{
		conn:    conn,
		cipher:  cipher,
		out:     newOutbox(),
		handler: handler,
		metrics: metrics,
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"url":      target,
	}).Info("Connected to signaling relay")
	return c, nil
}

// SendMessage encrypts msg and queues it. It never blocks. Messages whose
// ciphertext would exceed limits.MaxControlMessage are rejected.
func (c *Client) SendMessage(msg string) error {
	blob, err := c.cipher.Encrypt(msg)
	if err != nil {
		return err
	}
	if err := limits.ValidateControlMessage([]byte(blob)); err != nil {
		return err
	}
	if !c.out.push(blob) {
		return ErrClientClosed
	}
	return nil
}

// Done is closed when the read side of the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close flushes queued messages for up to closeGrace, sends a close frame
// and tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.out.close()
		select {
		case <-c.flushed:
		case <-time.After(closeGrace):
		}
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	defer close(c.flushed)
	if err := forward(c.conn, c.out); err != nil {
		c.setErr(err)
		_ = c.conn.Close()
	}
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)
	defer c.out.close()

	ctx := context.Background()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				c.setErr(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		plain, err := c.cipher.Decrypt(string(data))
		if err != nil {
			c.metrics.DecryptFailures.Add(ctx, 1)
			logrus.WithFields(logrus.Fields{
				"function": "Client.readLoop",
				"size":     len(data),
				"error":    err.Error(),
			}).Debug("Dropping undecryptable relay message")
			continue
		}
		c.handler(plain)
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}
