package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"pythagoras/logger"
	"pythagoras/models"
)

const component = "okx_feed"

// Frame is one raw message read from the feed.
type Frame struct {
	Type int
	Data []byte
}

// Options tunes a Feed. Zero values fall back to the defaults below.
type Options struct {
	Channel          string
	HandshakeTimeout time.Duration
	// SubscribeRate caps subscribe requests per second; 0 disables pacing.
	SubscribeRate float64
	UserAgent     string
}

const (
	defaultChannel          = "books"
	defaultHandshakeTimeout = 10 * time.Second
	defaultUserAgent        = "pythagoras/1.0"
)

// Feed owns one websocket session to the market-data endpoint. It is driven
// from a single goroutine; only Close may be called concurrently.
type Feed struct {
	conn      *websocket.Conn
	endpoint  string
	channel   string
	limiter   *rate.Limiter
	log       *logger.Log
	closeOnce sync.Once
	closeErr  error
}

// Connect parses endpoint and performs the websocket handshake. Both a
// malformed URL and a failed handshake are startup errors.
func Connect(ctx context.Context, endpoint string, opts Options, log *logger.Log) (*Feed, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket endpoint %s: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid websocket endpoint %s: scheme must be ws or wss", endpoint)
	}

	if opts.Channel == "" {
		opts.Channel = defaultChannel
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("User-Agent", opts.UserAgent)

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("can't connect to websocket endpoint %s: %w", endpoint, err)
	}

	f := &Feed{
		conn:     conn,
		endpoint: endpoint,
		channel:  opts.Channel,
		log:      log,
	}
	if opts.SubscribeRate > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.SubscribeRate), 1)
	}

	log.WithComponent(component).WithFields(logger.Fields{"host": u.Host, "path": u.Path}).Info("connected to websocket endpoint")
	return f, nil
}

// Subscribe sends one subscribe request for instrumentID and blocks for
// exactly one reply. The reply content is not inspected.
func (f *Feed) Subscribe(ctx context.Context, instrumentID string) error {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("subscribe %s: %w", instrumentID, err)
		}
	}

	payload, err := json.Marshal(models.NewSubscriptionRequest(f.channel, instrumentID))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", instrumentID, err)
	}
	if err := f.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("subscribe %s: write request: %w", instrumentID, err)
	}

	_, ack, err := f.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("subscribe %s: read acknowledgement: %w", instrumentID, err)
	}
	f.log.WithComponent(component).WithFields(logger.Fields{
		"instrument": instrumentID,
		"channel":    f.channel,
		"ack":        string(ack),
	}).Debug("subscription acknowledged")
	return nil
}

// Receive blocks until the next data frame arrives. Control frames are
// handled by the websocket library and never surface here.
func (f *Feed) Receive() (Frame, error) {
	mt, data, err := f.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: mt, Data: data}, nil
}

// Close tears the session down; a blocked Receive returns with an error.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = f.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		f.closeErr = f.conn.Close()
	})
	return f.closeErr
}

// Endpoint returns the URL the feed was dialled with.
func (f *Feed) Endpoint() string {
	return f.endpoint
}
