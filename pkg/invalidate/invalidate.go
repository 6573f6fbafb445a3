// Package invalidate shares cache invalidations between processes over NATS.
//
// A process that writes to a route publishes the route on a subject; every
// other process subscribed to that subject clears its cached pages for the
// route so live views refetch.
package invalidate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// Static errors for err113 compliance.
var (
	ErrNoConnection = errors.New("invalidation requires a connection")
	ErrNoClearer    = errors.New("invalidation requires a cache to clear")
	ErrClosed       = errors.New("invalidator closed")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Conn is the subset of a message bus connection the invalidator needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

// Clearer drops cached pages for routes.
type Clearer interface {
	Clear(routes ...string)
}

// Message is the payload published for an invalidation.
type Message struct {
	Routes []string  `json:"routes"`
	Origin string    `json:"origin"`
	SentAt time.Time `json:"sent_at"`
}

// Option configures an Invalidator.
type Option func(*Invalidator)

// WithSubject overrides the subject invalidations travel on.
func WithSubject(subject string) Option {
	return func(i *Invalidator) {
		i.subject = subject
	}
}

// WithLogger sets the logger.
func WithLogger(logger listing.Logger) Option {
	return func(i *Invalidator) {
		i.logger = logger
	}
}

// Invalidator publishes local invalidations and applies remote ones.
type Invalidator struct {
	conn        Conn
	clearer     Clearer
	subject     string
	origin      string
	logger      listing.Logger
	unsubscribe func() error

	mu     sync.Mutex
	closed bool
}

// New subscribes to the invalidation subject and returns the invalidator.
func New(conn Conn, clearer Clearer, opts ...Option) (*Invalidator, error) {
	if conn == nil {
		return nil, ErrNoConnection
	}

	if clearer == nil {
		return nil, ErrNoClearer
	}

	inv := &Invalidator{
		conn:    conn,
		clearer: clearer,
		subject: constants.DefaultInvalidationSubject,
		origin:  uuid.NewString(),
		logger:  listing.NopLogger{},
	}

	for _, opt := range opts {
		opt(inv)
	}

	if inv.logger == nil {
		inv.logger = listing.NopLogger{}
	}

	unsubscribe, err := conn.Subscribe(inv.subject, inv.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", inv.subject, err)
	}

	inv.unsubscribe = unsubscribe

	return inv, nil
}

// Origin identifies this process in published messages.
func (i *Invalidator) Origin() string {
	return i.origin
}

// Subject returns the subject invalidations travel on.
func (i *Invalidator) Subject() string {
	return i.subject
}

// Invalidate clears routes locally and announces them to other processes.
// No routes means every route.
func (i *Invalidator) Invalidate(routes ...string) error {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()

	if closed {
		return ErrClosed
	}

	i.clearer.Clear(routes...)

	payload, err := json.Marshal(Message{
		Routes: routes,
		Origin: i.origin,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encoding invalidation: %w", err)
	}

	err = i.conn.Publish(i.subject, payload)
	if err != nil {
		return fmt.Errorf("publishing invalidation: %w", err)
	}

	return nil
}

// Close stops applying remote invalidations.
func (i *Invalidator) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}

	i.closed = true

	return i.unsubscribe()
}

func (i *Invalidator) handle(data []byte) {
	var msg Message

	err := json.Unmarshal(data, &msg)
	if err != nil {
		i.logger.Warn("dropping malformed invalidation", map[string]interface{}{
			"subject": i.subject,
			"error":   err.Error(),
		})

		return
	}

	if msg.Origin == i.origin {
		return
	}

	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()

	if closed {
		return
	}

	i.logger.Debug("applying remote invalidation", map[string]interface{}{
		"routes": msg.Routes,
		"origin": msg.Origin,
	})

	i.clearer.Clear(msg.Routes...)
}

// NATSConn adapts a NATS connection to Conn.
type NATSConn struct {
	conn *nats.Conn
}

// Connect dials a NATS server.
func Connect(url string, opts ...nats.Option) (*NATSConn, error) {
	defaults := []nats.Option{
		nats.Name("pagectl"),
		nats.Timeout(constants.ShortHTTPTimeout),
		nats.MaxReconnects(-1),
	}

	conn, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return &NATSConn{conn: conn}, nil
}

// WrapNATS adapts an existing connection.
func WrapNATS(conn *nats.Conn) *NATSConn {
	return &NATSConn{conn: conn}
}

// Publish implements Conn.
func (c *NATSConn) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Subscribe implements Conn.
func (c *NATSConn) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

// Close drains and closes the connection.
func (c *NATSConn) Close() error {
	return c.conn.Drain()
}
