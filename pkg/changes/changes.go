// Package changes subscribes to document change notifications over the
// server's changes WebSocket.
//
//	client, err := changes.Dial(ctx, "http://localhost:8080", "northwind")
//	sub, err := client.ForDocument(ctx, "users/1")
//	for change := range sub.C {
//		...
//	}
package changes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	gorilla "github.com/gorilla/websocket"

	"github.com/ravendb/ravendb.go/internal/codec"
	"github.com/ravendb/ravendb.go/pkg/constants"
	"github.com/ravendb/ravendb.go/pkg/logger"
)

const (
	// subscriptionBuffer is how many undelivered changes a subscription
	// holds before further changes for it are dropped.
	subscriptionBuffer = 64

	defaultConfirmTimeout = 15 * time.Second
)

var (
	ErrClosed           = errors.New("changes connection is closed")
	ErrConfirmTimeout   = errors.New("server did not confirm the subscription")
	ErrSubscriptionDone = errors.New("subscription is already closed")
)

var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type DocumentChangeType int

const (
	DocumentPut DocumentChangeType = iota + 1
	DocumentDelete
	DocumentConflict
	DocumentCommon
)

var documentChangeNames = map[DocumentChangeType]string{
	DocumentPut:      "Put",
	DocumentDelete:   "Delete",
	DocumentConflict: "Conflict",
	DocumentCommon:   "Common",
}

func (t DocumentChangeType) String() string {
	if name, ok := documentChangeNames[t]; ok {
		return name
	}
	return "None"
}

func parseDocumentChangeType(s string) DocumentChangeType {
	for t, name := range documentChangeNames {
		if name == s {
			return t
		}
	}
	return 0
}

type DocumentChange struct {
	Type         DocumentChangeType
	ID           string
	Collection   string
	ChangeVector string
}

type Option func(c *Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) { c.confirmTimeout = d }
}

func WithMarshaler(m codec.Marshaler) Option {
	return func(c *Client) { c.marshaler = m }
}

// Client is one changes connection. It is safe for concurrent use.
type Client struct {
	conn     *gorilla.Conn
	connLock sync.Mutex

	marshaler      codec.Marshaler
	logger         logger.Logger
	confirmTimeout time.Duration

	mu            sync.Mutex
	nextCommandID int
	nextSubID     int
	subscriptions map[int]*Subscription
	confirmations map[int]chan struct{}

	closeCh  chan struct{}
	closeErr error
	closed   bool
}

// Dial connects to the changes endpoint of database on the server at
// baseURL. http and https URLs are converted to ws and wss.
func Dial(ctx context.Context, baseURL, database string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, constants.ErrNoBaseURL
	}
	if database == "" {
		return nil, constants.ErrNoDatabase
	}
	c := &Client{
		marshaler:      codec.JSON{},
		logger:         logger.Nop(),
		confirmTimeout: defaultConfirmTimeout,
		subscriptions:  map[int]*Subscription{},
		confirmations:  map[int]chan struct{}{},
		closeCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, res, err := DefaultDialer.DialContext(ctx, EndpointURL(baseURL, database), nil)
	if err != nil {
		return nil, fmt.Errorf("dialing changes endpoint: %w", err)
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// EndpointURL returns the WebSocket address of the changes endpoint.
func EndpointURL(baseURL, database string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/databases/" + database + "/changes"
}

// ForDocument delivers changes of the document with the given id.
func (c *Client) ForDocument(ctx context.Context, id string) (*Subscription, error) {
	return c.subscribe(ctx, "watch-doc", "unwatch-doc", id, func(ch DocumentChange) bool {
		return strings.EqualFold(ch.ID, id)
	})
}

// ForAllDocuments delivers every document change in the database.
func (c *Client) ForAllDocuments(ctx context.Context) (*Subscription, error) {
	return c.subscribe(ctx, "watch-docs", "unwatch-docs", "", func(DocumentChange) bool { return true })
}

func (c *Client) ForDocumentsStartingWith(ctx context.Context, prefix string) (*Subscription, error) {
	lower := strings.ToLower(prefix)
	return c.subscribe(ctx, "watch-prefix", "unwatch-prefix", prefix, func(ch DocumentChange) bool {
		return strings.HasPrefix(strings.ToLower(ch.ID), lower)
	})
}

func (c *Client) ForDocumentsInCollection(ctx context.Context, collection string) (*Subscription, error) {
	return c.subscribe(ctx, "watch-collection", "unwatch-collection", collection, func(ch DocumentChange) bool {
		return strings.EqualFold(ch.Collection, collection)
	})
}

func (c *Client) subscribe(ctx context.Context, watch, unwatch, param string, match func(DocumentChange) bool) (*Subscription, error) {
	ch := make(chan DocumentChange, subscriptionBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextSubID++
	sub := &Subscription{
		C:       ch,
		ch:      ch,
		id:      c.nextSubID,
		client:  c,
		unwatch: unwatch,
		param:   param,
		match:   match,
	}
	c.subscriptions[sub.id] = sub
	c.mu.Unlock()

	if err := c.send(ctx, watch, param); err != nil {
		c.removeSubscription(sub.id)
		return nil, err
	}
	return sub, nil
}

// send writes one command and waits for the server to confirm it.
func (c *Client) send(ctx context.Context, command, param string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.nextCommandID++
	id := c.nextCommandID
	confirmed := make(chan struct{})
	c.confirmations[id] = confirmed
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.confirmations, id)
		c.mu.Unlock()
	}()

	msg := map[string]any{"CommandId": id, "Command": command}
	if param != "" {
		msg["Param"] = param
	}
	if err := c.write(msg); err != nil {
		return err
	}

	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}
	select {
	case <-confirmed:
		return nil
	case <-c.closeCh:
		return c.closeError()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", ErrConfirmTimeout, command, param)
		}
		return ctx.Err()
	}
}

func (c *Client) write(v any) error {
	data, err := c.marshaler.Marshal(v)
	if err != nil {
		return err
	}
	c.connLock.Lock()
	defer c.connLock.Unlock()
	err = c.conn.WriteMessage(gorilla.TextMessage, data)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(ErrClosed)
	}
	return err
}

// Close stops all subscriptions and closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.connLock.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	err := c.conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
	if err != nil {
		c.logger.Warn("failed to write close message", "error", err)
	}
	c.connLock.Unlock()

	c.closeWithError(ErrClosed)
	return c.conn.Close()
}

func (c *Client) closeError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

func (c *Client) closeWithError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeErr = err
	close(c.closeCh)
	for id, sub := range c.subscriptions {
		close(sub.ch)
		delete(c.subscriptions, id)
	}
}

func (c *Client) removeSubscription(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscriptions[id]
	if !ok {
		return false
	}
	delete(c.subscriptions, id)
	close(sub.ch)
	return true
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeWithError(readError(err))
			return
		}
		if err := c.handleMessage(data); err != nil {
			c.logger.Error("failed to handle changes message", "error", err)
		}
	}
}

func readError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return ErrClosed
	case gorilla.IsCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway):
		return ErrClosed
	case gorilla.IsUnexpectedCloseError(err):
		return fmt.Errorf("%w: %w", ErrClosed, io.ErrClosedPipe)
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// handleMessage accepts a single message object or an array of them.
func (c *Client) handleMessage(data []byte) error {
	_, dataType, _, err := jsonparser.Get(data)
	if err != nil {
		return err
	}
	if dataType != jsonparser.Array {
		return c.handleOne(data)
	}
	var itemErr error
	_, err = jsonparser.ArrayEach(data, func(value []byte, _ jsonparser.ValueType, _ int, err error) {
		if err == nil {
			err = c.handleOne(value)
		}
		if err != nil && itemErr == nil {
			itemErr = err
		}
	})
	if err != nil {
		return err
	}
	return itemErr
}

func (c *Client) handleOne(msg []byte) error {
	typ, err := jsonparser.GetString(msg, "Type")
	if err != nil {
		return fmt.Errorf("message without Type: %w", err)
	}
	switch typ {
	case "Confirm":
		id, err := jsonparser.GetInt(msg, "CommandId")
		if err != nil {
			return fmt.Errorf("confirmation without CommandId: %w", err)
		}
		c.confirm(int(id))
	case "DocumentChange":
		value, _, _, err := jsonparser.Get(msg, "Value")
		if err != nil {
			return fmt.Errorf("document change without Value: %w", err)
		}
		change, err := parseDocumentChange(value)
		if err != nil {
			return err
		}
		c.dispatch(change)
	case "Error":
		text, _ := jsonparser.GetString(msg, "Exception")
		c.logger.Error("changes error from server", "exception", text)
	default:
		c.logger.Debug("ignoring changes message", "type", typ)
	}
	return nil
}

func parseDocumentChange(value []byte) (DocumentChange, error) {
	var change DocumentChange
	typ, err := jsonparser.GetString(value, "Type")
	if err != nil {
		return change, fmt.Errorf("document change without Type: %w", err)
	}
	change.Type = parseDocumentChangeType(typ)
	change.ID, _ = jsonparser.GetString(value, "Id")
	change.Collection, _ = jsonparser.GetString(value, "CollectionName")
	change.ChangeVector, _ = jsonparser.GetString(value, "ChangeVector")
	return change, nil
}

func (c *Client) confirm(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.confirmations[id]; ok {
		close(ch)
		delete(c.confirmations, id)
	}
}

func (c *Client) dispatch(change DocumentChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subscriptions {
		if !sub.match(change) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			c.logger.Warn("dropping document change for slow subscriber", "id", change.ID, "type", change.Type.String())
		}
	}
}

// Subscription receives the changes it matched on C until it is closed.
type Subscription struct {
	C <-chan DocumentChange

	ch      chan DocumentChange
	id      int
	client  *Client
	unwatch string
	param   string
	match   func(DocumentChange) bool
}

// Close stops delivery and tells the server to stop watching.
func (s *Subscription) Close(ctx context.Context) error {
	if !s.client.removeSubscription(s.id) {
		return ErrSubscriptionDone
	}
	return s.client.send(ctx, s.unwatch, s.param)
}
