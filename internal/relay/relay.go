package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/channel"
)

var (
	// ErrNoBridge is returned when a request arrives with no bridge connected
	ErrNoBridge = errors.New("no bridge connected")
	// ErrTimeout is returned when the bridge does not answer in time
	ErrTimeout = errors.New("timed out waiting for bridge")
)

// Timeouts bounds how long each HTTP request waits for the bridge
type Timeouts struct {
	Unread   time.Duration
	Item     time.Duration
	Folder   time.Duration
	MarkRead time.Duration
}

// DefaultTimeouts are the waits used by the HTTP API
var DefaultTimeouts = Timeouts{
	Unread:   20 * time.Second,
	Item:     10 * time.Second,
	Folder:   30 * time.Second,
	MarkRead: 5 * time.Second,
}

// Relay links one bridge connection to HTTP clients. Requests are forwarded
// to the bridge and answered when the correlated response comes back.
type Relay struct {
	logger    *logrus.Logger
	timeouts  Timeouts
	indexPath string

	mu      sync.Mutex
	conn    *channel.Conn
	latest  json.RawMessage
	updated chan struct{}

	items   *waiters[json.RawMessage]
	folders *waiters[json.RawMessage]
	marks   *waiters[bool]
}

// New creates a relay. indexPath is served at / when set.
func New(logger *logrus.Logger, timeouts Timeouts, indexPath string) *Relay {
	return &Relay{
		logger:    logger,
		timeouts:  timeouts,
		indexPath: indexPath,
		latest:    json.RawMessage("[]"),
		updated:   make(chan struct{}),
		items:     newWaiters[json.RawMessage](),
		folders:   newWaiters[json.RawMessage](),
		marks:     newWaiters[bool](),
	}
}

// Serve accepts bridge connections until ctx is cancelled. A new
// connection replaces the current one.
func (r *Relay) Serve(ctx context.Context, ln *channel.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	r.logger.WithField("addr", ln.Addr().String()).Info("Waiting for bridge connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.detach(nil)
				return nil
			}
			r.logger.WithError(err).Warn("Failed to accept bridge connection")
			continue
		}

		r.attach(conn)
		go r.readLoop(conn)
	}
}

// Connected reports whether a bridge is connected
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Latest returns the most recent unread batch
func (r *Relay) Latest() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

func (r *Relay) attach(conn *channel.Conn) {
	r.mu.Lock()
	prev := r.conn
	r.conn = conn
	r.mu.Unlock()

	if prev != nil {
		r.logger.Info("Replacing bridge connection")
		prev.Close()
	}
	r.logger.Info("Bridge connected")
}

// detach forgets conn if it is still current; nil detaches any connection
func (r *Relay) detach(conn *channel.Conn) {
	r.mu.Lock()
	current := r.conn
	if conn == nil || current == conn {
		r.conn = nil
	}
	r.mu.Unlock()

	if current != nil && (conn == nil || current == conn) {
		current.Close()
		r.logger.Info("Bridge disconnected")
	}
}

func (r *Relay) send(req channel.Request) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil {
		return ErrNoBridge
	}
	return conn.Send(req)
}

func (r *Relay) readLoop(conn *channel.Conn) {
	defer r.detach(conn)

	for {
		raw, err := conn.Receive()
		if err != nil {
			r.logger.WithError(err).Debug("Bridge read ended")
			return
		}

		var resp channel.Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			var keepalive string
			if json.Unmarshal(raw, &keepalive) == nil && keepalive == channel.Ping {
				r.reply(conn, channel.Pong)
				continue
			}
			r.logger.WithError(err).Warn("Failed to decode bridge message")
			continue
		}

		r.handleResponse(conn, resp)
	}
}

func (r *Relay) handleResponse(conn *channel.Conn, resp channel.Response) {
	logger := r.logger.WithField("type", resp.Type)

	switch resp.Type {
	case channel.TypeRSSData:
		data := resp.Data
		if len(data) == 0 || string(data) == "null" {
			data = json.RawMessage("[]")
		}
		r.mu.Lock()
		r.latest = data
		close(r.updated)
		r.updated = make(chan struct{})
		r.mu.Unlock()
		logger.Info("Updated unread items")
		r.reply(conn, channel.Request{Status: channel.StatusReceived})

	case channel.TypeSingleItemData:
		id := string(resp.ItemID)
		data := resp.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		n := r.items.complete(id, data)
		logger.WithFields(logrus.Fields{"item_id": id, "waiters": n}).Info("Received single item")
		r.reply(conn, channel.Request{Status: channel.StatusAcknowledged})

	case channel.TypeFolderData:
		data := resp.Data
		if len(data) == 0 || string(data) == "null" {
			data = json.RawMessage("[]")
		}
		n := r.folders.complete(resp.FolderPath, data)
		logger.WithFields(logrus.Fields{"folder": resp.FolderPath, "waiters": n}).Info("Received folder items")
		r.reply(conn, channel.Request{Status: channel.StatusAcknowledged})

	case channel.TypeMarkReadResult:
		id := string(resp.ItemID)
		success := resp.Success != nil && *resp.Success
		n := r.marks.complete(id, success)
		logger.WithFields(logrus.Fields{"item_id": id, "success": success, "waiters": n}).Info("Received mark-read result")
		r.reply(conn, channel.Request{Status: channel.StatusAcknowledged})

	default:
		logger.Warn("Unknown bridge message")
	}
}

func (r *Relay) reply(conn *channel.Conn, v any) {
	if err := conn.Send(v); err != nil {
		r.logger.WithError(err).Debug("Failed to acknowledge bridge message")
	}
}

// RequestUnread asks the bridge for a fresh unread batch. It returns the
// batch and true, or the cached batch and false when the wait times out.
func (r *Relay) RequestUnread(ctx context.Context) (json.RawMessage, bool, error) {
	r.mu.Lock()
	updated := r.updated
	r.mu.Unlock()

	if err := r.send(channel.Request{Action: channel.ActionGetUnreadRSS}); err != nil {
		return nil, false, err
	}

	timer := time.NewTimer(r.timeouts.Unread)
	defer timer.Stop()

	select {
	case <-updated:
		return r.Latest(), true, nil
	case <-timer.C:
		return r.Latest(), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// RequestItem asks the bridge for one item; null data means not found
func (r *Relay) RequestItem(ctx context.Context, id string) (json.RawMessage, error) {
	ch := r.items.add(id)
	defer r.items.remove(id, ch)

	req := channel.Request{Action: channel.ActionGetSingleItem, ItemID: channel.ItemID(id)}
	return waitFor(ctx, r, req, ch, r.timeouts.Item)
}

// RequestFolder asks the bridge for every item under a folder path
func (r *Relay) RequestFolder(ctx context.Context, path string) (json.RawMessage, error) {
	ch := r.folders.add(path)
	defer r.folders.remove(path, ch)

	req := channel.Request{Action: channel.ActionGetFolderItems, FolderPath: path}
	return waitFor(ctx, r, req, ch, r.timeouts.Folder)
}

// RequestMarkRead asks the bridge to mark an item read
func (r *Relay) RequestMarkRead(ctx context.Context, id string) (bool, error) {
	ch := r.marks.add(id)
	defer r.marks.remove(id, ch)

	req := channel.Request{Action: channel.ActionMarkAsRead, ItemID: channel.ItemID(id)}
	return waitFor(ctx, r, req, ch, r.timeouts.MarkRead)
}

func waitFor[T any](ctx context.Context, r *Relay, req channel.Request, ch chan T, timeout time.Duration) (T, error) {
	var zero T
	if err := r.send(req); err != nil {
		return zero, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// waiters holds the pending requests per correlation key
type waiters[T any] struct {
	mu sync.Mutex
	m  map[string][]chan T
}

func newWaiters[T any]() *waiters[T] {
	return &waiters[T]{m: make(map[string][]chan T)}
}

func (w *waiters[T]) add(key string) chan T {
	ch := make(chan T, 1)
	w.mu.Lock()
	w.m[key] = append(w.m[key], ch)
	w.mu.Unlock()
	return ch
}

func (w *waiters[T]) remove(key string, ch chan T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.m[key]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(w.m, key)
	} else {
		w.m[key] = list
	}
}

// complete delivers v to every waiter of key and returns how many there were
func (w *waiters[T]) complete(key string, v T) int {
	w.mu.Lock()
	list := w.m[key]
	delete(w.m, key)
	w.mu.Unlock()

	for _, ch := range list {
		ch <- v
	}
	return len(list)
}
