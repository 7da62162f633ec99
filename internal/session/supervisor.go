package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/rss-bridge/internal/channel"
)

// Defaults for Options
const (
	DefaultSyncInterval   = time.Minute
	DefaultReconnectDelay = 5 * time.Second
)

// Dialer opens a connection to the consumer
type Dialer interface {
	Dial(ctx context.Context) (*channel.Conn, error)
}

// Options configures a Supervisor
type Options struct {
	SyncInterval   time.Duration
	ReconnectDelay time.Duration
}

// Supervisor owns the connection to the consumer. It reconnects forever
// with a fixed delay and, while connected, runs every sync and request on
// one goroutine so no two syncs overlap.
type Supervisor struct {
	dialer   Dialer
	syncer   Syncer
	registry *Registry
	logger   *logrus.Logger
	opts     Options

	trigger chan struct{}

	mu    sync.RWMutex
	state State
}

// NewSupervisor creates a supervisor
func NewSupervisor(dialer Dialer, syncer Syncer, marker Marker, logger *logrus.Logger, opts Options) *Supervisor {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}

	return &Supervisor{
		dialer:   dialer,
		syncer:   syncer,
		registry: NewRegistry(syncer, marker, logger),
		logger:   logger,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		state:    Disconnected,
	}
}

// State returns the current connection state
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   state.String(),
		}).Debug("Session state changed")
	}
}

// Trigger requests an immediate unread sync. Triggers arriving while one is
// pending are coalesced; triggers while disconnected are dropped on connect
// since connecting emits a fresh batch anyway.
func (s *Supervisor) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run connects and serves until ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("Starting sync session")

	for {
		s.setState(Connecting)
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(Disconnected)
				return nil
			}
			s.logger.WithError(err).Warn("Failed to connect, will retry")
		} else {
			s.setState(Connected)
			s.logger.Info("Connected")
			s.serve(ctx, conn)
			conn.Close()
		}
		s.setState(Disconnected)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.opts.ReconnectDelay):
		}
	}
}

// serve handles one connection until it drops or ctx is cancelled
func (s *Supervisor) serve(ctx context.Context, conn *channel.Conn) {
	requests := make(chan channel.Request)
	recvErr := make(chan error, 1)
	go s.receive(conn, requests, recvErr)

	select {
	case <-s.trigger:
	default:
	}
	s.emitUnread(ctx, conn, "connect")

	ticker := time.NewTicker(s.opts.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-recvErr:
			s.logger.WithError(err).Warn("Connection lost")
			return
		case <-ticker.C:
			s.emitUnread(ctx, conn, "timer")
		case <-s.trigger:
			s.emitUnread(ctx, conn, "trigger")
		case req := <-requests:
			s.dispatch(ctx, conn, req)
		}
	}
}

// receive reads frames until the connection fails, then closes it
func (s *Supervisor) receive(conn *channel.Conn, requests chan<- channel.Request, recvErr chan<- error) {
	for {
		raw, err := conn.Receive()
		if err != nil {
			conn.Close()
			recvErr <- err
			return
		}

		var req channel.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			var keepalive string
			if json.Unmarshal(raw, &keepalive) == nil {
				if keepalive == channel.Ping {
					if err := conn.Send(channel.Pong); err != nil {
						s.logger.WithError(err).Debug("Failed to answer ping")
					}
				}
				continue
			}
			s.logger.WithError(err).Warn("Failed to decode request")
			continue
		}

		select {
		case requests <- req:
		case <-conn.Done():
			return
		}
	}
}

func (s *Supervisor) dispatch(ctx context.Context, conn *channel.Conn, req channel.Request) {
	if req.Action == "" {
		s.logger.WithField("status", req.Status).Debug("Received acknowledgement")
		return
	}

	handler, ok := s.registry.Get(req.Action)
	if !ok {
		s.logger.WithField("action", req.Action).Warn("Unknown action")
		return
	}

	logger := s.logger.WithField("action", req.Action)
	logger.Debug("Handling request")

	resp, err := handler.Handle(ctx, req)
	if err != nil {
		logger.WithError(err).Error("Failed to handle request")
		return
	}
	s.emit(conn, resp)
}

func (s *Supervisor) emitUnread(ctx context.Context, conn *channel.Conn, reason string) {
	start := time.Now()
	items := s.syncer.UnreadBatch(ctx)

	resp, err := channel.NewRSSData(items)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode unread batch")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"reason":   reason,
		"items":    len(items),
		"duration": time.Since(start).String(),
	}).Info("Unread sync complete")
	s.emit(conn, resp)
}

// emit sends resp unless the connection dropped while it was computed
func (s *Supervisor) emit(conn *channel.Conn, resp channel.Response) {
	select {
	case <-conn.Done():
		s.logger.WithField("type", resp.Type).Info("Connection closed, discarding result")
		return
	default:
	}

	if err := conn.Send(resp); err != nil {
		s.logger.WithError(err).WithField("type", resp.Type).Warn("Failed to send response")
	}
}
