package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// ZMQOptions tunes sockets created by a ZMQ context.
type ZMQOptions struct {
	// Timeout bounds individual socket reads and writes; 0 keeps the
	// library default.
	Timeout time.Duration
	// DialRetry is the first delay between connect attempts. Later
	// attempts back off exponentially up to maxDialRetry.
	DialRetry time.Duration
	// InboxSize is the number of whole messages buffered per socket.
	InboxSize int
}

const (
	dialTimeout  = 5 * time.Second
	maxDialRetry = 5 * time.Second
	closeWait    = time.Second
)

// ZMQ is a Context backed by the pure-Go ZeroMQ implementation.
type ZMQ struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   ZMQOptions
	log    zerolog.Logger
}

var _ Context = (*ZMQ)(nil)

func NewZMQ(parent context.Context, opts ZMQOptions, logger zerolog.Logger) *ZMQ {
	ctx, cancel := context.WithCancel(parent)
	return &ZMQ{ctx: ctx, cancel: cancel, opts: opts, log: logger.With().Str("component", "zmq").Logger()}
}

type zmqConstructor func(context.Context, ...zmq4.Option) zmq4.Socket

var zmqConstructors = map[Kind]zmqConstructor{
	Pair:   zmq4.NewPair,
	Pub:    zmq4.NewPub,
	Sub:    zmq4.NewSub,
	Req:    zmq4.NewReq,
	Rep:    zmq4.NewRep,
	Dealer: zmq4.NewDealer,
	Router: zmq4.NewRouter,
	Pull:   zmq4.NewPull,
	Push:   zmq4.NewPush,
	XPub:   zmq4.NewXPub,
	XSub:   zmq4.NewXSub,
}

func (z *ZMQ) NewSocket(kind Kind) (Socket, error) {
	ctor, ok := zmqConstructors[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	if err := z.ctx.Err(); err != nil {
		return nil, ErrClosed
	}

	opts := []zmq4.Option{
		// The library logs through the stdlib logger; route it to ours so
		// nothing ever reaches stdout.
		zmq4.WithLogger(log.New(z.log, "", 0)),
		// One attempt per Dial; connectLoop owns retrying.
		zmq4.WithDialerMaxRetries(0),
		zmq4.WithDialerTimeout(dialTimeout),
	}
	if z.opts.Timeout > 0 {
		opts = append(opts, zmq4.WithTimeout(z.opts.Timeout))
	}

	ctx, cancel := context.WithCancel(z.ctx)
	return newZMQSocket(ctx, cancel, kind, ctor(ctx, opts...), z.opts, z.log), nil
}

func (z *ZMQ) Close() error {
	z.cancel()
	return nil
}

// zmqSocket adapts a library socket. A pump goroutine moves received
// messages into the inbox; connect attempts run on their own goroutines.
//
// REP replies go to the peer of the last library receive and REQ may only
// receive after a send, so those kinds are read one message at a time:
// the pump waits for a turn, granted by the next completed send.
type zmqSocket struct {
	kind   Kind
	sock   zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
	opts   ZMQOptions
	inbox  *inbox
	done   chan struct{}
	log    zerolog.Logger

	turn     chan struct{}
	replyDue atomic.Bool
	connMu   sync.Mutex // serialises library Listen, Dial and Close
	connects sync.WaitGroup
	mu       sync.Mutex
	out      partial
	closed   atomic.Bool
}

func newZMQSocket(ctx context.Context, cancel context.CancelFunc, kind Kind, sock zmq4.Socket, opts ZMQOptions, logger zerolog.Logger) *zmqSocket {
	s := &zmqSocket{
		kind:   kind,
		sock:   sock,
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		inbox:  newInbox(opts.InboxSize),
		done:   make(chan struct{}),
		log:    logger.With().Str("kind", kind.String()).Logger(),
		turn:   make(chan struct{}, 1),
	}
	if kind.CanRecv() {
		go s.pump()
	} else {
		close(s.done)
	}
	return s
}

func (s *zmqSocket) Kind() Kind { return s.kind }

func (s *zmqSocket) Bind(endpoint string) (int, error) {
	ep, err := normalizeEndpoint(endpoint)
	if err != nil {
		return -1, err
	}
	if s.closed.Load() {
		return -1, ErrClosed
	}
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if err := s.sock.Listen(ep); err != nil {
		return -1, err
	}
	if addr, ok := s.sock.Addr().(*net.TCPAddr); ok {
		return addr.Port, nil
	}
	return 0, nil
}

// Connect validates endpoint and returns at once. The connection is made
// in the background and retried until it succeeds or the socket closes,
// so connecting ahead of the peer's bind works.
func (s *zmqSocket) Connect(endpoint string) error {
	ep, err := normalizeEndpoint(endpoint)
	if err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.connects.Add(1)
	go s.connectLoop(ep)
	return nil
}

func (s *zmqSocket) connectLoop(ep string) {
	defer s.connects.Done()

	b := backoff.NewExponentialBackOff()
	if s.opts.DialRetry > 0 {
		b.InitialInterval = s.opts.DialRetry
	}
	b.MaxInterval = maxDialRetry
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		s.connMu.Lock()
		err := s.sock.Dial(ep)
		s.connMu.Unlock()
		if err != nil && s.ctx.Err() == nil {
			s.log.Debug().Err(err).Str("endpoint", ep).Int("attempt", attempts).Msg("connect attempt failed")
		}
		return err
	}, backoff.WithContext(b, s.ctx))
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Warn().Err(err).Str("endpoint", ep).Msg("connect abandoned")
		}
		return
	}
	s.log.Debug().Str("endpoint", ep).Int("attempts", attempts).Msg("connected")
}

func (s *zmqSocket) Send(data []byte, flags SendFlag) error {
	if !s.kind.CanSend() {
		return fmt.Errorf("%w: %s", ErrCannotSend, s.kind)
	}
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	msg, complete := s.out.add(data, flags)
	s.mu.Unlock()
	if !complete {
		return nil
	}

	var err error
	if len(msg) == 1 {
		err = s.sock.Send(zmq4.NewMsg(msg[0]))
	} else {
		err = s.sock.SendMulti(zmq4.NewMsgFrom(msg...))
	}
	if err != nil {
		return err
	}
	s.grantTurn()
	return nil
}

// grantTurn lets a lockstep pump read the next message once a send has
// completed: the reply for REP, the request for REQ.
func (s *zmqSocket) grantTurn() {
	switch s.kind {
	case Rep:
		if !s.replyDue.CompareAndSwap(true, false) {
			return
		}
	case Req:
	default:
		return
	}
	select {
	case s.turn <- struct{}{}:
	default:
	}
}

func (s *zmqSocket) awaitTurn() bool {
	select {
	case <-s.turn:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *zmqSocket) RecvNoWait() (Frame, error) {
	if !s.kind.CanRecv() {
		return Frame{}, fmt.Errorf("%w: %s", ErrCannotRecv, s.kind)
	}
	if s.closed.Load() {
		return Frame{}, ErrClosed
	}
	return s.inbox.next()
}

func (s *zmqSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	stopped := make(chan struct{})
	go func() {
		s.connects.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(closeWait):
		s.log.Warn().Msg("connect attempts did not stop after close")
	}

	s.connMu.Lock()
	err := s.sock.Close()
	s.connMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(closeWait):
		s.log.Warn().Msg("receive pump did not stop after close")
	}
	return err
}

// pump moves messages from the blocking library receive into the inbox so
// RecvNoWait can poll it.
func (s *zmqSocket) pump() {
	defer close(s.done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0

	for {
		if s.kind == Req && !s.awaitTurn() {
			return
		}
		msg, err := s.sock.Recv()
		if s.closed.Load() || s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.inbox.fail(err)
			s.log.Debug().Err(err).Msg("receive failed")
			if s.kind == Req {
				// The request is lost; wait for the next one.
				continue
			}
			select {
			case <-time.After(b.NextBackOff()):
				continue
			case <-s.ctx.Done():
				return
			}
		}
		b.Reset()

		if s.kind == Rep {
			s.replyDue.Store(true)
		}
		select {
		case s.inbox.queue <- msg.Frames:
		case <-s.ctx.Done():
			return
		}
		if s.kind == Rep && !s.awaitTurn() {
			return
		}
	}
}

// normalizeEndpoint rewrites czmq wildcard forms ("tcp://*:*") into
// addresses the Go listener understands and rejects transports the
// library does not provide.
func normalizeEndpoint(endpoint string) (string, error) {
	transport, addr, err := SplitEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if !slices.Contains(zmq4.Transports(), transport) {
		return "", fmt.Errorf("%w: unsupported transport %q", ErrInvalidEndpoint, transport)
	}
	if transport != "tcp" {
		return endpoint, nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Join(ErrInvalidEndpoint, err)
	}
	if host == "*" {
		host = "0.0.0.0"
	}
	if port == "*" {
		port = "0"
	}
	return transport + "://" + net.JoinHostPort(host, port), nil
}
