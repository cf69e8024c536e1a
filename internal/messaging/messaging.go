// Package messaging is the boundary to the socket library the worker
// drives on behalf of its parent. Sockets are opaque to the rest of the
// worker; only the handle table holds them.
package messaging

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownKind     = errors.New("messaging: unknown socket kind")
	ErrInvalidEndpoint = errors.New("messaging: invalid endpoint")
	ErrAddrInUse       = errors.New("messaging: address in use")
	ErrNoPeer          = errors.New("messaging: no peer at endpoint")
	ErrNoMessage       = errors.New("messaging: no message available")
	ErrRecvFailed      = errors.New("messaging: receive failed")
	ErrCannotSend      = errors.New("messaging: socket kind cannot send")
	ErrCannotRecv      = errors.New("messaging: socket kind cannot receive")
	ErrQueueFull       = errors.New("messaging: peer queue full")
	ErrClosed          = errors.New("messaging: socket closed")
)

// Kind selects the socket pattern. Values follow libzmq numbering so the
// parent can pass them through unchanged.
type Kind int

const (
	Pair Kind = iota
	Pub
	Sub
	Req
	Rep
	Dealer
	Router
	Pull
	Push
	XPub
	XSub
)

var kindNames = [...]string{
	Pair:   "PAIR",
	Pub:    "PUB",
	Sub:    "SUB",
	Req:    "REQ",
	Rep:    "REP",
	Dealer: "DEALER",
	Router: "ROUTER",
	Pull:   "PULL",
	Push:   "PUSH",
	XPub:   "XPUB",
	XSub:   "XSUB",
}

func (k Kind) Valid() bool { return k >= Pair && k <= XSub }

func (k Kind) String() string {
	if !k.Valid() {
		return "UNKNOWN"
	}
	return kindNames[k]
}

func (k Kind) CanSend() bool { return k != Sub && k != Pull }

func (k Kind) CanRecv() bool { return k != Pub && k != Push }

// SendFlag mirrors czmq frame flags.
type SendFlag int

const (
	FlagMore     SendFlag = 1
	FlagReuse    SendFlag = 2
	FlagDontWait SendFlag = 4
)

// Frame is one part of a possibly multi-part message. More is set while
// further parts of the same message remain to be received.
type Frame struct {
	Data []byte
	More bool
}

// Socket is one library socket.
type Socket interface {
	Kind() Kind
	// Bind returns the bound TCP port, or 0 for other transports.
	Bind(endpoint string) (int, error)
	Connect(endpoint string) error
	// Send queues one frame. Frames flagged FlagMore are held until the
	// final frame of the message arrives.
	Send(data []byte, flags SendFlag) error
	// RecvNoWait never blocks. ErrNoMessage means nothing is queued;
	// ErrRecvFailed reports a library receive error since the last read.
	RecvNoWait() (Frame, error)
	Close() error
}

// Context creates sockets and owns library-wide state.
type Context interface {
	NewSocket(kind Kind) (Socket, error)
	Close() error
}

// SplitEndpoint splits "transport://address".
func SplitEndpoint(endpoint string) (transport, addr string, err error) {
	transport, addr, ok := strings.Cut(endpoint, "://")
	if !ok || transport == "" || addr == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint)
	}
	return transport, addr, nil
}

// partial accumulates the frames of a multi-part send.
type partial struct {
	frames [][]byte
}

// add returns the complete message once the final frame is added.
func (p *partial) add(data []byte, flags SendFlag) ([][]byte, bool) {
	buf := make([]byte, len(data))
	copy(buf, data)
	p.frames = append(p.frames, buf)
	if flags&FlagMore != 0 {
		return nil, false
	}
	msg := p.frames
	p.frames = nil
	return msg, true
}

// inbox queues received messages and hands them out one frame at a time.
type inbox struct {
	queue chan [][]byte

	mu      sync.Mutex
	pending [][]byte
	err     error
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = 1024
	}
	return &inbox{queue: make(chan [][]byte, size)}
}

// offer queues msg without blocking.
func (b *inbox) offer(msg [][]byte) bool {
	select {
	case b.queue <- msg:
		return true
	default:
		return false
	}
}

// fail records a receive error; it is reported once by the next empty read.
func (b *inbox) fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *inbox) next() (Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		select {
		case msg := <-b.queue:
			if len(msg) == 0 {
				msg = [][]byte{{}}
			}
			b.pending = msg
		default:
			if err := b.err; err != nil {
				b.err = nil
				return Frame{}, fmt.Errorf("%w: %w", ErrRecvFailed, err)
			}
			return Frame{}, ErrNoMessage
		}
	}

	data := b.pending[0]
	b.pending = b.pending[1:]
	return Frame{Data: data, More: len(b.pending) > 0}, nil
}
