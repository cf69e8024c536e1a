package messaging

import (
	"fmt"
	"slices"
	"sync"
)

var memTransports = []string{"inproc", "ipc", "tcp"}

// Memory is an in-process Context. Sockets bound and connected through the
// same Memory exchange messages directly; nothing touches the network.
// As with ZeroMQ, a socket may connect before the endpoint is bound; the
// link forms when the bind happens and survives rebinding.
type Memory struct {
	mu        sync.Mutex
	bound     map[string]*memSocket
	dialers   map[string][]*memSocket
	inboxSize int
	closed    bool
}

var _ Context = (*Memory)(nil)

func NewMemory(inboxSize int) *Memory {
	return &Memory{
		bound:     make(map[string]*memSocket),
		dialers:   make(map[string][]*memSocket),
		inboxSize: inboxSize,
	}
}

func (m *Memory) NewSocket(kind Kind) (Socket, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memSocket{m: m, kind: kind, inbox: newInbox(m.inboxSize)}, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.bound = make(map[string]*memSocket)
	m.dialers = make(map[string][]*memSocket)
	return nil
}

type memSocket struct {
	m     *Memory
	kind  Kind
	inbox *inbox
	out   partial

	// binds, dials and closed are guarded by m.mu.
	binds  []string
	dials  []string
	closed bool
}

func memEndpoint(endpoint string) error {
	transport, _, err := SplitEndpoint(endpoint)
	if err != nil {
		return err
	}
	if !slices.Contains(memTransports, transport) {
		return fmt.Errorf("%w: unsupported transport %q", ErrInvalidEndpoint, transport)
	}
	return nil
}

// peersLocked lists the sockets s is linked to: the binder of every
// endpoint it dialed and every dialer of the endpoints it bound.
func (s *memSocket) peersLocked() []*memSocket {
	var peers []*memSocket
	link := func(p *memSocket) {
		if p != nil && p != s && !slices.Contains(peers, p) {
			peers = append(peers, p)
		}
	}
	for _, ep := range s.dials {
		link(s.m.bound[ep])
	}
	for _, ep := range s.binds {
		for _, d := range s.m.dialers[ep] {
			link(d)
		}
	}
	return peers
}

func (s *memSocket) Kind() Kind { return s.kind }

func (s *memSocket) Bind(endpoint string) (int, error) {
	if err := memEndpoint(endpoint); err != nil {
		return -1, err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return -1, ErrClosed
	}
	if _, ok := s.m.bound[endpoint]; ok {
		return -1, fmt.Errorf("%w: %s", ErrAddrInUse, endpoint)
	}
	s.m.bound[endpoint] = s
	s.binds = append(s.binds, endpoint)
	return 0, nil
}

func (s *memSocket) Connect(endpoint string) error {
	if err := memEndpoint(endpoint); err != nil {
		return err
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if slices.Contains(s.dials, endpoint) {
		return nil
	}
	s.dials = append(s.dials, endpoint)
	s.m.dialers[endpoint] = append(s.m.dialers[endpoint], s)
	return nil
}

func (s *memSocket) Send(data []byte, flags SendFlag) error {
	if !s.kind.CanSend() {
		return fmt.Errorf("%w: %s", ErrCannotSend, s.kind)
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	msg, complete := s.out.add(data, flags)
	if !complete {
		return nil
	}
	peers := s.peersLocked()
	if len(peers) == 0 {
		return fmt.Errorf("%w: socket has no peers", ErrNoPeer)
	}
	for _, p := range peers {
		if !p.inbox.offer(msg) && s.kind != Pub && s.kind != XPub {
			return ErrQueueFull
		}
	}
	return nil
}

func (s *memSocket) RecvNoWait() (Frame, error) {
	if !s.kind.CanRecv() {
		return Frame{}, fmt.Errorf("%w: %s", ErrCannotRecv, s.kind)
	}
	s.m.mu.Lock()
	closed := s.closed
	s.m.mu.Unlock()
	if closed {
		return Frame{}, ErrClosed
	}
	return s.inbox.next()
}

func (s *memSocket) Close() error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ep := range s.binds {
		if s.m.bound[ep] == s {
			delete(s.m.bound, ep)
		}
	}
	for _, ep := range s.dials {
		if rest := without(s.m.dialers[ep], s); len(rest) > 0 {
			s.m.dialers[ep] = rest
		} else {
			delete(s.m.dialers, ep)
		}
	}
	s.binds, s.dials = nil, nil
	return nil
}

func without(list []*memSocket, s *memSocket) []*memSocket {
	out := list[:0]
	for _, p := range list {
		if p != s {
			out = append(out, p)
		}
	}
	return out
}
