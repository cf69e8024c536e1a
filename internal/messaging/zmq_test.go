package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "tcp://*:*", want: "tcp://0.0.0.0:0"},
		{in: "tcp://*:5555", want: "tcp://0.0.0.0:5555"},
		{in: "tcp://127.0.0.1:*", want: "tcp://127.0.0.1:0"},
		{in: "inproc://test", want: "inproc://test"},
		{in: "ipc:///tmp/sock", want: "ipc:///tmp/sock"},
	}
	for _, tt := range tests {
		got, err := normalizeEndpoint(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"tcp://noport", "garbage", "pgm://239.0.0.1:5555", "czmq://x"} {
		_, err := normalizeEndpoint(bad)
		require.ErrorIs(t, err, ErrInvalidEndpoint, bad)
	}
}

func TestZMQUnknownKind(t *testing.T) {
	z := NewZMQ(context.Background(), ZMQOptions{}, zerolog.Nop())
	defer z.Close()

	_, err := z.NewSocket(Kind(99))
	require.ErrorIs(t, err, ErrUnknownKind)
}

// libSocket stands in for a zmq4 socket. Messages pushed on in are returned
// by Recv; sends are captured on sent.
type libSocket struct {
	typ       zmq4.SocketType
	in        chan zmq4.Msg
	sent      chan zmq4.Msg
	failDials int32

	recvs     atomic.Int32
	dials     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
}

func newLibSocket(typ zmq4.SocketType) *libSocket {
	return &libSocket{
		typ:    typ,
		in:     make(chan zmq4.Msg, 8),
		sent:   make(chan zmq4.Msg, 8),
		closed: make(chan struct{}),
	}
}

func (l *libSocket) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *libSocket) Send(msg zmq4.Msg) error {
	l.sent <- msg
	return nil
}

func (l *libSocket) SendMulti(msg zmq4.Msg) error { return l.Send(msg) }

func (l *libSocket) Recv() (zmq4.Msg, error) {
	l.recvs.Add(1)
	select {
	case msg := <-l.in:
		return msg, nil
	case <-l.closed:
		return zmq4.Msg{}, errors.New("socket closed")
	}
}

func (l *libSocket) Listen(string) error { return nil }

func (l *libSocket) Dial(string) error {
	if l.dials.Add(1) <= l.failDials {
		return errors.New("connection refused")
	}
	return nil
}

func (l *libSocket) Type() zmq4.SocketType { return l.typ }

func (l *libSocket) Addr() net.Addr { return nil }

func (l *libSocket) GetOption(string) (interface{}, error) { return nil, nil }

func (l *libSocket) SetOption(string, interface{}) error { return nil }

var _ zmq4.Socket = (*libSocket)(nil)

func newLibBackedSocket(t *testing.T, kind Kind, lib *libSocket) *zmqSocket {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	s := newZMQSocket(ctx, cancel, kind, lib, ZMQOptions{DialRetry: time.Millisecond}, zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eventuallyRecv(t *testing.T, s Socket) Frame {
	t.Helper()
	var got Frame
	require.Eventually(t, func() bool {
		f, err := s.RecvNoWait()
		if err != nil {
			return false
		}
		got = f
		return true
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestZMQRepReadsNextRequestOnlyAfterReply(t *testing.T) {
	lib := newLibSocket(zmq4.Rep)
	s := newLibBackedSocket(t, Rep, lib)

	// A send with no request outstanding grants nothing.
	require.NoError(t, s.Send([]byte("stray"), 0))
	<-lib.sent

	lib.in <- zmq4.NewMsgString("from-a")
	lib.in <- zmq4.NewMsgString("from-b")

	require.Equal(t, "from-a", string(eventuallyRecv(t, s).Data))
	require.Never(t, func() bool { return lib.recvs.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond,
		"second request must stay in the library until the first is answered")
	_, err := s.RecvNoWait()
	require.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, s.Send([]byte("reply-to-a"), 0))
	require.Equal(t, "reply-to-a", string((<-lib.sent).Frames[0]))

	require.Equal(t, "from-b", string(eventuallyRecv(t, s).Data))
	require.Never(t, func() bool { return lib.recvs.Load() > 2 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestZMQRepMultipartReplyGrantsOneTurn(t *testing.T) {
	lib := newLibSocket(zmq4.Rep)
	s := newLibBackedSocket(t, Rep, lib)
	lib.in <- zmq4.NewMsgString("q1")
	lib.in <- zmq4.NewMsgString("q2")

	require.Equal(t, "q1", string(eventuallyRecv(t, s).Data))
	require.NoError(t, s.Send([]byte("part"), FlagMore))
	require.Never(t, func() bool { return lib.recvs.Load() > 1 }, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, s.Send([]byte("last"), 0))
	require.Len(t, (<-lib.sent).Frames, 2)

	require.Equal(t, "q2", string(eventuallyRecv(t, s).Data))
}

func TestZMQReqReceivesOnlyAfterRequest(t *testing.T) {
	lib := newLibSocket(zmq4.Req)
	s := newLibBackedSocket(t, Req, lib)
	lib.in <- zmq4.NewMsgString("answer")

	require.Never(t, func() bool { return lib.recvs.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	_, err := s.RecvNoWait()
	require.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, s.Send([]byte("question"), 0))
	<-lib.sent
	require.Equal(t, "answer", string(eventuallyRecv(t, s).Data))
	require.Never(t, func() bool { return lib.recvs.Load() > 1 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestZMQConnectRetriesInBackground(t *testing.T) {
	lib := newLibSocket(zmq4.Pair)
	lib.failDials = 3
	s := newLibBackedSocket(t, Pair, lib)

	require.NoError(t, s.Connect("tcp://127.0.0.1:5555"))
	require.Eventually(t, func() bool { return lib.dials.Load() == 4 }, 5*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return lib.dials.Load() > 4 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestZMQConnectStopsOnClose(t *testing.T) {
	lib := newLibSocket(zmq4.Pair)
	lib.failDials = 1 << 30
	s := newLibBackedSocket(t, Pair, lib)

	require.NoError(t, s.Connect("inproc://later"))
	require.Eventually(t, func() bool { return lib.dials.Load() > 2 }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	n := lib.dials.Load()
	require.Never(t, func() bool { return lib.dials.Load() > n }, 50*time.Millisecond, 10*time.Millisecond)
	require.ErrorIs(t, s.Connect("inproc://later"), ErrClosed)
}

func TestZMQConnectRejectsBadEndpoints(t *testing.T) {
	lib := newLibSocket(zmq4.Pair)
	s := newLibBackedSocket(t, Pair, lib)

	for _, bad := range []string{"nothing", "tcp://noport", "czmq://x"} {
		require.ErrorIs(t, s.Connect(bad), ErrInvalidEndpoint, bad)
	}
	require.Zero(t, lib.dials.Load())
}

func TestZMQPairLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback TCP sockets")
	}

	z := NewZMQ(context.Background(), ZMQOptions{DialRetry: 50 * time.Millisecond, Timeout: 5 * time.Second}, zerolog.Nop())
	defer z.Close()

	server, err := z.NewSocket(Pair)
	require.NoError(t, err)
	defer server.Close()
	client, err := z.NewSocket(Pair)
	require.NoError(t, err)
	defer client.Close()

	port, err := server.Bind("tcp://127.0.0.1:*")
	require.NoError(t, err)
	require.Greater(t, port, 0)

	require.NoError(t, client.Connect(fmt.Sprintf("tcp://127.0.0.1:%d", port)))
	require.NoError(t, client.Send([]byte("hello"), 0))

	got := eventuallyRecv(t, server)
	require.Equal(t, []byte("hello"), got.Data)
	require.False(t, got.More)

	_, err = server.RecvNoWait()
	require.ErrorIs(t, err, ErrNoMessage)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestZMQConnectBeforeBind(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback TCP sockets")
	}

	z := NewZMQ(context.Background(), ZMQOptions{DialRetry: 20 * time.Millisecond, Timeout: 5 * time.Second}, zerolog.Nop())
	defer z.Close()
	ep := fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t))

	push, err := z.NewSocket(Push)
	require.NoError(t, err)
	defer push.Close()
	start := time.Now()
	require.NoError(t, push.Connect(ep))
	require.Less(t, time.Since(start), time.Second)

	pull, err := z.NewSocket(Pull)
	require.NoError(t, err)
	defer pull.Close()
	_, err = pull.Bind(ep)
	require.NoError(t, err)

	require.NoError(t, push.Send([]byte("late bind"), 0))
	require.Equal(t, "late bind", string(eventuallyRecv(t, pull).Data))
}

func TestZMQRepRepliesToRequester(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback TCP sockets")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	z := NewZMQ(ctx, ZMQOptions{Timeout: 5 * time.Second}, zerolog.Nop())
	defer z.Close()

	rep, err := z.NewSocket(Rep)
	require.NoError(t, err)
	defer rep.Close()
	port, err := rep.Bind("tcp://127.0.0.1:*")
	require.NoError(t, err)
	ep := fmt.Sprintf("tcp://127.0.0.1:%d", port)

	replies := make(map[string]chan string)
	for _, name := range []string{"a", "b"} {
		req := zmq4.NewReq(ctx, zmq4.WithTimeout(5*time.Second), zmq4.WithLogger(log.New(io.Discard, "", 0)))
		defer req.Close()
		require.NoError(t, req.Dial(ep))
		require.NoError(t, req.Send(zmq4.NewMsgString("from-"+name)))

		got := make(chan string, 1)
		replies[name] = got
		go func() {
			msg, err := req.Recv()
			if err != nil {
				got <- "error: " + err.Error()
				return
			}
			got <- string(msg.Frames[0])
		}()
	}

	for i := 0; i < 2; i++ {
		request := string(eventuallyRecv(t, rep).Data)
		name := strings.TrimPrefix(request, "from-")
		require.NoError(t, rep.Send([]byte("reply-to-"+name), 0))

		select {
		case got := <-replies[name]:
			require.Equal(t, "reply-to-"+name, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("client %s got no reply", name)
		}
	}
}
