package worker

import (
	"errors"
	"fmt"

	"github.com/danmuck/zmqport/internal/messaging"
	"github.com/danmuck/zmqport/internal/protocol/term"
)

var (
	atomOK    = term.Atom("ok")
	atomError = term.Atom("error")
	atomPong  = term.Atom("pong")

	replyInvalidSocket = errorReply("invalid_socket")
	replyBindFailed    = errorReply("bind_failed")
	replyConnectFailed = errorReply("connect_failed")
)

func okReply(v term.Value) term.Value { return term.Tuple(atomOK, v) }

func errorReply(reason string) term.Value { return term.Tuple(atomError, term.Atom(reason)) }

// outcomeOf classifies a reply for logs and metrics.
func outcomeOf(reply term.Value) string {
	if reply.Equal(atomError) {
		return "error"
	}
	if elems, err := reply.Elements(); err == nil && len(elems) == 2 && elems[0].Equal(atomError) {
		if reason, err := elems[1].AtomName(); err == nil {
			return reason
		}
		return "error"
	}
	return "ok"
}

// arguments checks that args is a tuple of exactly arity elements.
func arguments(args term.Value, arity int) ([]term.Value, error) {
	elems, err := args.Elements()
	if err != nil || len(elems) != arity {
		return nil, fmt.Errorf("%w: want %d-tuple, got %s", ErrBadArguments, arity, args)
	}
	return elems, nil
}

func intArg(args []term.Value, pos int) (int64, error) {
	v, err := args[pos].Int()
	if err != nil {
		return 0, fmt.Errorf("%w: argument %d: %w", ErrBadArguments, pos+1, err)
	}
	return v, nil
}

func textArg(args []term.Value, pos int) (string, error) {
	v, err := args[pos].Text()
	if err != nil {
		return "", fmt.Errorf("%w: argument %d: %w", ErrBadArguments, pos+1, err)
	}
	return v, nil
}

func bytesArg(args []term.Value, pos int) ([]byte, error) {
	v, err := args[pos].Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: argument %d: %w", ErrBadArguments, pos+1, err)
	}
	return v, nil
}

// socketArg resolves the handle at pos. A well-formed index that names no
// live socket is reported with ok=false, not as an error.
func (w *Worker) socketArg(args []term.Value, pos int) (messaging.Socket, int64, bool, error) {
	index, err := intArg(args, pos)
	if err != nil {
		return nil, 0, false, err
	}
	s, ok := w.sockets.Lookup(index)
	if !ok {
		w.log.Debug().Int64("handle", index).Msg("invalid socket handle")
	}
	return s, index, ok, nil
}

func (w *Worker) ping(term.Value) term.Value {
	return atomPong
}

func (w *Worker) socketNew(args term.Value) (term.Value, error) {
	a, err := arguments(args, 1)
	if err != nil {
		return term.Value{}, err
	}
	kind, err := intArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}

	s, err := w.mq.NewSocket(messaging.Kind(kind))
	if err != nil {
		return term.Value{}, fmt.Errorf("%w: kind %d: %w", ErrSocketCreate, kind, err)
	}
	index, err := w.sockets.Allocate(s)
	if err != nil {
		_ = s.Close()
		return term.Value{}, err
	}
	w.rec.LiveHandles(w.sockets.Len())
	w.log.Debug().Int("handle", index).Str("kind", s.Kind().String()).Msg("socket created")
	return term.Int(int64(index)), nil
}

func (w *Worker) socketTypeStr(args term.Value) (term.Value, error) {
	a, err := arguments(args, 1)
	if err != nil {
		return term.Value{}, err
	}
	s, _, ok, err := w.socketArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}
	if !ok {
		return replyInvalidSocket, nil
	}
	return term.String(s.Kind().String()), nil
}

func (w *Worker) socketBind(args term.Value) (term.Value, error) {
	a, err := arguments(args, 2)
	if err != nil {
		return term.Value{}, err
	}
	s, index, ok, err := w.socketArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}
	if !ok {
		return replyInvalidSocket, nil
	}
	endpoint, err := textArg(a, 1)
	if err != nil {
		return term.Value{}, err
	}

	rc, err := s.Bind(endpoint)
	if err != nil {
		w.log.Debug().Err(err).Int64("handle", index).Str("endpoint", endpoint).Msg("bind failed")
		return replyBindFailed, nil
	}
	return okReply(term.Int(int64(rc))), nil
}

func (w *Worker) socketConnect(args term.Value) (term.Value, error) {
	a, err := arguments(args, 2)
	if err != nil {
		return term.Value{}, err
	}
	s, index, ok, err := w.socketArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}
	if !ok {
		return replyInvalidSocket, nil
	}
	endpoint, err := textArg(a, 1)
	if err != nil {
		return term.Value{}, err
	}

	if err := s.Connect(endpoint); err != nil {
		w.log.Debug().Err(err).Int64("handle", index).Str("endpoint", endpoint).Msg("connect failed")
		return replyConnectFailed, nil
	}
	return atomOK, nil
}

func (w *Worker) socketSendMem(args term.Value) (term.Value, error) {
	a, err := arguments(args, 3)
	if err != nil {
		return term.Value{}, err
	}
	s, index, ok, err := w.socketArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}
	if !ok {
		return replyInvalidSocket, nil
	}
	data, err := bytesArg(a, 1)
	if err != nil {
		return term.Value{}, err
	}
	flags, err := intArg(a, 2)
	if err != nil {
		return term.Value{}, err
	}

	if err := s.Send(data, messaging.SendFlag(flags)); err != nil {
		w.log.Debug().Err(err).Int64("handle", index).Msg("send failed")
		return atomError, nil
	}
	return atomOK, nil
}

func (w *Worker) socketDestroy(args term.Value) (term.Value, error) {
	a, err := arguments(args, 1)
	if err != nil {
		return term.Value{}, err
	}
	s, index, ok, err := w.socketArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}
	if !ok {
		return replyInvalidSocket, nil
	}

	if err := s.Close(); err != nil {
		w.log.Warn().Err(err).Int64("handle", index).Msg("socket close reported an error")
	}
	w.sockets.Release(index)
	w.rec.LiveHandles(w.sockets.Len())
	return atomOK, nil
}

func (w *Worker) strSend(args term.Value) (term.Value, error) {
	a, err := arguments(args, 2)
	if err != nil {
		return term.Value{}, err
	}
	s, index, ok, err := w.socketArg(a, 0)
	if err != nil {
		return term.Value{}, err
	}
	if !ok {
		return replyInvalidSocket, nil
	}
	data, err := textArg(a, 1)
	if err != nil {
		return term.Value{}, err
	}

	if err := s.Send([]byte(data), 0); err != nil {
		w.log.Debug().Err(err).Int64("handle", index).Msg("send failed")
		return atomError, nil
	}
	return atomOK, nil
}

func (w *Worker) strRecvNowait(args term.Value) (term.Value, error) {
	f, reply, err := w.recvNowait(args)
	if err != nil || reply.IsValid() {
		return reply, err
	}
	return okReply(term.String(string(f.Data))), nil
}

func (w *Worker) frameRecvNowait(args term.Value) (term.Value, error) {
	f, reply, err := w.recvNowait(args)
	if err != nil || reply.IsValid() {
		return reply, err
	}
	return okReply(term.Tuple(term.Binary(f.Data), term.Bool(f.More))), nil
}

// recvNowait returns either a received frame or, when nothing could be
// received, the reply to send instead. An empty queue and a library
// receive failure both reply error; only the log tells them apart.
func (w *Worker) recvNowait(args term.Value) (messaging.Frame, term.Value, error) {
	a, err := arguments(args, 1)
	if err != nil {
		return messaging.Frame{}, term.Value{}, err
	}
	s, index, ok, err := w.socketArg(a, 0)
	if err != nil {
		return messaging.Frame{}, term.Value{}, err
	}
	if !ok {
		return messaging.Frame{}, replyInvalidSocket, nil
	}

	f, err := s.RecvNoWait()
	if err != nil {
		if !errors.Is(err, messaging.ErrNoMessage) {
			w.log.Debug().Err(err).Int64("handle", index).Msg("receive failed")
		}
		return messaging.Frame{}, atomError, nil
	}
	return f, term.Value{}, nil
}
