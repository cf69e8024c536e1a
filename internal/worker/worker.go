package worker

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/zmqport/internal/handles"
	"github.com/danmuck/zmqport/internal/messaging"
	"github.com/danmuck/zmqport/internal/protocol/frame"
	"github.com/danmuck/zmqport/internal/protocol/term"
)

// Recorder receives per-request measurements.
type Recorder interface {
	Command(name, outcome string, d time.Duration)
	Frame(direction string, size int)
	LiveHandles(n int)
}

type nopRecorder struct{}

func (nopRecorder) Command(string, string, time.Duration) {}
func (nopRecorder) Frame(string, int)                      {}
func (nopRecorder) LiveHandles(int)                        {}

// Options configures a Worker. Zero values pick defaults.
type Options struct {
	MaxSockets int
	Codec      term.Codec
	Logger     zerolog.Logger
	Recorder   Recorder
}

// Worker owns the messaging context and the handle table for the lifetime
// of the process. It is not safe for concurrent use.
type Worker struct {
	mq      messaging.Context
	sockets *handles.Table[messaging.Socket]
	codec   term.Codec
	log     zerolog.Logger
	rec     Recorder
}

func New(mq messaging.Context, opts Options) *Worker {
	w := &Worker{
		mq:      mq,
		sockets: handles.NewTable[messaging.Socket](opts.MaxSockets),
		codec:   opts.Codec,
		log:     opts.Logger,
		rec:     opts.Recorder,
	}
	if w.codec == nil {
		w.codec = term.ETF{}
	}
	if w.rec == nil {
		w.rec = nopRecorder{}
	}
	return w
}

// Serve runs the request loop until the peer closes in cleanly or sends an
// empty frame (nil), or a fatal condition occurs (*FatalError). Exactly one reply frame is written
// per request frame, in order.
func (w *Worker) Serve(in io.Reader, out io.Writer) error {
	r := frame.NewReader(in, frame.MaxRequestSize)
	fw := frame.NewWriter(out, frame.MaxReplySize)

	for {
		payload, err := r.ReadFrame()
		switch {
		case errors.Is(err, io.EOF):
			w.log.Info().Msg("input closed")
			return nil
		case errors.Is(err, frame.ErrFrameTooLarge):
			return internalError(err)
		case err != nil:
			return transportError(err)
		}
		if len(payload) == 0 {
			// The owner's way of asking the port to stop.
			w.log.Info().Msg("empty frame, stopping")
			return nil
		}
		w.rec.Frame("in", len(payload))

		reply, err := w.Handle(payload)
		if err != nil {
			return err
		}
		if err := fw.WriteFrame(reply); err != nil {
			if errors.Is(err, frame.ErrFrameTooLarge) {
				return internalError(err)
			}
			return transportError(err)
		}
		w.rec.Frame("out", len(reply))
	}
}

// Handle processes one request payload and returns the encoded reply.
func (w *Worker) Handle(payload []byte) ([]byte, error) {
	v, err := w.codec.Decode(payload)
	if err != nil {
		return nil, internalError(errors.Join(ErrMalformedEnvelope, err))
	}
	env, err := ParseEnvelope(v)
	if err != nil {
		return nil, internalError(err)
	}

	start := time.Now()
	reply, err := w.Dispatch(env.Command, env.Args)
	if err != nil {
		return nil, err
	}
	outcome := outcomeOf(reply)
	w.rec.Command(env.Command.String(), outcome, time.Since(start))
	w.log.Debug().
		Str("cmd", env.Command.String()).
		Stringer("args", env.Args).
		Str("outcome", outcome).
		Msg("handled")

	b, err := w.codec.Encode(reply)
	if err != nil {
		return nil, internalError(errors.Join(ErrReplyEncode, err))
	}
	if len(b) > frame.MaxReplySize {
		return nil, internalError(fmt.Errorf("%w: %w: term_len %d > buf_size %d",
			ErrReplyEncode, frame.ErrFrameTooLarge, len(b), frame.MaxReplySize))
	}
	return b, nil
}

// Dispatch runs one command. A non-nil error is always a *FatalError.
func (w *Worker) Dispatch(cmd Command, args term.Value) (term.Value, error) {
	var (
		reply term.Value
		err   error
	)
	switch cmd {
	case CmdPing:
		reply = w.ping(args)
	case CmdSocketNew:
		reply, err = w.socketNew(args)
	case CmdSocketTypeStr:
		reply, err = w.socketTypeStr(args)
	case CmdSocketBind:
		reply, err = w.socketBind(args)
	case CmdSocketConnect:
		reply, err = w.socketConnect(args)
	case CmdSocketSendMem:
		reply, err = w.socketSendMem(args)
	case CmdSocketDestroy:
		reply, err = w.socketDestroy(args)
	case CmdStrSend:
		reply, err = w.strSend(args)
	case CmdStrRecvNowait:
		reply, err = w.strRecvNowait(args)
	case CmdFrameRecvNowait:
		reply, err = w.frameRecvNowait(args)
	default:
		err = fmt.Errorf("%w: %d", ErrCommandOutOfRange, int(cmd))
	}
	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return term.Value{}, fatal
		}
		return term.Value{}, internalError(fmt.Errorf("%s: %w", cmd, err))
	}
	return reply, nil
}

// LiveSockets is the number of sockets currently held by handles.
func (w *Worker) LiveSockets() int { return w.sockets.Len() }

// Close destroys every live socket and then the messaging context.
func (w *Worker) Close() error {
	var errs []error
	w.sockets.Each(func(index int, s messaging.Socket) {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("socket %d: %w", index, err))
		}
		w.sockets.Release(int64(index))
	})
	w.rec.LiveHandles(w.sockets.Len())
	if err := w.mq.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
