package worker

import (
	"fmt"

	"github.com/danmuck/zmqport/internal/protocol/term"
)

// Command identifies one operation. The numbering is the wire contract
// with the parent and must not change.
type Command int

const (
	CmdPing Command = iota
	CmdSocketNew
	CmdSocketTypeStr
	CmdSocketBind
	CmdSocketConnect
	CmdSocketSendMem
	CmdSocketDestroy
	CmdStrSend
	CmdStrRecvNowait
	CmdFrameRecvNowait

	commandCount
)

var commandNames = [commandCount]string{
	CmdPing:            "ping",
	CmdSocketNew:       "zsocket_new",
	CmdSocketTypeStr:   "zsocket_type_str",
	CmdSocketBind:      "zsocket_bind",
	CmdSocketConnect:   "zsocket_connect",
	CmdSocketSendMem:   "zsocket_sendmem",
	CmdSocketDestroy:   "zsocket_destroy",
	CmdStrSend:         "zstr_send",
	CmdStrRecvNowait:   "zstr_recv_nowait",
	CmdFrameRecvNowait: "zframe_recv_nowait",
}

func (c Command) String() string {
	if c < 0 || c >= commandCount {
		return fmt.Sprintf("command(%d)", int(c))
	}
	return commandNames[c]
}

// ParseCommand validates a wire command id.
func ParseCommand(id int64) (Command, error) {
	if id < 0 || id >= int64(commandCount) {
		return 0, fmt.Errorf("%w: %d", ErrCommandOutOfRange, id)
	}
	return Command(id), nil
}

// Envelope is one decoded request.
type Envelope struct {
	Command Command
	Args    term.Value
}

// ParseEnvelope accepts exactly {CommandID, Args}.
func ParseEnvelope(v term.Value) (Envelope, error) {
	elems, err := v.Elements()
	if err != nil || len(elems) != 2 {
		return Envelope{}, fmt.Errorf("%w: %s", ErrMalformedEnvelope, v)
	}
	id, err := elems[0].Int()
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s", ErrMalformedEnvelope, v)
	}
	cmd, err := ParseCommand(id)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Command: cmd, Args: elems[1]}, nil
}
