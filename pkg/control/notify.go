package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Notification names carried on the control socket.
const (
	CmdServe       = "serve"
	CmdStop        = "stop"
	CmdUI          = "ui"
	CmdToolsReload = "toolsReload"
)

// Command is one control datagram. Port and Expose accompany serve only.
type Command struct {
	Name   string `json:"name"`
	Port   *int   `json:"port,omitempty"`
	Expose *bool  `json:"expose,omitempty"`
}

// Handlers receives dispatched commands. Nil fields drop the command.
// Handlers run on the listener goroutine and must not block; anything slow
// belongs behind a channel or the server's own state machine.
type Handlers struct {
	Serve       func(port *int, expose *bool)
	Stop        func()
	UI          func()
	ToolsReload func()
}

// Listener owns the datagram socket. Commands are fire-and-forget: malformed
// or unknown datagrams are logged and dropped, never answered.
type Listener struct {
	path     string
	handlers Handlers
	logger   *zap.Logger
}

func NewListener(path string, h Handlers, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{path: path, handlers: h, logger: logger}
}

// Listen binds the socket and dispatches datagrams until ctx ends. A stale
// socket file from a previous run is replaced; the file is removed on return.
func (l *Listener) Listen(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("control socket dir: %w", err)
	}
	_ = os.Remove(l.path)

	addr, err := net.ResolveUnixAddr("unixgram", l.path)
	if err != nil {
		return fmt.Errorf("control socket addr: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer os.Remove(l.path)
	defer conn.Close()

	// Closing the conn is what unblocks ReadFromUnix on cancellation.
	unregister := context.AfterFunc(ctx, func() { conn.Close() })
	defer unregister()

	l.logger.Info("control socket listening", zap.String("path", l.path))

	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUnix(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control socket read: %w", err)
		}
		l.dispatch(buf[:n])
	}
}

func (l *Listener) dispatch(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		l.logger.Debug("dropping malformed control datagram", zap.Error(err))
		return
	}

	switch cmd.Name {
	case CmdServe:
		if cmd.Port != nil && (*cmd.Port < 1 || *cmd.Port > 65535) {
			l.logger.Warn("ignoring serve with invalid port", zap.Int("port", *cmd.Port))
			return
		}
		if l.handlers.Serve != nil {
			l.handlers.Serve(cmd.Port, cmd.Expose)
		}
	case CmdStop:
		if l.handlers.Stop != nil {
			l.handlers.Stop()
		}
	case CmdUI:
		if l.handlers.UI != nil {
			l.handlers.UI()
		} else {
			l.logger.Info("ui requested but no frontend is registered")
		}
	case CmdToolsReload:
		if l.handlers.ToolsReload != nil {
			l.handlers.ToolsReload()
		}
	default:
		l.logger.Debug("unknown control command", zap.String("name", cmd.Name))
	}
}

// Send delivers one command to the socket at path. Delivery is best-effort;
// an absent listener surfaces as a dial error.
func Send(path string, cmd Command) error {
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return fmt.Errorf("control socket addr: %w", err)
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return fmt.Errorf("control socket dial: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode control command: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send control command: %w", err)
	}
	return nil
}
