package escp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds the TCP connect to the raw port.
const DefaultDialTimeout = 5 * time.Second

// SessionState is the Remote Mode session state.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnected
	StateRemoteMode
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateRemoteMode:
		return "remote mode"
	default:
		return "state " + strconv.Itoa(int(s))
	}
}

// MarshalCommand frames a Remote Mode command: code, LE16 length, args.
func MarshalCommand(code string, args []byte) ([]byte, error) {
	if len(code) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommandCode, code)
	}
	if len(args) > 0xFFFF {
		return nil, fmt.Errorf("%w: %d", ErrArgsTooLong, len(args))
	}
	buf := make([]byte, 4+len(args))
	copy(buf[0:2], code)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(args)))
	copy(buf[4:], args)
	return buf, nil
}

// ParseCommand reads one Remote Mode command frame from data and returns the
// bytes following it.
func ParseCommand(data []byte) (code string, args []byte, rest []byte, err error) {
	if len(data) < 4 {
		return "", nil, nil, errors.New("command frame too short")
	}
	n := int(binary.LittleEndian.Uint16(data[2:4]))
	if len(data) < 4+n {
		return "", nil, nil, fmt.Errorf("command %q: declared %d argument bytes, have %d", data[0:2], n, len(data)-4)
	}
	return string(data[0:2]), data[4 : 4+n], data[4+n:], nil
}

// RemoteSession issues Remote Mode commands over one raw-port connection.
// The printer sends no replies on this channel; progress is observed by
// polling status over SNMP.
type RemoteSession struct {
	conn  io.WriteCloser
	addr  string
	state SessionState
}

// DialRemote connects to the printer's raw port and resets the printer.
func DialRemote(ctx context.Context, host string, port int) (*RemoteSession, error) {
	if port == 0 {
		port = RawPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		kind := ErrNetwork
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			kind = ErrTimeout
		}
		return nil, &TransportError{Op: "dial", Addr: addr, Kind: kind, Err: err}
	}
	slog.Debug("remote session connected", "addr", addr)

	s, err := newRemoteSession(conn, addr)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewRemoteSession wraps an established connection and sends the reset sequence.
func NewRemoteSession(conn io.WriteCloser) (*RemoteSession, error) {
	return newRemoteSession(conn, "")
}

func newRemoteSession(conn io.WriteCloser, addr string) (*RemoteSession, error) {
	s := &RemoteSession{conn: conn, addr: addr, state: StateConnected}
	if err := s.write("reset", seqReset); err != nil {
		s.state = StateDisconnected
		return nil, err
	}
	return s, nil
}

// State returns the current session state.
func (s *RemoteSession) State() SessionState { return s.state }

func (s *RemoteSession) write(op string, data []byte) error {
	if _, err := s.conn.Write(data); err != nil {
		return &TransportError{Op: "write " + op, Addr: s.addr, Kind: ErrNetwork, Err: err}
	}
	return nil
}

func (s *RemoteSession) require(op string, want SessionState) error {
	if s.state != want {
		return &StateError{Op: op, State: s.state}
	}
	return nil
}

// EnterRemoteMode resets the printer and switches it to Remote Mode.
func (s *RemoteSession) EnterRemoteMode() error {
	if err := s.require("enter remote mode", StateConnected); err != nil {
		return err
	}
	if err := s.write("reset", seqReset); err != nil {
		return err
	}
	if err := s.write("enter remote mode", seqEnterR); err != nil {
		return err
	}
	s.state = StateRemoteMode
	slog.Debug("entered remote mode", "addr", s.addr)
	return nil
}

// ExitRemoteMode leaves Remote Mode.
func (s *RemoteSession) ExitRemoteMode() error {
	if err := s.require("exit remote mode", StateRemoteMode); err != nil {
		return err
	}
	if err := s.write("exit remote mode", seqExitRemote); err != nil {
		return err
	}
	s.state = StateConnected
	slog.Debug("exited remote mode", "addr", s.addr)
	return nil
}

// SendCommand writes one framed command. The session must be in Remote Mode.
func (s *RemoteSession) SendCommand(code string, args []byte) error {
	if err := s.require("command "+code, StateRemoteMode); err != nil {
		return err
	}
	frame, err := MarshalCommand(code, args)
	if err != nil {
		return err
	}
	slog.Debug("remote command", "code", code, "args", fmt.Sprintf("% x", args))
	return s.write("command "+code, frame)
}

// StartJob sends Job Start with the given job name.
func (s *RemoteSession) StartJob(name string) error {
	args := make([]byte, 0, len(name)+4)
	args = append(args, 0, 0, 0)
	args = append(args, name...)
	args = append(args, 0)
	return s.SendCommand(CmdJobStart, args)
}

// EndJob sends Job End.
func (s *RemoteSession) EndJob() error {
	return s.SendCommand(CmdJobEnd, []byte{0})
}

// TriggerNozzleCheck prints a nozzle check pattern.
func (s *RemoteSession) TriggerNozzleCheck() error {
	if err := s.SendCommand(CmdNozzleCheck, nozzleCheckArgs1); err != nil {
		return err
	}
	return s.SendCommand(CmdNozzleCheck, nozzleCheckArgs2)
}

// CleanGroup cleans one nozzle group (1..5). power selects a power clean.
func (s *RemoteSession) CleanGroup(group int, power bool) error {
	if group < MinGroup || group > MaxGroup {
		return fmt.Errorf("%w: got %d", ErrInvalidGroup, group)
	}
	g := byte(group)
	if power {
		g |= PowerCleanFlag
	}
	return s.SendCommand(CmdClean, []byte{0, g})
}

// Close closes the connection. Safe to call more than once.
func (s *RemoteSession) Close() error {
	if s.state == StateDisconnected {
		return nil
	}
	s.state = StateDisconnected
	slog.Debug("remote session closed", "addr", s.addr)
	return s.conn.Close()
}
