// Package scpi provides primitives for working with devices that
// have SCPI-like, line oriented interfaces
package scpi

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/vectormagnet/comm"
)

const (
	// DefaultTimeout is used when SCPI.Timeout is zero
	DefaultTimeout = 5 * time.Second

	tcpFrameSize = 1500
)

// ErrEcho is returned when a device configured to echo replies with
// something other than the command it was sent
var ErrEcho = errors.New("device echo did not match command")

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Echo indicates the device repeats every line it receives, as many
	// instruments do over RS-232.  The echo is read and discarded.
	Echo bool

	// Prefix lines are sent before the commands of every exchange, on the
	// same connection lease.  A channel select on a multi-output device
	// goes here.
	Prefix []string

	// Timeout bounds each read and write
	Timeout time.Duration
}

func (s *SCPI) wrap(conn io.ReadWriter) io.ReadWriter {
	to := s.Timeout
	if to == 0 {
		to = DefaultTimeout
	}
	return comm.NewTerminator(comm.NewTimeout(conn, to), '\n', '\n')
}

// sendLine writes one line, consuming the echo if there is one
func (s *SCPI) sendLine(rw io.ReadWriter, line string) error {
	if _, err := io.WriteString(rw, line); err != nil {
		return err
	}
	if !s.Echo {
		return nil
	}
	buf := make([]byte, tcpFrameSize)
	n, err := rw.Read(buf)
	if err != nil {
		return err
	}
	if echo := strings.TrimSpace(string(buf[:n])); echo != strings.TrimSpace(line) {
		return fmt.Errorf("%w: sent %q, got %q", ErrEcho, line, echo)
	}
	return nil
}

func (s *SCPI) lines(cmds []string) []string {
	out := make([]string, 0, len(s.Prefix)+1)
	out = append(out, s.Prefix...)
	str := strings.Join(cmds, " ")
	if s.Handshaking {
		str = "*CLS;" + str + ";:SYSTem:ERRor?"
	}
	return append(out, str)
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := s.wrap(conn)
	for _, line := range s.lines(cmds) {
		if err = s.sendLine(wrap, line); err != nil {
			return err
		}
	}
	if s.Handshaking {
		buf := make([]byte, tcpFrameSize)
		var n int
		n, err = wrap.Read(buf)
		if err != nil {
			return err
		}
		return checkError(string(buf[:n]))
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := s.wrap(conn)
	for _, line := range s.lines(cmds) {
		if err = s.sendLine(wrap, line); err != nil {
			return nil, err
		}
	}
	buf := make([]byte, tcpFrameSize)
	var n int
	n, err = wrap.Read(buf)
	if err != nil {
		return nil, err
	}
	resp := buf[:n]
	if s.Handshaking {
		str := string(resp)
		idx := strings.LastIndexByte(str, ';')
		if idx == -1 {
			return resp, checkError(str)
		}
		if err := checkError(str[idx+1:]); err != nil {
			return resp, err
		}
		return resp[:idx], nil
	}
	return resp, nil
}

func checkError(s string) error {
	if strings.HasPrefix(strings.TrimSpace(s), "+0") || strings.HasPrefix(strings.TrimSpace(s), "0") {
		return nil
	}
	return errors.New(s)
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimRight(string(resp), "\r\n"), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}
