/*Package comm provides connection handling for line-oriented lab hardware.

Most usages of this package will boil down to:
	1.  make a CreationFunc for the device, either BackingOffTCPConnMaker
		for a device behind a terminal server or SerialConnMaker for a
		local RS-232 port.
	2.  give it to NewPool, which opens connections on demand and closes
		them after a period of disuse.
	3.  Get a connection, wrap it in NewTimeout and NewTerminator, talk,
		then ReturnWithError it.

A minimal example for a supply that responds to "IOUT?" with its output:

	pool := comm.NewPool(1, time.Minute, comm.BackingOffTCPConnMaker("10.0.0.5:4444", time.Second))
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(comm.NewTimeout(conn, time.Second), '\n', '\n')
	_, err = io.WriteString(rw, "IOUT?")
	...
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrShortBuffer is generated when a response does not fit the read buffer
	ErrShortBuffer = errors.New("response longer than read buffer")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// connBackoff is shared by the connection makers.  Terminal servers do not
// like being connection thrashed.
func connBackoff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr, retrying
// with an exponential backoff for a few seconds.  A refused connection is
// not retried.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		if err := backoff.Retry(op, connBackoff()); err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens a serial port,
// retrying with the same backoff as the TCP maker
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var port *serial.Port
		op := func() error {
			p, err := serial.OpenPort(conf)
			if err != nil {
				return err
			}
			port = p
			return nil
		}
		if err := backoff.Retry(op, connBackoff()); err != nil {
			return nil, fmt.Errorf("opening %s: %w", conf.Name, err)
		}
		return port, nil
	}
}

// SerialConf returns an 8N1 serial config for the port at addr
func SerialConf(addr string, baud int, timeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: timeout}
}

// Maker chooses SerialConnMaker or BackingOffTCPConnMaker
func Maker(addr string, isSerial bool, baud int, timeout time.Duration) CreationFunc {
	if isSerial {
		return SerialConnMaker(SerialConf(addr, baud, timeout))
	}
	return BackingOffTCPConnMaker(addr, timeout)
}

// Terminator frames a byte stream into lines.  Writes have the Tx
// terminator appended; each Read returns one line without the Rx terminator.
type Terminator struct {
	rw     io.ReadWriter
	r      *bufio.Reader
	rx, tx byte
}

// NewTerminator wraps rw with rx and tx line terminators
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, r: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write sends b followed by the Tx terminator
func (t *Terminator) Write(b []byte) (int, error) {
	buf := make([]byte, len(b), len(b)+1)
	copy(buf, b)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one line into p, stripping the Rx terminator.  A trailing
// carriage return is stripped too, since many instruments send CRLF.
func (t *Terminator) Read(p []byte) (int, error) {
	line, err := t.r.ReadBytes(t.rx)
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return copy(p, line), ErrTerminatorNotFound
		}
		return 0, err
	}
	line = line[:len(line)-1]
	if t.rx == '\n' && len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if len(line) > len(p) {
		return copy(p, line), ErrShortBuffer
	}
	return copy(p, line), nil
}

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// Timeout sets a deadline on the underlying connection before every
// Read and Write.  Connections without deadlines (serial ports carry their
// own read timeout) pass straight through.
type Timeout struct {
	rw      io.ReadWriter
	timeout time.Duration
}

// NewTimeout wraps rw with a per-call timeout
func NewTimeout(rw io.ReadWriter, timeout time.Duration) *Timeout {
	return &Timeout{rw: rw, timeout: timeout}
}

func (t *Timeout) Read(p []byte) (int, error) {
	if d, ok := t.rw.(readDeadliner); ok {
		if err := d.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	return t.rw.Read(p)
}

func (t *Timeout) Write(p []byte) (int, error) {
	if d, ok := t.rw.(writeDeadliner); ok {
		if err := d.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
			return 0, err
		}
	}
	return t.rw.Write(p)
}
