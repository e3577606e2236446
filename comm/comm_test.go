package comm_test

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/vectormagnet/comm"
)

// tcpEchoServer echoes every connection back to itself and returns its address
func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	return ln.Addr().String()
}

func TestPoolReusesConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Second, maker)
	defer pool.Close()
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected one connection to be made, got %d", made)
	}
	if pool.Size() != 1 || pool.Active() != 0 {
		t.Errorf("expected one idle connection, got size %d active %d", pool.Size(), pool.Active())
	}
}

func TestPoolToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(3, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	defer pool.Close()
	var conns []io.ReadWriter
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		conns = append(conns, conn)
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 on lease, got %d", pool.Active())
	}
	got := make(chan io.ReadWriter)
	go func() {
		c, _ := pool.Get()
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("Get returned while every connection was on lease")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(conns[0])
	select {
	case c := <-got:
		pool.Put(c)
	case <-time.After(time.Second):
		t.Fatal("Get did not return after a connection was put back")
	}
}

func TestPoolReclaims(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(2, 10*time.Millisecond, comm.BackingOffTCPConnMaker(addr, time.Second))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle connections to be freed, pool size %d", pool.Size())
	}
}

func TestReturnWithErrorDestroysBrokenConns(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, io.EOF)
	if pool.Size() != 0 {
		t.Errorf("expected the connection to be destroyed, size %d", pool.Size())
	}
	conn, err = pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, errors.New("device says no"))
	if pool.Size() != 1 {
		t.Errorf("expected a device error to keep the connection, size %d", pool.Size())
	}
}

func TestGetAfterClose(t *testing.T) {
	pool := comm.NewPool(1, time.Second, func() (io.ReadWriteCloser, error) {
		t.Fatal("maker called on closed pool")
		return nil, nil
	})
	pool.Close()
	if _, err := pool.Get(); !errors.Is(err, comm.ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestTCPMakerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	start := time.Now()
	_, err = comm.BackingOffTCPConnMaker(addr, 100*time.Millisecond)()
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("a refused connection should not be retried to the full backoff")
	}
}

func TestTerminator(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	term := comm.NewTerminator(comm.NewTimeout(a, time.Second), '\n', '\n')

	go func() {
		r := bufio.NewReader(b)
		line, _ := r.ReadString('\n')
		if line != "IOUT?\n" {
			b.Write([]byte("bad\n"))
			return
		}
		b.Write([]byte("1.250kG\r\n"))
	}()
	if _, err := io.WriteString(term, "IOUT?"); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := term.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "1.250kG" {
		t.Errorf("expected 1.250kG, got %q", got)
	}
}

func TestTimeoutExpires(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	rw := comm.NewTimeout(a, 20*time.Millisecond)
	_, err := rw.Read(make([]byte, 8))
	if !comm.IsConnectionFault(err) {
		t.Errorf("expected a timeout to be a connection fault, got %v", err)
	}
}
