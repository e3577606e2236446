package comm

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// ErrPoolClosed is returned by Get after Close
var ErrPoolClosed = errors.New("connection pool closed")

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	onLease int                     // number of connections given out, <= maxSize
	timeout time.Duration           // time after all conns are returned to free them
	conns   chan io.ReadWriteCloser // idle connections
	reclaim *time.Timer             // frees idle conns after timeout, nil when not armed
	maker   CreationFunc
	closed  bool

	mu sync.Mutex
}

// NewPool returns a pool that holds up to maxSize connections made by maker,
// closing them timeout after the last is returned
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		maker:   maker,
	}
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.  The consumer should not attempt to cast it to its
// concrete type and use it outside this interface.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good.  ReturnWithError chooses between them.
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.reclaim != nil {
		p.reclaim.Stop()
		p.reclaim = nil
	}
	select {
	case c := <-p.conns:
		p.onLease++
		p.mu.Unlock()
		return c, nil
	default:
	}
	if p.onLease+len(p.conns) >= p.maxSize {
		// all given out, wait for one to come back without holding the lock
		p.mu.Unlock()
		c, ok := <-p.conns
		if !ok {
			return nil, ErrPoolClosed
		}
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		return c, nil
	}
	// reserve the slot before dialing, the maker may back off for seconds
	p.onLease++
	p.mu.Unlock()
	c, err := p.maker()
	if err != nil {
		p.mu.Lock()
		p.onLease--
		p.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLease--
	if p.closed {
		rwc.Close()
		return
	}
	p.conns <- rwc
	if p.onLease == 0 {
		p.armReclaim()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rwc := rw.(io.ReadWriteCloser)
	rwc.Close()
	p.mu.Lock()
	p.onLease--
	p.mu.Unlock()
}

// ReturnWithError returns rw to the pool with Put, unless err indicates the
// connection itself has failed, in which case it is Destroyed
func (p *Pool) ReturnWithError(rw io.ReadWriter, err error) {
	if IsConnectionFault(err) {
		p.Destroy(rw)
		return
	}
	p.Put(rw)
}

// IsConnectionFault reports whether err means the link to the device is no
// good, rather than the device disliking a command
func IsConnectionFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns) + p.onLease
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}

// Close frees every idle connection.  Connections on lease are closed when
// they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.reclaim != nil {
		p.reclaim.Stop()
	}
	p.drain()
	return nil
}

// armReclaim must be called with the lock held
func (p *Pool) armReclaim() {
	if p.reclaim != nil {
		p.reclaim.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.reclaim != t || p.onLease != 0 {
			return
		}
		p.drain()
		p.reclaim = nil
	})
	p.reclaim = t
}

// drain must be called with the lock held
func (p *Pool) drain() {
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}
