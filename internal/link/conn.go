// Package link carries controller frames over UDP, one frame per datagram.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// maxDatagram bounds one received frame. The longest known frame is a full
// track data block.
const maxDatagram = 2048

// pollInterval is how often a blocked read wakes to check for shutdown.
const pollInterval = time.Second

// ErrNoPeer is returned by Send before the remote address is known.
var ErrNoPeer = errors.New("link: no peer address")

// Conn is a UDP endpoint for controller frames. A Conn made by Dial sends
// to a fixed remote; a Conn made by Listen replies to whoever sent the
// last datagram.
type Conn struct {
	conn   *net.UDPConn
	logger *slog.Logger

	mu     sync.Mutex // serializes sends and guards remote
	remote *net.UDPAddr
	learn  bool
}

// Dial binds local (host:port, empty for any) and sends to remote.
func Dial(local, remote string, logger *slog.Logger) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("resolving controller address %q: %w", remote, err)
	}
	c, err := listen(local, logger)
	if err != nil {
		return nil, err
	}
	c.remote = raddr
	return c, nil
}

// Listen binds local and learns its peer from inbound datagrams.
func Listen(local string, logger *slog.Logger) (*Conn, error) {
	c, err := listen(local, logger)
	if err != nil {
		return nil, err
	}
	c.learn = true
	return c, nil
}

func listen(local string, logger *slog.Logger) (*Conn, error) {
	var laddr *net.UDPAddr
	if local != "" {
		a, err := net.ResolveUDPAddr("udp", local)
		if err != nil {
			return nil, fmt.Errorf("resolving local address %q: %w", local, err)
		}
		laddr = a
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding UDP socket: %w", err)
	}
	return &Conn{conn: conn, logger: logger}, nil
}

// LocalAddr returns the bound address.
func (c *Conn) LocalAddr() *net.UDPAddr { return c.conn.LocalAddr().(*net.UDPAddr) }

// Remote returns the current peer, or nil before one is known.
func (c *Conn) Remote() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Send writes one frame as a single datagram.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return ErrNoPeer
	}
	if _, err := c.conn.WriteToUDP(frame, c.remote); err != nil {
		return fmt.Errorf("sending frame to %s: %w", c.remote, err)
	}
	return nil
}

// Run reads datagrams and passes each to handle until ctx is done. The
// slice is reused for the next read, so handle must not retain it. A panic
// in handle is logged and the loop continues.
func (c *Conn) Run(ctx context.Context, handle func([]byte)) error {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Warn("udp read failed", "error", err)
			continue
		}
		if c.learn {
			c.mu.Lock()
			c.remote = addr
			c.mu.Unlock()
		}
		c.dispatch(handle, buf[:n], addr)
	}
}

func (c *Conn) dispatch(handle func([]byte), frame []byte, from *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame handler panicked", "from", from.String(), "len", len(frame), "panic", r)
		}
	}()
	handle(frame)
}

// Close releases the socket. A running Run returns nil.
func (c *Conn) Close() error { return c.conn.Close() }
