package proxy

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

const (
	// MaxFrameSize is the largest body a receiver accepts.
	MaxFrameSize = 1 << 30

	// sendAttempts bounds how often a nacked frame is restarted.
	sendAttempts = 3
)

var (
	tokenAck  = []byte("ack")
	tokenNack = []byte("nack")
)

// Conn speaks the length-prefixed JSON protocol over one sub-connection:
// an 8-byte little-endian length, an ack/nack, the JSON body, an ack/nack.
// A Conn is not safe for concurrent use.
type Conn struct {
	conn    net.Conn
	metrics *linkMetrics
	role    string
}

// NewConn wraps an established connection.
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c}
}

// Close closes the underlying connection; blocked reads return.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// watch applies the context deadline to the socket and interrupts blocked
// I/O when ctx is cancelled. The returned func must be called when the
// operation finishes.
func (c *Conn) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

func (c *Conn) ioErr(ctx context.Context, err error, method, action string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return errors.WrapTransient(err, "Conn", method, action)
}

// Send writes v as one frame. A nack from the peer restarts the frame; after
// three rejected attempts Send fails with ErrFrameRejected.
func (c *Conn) Send(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Conn", "Send", "marshal frame")
	}
	return c.SendRaw(ctx, body)
}

// SendRaw writes an already encoded JSON body as one frame.
func (c *Conn) SendRaw(ctx context.Context, body []byte) error {
	defer c.watch(ctx)()

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(body)))

	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if _, err := c.conn.Write(header[:]); err != nil {
			return c.ioErr(ctx, err, "Send", "write length")
		}
		ok, err := c.readToken()
		if err != nil {
			return c.ioErr(ctx, err, "Send", "await length ack")
		}
		if !ok {
			c.metrics.nack(c.role, "received")
			continue
		}

		if _, err := c.conn.Write(body); err != nil {
			return c.ioErr(ctx, err, "Send", "write body")
		}
		ok, err = c.readToken()
		if err != nil {
			return c.ioErr(ctx, err, "Send", "await body ack")
		}
		if !ok {
			c.metrics.nack(c.role, "received")
			continue
		}

		c.metrics.frame(c.role, "sent")
		return nil
	}
	return errors.WrapTransient(errors.ErrFrameRejected, "Conn", "Send",
		fmt.Sprintf("deliver frame after %d attempts", sendAttempts))
}

// Recv reads the next frame that parses into v. Oversized or unparsable
// frames are nacked and skipped; the stream stays in sync because bodies
// are length-delimited.
func (c *Conn) Recv(ctx context.Context, v any) error {
	defer c.watch(ctx)()

	var header [8]byte
	for {
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			return c.ioErr(ctx, err, "Recv", "read length")
		}
		size := binary.LittleEndian.Uint64(header[:])
		if size > MaxFrameSize {
			c.metrics.nack(c.role, "sent")
			if err := c.writeToken(tokenNack); err != nil {
				return c.ioErr(ctx, err, "Recv", "nack length")
			}
			continue
		}
		if err := c.writeToken(tokenAck); err != nil {
			return c.ioErr(ctx, err, "Recv", "ack length")
		}

		body := make([]byte, size)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return c.ioErr(ctx, err, "Recv", "read body")
		}
		if err := json.Unmarshal(body, v); err != nil {
			c.metrics.nack(c.role, "sent")
			if err := c.writeToken(tokenNack); err != nil {
				return c.ioErr(ctx, err, "Recv", "nack body")
			}
			continue
		}
		if err := c.writeToken(tokenAck); err != nil {
			return c.ioErr(ctx, err, "Recv", "ack body")
		}
		c.metrics.frame(c.role, "received")
		return nil
	}
}

func (c *Conn) writeToken(token []byte) error {
	_, err := c.conn.Write(token)
	return err
}

// readToken returns true for ack and false for nack.
func (c *Conn) readToken() (bool, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, buf[:3]); err != nil {
		return false, err
	}
	if bytes.Equal(buf[:3], tokenAck) {
		return true, nil
	}
	if bytes.Equal(buf[:3], tokenNack[:3]) {
		if _, err := io.ReadFull(c.conn, buf[3:]); err != nil {
			return false, err
		}
		if bytes.Equal(buf, tokenNack) {
			return false, nil
		}
	}
	return false, errors.Kind(errors.ErrUnexpectedReply, "token %q", buf)
}
