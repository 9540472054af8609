// Package mllp implements the Minimal Lower Layer Protocol client used to
// consume the hospital's HL7 feed over a persistent TCP connection.
package mllp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Framing bytes per the MLLP specification.
const (
	StartByte  = 0x0B
	EndByte    = 0x1C
	CarriageRn = 0x0D
)

var endSequence = []byte{EndByte, CarriageRn}

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 600 * time.Second
	readChunk   = 1024
)

// Client is a reconnecting MLLP client. It is not safe for concurrent use;
// the supervisor is the single reader and writer.
type Client struct {
	host   string
	port   int
	logger zerolog.Logger

	conn net.Conn

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// NewClient creates a client for the given MLLP endpoint.
func NewClient(host string, port int, logger zerolog.Logger) *Client {
	return &Client{
		host:   host,
		port:   port,
		logger: logger.With().Str("component", "mllp").Logger(),
		sleep:  time.Sleep,
	}
}

// Connect dials the MLLP endpoint, retrying forever with exponential backoff
// starting at 1s and capped at 600s. It returns only once connected.
func (c *Client) Connect() {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	wait := baseBackoff
	for attempt := 0; ; attempt++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			c.conn = conn
			c.logger.Info().Str("addr", addr).Int("attempt", attempt+1).Msg("connected to MLLP")
			return
		}
		c.logger.Warn().Err(err).Str("addr", addr).Dur("retry_in", wait).Msg("MLLP connect failed")
		c.sleep(wait)
		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// ReadFrame accumulates bytes from the stream until the end-of-block byte
// appears, then returns the raw buffer including framing. A peer reset
// returns (nil, true) and closes the connection; any other read error
// returns (nil, false).
func (c *Client) ReadFrame() ([]byte, bool) {
	var buf []byte
	chunk := make([]byte, readChunk)
	for !bytes.ContainsRune(buf, EndByte) {
		n, err := c.conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			if errors.Is(err, syscall.ECONNRESET) {
				c.logger.Warn().Msg("connection reset by peer, reconnect needed")
				c.conn.Close()
				return nil, true
			}
			c.logger.Error().Err(err).Msg("failed to read MLLP frame")
			return nil, false
		}
	}
	return buf, false
}

// Send writes raw bytes to the connection.
func (c *Client) Send(data []byte) error {
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("mllp send: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Safe to call with no connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Frame wraps a payload in MLLP start/end markers.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, StartByte)
	out = append(out, payload...)
	return append(out, endSequence...)
}

// Unframe extracts the payload between the start marker and the end-of-block
// sequence. Returns nil if either marker is missing.
func Unframe(data []byte) []byte {
	start := bytes.IndexByte(data, StartByte)
	end := bytes.Index(data, endSequence)
	if start == -1 || end == -1 || end < start {
		return nil
	}
	return data[start+1 : end]
}
