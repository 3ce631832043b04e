// Package engined is a client for the OCT engine daemon's line-based TCP
// protocol. Commands are single text lines; bulk data (scan patterns, raw
// frames) travels as length-prefixed binary payloads on the same stream.
package engined

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	dialTimeout = 3 * time.Second
	opTimeout   = 5 * time.Second

	// Frames can be large; give the payload read more slack.
	frameTimeout = 30 * time.Second

	// maxFrameBytes bounds a single frame payload. The largest realistic
	// frame is a 2048-sample spectrum per A-scan over a few thousand
	// A-scans, a couple dozen megabytes.
	maxFrameBytes = 64 << 20
)

// Client speaks the engine daemon protocol over one TCP connection.
// Callers must serialize access; the connection carries one exchange
// at a time.
type Client struct {
	addr    string
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	version string
}

// Dial connects to an engine daemon and probes it with VERSION.
func Dial(ctx context.Context, addr string) (*Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to engine at %s: %w", addr, err)
	}

	c := NewClient(conn, addr)
	v, err := c.Version(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("engine probe failed: %w", err)
	}
	c.version = v
	return c, nil
}

// NewClient wraps an existing connection, for tests and custom transports.
func NewClient(conn net.Conn, addr string) *Client {
	return &Client{
		addr:   addr,
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// Addr returns the address the client was dialed with.
func (c *Client) Addr() string { return c.addr }

// ServerVersion returns the banner captured by the Dial probe. Empty for
// clients built with NewClient.
func (c *Client) ServerVersion() string { return c.version }

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) deadline(ctx context.Context, op time.Duration) time.Time {
	d := time.Now().Add(op)
	if t, ok := ctx.Deadline(); ok && t.Before(d) {
		d = t
	}
	return d
}

func (c *Client) sendLine(ctx context.Context, line string) error {
	c.conn.SetWriteDeadline(c.deadline(ctx, opTimeout))
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := c.writer.WriteString(line); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Client) readLine(ctx context.Context, op time.Duration) (string, error) {
	c.conn.SetReadDeadline(c.deadline(ctx, op))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// expectOK reads one reply line and fails unless it is "OK".
func (c *Client) expectOK(ctx context.Context, cmd string) error {
	reply, err := c.readLine(ctx, opTimeout)
	if err != nil {
		return fmt.Errorf("%s reply: %w", cmd, err)
	}
	if reply != "OK" {
		return fmt.Errorf("%s rejected: %s", cmd, reply)
	}
	return nil
}

// Version returns the daemon's version banner.
func (c *Client) Version(ctx context.Context) (string, error) {
	if err := c.sendLine(ctx, "VERSION"); err != nil {
		return "", err
	}
	line, err := c.readLine(ctx, opTimeout)
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", fmt.Errorf("empty VERSION reply from %s", c.addr)
	}
	return line, nil
}

// ReadAttr reads a named attribute. section may be empty for global
// attributes.
func (c *Client) ReadAttr(ctx context.Context, section, attr string) (string, error) {
	cmd := fmt.Sprintf("READ %s", attr)
	if section != "" {
		cmd = fmt.Sprintf("READ %s %s", section, attr)
	}
	if err := c.sendLine(ctx, cmd); err != nil {
		return "", err
	}
	return c.readLine(ctx, opTimeout)
}

// WriteAttr writes a named attribute and expects OK.
func (c *Client) WriteAttr(ctx context.Context, section, attr, value string) error {
	cmd := fmt.Sprintf("WRITE %s %s", attr, value)
	if section != "" {
		cmd = fmt.Sprintf("WRITE %s %s %s", section, attr, value)
	}
	if err := c.sendLine(ctx, cmd); err != nil {
		return err
	}
	return c.expectOK(ctx, "WRITE")
}

// ProgramPattern uploads an interleaved x/y position buffer and returns the
// pattern id assigned by the daemon. positions holds pairs, so its length
// must be even.
func (c *Client) ProgramPattern(ctx context.Context, positions []float32) (int, error) {
	if len(positions) == 0 || len(positions)%2 != 0 {
		return -1, fmt.Errorf("position buffer must hold x/y pairs, got %d values", len(positions))
	}
	n := len(positions) / 2

	if err := c.sendLine(ctx, fmt.Sprintf("PATTERN %d", n)); err != nil {
		return -1, err
	}
	c.conn.SetWriteDeadline(c.deadline(ctx, opTimeout))
	if _, err := c.writer.Write(FormatPositions(positions)); err != nil {
		return -1, err
	}
	if err := c.writer.Flush(); err != nil {
		return -1, err
	}

	reply, err := c.readLine(ctx, opTimeout)
	if err != nil {
		return -1, fmt.Errorf("PATTERN reply: %w", err)
	}
	id, err := strconv.Atoi(reply)
	if err != nil {
		return -1, fmt.Errorf("invalid pattern id %q", reply)
	}
	return id, nil
}

// Start begins streaming frames for a programmed pattern. mode is "live" or
// "acquire".
func (c *Client) Start(ctx context.Context, patternID int, mode string) error {
	if err := c.sendLine(ctx, fmt.Sprintf("START %d %s", patternID, mode)); err != nil {
		return err
	}
	return c.expectOK(ctx, "START")
}

// Stop halts streaming.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.sendLine(ctx, "STOP"); err != nil {
		return err
	}
	return c.expectOK(ctx, "STOP")
}

// Frame pulls the next raw frame: a decimal byte-count line followed by that
// many payload bytes. A zero count means the daemon has no frame yet.
func (c *Client) Frame(ctx context.Context) ([]byte, error) {
	if err := c.sendLine(ctx, "FRAME"); err != nil {
		return nil, err
	}
	reply, err := c.readLine(ctx, frameTimeout)
	if err != nil {
		return nil, fmt.Errorf("FRAME reply: %w", err)
	}
	size, err := strconv.Atoi(reply)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("invalid frame size %q", reply)
	}
	if size > maxFrameBytes {
		return nil, fmt.Errorf("frame size %d exceeds %d byte limit", size, maxFrameBytes)
	}
	if size == 0 {
		return nil, nil
	}

	c.conn.SetReadDeadline(c.deadline(ctx, frameTimeout))
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, fmt.Errorf("frame payload: %w", err)
	}
	return payload, nil
}

// WavelengthAt queries one entry of the spectrometer calibration table.
func (c *Client) WavelengthAt(ctx context.Context, index int) (float64, error) {
	if err := c.sendLine(ctx, fmt.Sprintf("WAVELENGTH %d", index)); err != nil {
		return 0, err
	}
	reply, err := c.readLine(ctx, opTimeout)
	if err != nil {
		return 0, fmt.Errorf("WAVELENGTH reply: %w", err)
	}
	v, err := strconv.ParseFloat(reply, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid wavelength %q at index %d", reply, index)
	}
	return v, nil
}
