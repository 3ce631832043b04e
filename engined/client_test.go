package engined

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEngine emulates the daemon end of the protocol on an in-memory
// connection so client exchanges can be verified without a real engine.
func scriptedEngine(t *testing.T, conn net.Conn, frame []uint16) {
	t.Helper()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "VERSION":
			io.WriteString(conn, "octengined 1.2.0\n")
		case "READ":
			io.WriteString(conn, "2048\n")
		case "WRITE":
			io.WriteString(conn, "OK\n")
		case "PATTERN":
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				io.WriteString(conn, "ERR bad count\n")
				continue
			}
			payload := make([]byte, 8*n)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
			io.WriteString(conn, "7\n")
		case "START", "STOP":
			io.WriteString(conn, "OK\n")
		case "FRAME":
			payload := FormatUint16Samples(frame)
			io.WriteString(conn, strconv.Itoa(len(payload))+"\n")
			conn.Write(payload)
		case "WAVELENGTH":
			io.WriteString(conn, "812.25\n")
		default:
			io.WriteString(conn, "ERR unknown command\n")
		}
	}
}

func newTestClient(t *testing.T, frame []uint16) *Client {
	t.Helper()
	server, client := net.Pipe()
	go scriptedEngine(t, server, frame)
	c := NewClient(client, "pipe")
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return c
}

func TestDialProbesVersionOnce(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var versions atomic.Int32
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch strings.Fields(line)[0] {
			case "VERSION":
				versions.Add(1)
				io.WriteString(conn, "octengined 1.2.0\n")
			case "READ":
				io.WriteString(conn, "2048\n")
			default:
				io.WriteString(conn, "ERR unknown command\n")
			}
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "octengined 1.2.0", c.ServerVersion())

	_, err = c.ReadAttr(context.Background(), "scanner", "spectrum_length")
	require.NoError(t, err)
	assert.Equal(t, int32(1), versions.Load(), "one handshake per connection")
}

func TestClientVersion(t *testing.T) {
	c := newTestClient(t, nil)
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octengined 1.2.0", v)
}

func TestClientAttrs(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	v, err := c.ReadAttr(ctx, "scanner", "spectrum_length")
	require.NoError(t, err)
	assert.Equal(t, "2048", v)

	require.NoError(t, c.WriteAttr(ctx, "scanner", "pattern_angle", "0.25"))
	require.NoError(t, c.WriteAttr(ctx, "", "imaging_rate", "76000"))
}

func TestClientProgramStartStop(t *testing.T) {
	c := newTestClient(t, nil)
	ctx := context.Background()

	id, err := c.ProgramPattern(ctx, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	require.NoError(t, c.Start(ctx, id, "live"))
	require.NoError(t, c.Stop(ctx))
}

func TestClientProgramPatternRejectsOddBuffer(t *testing.T) {
	c := newTestClient(t, nil)
	_, err := c.ProgramPattern(context.Background(), []float32{1, 2, 3})
	require.Error(t, err)
}

func TestClientFrame(t *testing.T) {
	want := []uint16{0, 1, 65535, 42}
	c := newTestClient(t, want)

	payload, err := c.Frame(context.Background())
	require.NoError(t, err)
	got, err := ParseUint16Samples(payload)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientFrameRejectsOversizedCount(t *testing.T) {
	server, client := net.Pipe()
	go func() {
		r := bufio.NewReader(server)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		io.WriteString(server, "999999999999\n")
	}()
	c := NewClient(client, "pipe")
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})

	_, err := c.Frame(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "byte limit", "a bogus count line must not drive the allocation")
}

func TestClientWavelengthAt(t *testing.T) {
	c := newTestClient(t, nil)
	v, err := c.WavelengthAt(context.Background(), 5)
	require.NoError(t, err)
	assert.InDelta(t, 812.25, v, 1e-12)
}

func TestPositionsRoundTrip(t *testing.T) {
	in := []float32{-2.5, 0, 1.25, 3e6}
	out, err := ParsePositions(FormatPositions(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseUint16SamplesOddPayload(t *testing.T) {
	_, err := ParseUint16Samples([]byte{1, 2, 3})
	require.Error(t, err)
}
