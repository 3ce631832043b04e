package wavecal

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/openoct/GoOCT/internal/logging"
)

// calServer runs an in-process SSH daemon that answers every exec request
// with the encoded table, standing in for `cat` on the engine host. It
// returns a ready-to-use client config and the commands it received.
func calServer(t *testing.T, table Table, password string) (SSHConfig, <-chan string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	serverCfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password")
		},
	}
	serverCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	commands := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveCalConn(conn, serverCfg, table, commands)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return SSHConfig{
		Host:       host,
		Port:       port,
		User:       "cal",
		Password:   password,
		RemotePath: "/etc/oct/lam.bin",
	}, commands
}

func serveCalConn(conn net.Conn, cfg *ssh.ServerConfig, table Table, commands chan<- string) {
	defer conn.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "sessions only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					continue
				}
				commands <- payload.Command
				req.Reply(true, nil)
				ch.Write(table.encode())
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			}
		}()
	}
}

func TestFetchSSH(t *testing.T) {
	want := Table{930.5, 930.45, 930.4, 930.35}
	cfg, commands := calServer(t, want, "hunter2")

	got, err := FetchSSH(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "cat '/etc/oct/lam.bin'", <-commands)
}

func TestFetchSSHRejectsBadPassword(t *testing.T) {
	cfg, _ := calServer(t, Table{1, 2}, "hunter2")
	cfg.Password = "nope"

	_, err := FetchSSH(context.Background(), cfg)
	require.Error(t, err)
}

func TestFetchSSHValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := FetchSSH(ctx, SSHConfig{RemotePath: "/x", Password: "p"})
	require.Error(t, err, "host is required")

	_, err = FetchSSH(ctx, SSHConfig{Host: "h", Password: "p"})
	require.Error(t, err, "remote path is required")

	_, err = FetchSSH(ctx, SSHConfig{Host: "h", RemotePath: "/x"})
	require.Error(t, err, "some credential is required")
}

func TestEnsureRemoteCachesFetchedTable(t *testing.T) {
	want := Table{812.5, 812.4, 812.3, 812.2}
	cfg, commands := calServer(t, want, "hunter2")
	path := filepath.Join(t.TempDir(), "lam-default.bin")

	got, err := EnsureRemote(context.Background(), path, cfg, len(want), logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cached, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, cached)

	// A warm cache answers without touching the host again.
	got, err = EnsureRemote(context.Background(), path, cfg, len(want), logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Len(t, commands, 1)
}

func TestEnsureRemoteRejectsSizeMismatch(t *testing.T) {
	cfg, _ := calServer(t, Table{1.5, 2.5}, "hunter2")
	path := filepath.Join(t.TempDir(), "lam-default.bin")

	_, err := EnsureRemote(context.Background(), path, cfg, 16, logging.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entries")
}
