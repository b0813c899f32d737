package sshconn_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/iosdbg/iosdbg/ios/sshconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// execHandler serves one exec or shell request. cmd is empty for shells.
type execHandler func(cmd string, ch ssh.Channel) uint32

type testServer struct {
	mu       sync.Mutex
	commands []string
	tunnels  []uint32
}

func (s *testServer) recordCommand(cmd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *testServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) Tunnels() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.tunnels...)
}

// startServer runs an in-process sshd on loopback and returns a connected client.
func startServer(t *testing.T, handler execHandler) (*sshconn.Client, *testServer) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "root" && string(pass) == "alpine" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	server := &testServer{}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go server.serveConn(conn, config, handler)
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	client, err := sshconn.NewClient(conn, l.Addr().String(), sshconn.Config{User: "root", Password: "alpine"})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, server
}

func (s *testServer) serveConn(conn net.Conn, config *ssh.ServerConfig, handler execHandler) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			ch, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			go s.serveSession(ch, requests, handler)
		case "direct-tcpip":
			var target struct {
				Host     string
				Port     uint32
				OrigHost string
				OrigPort uint32
			}
			_ = ssh.Unmarshal(newChannel.ExtraData(), &target)
			s.mu.Lock()
			s.tunnels = append(s.tunnels, target.Port)
			s.mu.Unlock()
			ch, requests, err := newChannel.Accept()
			if err != nil {
				continue
			}
			go ssh.DiscardRequests(requests)
			go func() {
				_, _ = io.Copy(ch, ch)
				ch.Close()
			}()
		default:
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported")
		}
	}
}

func (s *testServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request, handler execHandler) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "exec", "shell":
			var cmd string
			if req.Type == "exec" {
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				cmd = payload.Command
			}
			s.recordCommand(cmd)
			_ = req.Reply(true, nil)
			go func() {
				status := handler(cmd, ch)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
			}()
		default:
			_ = req.Reply(false, nil)
		}
	}
}
