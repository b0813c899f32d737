// Package sshconn is the secure transport to a jailbroken device. It runs SSH over a
// usbmuxd connection to the device's sshd and exposes one-shot commands, interactive
// shells, tunnel channels and file uploads, each on its own SSH channel.
package sshconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/iosdbg/iosdbg/ios"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds the credentials and the device port of sshd.
type Config struct {
	User           string
	Password       string
	KeyFile        string
	Port           uint16
	KnownHostsFile string
}

// Client is a connection to the sshd of one device. It is safe for concurrent use,
// every operation opens its own channel on the multiplexed connection.
type Client struct {
	client *ssh.Client
}

// Dial connects to sshd on the device through usbmuxd.
func Dial(device ios.DeviceEntry, cfg Config) (*Client, error) {
	deviceConn, err := ios.ConnectToPort(device, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("sshconn: could not reach sshd on %s:%d: %w", device.Properties.SerialNumber, cfg.Port, err)
	}
	addr := net.JoinHostPort(device.Properties.SerialNumber, strconv.Itoa(int(cfg.Port)))
	return NewClient(deviceConn.Conn(), addr, cfg)
}

// DialTCP connects to sshd over the network, for devices reachable by address.
func DialTCP(host string, cfg Config) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(cfg.Port)))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, addr, cfg)
}

// NewClient runs the SSH handshake on an established connection.
func NewClient(conn net.Conn, addr string, cfg Config) (*Client, error) {
	clientConfig, err := clientConfig(cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sshconn: handshake with %s failed: %w", addr, err)
	}
	log.WithFields(log.Fields{"addr": addr, "user": cfg.User, "server": string(c.ServerVersion())}).Debug("ssh connected")
	return &Client{client: ssh.NewClient(c, chans, reqs)}, nil
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sshconn: reading key %s: %w", cfg.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("sshconn: parsing key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sshconn: no password or key configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sshconn: loading known hosts: %w", err)
		}
		hostKeyCallback = cb
	} else {
		log.Debug("no known_hosts configured, accepting any device host key")
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// Close closes the SSH connection and every channel on it.
func (c *Client) Close() error {
	return c.client.Close()
}

// Run executes cmdline to completion and returns its exit code. The error is only set
// when the command could not be run or its status is unknown, a non-zero exit is not an error.
func (c *Client) Run(ctx context.Context, cmdline string) (int, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return -1, err
	}
	defer session.Close()
	defer closeOnDone(ctx, session)()

	log.Debugf("remote exec: %s", cmdline)
	return exitCode(ctx, session.Run(cmdline))
}

// Output executes cmdline and returns its standard output. A non-zero exit is an error.
func (c *Client) Output(ctx context.Context, cmdline string) ([]byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	defer closeOnDone(ctx, session)()

	out, err := session.Output(cmdline)
	code, err := exitCode(ctx, err)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("sshconn: %q exited with %d", cmdline, code)
	}
	return out, nil
}

// OpenChannel opens a direct-tcpip channel. The only supported name is tcp:<port>
// which connects to that port on the device loopback.
func (c *Client) OpenChannel(name string) (io.ReadWriteCloser, error) {
	port, err := ios.ParseChannelName(name)
	if err != nil {
		return nil, err
	}
	return c.client.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
}

func exitCode(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, err
}

// closeOnDone closes c when ctx is done. The returned func stops watching.
func closeOnDone(ctx context.Context, c io.Closer) func() {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()
	return func() { close(stop) }
}
