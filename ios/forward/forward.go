package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrArgumentInvalid is returned for port arguments that are not plain decimal uint16 values.
var ErrArgumentInvalid = errors.New("forward: invalid port argument")

// ChannelOpener opens named channels to the device, like "tcp:27042".
type ChannelOpener interface {
	OpenChannel(name string) (io.ReadWriteCloser, error)
}

// ParsePorts validates the host and device port arguments of iproxy.
func ParsePorts(src string, dst string) (uint16, uint16, error) {
	hostPort, err := parsePort(src)
	if err != nil {
		return 0, 0, err
	}
	phonePort, err := parsePort(dst)
	if err != nil {
		return 0, 0, err
	}
	return hostPort, phonePort, nil
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil || strconv.FormatUint(port, 10) != s {
		return 0, fmt.Errorf("%w: %q", ErrArgumentInvalid, s)
	}
	return uint16(port), nil
}

//Forward forwards every connection made to the hostPort to whatever service runs on phonePort on the device.
//It blocks until ctx is done.
func Forward(ctx context.Context, opener ChannelOpener, hostPort uint16, phonePort uint16) error {
	log.Infof("Start listening on port %d forwarding to port %d on device", hostPort, phonePort)
	l, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", hostPort))
	if err != nil {
		return err
	}
	return Serve(ctx, l, opener, phonePort)
}

// Serve accepts connections on l until ctx is done and closes l afterwards.
// Failing connections are logged and never stop the listener.
func Serve(ctx context.Context, l net.Listener, opener ChannelOpener, phonePort uint16) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer l.Close()

	for {
		clientConn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("Error accepting new connection %v", err)
			continue
		}
		log.WithFields(log.Fields{"remote": clientConn.RemoteAddr().String()}).Info("new client connected")
		go startNewProxyConnection(clientConn, opener, phonePort)
	}
}

func startNewProxyConnection(clientConn net.Conn, opener ChannelOpener, phonePort uint16) {
	session := log.WithFields(log.Fields{"session": uuid.New().String(), "phonePort": phonePort})
	channel := fmt.Sprintf("tcp:%d", phonePort)

	deviceConn, err := opener.OpenChannel(channel)
	if err != nil {
		session.WithFields(log.Fields{"err": err}).Info("could not connect to phone")
		clientConn.Close()
		return
	}
	session.Infof("Connected to port")

	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(deviceConn, clientConn)
		deviceConn.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(clientConn, deviceConn)
		closeWrite(clientConn)
		return err
	})
	if err := g.Wait(); err != nil {
		session.WithFields(log.Fields{"err": err}).Warn("connection ended with error")
	}
	clientConn.Close()
	session.Info("connection closed")
}

// closeWrite half-closes conn if it supports it, otherwise closes it.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}
