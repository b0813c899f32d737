package debugserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/iosdbg/iosdbg/ios/sshconn"
	log "github.com/sirupsen/logrus"
)

// ReadyMarker is printed by debugserver once its socket is bound.
const ReadyMarker = "Listening to port "

// DefaultAddress is the loopback address debugserver binds to.
const DefaultAddress = "127.1"

// ShellOpener starts interactive shells on the device.
type ShellOpener interface {
	Shell(ctx context.Context) (io.ReadWriteCloser, error)
}

// Launcher starts debugserver in a remote shell.
type Launcher struct {
	Remote  ShellOpener
	Binary  string
	Address string
}

// Spawn launches path under debugserver listening on port.
func (l *Launcher) Spawn(ctx context.Context, path string, port int) (io.ReadWriteCloser, error) {
	return l.Launch(ctx, fmt.Sprintf("%s %s %s", l.Binary, l.listen(port), sshconn.Quote(path)))
}

// Attach attaches debugserver to a running process, target is a pid or a process name.
func (l *Launcher) Attach(ctx context.Context, target string, port int) (io.ReadWriteCloser, error) {
	return l.Launch(ctx, fmt.Sprintf("%s %s -a %s", l.Binary, l.listen(port), sshconn.Quote(target)))
}

// Backboard launches path through the backboard front end.
func (l *Launcher) Backboard(ctx context.Context, path string, port int) (io.ReadWriteCloser, error) {
	return l.Launch(ctx, fmt.Sprintf("%s -x backboard %s %s", l.Binary, l.listen(port), sshconn.Quote(path)))
}

func (l *Launcher) listen(port int) string {
	address := l.Address
	if address == "" {
		address = DefaultAddress
	}
	return fmt.Sprintf("%s:%d", address, port)
}

// Launch runs cmdline in a new shell and returns once a line of its output contains
// ReadyMarker. The returned stream stays open and belongs to the caller, output after
// the marker line is readable from it. If the output ends first ErrLaunchFailed is returned.
// There is no timeout, cancel ctx to give up.
func (l *Launcher) Launch(ctx context.Context, cmdline string) (io.ReadWriteCloser, error) {
	stream, err := l.Remote.Shell(ctx)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"cmd": cmdline}).Info("starting debugserver")
	if _, err := io.WriteString(stream, cmdline+"\n"); err != nil {
		stream.Close()
		return nil, err
	}

	reader := bufio.NewReader(stream)
	ready := make(chan error, 1)
	go func() {
		ready <- waitForMarker(reader)
	}()

	select {
	case err := <-ready:
		if err != nil {
			stream.Close()
			return nil, err
		}
		return &readyStream{reader: reader, stream: stream}, nil
	case <-ctx.Done():
		stream.Close()
		<-ready
		return nil, ctx.Err()
	}
}

func waitForMarker(reader *bufio.Reader) error {
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			log.WithFields(log.Fields{"remote": "debugserver"}).Info(line)
		}
		if strings.Contains(line, ReadyMarker) {
			return nil
		}
		if err == io.EOF {
			return ErrLaunchFailed
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
	}
}

// readyStream hands out bytes already buffered while looking for the marker before
// reading from the shell again.
type readyStream struct {
	reader *bufio.Reader
	stream io.ReadWriteCloser
}

func (r *readyStream) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *readyStream) Write(p []byte) (int, error) {
	return r.stream.Write(p)
}

func (r *readyStream) Close() error {
	return r.stream.Close()
}
