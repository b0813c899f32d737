package debugserver_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/iosdbg/iosdbg/ios/debugserver"
)

// fakeRemote records every remote operation in order.
type fakeRemote struct {
	mu       sync.Mutex
	ops      []string
	files    map[string][]byte
	exit     func(cmd string) int
	writeErr error
}

func newFakeRemote(exit func(cmd string) int) *fakeRemote {
	if exit == nil {
		exit = func(string) int { return 0 }
	}
	return &fakeRemote{files: map[string][]byte{}, exit: exit}
}

func (f *fakeRemote) Run(ctx context.Context, cmdline string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "run:"+cmdline)
	return f.exit(cmdline), nil
}

func (f *fakeRemote) WriteFile(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "write:"+remotePath)
	if f.writeErr != nil && remotePath != debugserver.DefaultEntitlementsPath {
		return f.writeErr
	}
	f.files[remotePath] = append([]byte(nil), data...)
	return nil
}

func (f *fakeRemote) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

// existing reports exit 0 for test -f of the given paths and 1 for every other probe.
func existing(paths ...string) func(cmd string) int {
	return func(cmd string) int {
		if !strings.HasPrefix(cmd, "test -f ") {
			return 0
		}
		for _, p := range paths {
			if cmd == "test -f '"+p+"'" {
				return 0
			}
		}
		return 1
	}
}

// fakeMounter creates a directory with usr/bin/debugserver on attach.
type fakeMounter struct {
	dir       string
	attaches  int
	detaches  int
	attachErr error
	detachErr error
	binary    []byte
}

func (m *fakeMounter) Attach(ctx context.Context, image debugserver.DiskImage) (*debugserver.MountSession, error) {
	m.attaches++
	if m.attachErr != nil {
		return nil, m.attachErr
	}
	mountpoint := filepath.Join(m.dir, "mnt")
	if m.binary != nil {
		bin := filepath.Join(mountpoint, "usr", "bin")
		if err := os.MkdirAll(bin, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(bin, "debugserver"), m.binary, 0o755); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return nil, err
	}
	return &debugserver.MountSession{Image: image, Mountpoint: mountpoint}, nil
}

func (m *fakeMounter) Detach(ctx context.Context, session *debugserver.MountSession) error {
	m.detaches++
	return m.detachErr
}

type fakeFetcher struct {
	calls int
	image debugserver.DiskImage
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (debugserver.DiskImage, error) {
	f.calls++
	return f.image, f.err
}

// fakeShell replays scripted output and records what is written to it.
type fakeShell struct {
	mu      sync.Mutex
	output  io.Reader
	input   strings.Builder
	closed  bool
	onClose func()
}

func (s *fakeShell) Read(p []byte) (int, error) {
	return s.output.Read(p)
}

func (s *fakeShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input.Write(p)
}

func (s *fakeShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *fakeShell) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input.String()
}

func (s *fakeShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeShellOpener struct {
	shell *fakeShell
	err   error
}

func (o *fakeShellOpener) Shell(ctx context.Context) (io.ReadWriteCloser, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.shell, nil
}

var errBoom = errors.New("boom")
