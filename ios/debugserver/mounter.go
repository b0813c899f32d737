package debugserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// MountSession is an attached disk image. It must be detached by whoever attached it.
type MountSession struct {
	Image      DiskImage
	Mountpoint string
}

// Mounter makes the contents of a disk image available under a local directory.
type Mounter interface {
	Attach(ctx context.Context, image DiskImage) (*MountSession, error)
	Detach(ctx context.Context, session *MountSession) error
}

// CommandRunner runs a local program and returns its exit code. The error is only set
// if the program could not be run at all.
type CommandRunner func(ctx context.Context, name string, args ...string) (int, error)

// RunCommand is the default CommandRunner based on os/exec.
func RunCommand(ctx context.Context, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	log.WithFields(log.Fields{"cmd": name, "args": args}).Tracef("%s", out)
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Debugf("%s %s: %s", name, strings.Join(args, " "), strings.TrimSpace(string(out)))
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// HdiutilMounter attaches images with hdiutil on macOS.
type HdiutilMounter struct {
	Hdiutil string
	TempDir string
	Run     CommandRunner
}

// NewHdiutilMounter uses /usr/bin/hdiutil and the system temp dir.
func NewHdiutilMounter() *HdiutilMounter {
	return &HdiutilMounter{Hdiutil: "/usr/bin/hdiutil", Run: RunCommand}
}

// Attach mounts the image on a fresh mountpoint.
func (m *HdiutilMounter) Attach(ctx context.Context, image DiskImage) (*MountSession, error) {
	mountpoint, err := os.MkdirTemp(m.TempDir, "DeveloperDiskImage")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMountFailed, err)
	}
	code, err := m.Run(ctx, m.Hdiutil, "attach", "-mountpoint", mountpoint, image.Path)
	if err != nil || code != 0 {
		os.Remove(mountpoint)
		return nil, fmt.Errorf("%w: unable to mount %s (exit %d, %v)", ErrMountFailed, image.Path, code, err)
	}
	log.WithFields(log.Fields{"image": image.Path, "mountpoint": mountpoint}).Info("mounted DeveloperDiskImage")
	return &MountSession{Image: image, Mountpoint: mountpoint}, nil
}

// Detach unmounts and removes the mountpoint.
func (m *HdiutilMounter) Detach(ctx context.Context, session *MountSession) error {
	code, err := m.Run(ctx, m.Hdiutil, "detach", session.Mountpoint)
	if err != nil || code != 0 {
		return fmt.Errorf("%w: unable to detach %s (exit %d, %v)", ErrDetachFailed, session.Mountpoint, code, err)
	}
	log.WithFields(log.Fields{"mountpoint": session.Mountpoint}).Info("detached DeveloperDiskImage")
	os.Remove(session.Mountpoint)
	return nil
}

// ExtractMounter is used on hosts without hdiutil. It extracts the image with 7z
// and detaching deletes the extracted tree.
type ExtractMounter struct {
	SevenZip string
	TempDir  string
	Run      CommandRunner
}

// NewExtractMounter uses 7z from PATH and the system temp dir.
func NewExtractMounter() *ExtractMounter {
	return &ExtractMounter{SevenZip: "7z", Run: RunCommand}
}

// Attach extracts the image into a fresh directory.
func (m *ExtractMounter) Attach(ctx context.Context, image DiskImage) (*MountSession, error) {
	mountpoint, err := os.MkdirTemp(m.TempDir, "DeveloperDiskImage")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMountFailed, err)
	}
	code, err := m.Run(ctx, m.SevenZip, "x", "-y", "-o"+mountpoint, image.Path)
	if err != nil || code != 0 {
		os.RemoveAll(mountpoint)
		return nil, fmt.Errorf("%w: unable to extract %s (exit %d, %v)", ErrMountFailed, image.Path, code, err)
	}
	log.WithFields(log.Fields{"image": image.Path, "dir": mountpoint}).Info("extracted DeveloperDiskImage")
	return &MountSession{Image: image, Mountpoint: mountpoint}, nil
}

// Detach removes the extracted files.
func (m *ExtractMounter) Detach(ctx context.Context, session *MountSession) error {
	if err := os.RemoveAll(session.Mountpoint); err != nil {
		return fmt.Errorf("%w: %v", ErrDetachFailed, err)
	}
	return nil
}

// MounterFor returns the Mounter for the host OS.
func MounterFor(goos string) Mounter {
	if goos == "darwin" {
		return NewHdiutilMounter()
	}
	return NewExtractMounter()
}

// WithMount attaches image, runs fn and detaches again on every path out of fn,
// including panics. If fn failed, a detach error is only logged and fn's error is returned.
func WithMount(ctx context.Context, m Mounter, image DiskImage, fn func(session *MountSession) error) (err error) {
	session, err := m.Attach(ctx, image)
	if err != nil {
		return err
	}
	defer func() {
		detachErr := m.Detach(context.WithoutCancel(ctx), session)
		if detachErr == nil {
			return
		}
		if err != nil {
			log.WithFields(log.Fields{"mountpoint": session.Mountpoint, "err": detachErr}).Error("detach failed after earlier error")
			return
		}
		err = detachErr
	}()
	return fn(session)
}

// FindBinary returns the path of usr/bin/debugserver inside a mounted or extracted image.
// Extracted images may nest the volume in a subdirectory, so the tree is searched.
func FindBinary(mountpoint string) (string, error) {
	direct := filepath.Join(mountpoint, "usr", "bin", "debugserver")
	if info, err := os.Stat(direct); err == nil && info.Mode().IsRegular() {
		return direct, nil
	}
	suffix := string(filepath.Separator) + filepath.Join("usr", "bin", "debugserver")
	var found string
	err := filepath.WalkDir(mountpoint, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, suffix) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%w: no usr/bin/debugserver in %s", ErrImageNotFound, mountpoint)
	}
	return found, nil
}
