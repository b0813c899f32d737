package debugserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/iosdbg/iosdbg/ios"
	"github.com/iosdbg/iosdbg/ios/sshconn"
	log "github.com/sirupsen/logrus"
)

const deviceSupport = "Contents/Developer/Platforms/iPhoneOS.platform/DeviceSupport"

// Remote runs one-shot commands and uploads files on the device.
type Remote interface {
	Run(ctx context.Context, cmdline string) (int, error)
	WriteFile(ctx context.Context, data []byte, remotePath string, mode os.FileMode) error
}

// DiskImage is a DeveloperDiskImage on the host that has not been mounted yet.
type DiskImage struct {
	Path       string
	VersionTag string
}

// Source is where debugserver is taken from: a path on the device or a disk image on the host.
type Source struct {
	DevicePath string
	Image      *DiskImage
}

// OnDevice is true when debugserver already exists on the device.
func (s Source) OnDevice() bool {
	return s.DevicePath != ""
}

func (s Source) String() string {
	if s.OnDevice() {
		return "device:" + s.DevicePath
	}
	if s.Image != nil {
		return "image:" + s.Image.Path
	}
	return "none"
}

// ImageFetcher downloads a disk image for hosts without Xcode.
type ImageFetcher interface {
	Fetch(ctx context.Context) (DiskImage, error)
}

// Locator finds a debugserver binary for a device.
type Locator struct {
	Remote     Remote
	Candidates []string
	XcodeRoots []string
	Fetcher    ImageFetcher
}

// Locate tries, in order, the on-device candidates, the DeveloperDiskImages of the
// installed Xcodes (darwin only) and finally the downloadable fallback image for iOS 17+
// on other hosts.
func (l *Locator) Locate(ctx context.Context, version string, goos string) (Source, error) {
	path, err := l.FindOnDevice(ctx)
	if err != nil {
		return Source{}, err
	}
	if path != "" {
		log.WithFields(log.Fields{"path": path}).Info("debugserver found on device")
		return Source{DevicePath: path}, nil
	}

	log.Debugf("debugserver: platform is %s", goos)
	if goos == "darwin" {
		image, err := l.FindInXcode(ShortVersion(version))
		if err != nil {
			return Source{}, err
		}
		return Source{Image: &image}, nil
	}

	parsed, err := semver.NewVersion(version)
	if err != nil {
		return Source{}, fmt.Errorf("%w: cannot parse '%s': %v", ErrUnsupportedVersion, version, err)
	}
	if parsed.LessThan(ios.IOS17()) {
		log.Errorf("iOS %s on %s: only iOS 17+ can use the downloaded image, aborting", version, goos)
		return Source{}, fmt.Errorf("%w: iOS %s on %s", ErrUnsupportedVersion, version, goos)
	}
	if l.Fetcher == nil {
		return Source{}, ErrImageNotFound
	}
	log.Info("experimental: using downloaded DeveloperDiskImage for iOS 17+")
	image, err := l.Fetcher.Fetch(ctx)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", ErrImageNotFound, err)
	}
	return Source{Image: &image}, nil
}

// FindOnDevice probes the candidate paths in order and returns the first one that exists,
// or an empty string if none does.
func (l *Locator) FindOnDevice(ctx context.Context) (string, error) {
	for _, candidate := range l.Candidates {
		code, err := l.Remote.Run(ctx, "test -f "+sshconn.Quote(candidate))
		if err != nil {
			return "", fmt.Errorf("debugserver: probing %s: %w", candidate, err)
		}
		if code == 0 {
			return candidate, nil
		}
		log.Debugf("debugserver not at %s", candidate)
	}
	return "", nil
}

// FindInXcode returns the DeveloperDiskImage for shortVersion from the first toolchain root that has one.
func (l *Locator) FindInXcode(shortVersion string) (DiskImage, error) {
	for _, root := range l.XcodeRoots {
		dmg := filepath.Join(root, deviceSupport, shortVersion, "DeveloperDiskImage.dmg")
		info, err := os.Stat(dmg)
		if err == nil && info.Mode().IsRegular() {
			log.WithFields(log.Fields{"image": dmg}).Info("using DeveloperDiskImage from Xcode")
			return DiskImage{Path: dmg, VersionTag: shortVersion}, nil
		}
	}
	return DiskImage{}, fmt.Errorf("%w: no DeveloperDiskImage for iOS %s in %v", ErrImageNotFound, shortVersion, l.XcodeRoots)
}

// ShortVersion truncates a version to major.minor, 16.4.1 becomes 16.4.
func ShortVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ".")
}
