package debugserver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/iosdbg/iosdbg/ios/debugserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortVersion(t *testing.T) {
	testCases := map[string]string{
		"16.4.1":   "16.4",
		"17.0.3":   "17.0",
		"15.7":     "15.7",
		"16":       "16",
		"16.4.1.2": "16.4",
	}
	for version, expected := range testCases {
		assert.Equal(t, expected, debugserver.ShortVersion(version), version)
	}
}

func TestLocatePrefersFirstCandidate(t *testing.T) {
	remote := newFakeRemote(existing(debugserver.DefaultCandidates...))
	locator := &debugserver.Locator{Remote: remote, Candidates: debugserver.DefaultCandidates}

	src, err := locator.Locate(context.Background(), "16.4", "linux")
	require.NoError(t, err)
	assert.Equal(t, "/usr/libexec/debugserver", src.DevicePath)
	assert.True(t, src.OnDevice())
	assert.Equal(t, []string{"run:test -f '/usr/libexec/debugserver'"}, remote.Ops())
}

func TestLocateFallsBackToLaterCandidate(t *testing.T) {
	remote := newFakeRemote(existing("/Developer/usr/bin/debugserver"))
	locator := &debugserver.Locator{Remote: remote, Candidates: debugserver.DefaultCandidates}

	src, err := locator.Locate(context.Background(), "15.7", "darwin")
	require.NoError(t, err)
	assert.Equal(t, "/Developer/usr/bin/debugserver", src.DevicePath)
	assert.Len(t, remote.Ops(), 2)
}

func makeXcode(t *testing.T, root string, version string) string {
	dir := filepath.Join(root, "Contents/Developer/Platforms/iPhoneOS.platform/DeviceSupport", version)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	dmg := filepath.Join(dir, "DeveloperDiskImage.dmg")
	require.NoError(t, os.WriteFile(dmg, []byte("dmg"), 0o644))
	return dmg
}

func TestLocateInXcode(t *testing.T) {
	tmp := t.TempDir()
	release := filepath.Join(tmp, "Xcode.app")
	beta := filepath.Join(tmp, "Xcode-beta.app")
	makeXcode(t, release, "16.2")
	expected := makeXcode(t, beta, "16.4")
	makeXcode(t, filepath.Join(tmp, "Xcode-other.app"), "16.4")

	locator := &debugserver.Locator{
		Remote:     newFakeRemote(existing()),
		Candidates: debugserver.DefaultCandidates,
		XcodeRoots: []string{release, beta, filepath.Join(tmp, "Xcode-other.app")},
	}
	src, err := locator.Locate(context.Background(), "16.4.1", "darwin")
	require.NoError(t, err)
	require.NotNil(t, src.Image)
	assert.Equal(t, expected, src.Image.Path)
	assert.Equal(t, "16.4", src.Image.VersionTag)
	assert.False(t, src.OnDevice())
}

func TestLocateInXcodeMissing(t *testing.T) {
	locator := &debugserver.Locator{
		Remote:     newFakeRemote(existing()),
		Candidates: debugserver.DefaultCandidates,
		XcodeRoots: []string{filepath.Join(t.TempDir(), "Xcode.app")},
	}
	_, err := locator.Locate(context.Background(), "16.4.1", "darwin")
	assert.ErrorIs(t, err, debugserver.ErrImageNotFound)
}

func TestLocateUnsupportedOnLinux(t *testing.T) {
	fetcher := &fakeFetcher{}
	locator := &debugserver.Locator{Remote: newFakeRemote(existing()), Candidates: debugserver.DefaultCandidates, Fetcher: fetcher}

	_, err := locator.Locate(context.Background(), "16.7.2", "linux")
	assert.ErrorIs(t, err, debugserver.ErrUnsupportedVersion)
	assert.Equal(t, 0, fetcher.calls)

	_, err = locator.Locate(context.Background(), "not-a-version", "linux")
	assert.ErrorIs(t, err, debugserver.ErrUnsupportedVersion)
}

func TestLocateDownloadsForIOS17OnLinux(t *testing.T) {
	fetcher := &fakeFetcher{image: debugserver.DiskImage{Path: "/cache/DeveloperDiskImage-16.4.dmg", VersionTag: "16.4"}}
	locator := &debugserver.Locator{Remote: newFakeRemote(existing()), Candidates: debugserver.DefaultCandidates, Fetcher: fetcher}

	src, err := locator.Locate(context.Background(), "17.1", "linux")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, "/cache/DeveloperDiskImage-16.4.dmg", src.Image.Path)

	fetcher.err = errBoom
	_, err = locator.Locate(context.Background(), "17.1", "windows")
	assert.ErrorIs(t, err, debugserver.ErrImageNotFound)
}
