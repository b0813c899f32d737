package debugserver

import (
	"context"
	"fmt"
	"os"

	"github.com/iosdbg/iosdbg/ios/sshconn"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultRemotePath is where debugserver is installed. Every deployment overwrites it.
	DefaultRemotePath = "/var/root/debugserver"
	// DefaultEntitlementsPath is the scratch location of the entitlement manifest.
	DefaultEntitlementsPath = "/tmp/ent.xml"
)

// DefaultCandidates are the on-device debugserver locations, newest iOS first.
var DefaultCandidates = []string{
	"/usr/libexec/debugserver",       // iOS 16+
	"/Developer/usr/bin/debugserver", // pre iOS 16, with mounted DDI
}

// DefaultXcodeRoots are the toolchains searched for DeveloperDiskImages.
var DefaultXcodeRoots = []string{
	"/Applications/Xcode.app",
	"/Applications/Xcode-beta.app",
}

const (
	stepEntitlements = iota + 1
	stepCopy
	stepUpload
	stepChmod
	stepSign
)

var stepNames = map[int]string{
	stepEntitlements: "write-entitlements",
	stepCopy:         "copy",
	stepUpload:       "upload",
	stepChmod:        "chmod",
	stepSign:         "sign",
}

// RemoteBinary is debugserver installed on the device.
type RemoteBinary struct {
	RemotePath string
	Signed     bool
}

// Provisioner installs and signs debugserver on the device. Concurrent provisioning of
// the same device is not safe, all deployments share RemotePath.
type Provisioner struct {
	Remote           Remote
	Mounter          Mounter
	RemotePath       string
	EntitlementsPath string
}

// Provision copies debugserver from src to RemotePath, makes it executable and signs it.
// The binary counts as signed only if ldid succeeded.
func (p *Provisioner) Provision(ctx context.Context, src Source) (RemoteBinary, error) {
	binary := RemoteBinary{RemotePath: p.RemotePath}

	err := p.step(stepEntitlements, p.Remote.WriteFile(ctx, Entitlements(), p.EntitlementsPath, 0o644))
	if err != nil {
		return binary, err
	}

	switch {
	case src.OnDevice():
		cmd := fmt.Sprintf("cp %s %s", sshconn.Quote(src.DevicePath), sshconn.Quote(p.RemotePath))
		if err := p.run(ctx, stepCopy, cmd); err != nil {
			return binary, err
		}
	case src.Image != nil:
		err := WithMount(ctx, p.Mounter, *src.Image, func(session *MountSession) error {
			return p.upload(ctx, session)
		})
		if err != nil {
			return binary, err
		}
	default:
		return binary, ErrImageNotFound
	}

	if err := p.run(ctx, stepChmod, "chmod 0777 "+sshconn.Quote(p.RemotePath)); err != nil {
		return binary, err
	}
	cmd := fmt.Sprintf("ldid -S%s %s", sshconn.Quote(p.EntitlementsPath), sshconn.Quote(p.RemotePath))
	if err := p.run(ctx, stepSign, cmd); err != nil {
		return binary, err
	}
	binary.Signed = true
	log.WithFields(log.Fields{"source": src.String(), "path": p.RemotePath}).Info("signed debugserver")
	return binary, nil
}

func (p *Provisioner) upload(ctx context.Context, session *MountSession) error {
	local, err := FindBinary(session.Mountpoint)
	if err != nil {
		return p.step(stepUpload, err)
	}
	content, err := os.ReadFile(local)
	if err != nil {
		return p.step(stepUpload, err)
	}
	log.WithFields(log.Fields{"from": local, "to": p.RemotePath, "size": len(content)}).Info("uploading debugserver")
	return p.step(stepUpload, p.Remote.WriteFile(ctx, content, p.RemotePath, 0o755))
}

func (p *Provisioner) run(ctx context.Context, step int, cmdline string) error {
	code, err := p.Remote.Run(ctx, cmdline)
	if err != nil {
		return p.step(step, err)
	}
	if code != 0 {
		return &ProvisionStepError{Step: step, Name: stepNames[step], ExitCode: code}
	}
	return nil
}

func (p *Provisioner) step(step int, err error) error {
	if err == nil {
		return nil
	}
	return &ProvisionStepError{Step: step, Name: stepNames[step], ExitCode: -1, Err: err}
}

// Options configure a Deployer.
type Options struct {
	RemotePath       string
	EntitlementsPath string
	Candidates       []string
	XcodeRoots       []string
	ImageURL         string
	ImageSHA256      string
	VerifyChecksum   bool
	CacheDir         string
}

// DefaultOptions returns the standard device layout and search paths.
func DefaultOptions() Options {
	return Options{
		RemotePath:       DefaultRemotePath,
		EntitlementsPath: DefaultEntitlementsPath,
		Candidates:       DefaultCandidates,
		XcodeRoots:       DefaultXcodeRoots,
		ImageURL:         FallbackImageURL,
		ImageSHA256:      FallbackImageSHA256,
		CacheDir:         os.TempDir(),
	}
}

// Deployer locates and provisions debugserver.
type Deployer struct {
	Locator     *Locator
	Provisioner *Provisioner
}

// NewDeployer wires a Locator and Provisioner for a device and host OS.
func NewDeployer(remote Remote, goos string, opts Options) *Deployer {
	downloader := NewDownloader(opts.ImageURL, opts.CacheDir)
	downloader.SHA256 = opts.ImageSHA256
	downloader.VerifyChecksum = opts.VerifyChecksum
	return &Deployer{
		Locator: &Locator{
			Remote:     remote,
			Candidates: opts.Candidates,
			XcodeRoots: opts.XcodeRoots,
			Fetcher:    downloader,
		},
		Provisioner: &Provisioner{
			Remote:           remote,
			Mounter:          MounterFor(goos),
			RemotePath:       opts.RemotePath,
			EntitlementsPath: opts.EntitlementsPath,
		},
	}
}

// Deploy installs a signed debugserver matching version and returns its remote path.
func (d *Deployer) Deploy(ctx context.Context, version string, goos string) (RemoteBinary, error) {
	src, err := d.Locator.Locate(ctx, version, goos)
	if err != nil {
		return RemoteBinary{}, err
	}
	return d.Provisioner.Provision(ctx, src)
}
