package debugserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

const (
	// FallbackImageURL is the pinned iOS 16.4 DeveloperDiskImage used for iOS 17+ devices on non-darwin hosts.
	FallbackImageURL = "https://github.com/pdso/DeveloperDiskImage/raw/master/16/16.4/DeveloperDiskImage.dmg"
	// FallbackImageSHA256 is the checksum of FallbackImageURL.
	FallbackImageSHA256 = "ab5c7402ba3a8865e2ea45caf53c0ca538c1274422c4bfd42be6ce3f5cb8f522"
	// FallbackImageVersion is the iOS version of FallbackImageURL.
	FallbackImageVersion = "16.4"
)

// Downloader fetches the pinned fallback image into a cache directory and reuses it afterwards.
type Downloader struct {
	URL            string
	SHA256         string
	VerifyChecksum bool
	CacheDir       string
	VersionTag     string
	client         *resty.Client
}

// NewDownloader creates a Downloader for url that caches into cacheDir.
func NewDownloader(url string, cacheDir string) *Downloader {
	client := resty.New().
		SetTimeout(10*time.Minute).
		SetHeader("User-Agent", "iosdbg")
	return &Downloader{
		URL:        url,
		SHA256:     FallbackImageSHA256,
		CacheDir:   cacheDir,
		VersionTag: FallbackImageVersion,
		client:     client,
	}
}

// Fetch returns the cached image or downloads it.
func (d *Downloader) Fetch(ctx context.Context) (DiskImage, error) {
	if err := os.MkdirAll(d.CacheDir, 0o755); err != nil {
		return DiskImage{}, err
	}
	imagePath := filepath.Join(d.CacheDir, fmt.Sprintf("DeveloperDiskImage-%s.dmg", d.VersionTag))
	image := DiskImage{Path: imagePath, VersionTag: d.VersionTag}

	if info, err := os.Stat(imagePath); err == nil && info.Size() > 0 {
		err := d.verify(imagePath)
		if err == nil {
			log.Infof("using already downloaded image: %s", imagePath)
			return image, nil
		}
		log.WithFields(log.Fields{"err": err}).Warn("discarding cached image")
		if err := os.Remove(imagePath); err != nil {
			return DiskImage{}, err
		}
	}

	log.Infof("downloading '%s' to path '%s'", d.URL, imagePath)
	if err := d.download(ctx, imagePath); err != nil {
		return DiskImage{}, err
	}
	return image, nil
}

func (d *Downloader) download(ctx context.Context, target string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(d.URL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", d.URL, err)
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != 200 {
		return fmt.Errorf("downloading %s: status %d", d.URL, resp.StatusCode())
	}

	tmp, err := os.CreateTemp(d.CacheDir, "download-*.dmg")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.RawBody())
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("downloading %s: %w", d.URL, err)
	}
	log.Debugf("downloaded %d bytes", n)
	if err := d.verify(tmp.Name()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

// verify only runs when VerifyChecksum is set, it is off by default.
// Fetch never promotes a download into the cache unless it verified.
func (d *Downloader) verify(path string) error {
	if !d.VerifyChecksum {
		log.Debug("checksum verification of the downloaded image is disabled")
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, d.SHA256) {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", path, actual, d.SHA256)
	}
	return nil
}
