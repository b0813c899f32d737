// Package config loads iosdbg settings from an optional YAML file and IOSDBG_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iosdbg/iosdbg/ios/debugserver"
	"github.com/iosdbg/iosdbg/ios/sshconn"
	"gopkg.in/yaml.v3"
)

type SSH struct {
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	KeyFile        string `yaml:"key_file"`
	Port           uint16 `yaml:"port"`
	KnownHostsFile string `yaml:"known_hosts_file"`
	// Host connects over the network instead of usbmuxd when set.
	Host string `yaml:"host"`
}

type Debugserver struct {
	RemotePath       string   `yaml:"remote_path"`
	EntitlementsPath string   `yaml:"entitlements_path"`
	Candidates       []string `yaml:"candidates"`
	XcodeRoots       []string `yaml:"xcode_roots"`
	ImageURL         string   `yaml:"image_url"`
	ImageSHA256      string   `yaml:"image_sha256"`
	VerifyChecksum   bool     `yaml:"verify_checksum"`
	CacheDir         string   `yaml:"cache_dir"`
	Address          string   `yaml:"address"`
	Port             int      `yaml:"port"`
}

type Config struct {
	SSH         SSH         `yaml:"ssh"`
	Debugserver Debugserver `yaml:"debugserver"`
}

// DefaultPath is ~/.iosdbg.yaml, or empty if there is no home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".iosdbg.yaml")
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "iosdbg")
}

// Load reads yamlPath on top of the defaults. An empty path skips the file.
func Load(yamlPath string) (*Config, error) {
	return load(yamlPath, false)
}

// LoadDefault is Load for DefaultPath, which does not have to exist.
func LoadDefault() (*Config, error) {
	return load(DefaultPath(), true)
}

func load(yamlPath string, optional bool) (*Config, error) {
	cfg := &Config{
		SSH: SSH{
			User:     "root",
			Password: "alpine",
			Port:     22,
		},
		Debugserver: Debugserver{
			RemotePath:       debugserver.DefaultRemotePath,
			EntitlementsPath: debugserver.DefaultEntitlementsPath,
			Candidates:       append([]string(nil), debugserver.DefaultCandidates...),
			XcodeRoots:       append([]string(nil), debugserver.DefaultXcodeRoots...),
			ImageURL:         debugserver.FallbackImageURL,
			ImageSHA256:      debugserver.FallbackImageSHA256,
			VerifyChecksum:   false,
			CacheDir:         defaultCacheDir(),
			Address:          debugserver.DefaultAddress,
			Port:             1234,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%s: %w", yamlPath, err)
			}
		} else if !optional || !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SSH.Port == 0 {
		return fmt.Errorf("ssh.port must be between 1 and 65535")
	}
	if c.Debugserver.Port <= 0 || c.Debugserver.Port > 65535 {
		return fmt.Errorf("debugserver.port %d must be between 1 and 65535", c.Debugserver.Port)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("IOSDBG_SSH_USER"); v != "" {
		cfg.SSH.User = v
	}
	if v := os.Getenv("IOSDBG_SSH_PASSWORD"); v != "" {
		cfg.SSH.Password = v
	}
	if v := os.Getenv("IOSDBG_SSH_KEY_FILE"); v != "" {
		cfg.SSH.KeyFile = v
	}
	if v := os.Getenv("IOSDBG_SSH_PORT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("IOSDBG_SSH_PORT: %q is not a port", v)
		}
		cfg.SSH.Port = uint16(n)
	}
	if v := os.Getenv("IOSDBG_SSH_KNOWN_HOSTS_FILE"); v != "" {
		cfg.SSH.KnownHostsFile = v
	}
	if v := os.Getenv("IOSDBG_SSH_HOST"); v != "" {
		cfg.SSH.Host = v
	}
	if v := os.Getenv("IOSDBG_REMOTE_PATH"); v != "" {
		cfg.Debugserver.RemotePath = v
	}
	if v := os.Getenv("IOSDBG_CANDIDATES"); v != "" {
		cfg.Debugserver.Candidates = strings.Split(v, ",")
	}
	if v := os.Getenv("IOSDBG_IMAGE_URL"); v != "" {
		cfg.Debugserver.ImageURL = v
	}
	if v := os.Getenv("IOSDBG_VERIFY_CHECKSUM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("IOSDBG_VERIFY_CHECKSUM: %w", err)
		}
		cfg.Debugserver.VerifyChecksum = b
	}
	if v := os.Getenv("IOSDBG_CACHE_DIR"); v != "" {
		cfg.Debugserver.CacheDir = v
	}
	if v := os.Getenv("IOSDBG_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IOSDBG_PORT: %q is not a port", v)
		}
		cfg.Debugserver.Port = n
	}
	return nil
}

func (c *Config) SSHConfig() sshconn.Config {
	return sshconn.Config{
		User:           c.SSH.User,
		Password:       c.SSH.Password,
		KeyFile:        c.SSH.KeyFile,
		Port:           c.SSH.Port,
		KnownHostsFile: c.SSH.KnownHostsFile,
	}
}

func (c *Config) DebugserverOptions() debugserver.Options {
	return debugserver.Options{
		RemotePath:       c.Debugserver.RemotePath,
		EntitlementsPath: c.Debugserver.EntitlementsPath,
		Candidates:       c.Debugserver.Candidates,
		XcodeRoots:       c.Debugserver.XcodeRoots,
		ImageURL:         c.Debugserver.ImageURL,
		ImageSHA256:      c.Debugserver.ImageSHA256,
		VerifyChecksum:   c.Debugserver.VerifyChecksum,
		CacheDir:         c.Debugserver.CacheDir,
	}
}
