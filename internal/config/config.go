// Package config loads the daemon's JSON configuration, following the
// same fallback-then-main-file layering as the teacher's ecosystem
// sibling mendersoftware-mender (common/conf.LoadConfig): a fallback file
// is read first, then a main file overrides any option present in both,
// and it is fine for either file to be missing so long as the caller
// supplies sane defaults.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is cmd/ext2paged's full configuration surface.
type Config struct {
	// DevicePath is the backing block device or, with Memory set, the
	// bbolt file simulating one.
	DevicePath string `json:",omitempty"`
	// Memory selects device.BoltDevice instead of device.FileDevice.
	Memory bool `json:",omitempty"`
	// DeviceBlocks is the device capacity in device blocks. A
	// Memory-backed device takes it as its size (4096 when unset); a
	// file device uses it, when positive, in place of the file's size.
	DeviceBlocks int64 `json:",omitempty"`
	// DeviceBlockSize is the device's block size in bytes.
	DeviceBlockSize int `json:",omitempty"`
	// BlockSize is the filesystem block size in bytes; must be a
	// multiple of DeviceBlockSize.
	BlockSize int `json:",omitempty"`
	// PageSize is the VM page size in bytes; must be a multiple of
	// BlockSize.
	PageSize int `json:",omitempty"`
	// SelectiveWriteback enables the modified-global-blocks bitmap on
	// the disk pager (spec §4.3's selective mode) instead of writing
	// every disk page unconditionally.
	SelectiveWriteback bool `json:",omitempty"`
	// CacheDisableWaitMillis tunes the pager_users/max_user_pager_prot
	// cache-disable dance's quiescence wait (spec §9).
	CacheDisableWaitMillis int64 `json:",omitempty"`
	// LogLevel is parsed with logrus.ParseLevel; empty means "info".
	LogLevel string `json:",omitempty"`
}

// CacheDisableWait returns the configured wait as a time.Duration,
// defaulting to one second when unset.
func (c *Config) CacheDisableWait() time.Duration {
	if c.CacheDisableWaitMillis <= 0 {
		return time.Second
	}
	return time.Duration(c.CacheDisableWaitMillis) * time.Millisecond
}

// CheckDefaults fills in zero-valued fields with sane defaults, mirroring
// the ConfigWithDefaultsChecker contract LoadConfig requires of every
// config type it loads.
func (c *Config) CheckDefaults() {
	if c.DeviceBlockSize == 0 {
		c.DeviceBlockSize = 512
	}
	if c.BlockSize == 0 {
		c.BlockSize = 4096
	}
	if c.PageSize == 0 {
		c.PageSize = 16384
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// NewConfig returns a Config with defaults already applied.
func NewConfig() *Config {
	c := &Config{}
	c.CheckDefaults()
	return c
}

// LoadConfig parses fallbackConfigFile, then mainConfigFile, into c; a
// later file's values win for any option present in both. It is not an
// error for either file to be missing.
func LoadConfig(mainConfigFile, fallbackConfigFile string, c *Config) error {
	var filesLoaded int

	if err := loadConfigFile(fallbackConfigFile, c, &filesLoaded); err != nil {
		return err
	}
	if err := loadConfigFile(mainConfigFile, c, &filesLoaded); err != nil {
		return err
	}

	c.CheckDefaults()

	if filesLoaded == 0 {
		logrus.Info("no configuration files present, using defaults")
	} else {
		logrus.Debugf("loaded %d configuration file(s)", filesLoaded)
	}
	return nil
}

func loadConfigFile(path string, c *Config, filesLoaded *int) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logrus.Debug("configuration file does not exist: ", path)
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: reading %s", path)
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return errors.Wrapf(err, "config: parsing %s", path)
	}
	*filesLoaded++
	logrus.Info("loaded configuration file: ", path)
	return nil
}
