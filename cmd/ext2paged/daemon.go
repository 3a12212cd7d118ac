package main

import (
	"time"

	"ext2pager/internal/blockmap"
	"ext2pager/internal/config"
	"ext2pager/internal/device"
	"ext2pager/internal/diskpager"
	"ext2pager/internal/filepager"
	"ext2pager/internal/registry"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// openDevice opens cfg's configured device transport: a bbolt-backed
// simulated device when cfg.Memory is set, or a real block device/file
// otherwise (spec §4.6, C6).
func openDevice(cfg *config.Config) (device.Device, error) {
	if cfg.Memory {
		blocks := cfg.DeviceBlocks
		if blocks <= 0 {
			blocks = 4096
		}
		dev, err := device.OpenBoltDevice(cfg.DevicePath, cfg.DeviceBlockSize, blocks)
		if err != nil {
			return nil, errors.Wrap(err, "ext2paged: opening memory device")
		}
		return dev, nil
	}

	dev, err := device.OpenFileDevice(cfg.DevicePath, cfg.DeviceBlockSize, cfg.DeviceBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "ext2paged: opening device")
	}
	return dev, nil
}

// buildRegistry wires one filesystem instance together from cfg: the
// device, the free-block allocator, the block map, both pager engines,
// and the registry that owns their lifecycle (spec §4.5, C5).
//
// Block 0 is reserved for the superblock, matching ext2's own layout;
// everything from block 1 onward is available to blockmap's allocator.
// Real free-block bitmap/group-descriptor parsing is out of scope (spec
// §1), so the allocator here treats the whole remaining device as one
// free pool rather than reading it off disk.
func buildRegistry(cfg *config.Config, log *logrus.Entry) (*registry.Registry, device.Device, error) {
	dev, err := openDevice(cfg)
	if err != nil {
		return nil, nil, err
	}

	devBlocksPerFSBlock := int64(cfg.BlockSize / dev.BlockSize())
	totalFSBlocks := dev.Size() / devBlocksPerFSBlock
	if totalFSBlocks < 2 {
		dev.Close()
		return nil, nil, errors.New("ext2paged: device too small to hold a superblock and any data")
	}

	alloc := blockmap.NewBitmapAllocator(1, totalFSBlocks-1)
	blocks := blockmap.New(dev, cfg.BlockSize, alloc)
	files := filepager.New(dev, blocks, cfg.BlockSize, cfg.PageSize, log)

	reg := registry.New(dev, files, blocks, cfg.CacheDisableWait(), log)

	var bitmap *diskpager.ModifiedBitmap
	if cfg.SelectiveWriteback {
		bitmap = diskpager.NewModifiedBitmap(totalFSBlocks)
	}
	reg.CreateDiskPager(cfg.BlockSize, cfg.PageSize, bitmap)

	return reg, dev, nil
}

func loadConfig(mainConfigFile, fallbackConfigFile, logLevel string) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := config.LoadConfig(mainConfigFile, fallbackConfigFile, cfg); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	applyLogLevel(cfg.LogLevel)
	return cfg, nil
}

const statsLogInterval = 30 * time.Second
