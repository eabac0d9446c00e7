package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/cache"
	"pintoscore/internal/fsops"
	"pintoscore/internal/limits"
)

var mkfsSizeBytes int64
var mkfsSwapSizeBytes int64

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Format a new disk image and swap image",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.LogLevel)

		nsec := int(mkfsSizeBytes / blockdev.SectorSize)
		dev, err := blockdev.OpenFileDisk(cfg.DiskPath, nsec)
		if err != nil {
			return fmt.Errorf("creating disk image: %w", err)
		}

		swapSectors := int(mkfsSwapSizeBytes / blockdev.SectorSize)
		lim := limits.NewSystem(int64(cfg.Frames), int64(swapSectors/8), int64(cfg.CacheSize))

		fs, err := fsops.Mkfs(dev, log, lim, cache.WithWriteBehindInterval(cfg.WriteBehindInterval))
		if err != nil {
			return fmt.Errorf("formatting: %w", err)
		}
		if err := fs.Shutdown(); err != nil {
			return fmt.Errorf("flushing new volume: %w", err)
		}

		if _, err := blockdev.OpenFileDisk(cfg.SwapPath, swapSectors); err != nil {
			return fmt.Errorf("creating swap image: %w", err)
		}

		log.Info("formatted volume", "disk", cfg.DiskPath, "sectors", nsec, "swap", cfg.SwapPath, "swap_sectors", swapSectors)
		return nil
	},
}

func init() {
	mkfsCmd.Flags().Int64Var(&mkfsSizeBytes, "size-bytes", 8<<20, "size of the disk image to create, in bytes")
	mkfsCmd.Flags().Int64Var(&mkfsSwapSizeBytes, "swap-size-bytes", 4<<20, "size of the swap image to create, in bytes")
}
