package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pintoscore/internal/blockdev"
	"pintoscore/internal/fsops"
)

var statCmd = &cobra.Command{
	Use:   "stat <name>",
	Short: "Print stat information for a file in the volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg.LogLevel)

		dev, err := blockdev.OpenExistingFileDisk(cfg.DiskPath)
		if err != nil {
			return fmt.Errorf("opening disk image (run mkfs first): %w", err)
		}
		fs, err := fsops.Boot(dev, log, nil)
		if err != nil {
			return fmt.Errorf("booting volume: %w", err)
		}
		defer fs.Shutdown()

		info, err := fs.Stat(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ino=%d mode=%o size=%d blocks=%d dir=%t\n", info.Ino, info.Mode, info.Size, info.Blocks, info.IsDir)
		return nil
	},
}
