package main

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sugar-network/node/pkg/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <mountpoint>",
	Short: "Run one offline sync round against a mountpoint",
	Long: `Import every packet found on the mountpoint, then leave a fresh
packet with local changes and pull requests for the master. Interrupted
rounds resume from the persistent sync state on the next run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flag, _ := cmd.Flags().GetString("data-dir"); flag != "" {
			cfg.DataDir = flag
		}
		if cfg.Master == "" {
			return fmt.Errorf("sync requires a configured master GUID")
		}
		guid, err := nodeGUID(cfg)
		if err != nil {
			return err
		}

		volume, err := openVolume(cfg)
		if err != nil {
			return err
		}
		defer volume.Close()

		satellite, err := sync.NewSatellite(volume, sync.SatelliteConfig{
			GUID:        guid,
			Master:      cfg.Master,
			PacketLimit: cfg.PacketLimit,
			Trees:       cfg.Trees,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Syncing %s with master %s...\n", args[0], cfg.Master)
		if err := satellite.Sync(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Sync round finished")
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the search index from the on-disk records",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flag, _ := cmd.Flags().GetString("data-dir"); flag != "" {
			cfg.DataDir = flag
		}
		volume, err := openVolume(cfg)
		if err != nil {
			return err
		}
		defer volume.Close()

		fmt.Println("Repopulating index from records...")
		started := time.Now()
		if err := volume.Populate(context.Background()); err != nil {
			return err
		}
		fmt.Printf("✓ Index rebuilt in %s\n", time.Since(started).Round(time.Millisecond))
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show volume statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flag, _ := cmd.Flags().GetString("data-dir"); flag != "" {
			cfg.DataDir = flag
		}
		volume, err := openVolume(cfg)
		if err != nil {
			return err
		}
		defer volume.Close()

		fmt.Printf("Volume:  %s\n", volume.Root())
		fmt.Printf("Seqno:   %s\n", humanize.Comma(volume.Seqno().Value()))
		fmt.Printf("On disk: %s\n", humanize.Bytes(dirSize(cfg.DataDir)))
		fmt.Println("Documents:")
		for _, dir := range volume.Directories() {
			committed := "never committed"
			if mtime := dir.Mtime(); mtime > 0 {
				committed = "committed " + humanize.Time(time.Unix(mtime, 0))
			}
			fmt.Printf("  %-16s %s\n", dir.Name(), committed)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{syncCmd, rebuildCmd, infoCmd} {
		cmd.Flags().String("data-dir", "", "volume root directory")
	}
}

func dirSize(root string) uint64 {
	var total uint64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}
