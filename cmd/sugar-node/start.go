package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/httpd"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/metrics"
	"github.com/sugar-network/node/pkg/node"
	"github.com/sugar-network/node/pkg/resources"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/sync"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node API server",
	Long: `Start the node: open the volume, expose the document API and,
when this node is the master, the push/pull sync endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flag, _ := cmd.Flags().GetString("data-dir"); flag != "" {
			cfg.DataDir = flag
		}
		if flag, _ := cmd.Flags().GetString("api-addr"); flag != "" {
			cfg.APIAddr = flag
		}
		if flag, _ := cmd.Flags().GetString("master"); flag != "" {
			cfg.Master = flag
		}

		guid, err := nodeGUID(cfg)
		if err != nil {
			return err
		}
		if cfg.Master == "" {
			cfg.Master = guid
		}

		volume, err := openVolume(cfg)
		if err != nil {
			return err
		}
		defer volume.Close()
		metrics.RegisterComponent("volume", true, "")
		metrics.RegisterComponent("index", true, "")

		registry := commands.NewRegistry()
		node.New(volume, registry, node.Config{GUID: guid, Master: cfg.Master})

		var master *sync.Master
		if cfg.Master == guid {
			seeders, err := openSeeders(cfg)
			if err != nil {
				return err
			}
			master, err = sync.NewMaster(volume, sync.MasterConfig{
				GUID:        guid,
				CacheDir:    filepath.Join(cfg.DataDir, "tmp"),
				PacketLimit: cfg.PacketLimit,
			}, seeders...)
			if err != nil {
				return err
			}
			fmt.Println("✓ Master sync endpoints enabled")
		}

		server := httpd.New(volume, registry, master, httpd.Config{})
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(cfg.APIAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()

		fmt.Printf("Node %s is serving on %s. Press Ctrl+C to stop.\n", guid, cfg.APIAddr)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-sigCh:
		}

		fmt.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	},
}

func init() {
	startCmd.Flags().String("data-dir", "", "volume root directory")
	startCmd.Flags().String("api-addr", "", "HTTP listen address")
	startCmd.Flags().String("master", "", "GUID of the master this node syncs with")
}

func openVolume(cfg *Config) (*document.Volume, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	return document.OpenVolume(cfg.DataDir, resources.Classes(), index.QueueConfig{
		FlushThreshold: cfg.Index.FlushThreshold,
		FlushTimeout:   cfg.Index.FlushTimeout,
	})
}

func openSeeders(cfg *Config) ([]*sync.Seeder, error) {
	var seeders []*sync.Seeder
	for name, root := range cfg.Trees {
		statePath := filepath.Join(cfg.DataDir, "files", name+".index")
		if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
			return nil, err
		}
		seeder, err := sync.NewSeeder(name, root, statePath)
		if err != nil {
			return nil, err
		}
		seeders = append(seeders, seeder)
	}
	return seeders, nil
}

// nodeGUID returns the configured node identity, minting and
// persisting one under the data dir on first start.
func nodeGUID(cfg *Config) (string, error) {
	if cfg.GUID != "" {
		return cfg.GUID, nil
	}
	path := filepath.Join(cfg.DataDir, "node")
	if data, err := os.ReadFile(path); err == nil {
		guid := strings.TrimSpace(string(data))
		if guid != "" {
			return guid, nil
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return "", err
	}
	guid := schema.NewGUID()
	if err := os.WriteFile(path, []byte(guid+"\n"), 0o644); err != nil {
		return "", err
	}
	return guid, nil
}
