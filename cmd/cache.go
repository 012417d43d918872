package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/loom/internal/config"
	"github.com/marcus/loom/internal/identity"
	"github.com/marcus/loom/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:     "cache",
	Short:   "Inspect and clear local document snapshots",
	GroupID: "system",
}

var cacheLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List cached document snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()
		cfg, err := config.Load(baseDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir := cfg.EffectiveCacheDir(baseDir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				output.Info("no cache directory yet")
				return nil
			}
			return fmt.Errorf("read cache dir: %w", err)
		}

		found := 0
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".db") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			fmt.Printf("%-50s %8d bytes  %s\n",
				strings.TrimSuffix(name, ".db"),
				info.Size(),
				info.ModTime().Format("2006-01-02 15:04"))
			found++
		}
		if found == 0 {
			output.Info("no cached documents")
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [document-id]",
	Short: "Delete cached snapshots",
	Long: `Deletes the snapshot for one document, or every snapshot with --all.
The next open starts from the server copy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()
		cfg, err := config.Load(baseDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		dir := cfg.EffectiveCacheDir(baseDir)
		all, _ := cmd.Flags().GetBool("all")

		if all {
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return fmt.Errorf("read cache dir: %w", err)
			}
			removed := 0
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
					continue
				}
				if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
					return fmt.Errorf("remove %s: %w", e.Name(), err)
				}
				removed++
			}
			output.Success("removed %d cached snapshot(s)", removed)
			return nil
		}

		if len(args) != 1 {
			return fmt.Errorf("give a document ID or --all")
		}
		id, err := identity.New(cfg.EffectiveRoomPrefix(), args[0])
		if err != nil {
			return fmt.Errorf("document identity: %w", err)
		}
		path := filepath.Join(dir, id.CacheKey()+".db")
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				output.Info("no snapshot cached for %s", args[0])
				return nil
			}
			return fmt.Errorf("remove snapshot: %w", err)
		}
		output.Success("removed snapshot for %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheLsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().Bool("all", false, "Remove every cached snapshot")
}
