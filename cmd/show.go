package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/config"
	"github.com/marcus/loom/internal/identity"
	"github.com/marcus/loom/internal/output"
	"github.com/marcus/loom/internal/presence"
	"github.com/marcus/loom/internal/session"
)

var showCmd = &cobra.Command{
	Use:   "show <document-id>",
	Short: "Print a document and exit",
	Long: `Opens a session, waits for the server merge to complete (or the
timeout, falling back to the cached snapshot), renders the document as
markdown and closes the session.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()
		cfg, err := config.Load(baseDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		id, err := identity.New(cfg.EffectiveRoomPrefix(), args[0])
		if err != nil {
			return fmt.Errorf("document identity: %w", err)
		}

		timeout, _ := cmd.Flags().GetDuration("timeout")
		withComments, _ := cmd.Flags().GetBool("comments")

		api := apiclient.New(cfg.EffectiveServerURL(), cfg.AuthToken)
		mgr := session.NewManager(session.Config{
			ServerURL: cfg.EffectiveServerURL(),
			CacheDir:  cfg.EffectiveCacheDir(baseDir),
			Local: presence.Entry{
				Name:  cfg.DisplayName,
				Color: cfg.EffectiveColor(),
			},
			API: api,
		})
		defer mgr.Close()

		s, err := mgr.Open(id)
		if err != nil {
			return err
		}
		s.WaitReady()

		deadline := time.Now().Add(timeout)
		for s.SyncState() != session.StateSynced && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if s.SyncState() != session.StateSynced {
			output.Warning("server merge did not complete in %s; showing cached content", timeout)
		}

		blocks, err := s.Doc().Blocks()
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}

		md := output.DocumentMarkdown(blocks)
		rendered, err := output.RenderMarkdown(md)
		if err != nil {
			// Fall back to the raw markdown if the renderer chokes.
			fmt.Print(md)
		} else {
			fmt.Print(rendered)
		}

		if withComments {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := s.RefreshComments(ctx); err != nil {
				return fmt.Errorf("fetch comments: %w", err)
			}
			overlay, _, err := s.Overlay()
			if err != nil {
				return fmt.Errorf("compute comment overlay: %w", err)
			}
			if len(overlay.Items) > 0 {
				fmt.Println(output.SectionHeader("Comments"))
				for _, item := range overlay.Items {
					if item.Thread == nil {
						continue
					}
					fmt.Println(output.FormatThread(item.Thread))
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for the server merge")
	showCmd.Flags().Bool("comments", false, "Also list comment threads")
}
