package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/loom/internal/apiclient"
	"github.com/marcus/loom/internal/config"
	"github.com/marcus/loom/internal/identity"
	"github.com/marcus/loom/internal/output"
	"github.com/marcus/loom/internal/presence"
	"github.com/marcus/loom/internal/session"
	"github.com/marcus/loom/internal/transport"
	"github.com/marcus/loom/pkg/monitor"
)

var openCmd = &cobra.Command{
	Use:   "open [document-id]",
	Short: "Open a document and watch it live",
	Long: `Opens a collaborative document session and runs the live dashboard.

With no argument, reopens the last document. The session loads the local
cache first, then connects to the collaboration server and keeps merging
remote changes until you quit.`,
	GroupID: "core",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()
		cfg, err := config.Load(baseDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.DisplayName == "" {
			output.Error("not initialized; run `loom init` first")
			return fmt.Errorf("missing display name")
		}

		docID := ""
		if len(args) == 1 {
			docID = args[0]
		} else {
			docID = cfg.LastDocumentID
			if docID == "" {
				return fmt.Errorf("no document ID given and none recently opened")
			}
		}

		id, err := identity.New(cfg.EffectiveRoomPrefix(), docID)
		if err != nil {
			return fmt.Errorf("document identity: %w", err)
		}

		interval, _ := cmd.Flags().GetDuration("interval")

		// Session callbacks fire on transport goroutines before and after the
		// program is running; Program.Send is the only safe bridge into the
		// model, so the closures capture the pointer and tolerate nil.
		var program *tea.Program
		reopenHint := ""

		mgr := session.NewManager(session.Config{
			ServerURL: cfg.EffectiveServerURL(),
			CacheDir:  cfg.EffectiveCacheDir(baseDir),
			Local: presence.Entry{
				Name:  cfg.DisplayName,
				Color: cfg.EffectiveColor(),
			},
			API: apiclient.New(cfg.EffectiveServerURL(), cfg.AuthToken),
			OnNotice: func(msg string) {
				if program != nil {
					program.Send(monitor.NoticeMsg(msg))
				}
			},
			OnNavigateAway: func() {
				if program != nil {
					program.Send(monitor.NoticeMsg("access to this document was revoked"))
					program.Quit()
				}
			},
			OnConverted: func(info transport.ConvertedInfo) {
				reopenHint = info.NewDocID
				if program != nil {
					program.Send(monitor.NoticeMsg(
						fmt.Sprintf("document converted to %s (%s)", info.NewDocType, info.NewDocID)))
					program.Quit()
				}
			},
		})
		defer mgr.Close()

		s, err := mgr.Open(id)
		if err != nil {
			return err
		}

		if err := config.SetLastDocument(baseDir, docID); err != nil {
			output.Warning("could not record last document: %v", err)
		}

		m := monitor.NewModel(s, interval, effectiveVersion())
		program = tea.NewProgram(m, tea.WithAltScreen())

		if _, err := program.Run(); err != nil {
			return fmt.Errorf("run monitor: %w", err)
		}

		if reopenHint != "" {
			if err := config.SetLastDocument(baseDir, reopenHint); err == nil {
				fmt.Printf("Document was converted. Reopen with: loom open %s\n", reopenHint)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openCmd)
	openCmd.Flags().Duration("interval", 500*time.Millisecond, "Dashboard refresh interval")
}
