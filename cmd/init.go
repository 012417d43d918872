package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/loom/internal/config"
	"github.com/marcus/loom/internal/output"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local loom configuration",
	Long:    `Creates the local .loom directory with your identity and server settings.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		cfg, err := config.Load(baseDir)
		if err != nil {
			output.Error("failed to read config: %v", err)
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		server, _ := cmd.Flags().GetString("server")
		color, _ := cmd.Flags().GetString("color")
		prefix, _ := cmd.Flags().GetString("room-prefix")

		if name == "" {
			// Interactive setup.
			name = cfg.DisplayName
			server = cfg.EffectiveServerURL()
			color = cfg.EffectiveColor()
			prefix = cfg.EffectiveRoomPrefix()

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Display name").
						Description("Shown to other participants.").
						Value(&name).
						Validate(func(s string) error {
							if strings.TrimSpace(s) == "" {
								return fmt.Errorf("display name is required")
							}
							return nil
						}),
					huh.NewInput().
						Title("Presence color").
						Description("Hex color for your cursor and swatch.").
						Value(&color),
					huh.NewInput().
						Title("Server URL").
						Value(&server),
					huh.NewInput().
						Title("Room prefix").
						Description("Namespace your documents live under.").
						Value(&prefix),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
		}

		cfg.DisplayName = strings.TrimSpace(name)
		if cfg.DisplayName == "" {
			return fmt.Errorf("display name is required")
		}
		if server != "" {
			cfg.ServerURL = server
		}
		if color != "" {
			cfg.Color = color
		}
		if prefix != "" {
			cfg.RoomPrefix = prefix
		}

		if err := config.Save(baseDir, cfg); err != nil {
			output.Error("failed to save config: %v", err)
			return err
		}

		output.Success("Initialized .loom/ for %s", cfg.DisplayName)
		fmt.Printf("Server: %s\nRoom prefix: %s\n", cfg.EffectiveServerURL(), cfg.EffectiveRoomPrefix())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("name", "", "Display name (skips the interactive form)")
	initCmd.Flags().String("server", "", "Collaboration server base URL")
	initCmd.Flags().String("color", "", "Presence color (hex)")
	initCmd.Flags().String("room-prefix", "", "Room namespace prefix")
}
