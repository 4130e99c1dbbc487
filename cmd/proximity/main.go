// Command proximity is the CLI entry point.
//
// A participant joins a room through a WebSocket relay, walks around a 2D
// world and holds a WebRTC audio/video connection with every other
// participant within the proximity radius. The same binary runs the relay.
//
// Run "proximity serve" for the relay, "proximity join" for a participant,
// or no subcommand to pick interactively.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/proximity/internal/app"
	"github.com/1ureka/proximity/internal/config"
	"github.com/1ureka/proximity/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "proximity",
		Short:         "Proximity-based WebRTC audio/video rooms",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				util.EnableDebug()
			}
			pterm.Info.Printfln("Proximity v%s", version)
			pterm.Println()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, pickRole())
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the room relay",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return run(cmd, config.RoleRelay) },
		},
		&cobra.Command{
			Use:   "join",
			Short: "Join a room as a participant",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return run(cmd, config.RoleParticipant) },
		},
	)
	return root
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

func run(cmd *cobra.Command, role config.Role) error {
	cfg, err := config.Load(role, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	switch role {
	case config.RoleRelay:
		err = app.RunRelay(cmd.Context(), cfg)
	default:
		err = app.RunParticipant(cmd.Context(), cfg)
	}
	if err != nil {
		return err
	}

	util.LogInfo("successfully closed")
	return nil
}

// pickRole asks for a role when no subcommand was given.
func pickRole() config.Role {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Join  - Enter a room as a participant", "Serve - Run the room relay"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Serve") {
		return config.RoleRelay
	}
	return config.RoleParticipant
}
