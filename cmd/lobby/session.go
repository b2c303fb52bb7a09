package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/PCL-Community/PCL.Core-sub001/internal/app"
	"github.com/PCL-Community/PCL.Core-sub001/internal/config"
	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// ---------------------------------------------------------------------------
// lobby host
// ---------------------------------------------------------------------------

func hostCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "host [game-port]",
		Short: "Share the game running on game-port as a lobby",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			banner()

			var port int
			if len(args) == 1 {
				p, err := parsePort(args[0])
				if err != nil {
					return err
				}
				port = p
			} else {
				port = askPort("Game port opened to LAN (1 ~ 65535)")
			}

			rt, err := newRuntime(cmd, g, func(cfg *config.Config) error {
				if !cmd.Flags().Changed("format") {
					return nil
				}
				f, err := lobbycode.ParseFormat(format)
				cfg.CodeFormat = f
				return err
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if err := rt.controller.Initialize(ctx); err != nil {
				return err
			}
			if err := rt.startEvents(ctx, g.events); err != nil {
				return err
			}

			code, err := rt.controller.CreateLobby(ctx, port, rt.playerName())
			if err != nil {
				return fmt.Errorf("failed to create lobby: %w", err)
			}

			pterm.DefaultBox.WithTitle("Lobby code").Println(code.Text)
			util.StartStatsReporter(ctx, 0)

			return waitSession(ctx, rt.controller)
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Lobby code format: scaffolding, pclce or terracotta")
	return cmd
}

// ---------------------------------------------------------------------------
// lobby join
// ---------------------------------------------------------------------------

func joinCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join [code]",
		Short: "Join the lobby behind a lobby code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			banner()

			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				text = askCode()
			}

			rt, err := newRuntime(cmd, g)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if err := rt.controller.Initialize(ctx); err != nil {
				return err
			}
			if err := rt.startEvents(ctx, g.events); err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start("Looking for the lobby host...")
			session, err := rt.controller.JoinLobby(ctx, text, rt.playerName())
			if err != nil {
				spinner.Fail(err.Error())
				return fmt.Errorf("failed to join lobby: %w", err)
			}
			spinner.Success("Joined the lobby")

			if session.LocalGamePort > 0 {
				pterm.DefaultBox.WithTitle("Connect your game to").Println("127.0.0.1:" + strconv.Itoa(session.LocalGamePort))
			}
			util.StartStatsReporter(ctx, 0)

			return waitSession(ctx, rt.controller)
		},
	}
}

// waitSession blocks until ctx is cancelled or the session ends by itself.
func waitSession(ctx context.Context, c *app.Controller) error {
	ended := make(chan app.State, 1)
	c.Subscribe(app.EventSinkFunc(func(e app.Event) {
		if e.Kind != app.EventStateChanged || e.State == nil {
			return
		}
		if *e.State == app.StateInitialized || *e.State == app.StateError {
			select {
			case ended <- *e.State:
			default:
			}
		}
	}))

	// The session may have ended before we subscribed.
	if s := c.State(); s != app.StateConnected {
		return fmt.Errorf("lobby session ended (%s)", s)
	}

	select {
	case <-ctx.Done():
		util.LogInfo("leaving lobby")
		return nil
	case s := <-ended:
		if s == app.StateError {
			return fmt.Errorf("lobby session failed")
		}
		util.LogInfo("lobby session ended")
		return nil
	}
}
