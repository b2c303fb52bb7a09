// Lobby: CLI entry point.
//
// This tool hosts or joins a Minecraft multiplayer lobby over a mesh
// virtual network. A host shares a short lobby code; guests paste it to
// join without any port forwarding on either side.
//
// Every command prompts interactively for arguments that were not given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFile    string
	debug      bool
	binDir     string
	dataDir    string
	name       string
	relayTiers string
	relays     []string
	events     bool
	eventsAddr string
}

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var g globalFlags
	rootCmd := &cobra.Command{
		Use:           "lobby",
		Short:         "Host or join a Minecraft lobby over a mesh network",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.envFile, "env", ".env", "Optional .env file with LOBBY_* settings")
	pf.BoolVar(&g.debug, "debug", false, "Enable debug logging")
	pf.StringVar(&g.binDir, "bin-dir", "", "Directory holding easytier-core and easytier-cli")
	pf.StringVar(&g.dataDir, "data-dir", "", "Directory for persistent identity data")
	pf.StringVar(&g.name, "name", "", "Player name shown in the lobby")
	pf.StringVar(&g.relayTiers, "relay-tiers", "", "Relay tiers to use: self,community,custom,all")
	pf.StringSliceVar(&g.relays, "relay", nil, "Custom relay URL (repeatable)")
	pf.BoolVar(&g.events, "events", false, "Serve the event feed over HTTP")
	pf.StringVar(&g.eventsAddr, "events-addr", "", "Event feed listen address")

	rootCmd.AddCommand(
		hostCmd(&g),
		joinCmd(&g),
		codeCmd(),
		natCmd(&g),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// banner prints the tool name and version.
func banner() {
	pterm.Info.Println(fmt.Sprintf("Lobby v%s", version))
	pterm.Println()
}
