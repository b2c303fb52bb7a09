package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/PCL-Community/PCL.Core-sub001/internal/app"
	"github.com/PCL-Community/PCL.Core-sub001/internal/config"
	"github.com/PCL-Community/PCL.Core-sub001/internal/events"
	"github.com/PCL-Community/PCL.Core-sub001/internal/identity"
	"github.com/PCL-Community/PCL.Core-sub001/internal/mesh"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// runtime is everything a lobby command needs.
type runtime struct {
	cfg        config.Config
	store      *identity.Store
	machineID  string
	mesh       *mesh.EasyTier
	controller *app.Controller
}

// loadConfig reads the configuration and applies the global flags on top.
func loadConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("bin-dir") {
		cfg.BinDir = g.binDir
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = g.dataDir
	}
	if flags.Changed("name") {
		cfg.PlayerName = g.name
	}
	if flags.Changed("relay-tiers") {
		tiers, err := mesh.ParseRelayTiers(g.relayTiers)
		if err != nil {
			return config.Config{}, err
		}
		cfg.RelayTiers = tiers
	}
	if flags.Changed("relay") {
		cfg.CustomRelays = append(cfg.CustomRelays, g.relays...)
	}
	if flags.Changed("events-addr") {
		cfg.EventsAddr = g.eventsAddr
	}

	util.SetLogLevel(cfg.LogLevel)
	if g.debug {
		util.EnableDebug()
	}
	return cfg, nil
}

// newRuntime builds the controller and its collaborators.
// adjust hooks run on the loaded configuration before anything is built.
func newRuntime(cmd *cobra.Command, g *globalFlags, adjust ...func(*config.Config) error) (*runtime, error) {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	for _, fn := range adjust {
		if err := fn(&cfg); err != nil {
			return nil, err
		}
	}

	store, err := identity.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	machineID, err := store.MachineID()
	if err != nil {
		store.Close()
		return nil, err
	}

	orch := mesh.NewEasyTier(cfg.BinDir)
	ctrl := app.NewController(app.Options{
		Mesh:              orch,
		MachineID:         machineID,
		Vendor:            cfg.Vendor,
		CodeFormat:        cfg.CodeFormat,
		MeshTemplate:      cfg.MeshTemplate(),
		Heartbeat:         cfg.Heartbeat,
		PlayerExpiry:      cfg.PlayerExpiry,
		DiscoveryAttempts: cfg.DiscoveryAttempts,
		DiscoveryInterval: cfg.DiscoveryInterval,
		DiscoveryTimeout:  cfg.DiscoveryTimeout,
	})
	ctrl.Subscribe(app.EventSinkFunc(printEvent))

	return &runtime{
		cfg:        cfg,
		store:      store,
		machineID:  machineID,
		mesh:       orch,
		controller: ctrl,
	}, nil
}

func (r *runtime) Close() {
	if err := r.controller.LeaveLobby(); err != nil {
		util.LogWarning("%v", err)
	}
	r.store.Close()
}

// playerName resolves the name from config, the saved name or a prompt,
// and remembers it.
func (r *runtime) playerName() string {
	name := r.cfg.PlayerName
	if name == "" {
		name, _ = r.store.PlayerName()
	}
	if name == "" {
		name = askText("Player name")
	}
	if err := r.store.SetPlayerName(name); err != nil {
		util.LogWarning("failed to save player name: %v", err)
	}
	return name
}

// startEvents serves the event feed when enabled.
func (r *runtime) startEvents(ctx context.Context, enabled bool) error {
	if !enabled {
		return nil
	}
	hub := events.NewHub()
	r.controller.Subscribe(hub)
	srv := events.NewServer(hub, r.controller)
	srv.Metrics = r.cfg.Metrics
	addr, err := srv.Start(ctx, r.cfg.EventsAddr)
	if err != nil {
		return err
	}
	pterm.Info.Println(fmt.Sprintf("Event feed: ws://%s/ws", addr))
	return nil
}

// printEvent renders controller events on the terminal.
func printEvent(e app.Event) {
	switch e.Kind {
	case app.EventPlayersUpdated:
		printPlayers(e)
	case app.EventNeedDownload:
		pterm.Warning.Println("Mesh network components are missing. Download easytier-core and easytier-cli and pass --bin-dir.")
	case app.EventServerShutdown:
		pterm.Warning.Println("The lobby host went away.")
	}
}

func printPlayers(e app.Event) {
	if len(e.Players) == 0 {
		return
	}
	rows := pterm.TableData{{"Player", "Kind", "Vendor"}}
	for _, p := range e.Players {
		rows = append(rows, []string{p.Name, p.Kind.String(), p.Vendor})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
