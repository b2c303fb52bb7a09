package main

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ---------------------------------------------------------------------------
// lobby nat
// ---------------------------------------------------------------------------

func natCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "nat",
		Short: "Probe the local NAT type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, g)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx := cmd.Context()
			if err := rt.controller.Initialize(ctx); err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start("Probing NAT...")
			st, err := rt.controller.Discover(ctx)
			if err != nil {
				spinner.Fail(err.Error())
				return err
			}
			spinner.Success("Done")

			ips := strings.Join(st.PublicIPs, ", ")
			if ips == "" {
				ips = "-"
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"UDP", st.UDP.String()},
				{"TCP", st.TCP.String()},
				{"IPv6", boolText(st.SupportsIPv6)},
				{"Public IP", ips},
			}).Render()
		},
	}
}

func boolText(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
