package main

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
)

// ---------------------------------------------------------------------------
// lobby code gen|parse
// ---------------------------------------------------------------------------

func codeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Generate or inspect lobby codes",
	}
	cmd.AddCommand(codeGenCmd(), codeParseCmd())
	return cmd
}

func codeGenCmd() *cobra.Command {
	var (
		format string
		port   int
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a lobby code without starting a lobby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := lobbycode.ParseFormat(format)
			if err != nil {
				return err
			}
			var code lobbycode.Code
			if port > 0 {
				code, err = lobbycode.Default.GenerateWithPort(f, port)
			} else {
				code, err = lobbycode.Generate(f)
			}
			if err != nil {
				return err
			}
			printCode(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "scaffolding", "Code format: scaffolding, pclce or terracotta")
	cmd.Flags().IntVar(&port, "port", 0, "Port to embed (pclce and terracotta); 0 allocates one")
	return cmd
}

func codeParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <code>",
		Short: "Decode a lobby code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := lobbycode.Parse(args[0])
			if err != nil {
				return err
			}
			printCode(code)
			return nil
		},
	}
}

func printCode(code lobbycode.Code) {
	port := "-"
	if code.HasPort() {
		port = strconv.Itoa(code.Port)
	}
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Code", code.Text},
		{"Format", code.Format.String()},
		{"Network", code.NetworkName},
		{"Secret", code.NetworkSecret},
		{"Port", port},
	}).Render()
}

// parsePort validates a port argument.
func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: must be 1 ~ 65535", s)
	}
	return port, nil
}
