package main

import (
	"strings"

	"github.com/pterm/pterm"

	"github.com/PCL-Community/PCL.Core-sub001/internal/lobbycode"
	"github.com/PCL-Community/PCL.Core-sub001/internal/util"
)

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw := askText(prompt)
		port, err := parsePort(strings.TrimSpace(raw))
		if err == nil {
			return port
		}
		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askCode prompts for a lobby code until one parses.
func askCode() string {
	for {
		raw := askText("Lobby code")
		if _, err := lobbycode.Parse(raw); err == nil {
			return raw
		} else {
			util.LogWarning("%v", err)
		}
		pterm.Println()
	}
}

// askText prompts for a non-empty line.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		pterm.Println()
		if s := strings.TrimSpace(raw); s != "" {
			return s
		}
	}
}
