// Package lobbycode turns lobby connection parameters into short,
// human-shareable codes and back. Three historical formats are supported and
// all of them stay decodable.
package lobbycode

import (
	"errors"
	"fmt"
)

// Format identifies one of the lobby code layouts.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatPCLCE
	FormatTerracotta
	FormatScaffolding
)

func (f Format) String() string {
	switch f {
	case FormatPCLCE:
		return "PCLCE"
	case FormatTerracotta:
		return "Terracotta"
	case FormatScaffolding:
		return "Scaffolding"
	default:
		return "unknown"
	}
}

// ParseFormat maps a case-insensitive format name onto a Format.
func ParseFormat(name string) (Format, error) {
	switch normalizeName(name) {
	case "pclce", "pcl":
		return FormatPCLCE, nil
	case "terracotta":
		return FormatTerracotta, nil
	case "scaffolding", "":
		return FormatScaffolding, nil
	}
	return FormatUnknown, fmt.Errorf("unknown lobby code format %q", name)
}

// Code is a decoded lobby code. It is a value type and never mutated after
// construction.
type Code struct {
	Format        Format
	NetworkName   string
	NetworkSecret string
	// Port is the game port carried by the code. Scaffolding codes do not
	// carry one; it is learned later through the scaffolding protocol.
	Port int
	// Text is the code as the user typed it (or as it was generated).
	Text string
}

// HasPort reports whether the code embeds the game port.
func (c Code) HasPort() bool { return c.Format != FormatScaffolding && c.Port > 0 }

func (c Code) String() string { return c.Text }

// ErrInvalidCode is matched by every ParseError through errors.Is.
var ErrInvalidCode = errors.New("invalid lobby code")

// ParseError describes why a piece of text is not a valid lobby code.
type ParseError struct {
	Format Format
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Format == FormatUnknown {
		return fmt.Sprintf("invalid lobby code %q: %s", e.Text, e.Reason)
	}
	return fmt.Sprintf("invalid %s lobby code %q: %s", e.Format, e.Text, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrInvalidCode }

func parseErr(f Format, text, format string, args ...any) *ParseError {
	return &ParseError{Format: f, Text: text, Reason: fmt.Sprintf(format, args...)}
}
