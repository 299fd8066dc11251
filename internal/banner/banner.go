// Package banner renders the short styled summary ptyshare prints to
// the operator's terminal on startup.
package banner

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valStyle   = lipgloss.NewStyle().Bold(true)
	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

// Info is the set of facts shown in the startup banner.
type Info struct {
	Title    string
	SessionID string
	Listen   string
	Command  string
	ReadOnly bool
	Headless bool
}

// Write renders the banner to w.
func Write(w io.Writer, info Info) {
	title := info.Title
	if title == "" {
		title = "ptyshare session"
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	fmt.Fprintf(w, "  %s %s\n", keyStyle.Render("session"), valStyle.Render(info.SessionID))
	fmt.Fprintf(w, "  %s %s\n", keyStyle.Render("listen "), valStyle.Render(info.Listen))
	fmt.Fprintf(w, "  %s %s\n", keyStyle.Render("command"), valStyle.Render(info.Command))

	var flags []string
	if info.ReadOnly {
		flags = append(flags, "read-only")
	}
	if info.Headless {
		flags = append(flags, "headless")
	}
	if len(flags) > 0 {
		line := ""
		for i, f := range flags {
			if i > 0 {
				line += " "
			}
			line += flagStyle.Render("[" + f + "]")
		}
		fmt.Fprintf(w, "  %s %s\n", keyStyle.Render("flags  "), line)
	}
}
