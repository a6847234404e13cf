// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the terminal UI.
type Theme struct {
	IsDark bool

	// Glamour is the markdown style name matching the background.
	Glamour string

	// Header and status bar
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderInfo  lipgloss.Style
	StatusBar   lipgloss.Style
	StatusKey   lipgloss.Style
	StatusDesc  lipgloss.Style
	StatusError lipgloss.Style
	StatusNote  lipgloss.Style

	// Messages
	UserRole      lipgloss.Style
	AssistantRole lipgloss.Style
	SystemRole    lipgloss.Style
	MessageIndex  lipgloss.Style
	Reasoning     lipgloss.Style
	Collapsed     lipgloss.Style
	Attachment    lipgloss.Style
	Stopped       lipgloss.Style
	ErrorText     lipgloss.Style
	Spinner       lipgloss.Style

	// Panels
	Sidebar         lipgloss.Style
	SidebarFocused  lipgloss.Style
	SidebarItem     lipgloss.Style
	SidebarSelected lipgloss.Style
	SidebarCurrent  lipgloss.Style
	SidebarAge      lipgloss.Style
	ImagePanel      lipgloss.Style
	PanelTitle      lipgloss.Style
	FindingLabel    lipgloss.Style
	FindingBox      lipgloss.Style

	Input lipgloss.Style
	Help  lipgloss.Style
}

// NewTheme builds a theme for the given mode: "dark", "light", or "auto"
// (any other value) to ask the terminal.
func NewTheme(mode string) *Theme {
	var isDark bool
	switch mode {
	case "dark":
		isDark = true
	case "light":
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{IsDark: isDark, Glamour: "light"}
	if isDark {
		t.Glamour = "dark"
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Foreground(Teal).
		Bold(true)
	t.HeaderInfo = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.StatusKey = lipgloss.NewStyle().
		Foreground(Teal).
		Bold(true)
	t.StatusDesc = lipgloss.NewStyle().
		Foreground(TextMuted)
	t.StatusError = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)
	t.StatusNote = lipgloss.NewStyle().
		Foreground(Emerald)

	t.UserRole = lipgloss.NewStyle().Foreground(Sky).Bold(true)
	t.AssistantRole = lipgloss.NewStyle().Foreground(Teal).Bold(true)
	t.SystemRole = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	t.MessageIndex = lipgloss.NewStyle().Foreground(TextMuted)
	t.Reasoning = lipgloss.NewStyle().
		Foreground(Violet).
		Italic(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Violet).
		PaddingLeft(1)
	t.Collapsed = lipgloss.NewStyle().Foreground(Violet)
	t.Attachment = lipgloss.NewStyle().Foreground(TextSecondary).Italic(true)
	t.Stopped = lipgloss.NewStyle().Foreground(Amber)
	t.ErrorText = lipgloss.NewStyle().Foreground(Rose)
	t.Spinner = lipgloss.NewStyle().Foreground(Teal)

	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.SidebarFocused = t.Sidebar.
		BorderForeground(Teal)
	t.SidebarItem = lipgloss.NewStyle().Foreground(TextPrimary)
	t.SidebarSelected = lipgloss.NewStyle().
		Background(SelectionBg).
		Foreground(TextPrimary).
		Bold(true)
	t.SidebarCurrent = lipgloss.NewStyle().Foreground(Sky)
	t.SidebarAge = lipgloss.NewStyle().Foreground(TextMuted)

	t.ImagePanel = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Amber).
		Padding(0, 1)
	t.PanelTitle = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	t.FindingLabel = lipgloss.NewStyle().Foreground(TextPrimary).Bold(true)
	t.FindingBox = lipgloss.NewStyle().Foreground(TextMuted)

	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(OverlayDim)
	t.Help = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Teal).
		Padding(1, 2)
}
