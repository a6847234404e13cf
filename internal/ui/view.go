// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/medgemma-tui/internal/ui/styles"
)

// View renders the screen.
func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	if m.showHelp {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, m.helpView())
	}

	var columns []string
	if m.sidebarVisible() {
		columns = append(columns, m.sidebar.view(m.theme, m.focus == focusSidebar, time.Now()))
	}
	columns = append(columns, lipgloss.NewStyle().
		Width(m.viewport.Width).
		Height(m.viewport.Height).
		Render(m.viewport.View()))
	if m.panelVisible() {
		columns = append(columns, m.panelView(m.viewport.Height))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		lipgloss.JoinHorizontal(lipgloss.Top, columns...),
		m.theme.Input.Width(max(m.width-2, 10)).Render(m.input.View()),
		m.statusView(),
	)
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) headerView() string {
	t := m.theme
	title := "untitled"
	if s, ok := m.deps.Manager.Current(); ok {
		title = s.Title
	}

	left := t.HeaderTitle.Render("MedGemma") + "  " + t.HeaderInfo.Render(title)
	right := t.HeaderInfo.Render(m.backendLabel() + "  flow:" + m.deps.Flow.String())

	gap := m.width - 2 - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		// Drop the title first on narrow screens.
		left = t.HeaderTitle.Render("MedGemma")
		gap = max(m.width-2-lipgloss.Width(left)-lipgloss.Width(right), 1)
	}
	return t.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) backendLabel() string {
	switch {
	case m.backendErr != nil:
		return styles.StatusIndicators.Error + " offline"
	case m.backend == nil:
		return styles.StatusIndicators.Pending + " backend"
	case m.backend.ModelLoaded:
		return styles.StatusIndicators.Success + " model loaded"
	default:
		return styles.StatusIndicators.Warning + " model loading"
	}
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m Model) statusView() string {
	t := m.theme
	width := max(m.width-2, 10)

	var left string
	switch {
	case m.notice != "" && m.noticeErr:
		left = t.StatusError.Render(styles.StatusIndicators.Error + " " + runewidth.Truncate(m.notice, width-6, "…"))
	case m.notice != "":
		left = t.StatusNote.Render(runewidth.Truncate(m.notice, width/2, "…"))
	case m.deps.Manager.PendingImage() != "":
		left = t.StatusNote.Render(styles.StatusIndicators.Active + " image attached")
	default:
		st := m.deps.Manager.GetStatus()
		left = t.StatusDesc.Render(fmt.Sprintf("%d messages", st.Messages))
		if st.SaveError != nil {
			left += "  " + t.StatusError.Render(styles.StatusIndicators.Warning+" not saved")
		}
	}

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, t.StatusKey.Render(h.Key)+" "+t.StatusDesc.Render(h.Desc))
	}
	right := strings.Join(hints, "  ")
	if lipgloss.Width(left)+lipgloss.Width(right)+2 > width {
		right = ""
	}
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return t.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// =============================================================================
// HELP
// =============================================================================

func (m Model) helpView() string {
	t := m.theme
	var sb strings.Builder
	sb.WriteString(t.HeaderTitle.Render("Keys"))
	sb.WriteString("\n\n")
	for _, group := range m.keys.FullHelp() {
		for _, b := range group {
			h := b.Help()
			fmt.Fprintf(&sb, "%s %s\n", t.StatusKey.Render(fmt.Sprintf("%-10s", h.Key)), h.Desc)
		}
	}
	sb.WriteString("\n")
	sb.WriteString(t.HeaderTitle.Render("Commands"))
	sb.WriteString("\n\n")
	for _, c := range slashCommands {
		fmt.Fprintf(&sb, "%s %s\n", t.StatusKey.Render(fmt.Sprintf("%-24s", c.usage)), c.desc)
	}
	sb.WriteString("\n")
	sb.WriteString(t.StatusDesc.Render("press any key to close"))
	return t.Help.Render(sb.String())
}
