// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/medgemma-tui/internal/session"
	"github.com/jeranaias/medgemma-tui/internal/storage"
	"github.com/jeranaias/medgemma-tui/internal/ui/styles"
)

// sidebar is the scrollable session list.
type sidebar struct {
	sessions []storage.Session
	current  string
	cursor   int
	offset   int
	height   int
}

// reload replaces the list, keeping the cursor on the current session.
func (s *sidebar) reload(list []storage.Session, current string) {
	s.sessions = list
	s.current = current
	s.cursor = 0
	for i, sess := range list {
		if sess.ID == current {
			s.cursor = i
			break
		}
	}
	s.clamp()
}

func (s *sidebar) move(delta int) {
	s.cursor += delta
	s.clamp()
}

func (s *sidebar) clamp() {
	if s.cursor >= len(s.sessions) {
		s.cursor = len(s.sessions) - 1
	}
	if s.cursor < 0 {
		s.cursor = 0
	}
	rows := s.rows()
	if s.cursor < s.offset {
		s.offset = s.cursor
	}
	if s.cursor >= s.offset+rows {
		s.offset = s.cursor - rows + 1
	}
}

// rows is the number of sessions that fit; each takes one line.
func (s *sidebar) rows() int {
	return max(s.height-2, 1)
}

func (s sidebar) selected() (storage.Session, bool) {
	if s.cursor < 0 || s.cursor >= len(s.sessions) {
		return storage.Session{}, false
	}
	return s.sessions[s.cursor], true
}

// view draws the list. Titles are cut by display width so CJK titles keep
// the column aligned.
func (s sidebar) view(t *styles.Theme, focused bool, now time.Time) string {
	inner := sidebarWidth - 4
	const ageWidth = 4

	var lines []string
	lines = append(lines, t.PanelTitle.Render("Sessions"), "")

	end := min(s.offset+s.rows(), len(s.sessions))
	for i := s.offset; i < end; i++ {
		sess := s.sessions[i]
		title := runewidth.FillRight(runewidth.Truncate(sess.Title, inner-ageWidth-1, "…"), inner-ageWidth-1)
		age := runewidth.FillLeft(session.FormatAge(sess.Modified(), now), ageWidth)

		style := t.SidebarItem
		if sess.ID == s.current {
			style = t.SidebarCurrent
		}
		row := style.Render(title) + " " + t.SidebarAge.Render(age)
		if focused && i == s.cursor {
			row = t.SidebarSelected.Render(title + " " + age)
		}
		lines = append(lines, row)
	}
	if len(s.sessions) == 0 {
		lines = append(lines, t.SidebarAge.Render("no sessions"))
	}

	box := t.Sidebar
	if focused {
		box = t.SidebarFocused
	}
	return box.Width(sidebarWidth - 2).Height(max(s.height, 3)).Render(strings.Join(lines, "\n"))
}
