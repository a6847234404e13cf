// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/export"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

// slashCommand is one input-line command.
type slashCommand struct {
	name  string
	usage string
	desc  string
	run   func(m Model, args []string, rest string) (Model, tea.Cmd)
}

var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{"/image", "/image [path]", "attach an image to the next message; no path clears it", cmdImage},
		{"/detect", "/detect [native]", "mark regions of interest on the current image", cmdDetect},
		{"/view", "/view <n>", "show the image and regions of detection message n", cmdView},
		{"/regen", "/regen", "ask again for the last reply", cmdRegen},
		{"/edit", "/edit <n> <text>", "replace the text of message n", cmdEdit},
		{"/rm", "/rm <n>", "delete message n", cmdRemove},
		{"/new", "/new", "start a new session", cmdNew},
		{"/delete", "/delete", "delete this session", cmdDelete},
		{"/export", "/export [md|json|yaml]", "write this session to a file", cmdExport},
		{"/set", "/set <key> <value>", "change a generation setting", cmdSet},
		{"/flow", "/flow chat|analysis", "switch the request flow", cmdFlow},
		{"/status", "/status", "check the backend again", cmdStatus},
		{"/help", "/help", "show keys and commands", cmdHelp},
		{"/quit", "/quit", "exit", cmdQuit},
	}
}

// runCommand dispatches a line starting with "/".
func (m Model) runCommand(line string) (Model, tea.Cmd) {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	for _, c := range slashCommands {
		if c.name == name {
			m.logger.Debug("command", zap.String("name", name))
			return c.run(m, fields[1:], rest)
		}
	}
	m.setError(fmt.Errorf("unknown command %s, try /help", name))
	return m, nil
}

// guardIdle refuses commands that change the conversation mid-reply.
func (m *Model) guardIdle() bool {
	if m.busy() {
		m.setError(chat.ErrBusy)
		return false
	}
	return true
}

func parseMessageNumber(m Model, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > m.conv.Len() {
		return 0, fmt.Errorf("no message %q", s)
	}
	return n - 1, nil
}

func cmdImage(m Model, _ []string, rest string) (Model, tea.Cmd) {
	if rest == "" {
		m.deps.Manager.SetPendingImage("")
		m.setNotice("image detached")
		return m, nil
	}
	uri, err := util.ImageDataURI(strings.Trim(rest, `"'`))
	if err != nil {
		m.setError(err)
		return m, nil
	}
	m.deps.Manager.SetPendingImage(uri)
	m.showPanel = true
	m.resize()
	m.setNotice("image attached")
	return m, nil
}

func cmdDetect(m Model, args []string, _ string) (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	image := m.deps.Manager.PendingImage()
	if image == "" {
		image, _ = m.deps.Manager.ActiveImage()
	}
	if image == "" {
		m.setError(errors.New("no image; attach one with /image <path>"))
		return m, nil
	}
	native := len(args) > 0 && strings.EqualFold(args[0], "native")

	m.deps.Manager.SetActiveImage(image)
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelDetect = cancel
	m.activity = detecting
	m.started = time.Now()
	m.showPanel = true
	m.setNotice("")
	m.resize()
	m.refresh()
	return m, tea.Batch(m.detectCmd(ctx, image, native), m.spinner.Tick)
}

func cmdView(m Model, args []string, _ string) (Model, tea.Cmd) {
	i := m.deps.Manager.LatestDetection()
	if len(args) > 0 {
		n, err := parseMessageNumber(m, args[0])
		if err != nil {
			m.setError(err)
			return m, nil
		}
		i = n
	}
	if i < 0 {
		m.setError(errors.New("no detection in this session"))
		return m, nil
	}
	if err := m.deps.Manager.RestoreDetectionView(i); err != nil {
		m.setError(err)
		return m, nil
	}
	m.showPanel = true
	m.resize()
	m.setNotice(fmt.Sprintf("showing detection from message %d", i+1))
	return m, nil
}

func cmdRegen(m Model, _ []string, _ string) (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	return m.startReply(m.regenerateCmd())
}

func cmdEdit(m Model, args []string, rest string) (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	if len(args) < 2 {
		m.setError(errors.New("usage: /edit <n> <text>"))
		return m, nil
	}
	i, err := parseMessageNumber(m, args[0])
	if err != nil {
		m.setError(err)
		return m, nil
	}
	text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	if err := m.deps.Manager.EditMessage(i, text); err != nil {
		m.setError(err)
		return m, nil
	}
	m.setNotice(fmt.Sprintf("message %d edited", i+1))
	m.refresh()
	return m, nil
}

func cmdRemove(m Model, args []string, _ string) (Model, tea.Cmd) {
	if !m.guardIdle() {
		return m, nil
	}
	if len(args) != 1 {
		m.setError(errors.New("usage: /rm <n>"))
		return m, nil
	}
	i, err := parseMessageNumber(m, args[0])
	if err != nil {
		m.setError(err)
		return m, nil
	}
	if err := m.deps.Manager.DeleteMessage(i); err != nil {
		m.setError(err)
		return m, nil
	}
	m.setNotice(fmt.Sprintf("message %d deleted", i+1))
	m.refresh()
	return m, nil
}

func cmdNew(m Model, _ []string, _ string) (Model, tea.Cmd) {
	return m.newSession()
}

func cmdDelete(m Model, _ []string, _ string) (Model, tea.Cmd) {
	return m.deleteSession(m.deps.Manager.CurrentID())
}

func cmdExport(m Model, args []string, _ string) (Model, tea.Cmd) {
	format := "md"
	if len(args) > 0 {
		format = args[0]
	}
	s, ok := m.deps.Manager.Current()
	if !ok {
		m.setError(errors.New("no session to export"))
		return m, nil
	}
	opts := export.DefaultOptions()
	opts.OutputDir = m.deps.ExportDir
	exp, err := export.ForFormat(format, opts)
	if err != nil {
		m.setError(err)
		return m, nil
	}
	path, err := export.ExportToFile(export.NewDocument(s, m.conv.Messages()), exp, opts)
	if err != nil {
		m.setError(err)
		return m, nil
	}
	m.setNotice("exported to " + path)
	return m, nil
}

func cmdSet(m Model, args []string, rest string) (Model, tea.Cmd) {
	if len(args) < 2 {
		m.setError(errors.New("usage: /set <key> <value>"))
		return m, nil
	}
	value := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	if _, err := m.deps.Settings.Update(args[0], value); err != nil {
		m.setError(err)
		return m, nil
	}
	m.setNotice(args[0] + " updated")
	return m, nil
}

func cmdFlow(m Model, args []string, _ string) (Model, tea.Cmd) {
	if len(args) != 1 {
		m.setError(errors.New("usage: /flow chat|analysis"))
		return m, nil
	}
	f, err := chat.ParseFlow(args[0])
	if err != nil {
		m.setError(err)
		return m, nil
	}
	m.deps.Flow = f
	m.rec.SetFlow(f)
	m.setNotice("flow: " + f.String())
	return m, nil
}

func cmdStatus(m Model, _ []string, _ string) (Model, tea.Cmd) {
	m.setNotice("checking backend...")
	return m, m.statusCmd()
}

func cmdHelp(m Model, _ []string, _ string) (Model, tea.Cmd) {
	m.showHelp = true
	return m, nil
}

func cmdQuit(m Model, _ []string, _ string) (Model, tea.Cmd) {
	m.rec.Abort()
	return m, tea.Quit
}
