// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL for the medgemma CLI.
//
// Interactive Commands (during chat):
//
//	/help               Show available commands
//	/new                Start a new session
//	/sessions           List sessions
//	/switch <n|id>      Switch to a session
//	/delete <n|id>      Delete a session
//	/image [path]       Attach an image to the next message (no path clears it)
//	/detect [native]    Run region detection on the current image
//	/regen              Regenerate the last reply
//	/history            Show the current session
//	/edit <n> <text>    Replace the text of message n
//	/rm <n>             Delete message n
//	/export [fmt] [dir] Export the session (md, json, yaml)
//	/settings [k v]     Show or change a setting
//	/status             Show session status
//	/quit               Exit chat
//	Ctrl+C              Stop the current reply
//	Ctrl+D              Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/medgemma-tui/internal/chat"
	"github.com/jeranaias/medgemma-tui/internal/config"
	"github.com/jeranaias/medgemma-tui/internal/export"
	"github.com/jeranaias/medgemma-tui/internal/model"
	"github.com/jeranaias/medgemma-tui/internal/session"
	"github.com/jeranaias/medgemma-tui/internal/storage"
	"github.com/jeranaias/medgemma-tui/internal/util"
)

func newChatCommand(st *state) *cobra.Command {
	var newSession bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Starts a line-based chat in the most recent session.

Type a message and press Enter. Lines starting with / are commands; type
/help to list them. Ctrl+C stops a reply in progress, Ctrl+D exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := RequiresTTY("chat"); err != nil {
				return err
			}
			return runChat(cmd.Context(), st.app, newSession)
		},
	}
	cmd.Flags().BoolVar(&newSession, "new", false, "start a new session")
	return cmd
}

// =============================================================================
// REPL STATE
// =============================================================================

type repl struct {
	app    *App
	out    io.Writer
	render *renderer
	rec    *chat.Reconciler
	stream bool

	line        *liner.State
	historyFile string

	mu       sync.Mutex
	cancelOp context.CancelFunc
}

func runChat(ctx context.Context, app *App, newSession bool) error {
	if err := openSession(app, newSession); err != nil {
		return err
	}

	r := &repl{
		app:    app,
		out:    app.Out,
		render: newRenderer(app.Config.UI.Theme, app.Config.UI.ShowReasoning),
		stream: !IsStdoutTTY(),
	}
	var onDelta func(string)
	if r.stream {
		onDelta = func(d string) { fmt.Fprint(r.out, d) }
	}
	r.rec = app.NewReconciler(nil, onDelta)

	r.line = liner.NewLiner()
	r.line.SetCtrlCAborts(true)
	if dir, err := config.Dir(); err == nil {
		r.historyFile = filepath.Join(dir, "chat_history")
		if f, err := os.Open(r.historyFile); err == nil {
			_, _ = r.line.ReadHistory(f)
			f.Close()
		}
	}
	defer r.close()

	// Outside the prompt the terminal is in cooked mode, so Ctrl+C arrives
	// as a signal. It stops the current operation instead of the process.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sig:
				r.interrupt()
			case <-done:
				return
			}
		}
	}()

	r.printWelcome()
	for {
		input, err := r.line.Prompt(r.prompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(util.NormalizeInput(input))
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				fmt.Fprintln(r.out, RenderConditional(ErrorStyle, "Error:")+" "+err.Error())
			}
			if quit {
				return nil
			}
			continue
		}
		r.send(ctx, input)
	}
}

func (r *repl) close() {
	if r.historyFile != "" {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

func (r *repl) prompt() string {
	p := "you> "
	if r.app.Manager.PendingImage() != "" {
		p = "you [image]> "
	}
	// liner measures the prompt itself, so it must stay free of escapes.
	return p
}

// =============================================================================
// OPERATIONS
// =============================================================================

// op runs fn with a context that Ctrl+C cancels.
func (r *repl) op(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancelOp = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancelOp = nil
		r.mu.Unlock()
		cancel()
	}()
	fn(ctx)
}

func (r *repl) interrupt() {
	r.mu.Lock()
	cancel := r.cancelOp
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *repl) send(ctx context.Context, text string) {
	image := r.app.Manager.TakePendingImage()
	r.exchange(ctx, func(ctx context.Context) (chat.Outcome, error) {
		return r.rec.Send(ctx, text, image)
	})
}

func (r *repl) exchange(ctx context.Context, fn func(context.Context) (chat.Outcome, error)) {
	if !r.stream {
		fmt.Fprintln(r.out, RenderConditional(DimStyle, "..."))
	}
	r.op(ctx, func(ctx context.Context) {
		out, err := fn(ctx)
		if err != nil {
			fmt.Fprintln(r.out, RenderConditional(ErrorStyle, "Error:")+" "+err.Error())
			return
		}
		if err := reportOutcome(r.out, r.render, out, r.stream); err != nil {
			fmt.Fprintln(r.out, RenderConditional(ErrorStyle, "Error:")+" "+err.Error())
		}
		if out.Restore != nil && out.Restore.Image != "" {
			r.app.Manager.SetPendingImage(out.Restore.Image)
		}
		if out.State != chat.StateIdle {
			fmt.Fprintln(r.out, RenderConditional(DimStyle, fmt.Sprintf("(%s)", out.Duration.Round(100*time.Millisecond))))
		}
	})
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// command runs a slash command. It reports true when the REPL should exit.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "/help", "/h", "/?", "/":
		r.printHelp()

	case "/quit", "/q", "/exit":
		return true, nil

	case "/new", "/n":
		s, err := r.app.Manager.New()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[New session]")+" "+s.ID)

	case "/sessions", "/ls":
		r.printSessions()

	case "/switch":
		id, err := r.resolveSession(args)
		if err != nil {
			return false, err
		}
		if err := r.app.Manager.Switch(id); err != nil {
			return false, err
		}
		r.printHistory()

	case "/delete":
		id, err := r.resolveSession(args)
		if err != nil {
			return false, err
		}
		if err := r.app.Manager.Delete(id); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[Deleted]")+" "+id)

	case "/image", "/img":
		if len(args) == 0 {
			r.app.Manager.SetPendingImage("")
			fmt.Fprintln(r.out, RenderConditional(DimStyle, "image cleared"))
			return false, nil
		}
		uri, err := util.ImageDataURI(strings.Join(args, " "))
		if err != nil {
			return false, err
		}
		r.app.Manager.SetPendingImage(uri)
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[Image attached]")+" "+util.SummarizeImage(uri))

	case "/detect":
		return false, r.detect(ctx, len(args) > 0 && args[0] == "native")

	case "/regen", "/r":
		r.exchange(ctx, r.rec.Regenerate)

	case "/history":
		r.printHistory()

	case "/edit":
		if len(args) < 2 {
			return false, errors.New("usage: /edit <n> <text>")
		}
		i, err := messageIndex(args[0])
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(input, parts[0])), args[0]))
		return false, r.app.Manager.EditMessage(i, text)

	case "/rm":
		if len(args) != 1 {
			return false, errors.New("usage: /rm <n>")
		}
		i, err := messageIndex(args[0])
		if err != nil {
			return false, err
		}
		return false, r.app.Manager.DeleteMessage(i)

	case "/export":
		format, dir := "md", "."
		if len(args) > 0 {
			format = args[0]
		}
		if len(args) > 1 {
			dir = args[1]
		}
		path, err := exportCurrent(r.app, format, dir)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[Exported]")+" "+path)

	case "/settings":
		if len(args) == 0 {
			return false, printJSON(r.out, r.app.Settings.Get())
		}
		if len(args) < 2 {
			return false, errors.New("usage: /settings <key> <value>")
		}
		value := strings.Join(args[1:], " ")
		if _, err := r.app.Settings.Update(args[0], value); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, RenderConditional(SuccessStyle, "[OK]")+" "+args[0]+" updated")

	case "/status", "/s":
		printSessionStatus(r.out, r.app.Manager.GetStatus())

	default:
		return false, fmt.Errorf("unknown command: %s (type /help for commands)", name)
	}
	return false, nil
}

func (r *repl) detect(ctx context.Context, native bool) error {
	image := r.app.Manager.PendingImage()
	if image == "" {
		image, _ = r.app.Manager.ActiveImage()
	}
	if image == "" {
		return errors.New("no image: attach one with /image <path>")
	}

	var err error
	fmt.Fprintln(r.out, RenderConditional(DimStyle, "detecting..."))
	r.op(ctx, func(ctx context.Context) {
		var findings []model.Finding
		if findings, err = detect(ctx, r.app, image, native); err == nil {
			if last, ok := r.app.Manager.Conversation().Last(); ok {
				fmt.Fprintln(r.out, r.render.assistant(last.Text()))
			}
			fmt.Fprintln(r.out, findingsTable(findings))
		}
	})
	return err
}

// resolveSession accepts a list position (as printed by /sessions) or an id.
func (r *repl) resolveSession(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected a session number or id")
	}
	return resolveSessionRef(r.app.Manager.List(), args[0])
}

func resolveSessionRef(sessions []storage.Session, ref string) (string, error) {
	for _, s := range sessions {
		if s.ID == ref {
			return s.ID, nil
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(sessions) {
		return sessions[n-1].ID, nil
	}
	return "", fmt.Errorf("%w: %s", session.ErrSessionNotFound, ref)
}

// messageIndex converts a 1-based message number to an index.
func messageIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid message number %q", s)
	}
	return n - 1, nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (r *repl) printWelcome() {
	st := r.app.Manager.GetStatus()
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, RenderConditional(TitleStyle, "medgemma interactive chat"))
	fmt.Fprintln(r.out, RenderSeparator(30))
	fmt.Fprintln(r.out, RenderLabel("Session:")+st.Title+" ("+st.SessionID+")")
	fmt.Fprintln(r.out, RenderLabel("Endpoint:")+r.app.Settings.Get().APIEndpoint)
	fmt.Fprintln(r.out, RenderLabel("Flow:")+r.app.Flow.String())
	if st.Messages > 0 {
		fmt.Fprintln(r.out, RenderLabel("Messages:")+strconv.Itoa(st.Messages))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, RenderConditional(DimStyle, "Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

func (r *repl) printHelp() {
	commands := []struct{ cmd, desc string }{
		{"/new", "Start a new session"},
		{"/sessions", "List sessions"},
		{"/switch <n|id>", "Switch session"},
		{"/delete <n|id>", "Delete a session"},
		{"/image [path]", "Attach an image (no path clears it)"},
		{"/detect [native]", "Detect regions in the current image"},
		{"/regen", "Regenerate the last reply"},
		{"/history", "Show this session"},
		{"/edit <n> <text>", "Replace the text of message n"},
		{"/rm <n>", "Delete message n"},
		{"/export [fmt] [dir]", "Export as md, json or yaml"},
		{"/settings [k v]", "Show or change settings"},
		{"/status", "Show session status"},
		{"/quit", "Exit chat"},
	}
	fmt.Fprintln(r.out)
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %s  %s\n", RenderConditional(SuccessStyle, fmt.Sprintf("%-20s", c.cmd)), c.desc)
	}
	fmt.Fprintln(r.out)
}

func (r *repl) printSessions() {
	printSessionList(r.out, r.app.Manager.List(), r.app.Manager.CurrentID(), time.Now())
}

func (r *repl) printHistory() {
	printTranscript(r.out, r.render, r.app.Manager.Conversation().Messages())
}

func printSessionList(w io.Writer, sessions []storage.Session, current string, now time.Time) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, RenderConditional(DimStyle, "no sessions"))
		return
	}
	for i, s := range sessions {
		mark := " "
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %2d  %s  %s  %s\n", mark, i+1,
			util.PadRight(util.TruncateWidth(s.Title, 40), 40),
			RenderConditional(DimStyle, util.PadRight(session.FormatAge(s.Modified(), now), 5)),
			RenderConditional(DimStyle, s.ID))
	}
}

func printTranscript(w io.Writer, render *renderer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, RenderConditional(DimStyle, "(empty session)"))
		return
	}
	for i, m := range msgs {
		style := UserRoleStyle
		if m.Role == model.RoleAssistant {
			style = AssistantRoleStyle
		}
		fmt.Fprintf(w, "%s %s\n", RenderConditional(DimStyle, fmt.Sprintf("[%d]", i+1)), RenderConditional(style, m.Role.DisplayName()))
		if img, ok := m.Image(); ok {
			fmt.Fprintln(w, RenderConditional(DimStyle, util.SummarizeImage(img)))
		}
		if m.Role == model.RoleAssistant {
			fmt.Fprintln(w, render.assistant(m.Text()))
		} else if text := m.Text(); text != "" {
			fmt.Fprintln(w, text)
		}
		if len(m.RelatedFindings) > 0 {
			fmt.Fprintln(w, findingsTable(m.RelatedFindings))
		}
		fmt.Fprintln(w)
	}
}

func printSessionStatus(w io.Writer, st session.Status) {
	fmt.Fprintln(w, RenderLabel("Session:")+st.Title+" ("+st.SessionID+")")
	fmt.Fprintln(w, RenderLabel("Messages:")+strconv.Itoa(st.Messages))
	if !st.LastSave.IsZero() {
		fmt.Fprintln(w, RenderLabel("Last save:")+session.FormatAge(st.LastSave, time.Now())+" ago")
	}
	if st.SaveError != nil {
		fmt.Fprintln(w, RenderLabel("Save error:")+RenderConditional(ErrorStyle, st.SaveError.Error()))
	}
	if st.HasImage {
		fmt.Fprintln(w, RenderLabel("Image:")+fmt.Sprintf("attached, %d findings", st.Findings))
	}
}

// exportCurrent writes the active session to dir.
func exportCurrent(app *App, format, dir string) (string, error) {
	s, ok := app.Manager.Current()
	if !ok {
		return "", session.ErrSessionNotFound
	}
	return exportSession(s, app.Manager.Conversation().Messages(), format, dir)
}

func exportSession(s storage.Session, msgs []model.Message, format, dir string) (string, error) {
	opts := export.DefaultOptions()
	opts.OutputDir = dir
	exp, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(export.NewDocument(s, msgs), exp, opts)
}
