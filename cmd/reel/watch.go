// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	bar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <video-id>",
		Short: "Follow the ingestion progress of a video on a running server",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	cmd.Flags().String("address", "", "server address (defaults to server.listen)")
	cmd.Flags().String("token", os.Getenv("REEL_TOKEN"), "bearer token when the server requires auth")

	return cmd
}

// --- bubbletea messages ---

type (
	eventMsg      progress.Event
	streamDoneMsg struct{ err error }
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	watchDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	watchOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// watchModel renders the latest progress event of one run.
type watchModel struct {
	scope   string
	bar     bar.Model
	spinner spinner.Model
	msgs    <-chan tea.Msg
	last    progress.Event
	seen    bool
	done    bool
	err     error
}

func newWatchModel(scope string, msgs <-chan tea.Msg) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return watchModel{
		scope:   scope,
		bar:     bar.New(bar.WithDefaultGradient(), bar.WithWidth(40)),
		spinner: sp,
		msgs:    msgs,
	}
}

// next waits for the following stream message.
func next(msgs <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-msgs
		if !ok {
			return streamDoneMsg{}
		}
		return msg
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, next(m.msgs))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		m.last = progress.Event(msg)
		m.seen = true
		return m, tea.Batch(m.bar.SetPercent(fraction(m.last)), next(m.msgs))

	case streamDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case bar.FrameMsg:
		model, cmd := m.bar.Update(msg)
		if b, ok := model.(bar.Model); ok {
			m.bar = b
		}
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("reel: "+m.scope) + "\n\n")

	if !m.seen {
		b.WriteString(m.spinner.View() + " connecting…\n")
	} else {
		b.WriteString(m.bar.View() + "\n")
		status := string(m.last.Status)
		if m.last.Total > 0 {
			status += fmt.Sprintf("  %d/%d  at %s", m.last.Current, m.last.Total, provider.FormatTimestamp(m.last.Timestamp))
		}
		b.WriteString(watchDimStyle.Render(status) + "\n")
		b.WriteString(eventStyle(m.last).Render(m.last.Message) + "\n")
	}

	if m.err != nil {
		b.WriteString("\n" + watchErrStyle.Render(m.err.Error()) + "\n")
	} else if !m.done {
		b.WriteString("\n" + watchDimStyle.Render("q to stop watching (ingestion continues)") + "\n")
	}
	return b.String()
}

func eventStyle(e progress.Event) lipgloss.Style {
	switch e.Status {
	case store.StatusFailed:
		return watchErrStyle
	case store.StatusCompleted:
		return watchOKStyle
	default:
		return lipgloss.NewStyle()
	}
}

// fraction is the bar position for e; completed runs always show full.
func fraction(e progress.Event) float64 {
	if e.Status == store.StatusCompleted {
		return 1
	}
	if e.Total <= 0 {
		return 0
	}
	return min(1, float64(e.Current)/float64(e.Total))
}

func runWatch(cmd *cobra.Command, args []string) error {
	scope := args[0]
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = viper.GetString("server.listen")
	}
	token, _ := cmd.Flags().GetString("token")
	client := newAPIClient(addr, token)

	ctx, cancel := context.WithCancel(contextOrBackground(cmd))
	defer cancel()

	out, ok := cmd.OutOrStdout().(*os.File)
	if !ok || !isTerminal(out) {
		// Plain lines when piped.
		return client.streamProgress(ctx, scope, func(e progress.Event) {
			printEvent(cmd.OutOrStdout(), e)
		})
	}

	msgs := make(chan tea.Msg, 16)
	go func() {
		defer close(msgs)
		err := client.streamProgress(ctx, scope, func(e progress.Event) {
			select {
			case msgs <- eventMsg(e):
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case msgs <- streamDoneMsg{err: err}:
			case <-ctx.Done():
			}
		}
	}()

	final, err := tea.NewProgram(newWatchModel(scope, msgs), tea.WithOutput(out)).Run()
	if err != nil {
		return reelerr.Errorf(reelerr.CodeCLISetupFailure, "watch view error: %w", err)
	}
	if fm, ok := final.(watchModel); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
