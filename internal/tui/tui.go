// Package tui provides a Bubble Tea terminal user interface for mediadl.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/handiism/mediadl/internal/config"
	"github.com/handiism/mediadl/internal/download"
	"github.com/handiism/mediadl/internal/model"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateInitializing
	StateDownloading
	StateComplete
	StateError
)

const maxLogs = 10

var (
	errCancelledByUser = errors.New("cancelled by user")
	errNothingPending  = errors.New("no pending downloads")
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   download.ProgressLevel
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	settings  *config.Settings
	logger    *slog.Logger
	logs      []LogEntry
	items     []string
	err       error

	// Run context, cancelled on esc or ctrl+c
	ctx    context.Context
	cancel context.CancelFunc

	manager *download.Manager
	stop    func() error
	ids     []string
	events  chan download.ProgressEvent

	// Download progress
	totalFiles      int32
	downloadedFiles int32
	totalBytes      int64
	receivedBytes   int64
	succeeded       int
	failed          int

	// Options
	discography bool
	playlist    bool
	chunked     bool
	verbose     bool

	width  int
	height int
}

// NewModel creates a new TUI model working with settings.
func NewModel(settings *config.Settings, logger *slog.Logger) Model {
	ti := textinput.New()
	ti.Placeholder = "https://www.youtube.com/watch?v=... or https://artist.bandcamp.com/album/name"
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		state:       StateInput,
		textInput:   ti,
		spinner:     sp,
		progress:    prog,
		settings:    settings,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan download.ProgressEvent, 64),
		discography: settings.BandcampDiscography,
		playlist:    settings.CreatePlaylist,
		chunked:     settings.Chunked,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.listenProgress())
}

// Message types
type (
	// ProgressMsg is sent for every manager progress message.
	ProgressMsg struct {
		Event download.ProgressEvent
	}

	// InitDoneMsg is sent when the URL was resolved and downloads started.
	InitDoneMsg struct {
		Items   []string
		IDs     []string
		Manager *download.Manager
		Stop    func() error
		Err     error
	}

	// DownloadDoneMsg is sent when every started download finished.
	DownloadDoneMsg struct {
		Succeeded int
		Failed    int
		Err       error
	}

	// TickMsg is for periodic progress updates.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width-20, 20), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateDownloading || m.state == StateInitializing {
				m.cancel()
				m.state = StateError
				m.err = errCancelledByUser
			}

		case "enter":
			if m.state == StateInput && m.textInput.Value() != "" {
				m.state = StateInitializing
				return m, tea.Batch(m.initializeDownload(false), m.spinner.Tick)
			}

		case "ctrl+r":
			if m.state == StateInput {
				m.state = StateInitializing
				return m, tea.Batch(m.initializeDownload(true), m.spinner.Tick)
			}

		case "ctrl+g", "ctrl+l", "ctrl+t", "ctrl+o":
			// Option toggles use keys the URL input does not bind.
			if m.state == StateInput {
				m.toggle(msg.String())
			}
			return m, nil

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				m.reset()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case ProgressMsg:
		cmds = append(cmds, m.listenProgress())
		if msg.Event.Level == download.LevelVerbose && !m.verbose {
			break
		}
		m.logs = append(m.logs, LogEntry{
			Message: msg.Event.Message,
			Level:   msg.Event.Level,
		})
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}

	case InitDoneMsg:
		m.manager = msg.Manager
		m.stop = msg.Stop
		if msg.Err != nil && len(msg.IDs) == 0 {
			m.state = StateError
			m.err = msg.Err
			cmds = append(cmds, m.shutdown())
		} else {
			m.items = msg.Items
			m.ids = msg.IDs
			m.state = StateDownloading
			cmds = append(cmds, m.waitDownloads(), m.tickProgress())
		}

	case DownloadDoneMsg:
		m.succeeded = msg.Succeeded
		m.failed = msg.Failed
		m.updateProgress()
		switch {
		case m.ctx.Err() != nil:
			m.state = StateError
			m.err = errCancelledByUser
		case msg.Err != nil:
			m.state = StateError
			m.err = msg.Err
		default:
			m.state = StateComplete
		}

	case TickMsg:
		if m.manager != nil && m.state == StateDownloading {
			percent := m.updateProgress()
			cmds = append(cmds, m.progress.SetPercent(percent), m.tickProgress())
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) toggle(key string) {
	switch key {
	case "ctrl+g":
		m.discography = !m.discography
	case "ctrl+l":
		m.playlist = !m.playlist
	case "ctrl+t":
		m.chunked = !m.chunked
	case "ctrl+o":
		m.verbose = !m.verbose
	}
}

// updateProgress copies the manager totals and returns the completed
// fraction, by bytes when sizes are known, else by files.
func (m *Model) updateProgress() float64 {
	if m.manager == nil {
		return 0
	}
	m.receivedBytes, m.totalBytes, m.downloadedFiles, m.totalFiles = m.manager.GetProgress()
	switch {
	case m.totalBytes > 0:
		return min(1, float64(m.receivedBytes)/float64(m.totalBytes))
	case m.totalFiles > 0:
		return float64(m.downloadedFiles) / float64(m.totalFiles)
	default:
		return 0
	}
}

func (m *Model) reset() {
	m.state = StateInput
	m.logs = nil
	m.items = nil
	m.ids = nil
	m.err = nil
	m.downloadedFiles = 0
	m.totalFiles = 0
	m.receivedBytes = 0
	m.totalBytes = 0
	m.succeeded = 0
	m.failed = 0
	m.manager = nil
	m.stop = nil
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.textInput.SetValue("")
	m.textInput.Focus()
}

// tickProgress returns a command to tick progress updates.
func (m Model) tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// listenProgress waits for the next manager progress message.
func (m Model) listenProgress() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		return ProgressMsg{Event: <-events}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("♫ mediadl"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Segmented, resumable media downloads"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateInitializing:
		b.WriteString(m.viewInitializing())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func checkbox(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter media URL:"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s Download Bandcamp discography (ctrl+g)\n", checkbox(m.discography))
	fmt.Fprintf(&b, "  %s Create library playlist (ctrl+l)\n", checkbox(m.playlist))
	fmt.Fprintf(&b, "  %s Fetch in ranges (ctrl+t)\n", checkbox(m.chunked))
	fmt.Fprintf(&b, "  %s Verbose output (ctrl+o)\n", checkbox(m.verbose))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Download path: %s", m.settings.DownloadsPath)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewInitializing() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render("Starting downloads..."))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	if len(m.items) > 0 {
		b.WriteString(successStyle.Render(fmt.Sprintf("Downloading %d item(s):", len(m.items))))
		b.WriteString("\n")
		for _, item := range m.items {
			b.WriteString(itemStyle.Render(fmt.Sprintf("  ♪ %s", item)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(m.progress.View())
	b.WriteString("\n")

	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Files: %d/%d | Downloaded: %s",
		m.downloadedFiles,
		m.totalFiles,
		config.FormatBytes(m.receivedBytes),
	)))
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewComplete() string {
	box := boxStyle.Render(fmt.Sprintf(
		"✓ Download Complete!\n\n"+
			"Succeeded: %d\n"+
			"Failed: %d\n"+
			"Files: %d\n"+
			"Size: %s",
		m.succeeded,
		m.failed,
		m.downloadedFiles,
		config.FormatBytes(m.receivedBytes),
	))
	return box + "\n\n" + m.renderLogs()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("✗ Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		fmt.Fprintf(&b, "  %s", m.err.Error())
	}
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case download.LevelError:
			style = errorStyle
			prefix = "✗"
		case download.LevelWarning:
			style = warningStyle
			prefix = "!"
		case download.LevelSuccess:
			style = successStyle
			prefix = "✓"
		case download.LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • ctrl+r: resume pending • esc: quit"
	case StateInitializing, StateDownloading:
		return "esc: cancel (part files are kept)"
	case StateComplete, StateError:
		return "r: new download • q: quit"
	}
	return ""
}

// initializeDownload builds a manager for the chosen options, starts it and
// requests the URL, or resumes the pending downloads when resume is set.
func (m *Model) initializeDownload(resume bool) tea.Cmd {
	url := m.textInput.Value()
	settings := *m.settings
	settings.BandcampDiscography = m.discography
	settings.CreatePlaylist = m.playlist
	settings.Chunked = m.chunked
	ctx, logger, events := m.ctx, m.logger, m.events

	return func() tea.Msg {
		manager, err := download.Setup(&settings, logger, nil, func(event download.ProgressEvent) {
			select {
			case events <- event:
			default:
			}
		})
		if err != nil {
			return InitDoneMsg{Err: err}
		}
		runCtx, stopRun := context.WithCancel(ctx)
		runErr := make(chan error, 1)
		go func() {
			runErr <- manager.Run(runCtx)
		}()
		stop := func() error {
			stopRun()
			err := <-runErr
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return errors.Join(err, manager.Close(closeCtx))
		}

		var started []*model.Download
		if resume {
			started, err = manager.ResumePending(ctx)
			if err == nil && len(started) == 0 {
				err = errNothingPending
			}
		} else {
			started, err = manager.Request(ctx, url, manager.RequestOptions())
		}
		msg := InitDoneMsg{Manager: manager, Stop: stop, Err: err}
		for _, d := range started {
			msg.IDs = append(msg.IDs, d.ID)
		}
		msg.Items = manager.GetDownloadNames()
		return msg
	}
}

// waitDownloads waits for every started download and stops the manager.
func (m *Model) waitDownloads() tea.Cmd {
	manager, ids, ctx, stop := m.manager, m.ids, m.ctx, m.stop
	return func() tea.Msg {
		var msg DownloadDoneMsg
		var errs []error
		for _, id := range ids {
			r, err := manager.Wait(ctx, id)
			if err != nil {
				errs = append(errs, err)
				break
			}
			if r.Status == download.StatusSucceeded {
				msg.Succeeded++
			} else {
				msg.Failed++
				errs = append(errs, r.Err)
			}
		}
		errs = append(errs, stop())
		msg.Err = errors.Join(errs...)
		return msg
	}
}

// shutdown stops a manager whose request failed.
func (m *Model) shutdown() tea.Cmd {
	stop, logger := m.stop, m.logger
	if stop == nil {
		return nil
	}
	return func() tea.Msg {
		if err := stop(); err != nil {
			logger.Warn("failed to stop download manager", "error", err)
		}
		return nil
	}
}

// Run starts the TUI application.
func Run(settings *config.Settings, logger *slog.Logger) error {
	p := tea.NewProgram(NewModel(settings, logger), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
