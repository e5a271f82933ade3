// Package tui is the terminal client of the recovery workflow. It renders one
// screen at a time and lets goRecover.AllowedScreen decide which one.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	goRecover "github.com/MrEthical07/goRecover"
)

const defaultOpTimeout = 15 * time.Second

// Options customizes an App.
type Options struct {
	Title     string
	OpTimeout time.Duration
}

// sessionChangedMsg is delivered after the store committed a transition.
type sessionChangedMsg struct{}

// opFinishedMsg carries the return value of a store operation.
type opFinishedMsg struct {
	op  goRecover.Op
	err error
}

// App is the bubbletea model of the recovery client.
type App struct {
	store *goRecover.SessionStore
	opts  Options

	screen  goRecover.Screen
	session goRecover.Session

	changes     chan struct{}
	unsubscribe func()

	email    textinput.Model
	code     textinput.Model
	password textinput.Model
	confirm  textinput.Model

	notice string
	width  int
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD93D")).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00BFFF"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Italic(true)
	doneStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF00"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).MarginTop(1)
)

// NewApp subscribes to store and opens the screen its session allows.
func NewApp(store *goRecover.SessionStore, opts Options) *App {
	if opts.Title == "" {
		opts.Title = "Account recovery"
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}

	a := &App{
		store:   store,
		opts:    opts,
		changes: make(chan struct{}, 1),
	}

	a.email = textinput.New()
	a.email.Placeholder = "you@example.com"
	a.email.CharLimit = 254
	a.email.Width = 40

	a.code = textinput.New()
	a.code.Placeholder = "123456"
	a.code.CharLimit = 10
	a.code.Width = 12

	a.password = newSecretInput("new password")
	a.confirm = newSecretInput("repeat password")

	a.unsubscribe = store.Subscribe(func(goRecover.Session) {
		select {
		case a.changes <- struct{}{}:
		default:
		}
	})

	a.session = store.Snapshot()
	a.enter(goRecover.AllowedScreen(a.session))
	return a
}

func newSecretInput(placeholder string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	in.CharLimit = 128
	in.Width = 40
	return in
}

// Screen returns the screen currently rendered.
func (a *App) Screen() goRecover.Screen {
	return a.screen
}

// Close stops listening to the store.
func (a *App) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.waitForChange())
}

func (a *App) waitForChange() tea.Cmd {
	ch := a.changes
	return func() tea.Msg {
		<-ch
		return sessionChangedMsg{}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		return a, nil

	case sessionChangedMsg:
		a.sync()
		return a, a.waitForChange()

	case opFinishedMsg:
		if msg.err != nil && errors.Is(msg.err, goRecover.ErrTransition) {
			a.notice = msg.err.Error()
		}
		a.sync()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, a.updateFocused(msg)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		a.Close()
		return a, tea.Quit
	case "esc":
		a.store.Cancel()
		a.email.Reset()
		a.sync()
		return a, nil
	case "enter":
		return a, a.submit()
	case "tab", "shift+tab", "up", "down":
		if a.screen == goRecover.ScreenNewPassword {
			return a, a.toggleConfirmFocus()
		}
	case "ctrl+r":
		if a.screen == goRecover.ScreenVerify {
			a.notice = "sending a new code"
			return a, a.run(goRecover.OpResendCode, a.store.ResendCode)
		}
	}
	return a, a.updateFocused(msg)
}

func (a *App) submit() tea.Cmd {
	a.notice = ""
	switch a.screen {
	case goRecover.ScreenRequest:
		email := a.email.Value()
		return a.run(goRecover.OpRequestReset, func(ctx context.Context) error {
			return a.store.RequestReset(ctx, email)
		})
	case goRecover.ScreenVerify:
		code := a.code.Value()
		return a.run(goRecover.OpSubmitCode, func(ctx context.Context) error {
			return a.store.SubmitCode(ctx, code)
		})
	case goRecover.ScreenNewPassword:
		if a.password.Focused() && a.confirm.Value() == "" {
			return a.toggleConfirmFocus()
		}
		pw, confirm := a.password.Value(), a.confirm.Value()
		return a.run(goRecover.OpSubmitNewPassword, func(ctx context.Context) error {
			return a.store.SubmitNewPassword(ctx, pw, confirm)
		})
	case goRecover.ScreenLogin:
		a.store.Cancel()
		a.email.Reset()
		a.sync()
	}
	return nil
}

func (a *App) run(op goRecover.Op, fn func(context.Context) error) tea.Cmd {
	timeout := a.opts.OpTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return opFinishedMsg{op: op, err: fn(ctx)}
	}
}

// sync pulls the current session and redirects when the rendered screen is
// no longer allowed.
func (a *App) sync() {
	a.session = a.store.Snapshot()
	if next, ok := goRecover.Redirect(a.screen, a.session); ok {
		a.enter(next)
	}
}

func (a *App) enter(screen goRecover.Screen) {
	a.screen = screen
	a.notice = ""
	a.email.Blur()
	a.code.Blur()
	a.password.Blur()
	a.confirm.Blur()

	switch screen {
	case goRecover.ScreenRequest:
		a.code.Reset()
		a.password.Reset()
		a.confirm.Reset()
		a.email.Focus()
	case goRecover.ScreenVerify:
		a.code.Reset()
		a.code.Focus()
	case goRecover.ScreenNewPassword:
		a.code.Reset()
		a.password.Reset()
		a.confirm.Reset()
		a.password.Focus()
	case goRecover.ScreenLogin:
		a.password.Reset()
		a.confirm.Reset()
	}
}

func (a *App) toggleConfirmFocus() tea.Cmd {
	if a.password.Focused() {
		a.password.Blur()
		return a.confirm.Focus()
	}
	a.confirm.Blur()
	return a.password.Focus()
}

func (a *App) updateFocused(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch {
	case a.email.Focused():
		a.email, cmd = a.email.Update(msg)
	case a.code.Focused():
		a.code, cmd = a.code.Update(msg)
	case a.password.Focused():
		a.password, cmd = a.password.Update(msg)
	case a.confirm.Focused():
		a.confirm, cmd = a.confirm.Update(msg)
	}
	return cmd
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(a.opts.Title))
	b.WriteString("\n")

	var help string
	switch a.screen {
	case goRecover.ScreenRequest:
		b.WriteString(labelStyle.Render("Email") + "\n")
		b.WriteString(a.email.View() + "\n")
		help = "enter: send code • ctrl+c: quit"
	case goRecover.ScreenVerify:
		b.WriteString("A code was sent to " + a.session.Email + "\n\n")
		b.WriteString(labelStyle.Render("Code") + "\n")
		b.WriteString(a.code.View() + "\n")
		help = "enter: verify • ctrl+r: resend • esc: start over • ctrl+c: quit"
	case goRecover.ScreenNewPassword:
		b.WriteString(labelStyle.Render("New password") + "\n")
		b.WriteString(a.password.View() + "\n")
		b.WriteString(labelStyle.Render("Confirm") + "\n")
		b.WriteString(a.confirm.View() + "\n")
		help = "tab: switch field • enter: save • esc: start over • ctrl+c: quit"
	case goRecover.ScreenLogin:
		b.WriteString(doneStyle.Render("Password updated. Sign in with your new password.") + "\n")
		help = "enter: recover another account • ctrl+c: quit"
	}

	if a.session.Pending {
		b.WriteString("\n" + noticeStyle.Render("working..."))
	}
	if e := a.session.Err; e != nil {
		b.WriteString("\n" + errorStyle.Render(e.Message))
	}
	if a.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(a.notice))
	}
	b.WriteString("\n" + helpStyle.Render(help) + "\n")

	out := b.String()
	if a.width > 0 {
		out = lipgloss.NewStyle().MaxWidth(a.width).Render(out)
	}
	return out
}
