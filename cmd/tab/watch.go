package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cl "bartab/internal/cli"
	"bartab/internal/market"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	upStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	downStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

type statusMsg struct {
	status market.Status
	err    error
}

type pollMsg struct{}

type watchModel struct {
	ctx      context.Context
	client   *cl.Client
	token    string
	every    time.Duration
	spinner  spinner.Model
	status   market.Status
	loaded   bool
	err      error
	fetching bool
}

func newWatchModel(ctx context.Context, client *cl.Client, token string, every time.Duration) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle
	return watchModel{ctx: ctx, client: client, token: token, every: every, spinner: sp, fetching: true}
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		st, err := m.client.MarketStatus(ctx, m.token)
		return statusMsg{status: st, err: err}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			if !m.fetching {
				m.fetching = true
				return m, m.fetch()
			}
		}
	case statusMsg:
		m.fetching = false
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.loaded = true
		}
		return m, tea.Tick(m.every, func(time.Time) tea.Msg { return pollMsg{} })
	case pollMsg:
		if m.ctx.Err() != nil {
			return m, tea.Quit
		}
		m.fetching = true
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	header := titleStyle.Render("bartab market")
	if m.fetching {
		header += " " + m.spinner.View()
	}
	b.WriteString(header + "\n\n")

	if !m.loaded {
		if m.err != nil {
			b.WriteString(downStyle.Render("error: "+m.err.Error()) + "\n")
		} else {
			b.WriteString(dimStyle.Render("loading...") + "\n")
		}
		b.WriteString(dimStyle.Render("\nq quit") + "\n")
		return b.String()
	}

	st := m.status
	state := downStyle.Render("CLOSED")
	if st.Open {
		state = upStyle.Render("OPEN")
	}
	summary := fmt.Sprintf("%s  %s %s  change %s  gold %.2f",
		state, market.TrendEmoji(st.Trend), st.Trend, styledPercent(st.MarketChange), st.GoldPrice)

	var rows strings.Builder
	rows.WriteString(fmt.Sprintf("%-8s %10s %9s\n", "SYMBOL", "PRICE", "CHANGE"))
	for _, s := range st.Stocks {
		rows.WriteString(fmt.Sprintf("%-8s %10.2f %9s\n", s.Symbol, s.Price, styledPercent(percentChange(s.Price, s.PreviousPrice))))
	}
	b.WriteString(summary + "\n")
	b.WriteString(boxStyle.Render(strings.TrimRight(rows.String(), "\n")) + "\n")

	for _, ev := range st.News {
		line := "• " + ev.Text
		switch {
		case ev.Impact > 0:
			line = upStyle.Render(line)
		case ev.Impact < 0:
			line = downStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if m.err != nil {
		b.WriteString(downStyle.Render("last refresh failed: "+m.err.Error()) + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("\nupdated %s  r refresh  q quit", st.LastUpdate.Local().Format(time.Kitchen))) + "\n")
	return b.String()
}

func styledPercent(v float64) string {
	text := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return upStyle.Render(text)
	case v < 0:
		return downStyle.Render(text)
	default:
		return text
	}
}

// runWatch shows a live market board. Without a terminal it prints one
// snapshot instead.
func runWatch(ctx context.Context, client *cl.Client, token string, every time.Duration) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		st, err := client.MarketStatus(ctx, token)
		if err != nil {
			return err
		}
		renderMarket(st)
		return nil
	}
	_, err := tea.NewProgram(newWatchModel(ctx, client, token, every), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
