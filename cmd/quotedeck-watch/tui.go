package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"quotedeck/internal/domain"
	"quotedeck/internal/session"
)

// Styles.
var (
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	bullStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	bearStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	wickStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	axisStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bidStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	askStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusOpenSt   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	statusWaitSt   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	statusDownSt   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	statusErrSt    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	inputStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("11")) // black on yellow
)

func statusStyle(state domain.StreamState) lipgloss.Style {
	switch state {
	case domain.StreamOpen:
		return statusOpenSt
	case domain.StreamConnecting:
		return statusWaitSt
	case domain.StreamError:
		return statusErrSt
	default:
		return statusDownSt
	}
}

// Messages.
type tickMsg time.Time
type updateMsg struct{}
type sessionClosedMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForUpdate blocks on the session's notification channel and fires
// updateMsg, or sessionClosedMsg once the channel closes.
func waitForUpdate(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return sessionClosedMsg{}
		}
		return updateMsg{}
	}
}

// Model.

const (
	yAxisWidth   = 11 // "  12345.67 │"
	sidePanelW   = 26
	ladderDepth  = 5
	maxSymbolLen = 10
)

type model struct {
	sess    *session.Session
	updates <-chan struct{}
	cancel  context.CancelFunc
	logger  *slog.Logger

	view          session.View
	width, height int

	// Symbol entry.
	typing bool
	input  string
}

func newModel(sess *session.Session, updates <-chan struct{}, cancel context.CancelFunc, logger *slog.Logger) model {
	return model{
		sess:    sess,
		updates: updates,
		cancel:  cancel,
		logger:  logger,
		view:    sess.View(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case updateMsg:
		m.view = m.sess.View()
		return m, waitForUpdate(m.updates)

	case tickMsg:
		m.view = m.sess.View()
		return m, tickCmd()

	case sessionClosedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		if m.typing {
			return m.updateSymbolEntry(msg), nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "s":
			m.typing = true
			m.input = ""
		case "1":
			m.switchRange(domain.Timeframe1D)
		case "2":
			m.switchRange(domain.Timeframe1W)
		case "3":
			m.switchRange(domain.Timeframe1M)
		case "4":
			m.switchRange(domain.Timeframe3M)
		case "5":
			m.switchRange(domain.Timeframe1Y)
		}
		return m, nil
	}

	return m, nil
}

func (m *model) updateSymbolEntry(msg tea.KeyMsg) model {
	switch msg.String() {
	case "enter":
		sym := strings.TrimSpace(m.input)
		m.typing = false
		m.input = ""
		if sym != "" {
			if err := m.sess.Switch(sym, m.view.Timeframe); err != nil {
				m.logger.Warn("symbol switch failed", "symbol", sym, "error", err)
			}
		}
	case "esc":
		m.typing = false
		m.input = ""
	case "backspace":
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	default:
		for _, r := range msg.Runes {
			if isSymbolRune(r) && len(m.input) < maxSymbolLen {
				m.input += strings.ToUpper(string(r))
			}
		}
	}
	return *m
}

func (m *model) switchRange(tf domain.Timeframe) {
	if err := m.sess.Switch(m.view.Symbol, tf); err != nil {
		m.logger.Warn("range switch failed", "timeframe", tf, "error", err)
	}
}

func isSymbolRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '.' || r == '-':
		return true
	}
	return false
}

// View.

func (m model) View() string {
	if m.width == 0 {
		return "loading…"
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderChart(), " ", m.renderSide()))
	b.WriteByte('\n')
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m model) renderHeader() string {
	v := m.view
	badge := statusStyle(v.Status).Render(strings.ToUpper(string(v.Status)))
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s", symbolStyle.Render(v.Symbol), v.Timeframe, badge)
	if v.StatusMsg != "" && (v.Status == domain.StreamError || v.Status == domain.StreamClosed) {
		b.WriteString("  ")
		b.WriteString(colHeaderStyle.Render(v.StatusMsg))
	}
	if len(v.Bars) > 0 {
		last := v.Bars[len(v.Bars)-1]
		fmt.Fprintf(&b, "  O:%.2f H:%.2f L:%.2f C:%.2f V:%.0f", last.Open, last.High, last.Low, last.Close, last.Volume)
	}
	if v.Mid > 0 {
		fmt.Fprintf(&b, "  mid %.2f  spread %.2f", v.Mid, v.Spread)
	}
	return b.String()
}

func (m model) chartHeight() int {
	// Reserve: 1 header + chart rows + 1 x-axis line + 1 time-label line + 1 footer.
	h := m.height - 4
	if h < 3 {
		h = 3
	}
	return h
}

func (m model) renderChart() string {
	chartH := m.chartHeight()

	bars := m.view.Bars
	chartW := m.width - sidePanelW - 1 - yAxisWidth
	maxCols := chartW / 2 // each candle occupies 2 chars
	if maxCols < 1 {
		maxCols = 1
	}
	if len(bars) > maxCols {
		bars = bars[len(bars)-maxCols:]
	}

	hi, lo := priceRange(bars)
	if hi == lo {
		hi = lo + 1
	}

	// 2-D grid of styled one-char cells, rows by columns.
	cols := len(bars) * 2
	grid := make([][]string, chartH)
	for r := range grid {
		grid[r] = make([]string, cols)
		for c := range grid[r] {
			grid[r][c] = " "
		}
	}
	for i, bar := range bars {
		renderCandle(grid, bar, i*2, chartH, hi, lo)
	}

	var b strings.Builder
	for row := 0; row < chartH; row++ {
		label := fmt.Sprintf("%9.2f │", rowToPrice(row, chartH, hi, lo))
		b.WriteString(axisStyle.Render(label))
		b.WriteString(strings.Join(grid[row], ""))
		b.WriteByte('\n')
	}

	b.WriteString(axisStyle.Render(strings.Repeat("─", yAxisWidth+cols)))
	b.WriteByte('\n')

	b.WriteString(strings.Repeat(" ", yAxisWidth))
	b.WriteString(axisStyle.Render(m.timeLabels(bars, cols)))

	return b.String()
}

// timeLabels lays a timestamp under every tenth candle.
func (m model) timeLabels(bars []domain.Bar, cols int) string {
	layout := "01-02"
	if m.view.Timeframe.Intraday() {
		layout = "15:04"
	}
	row := make([]rune, cols)
	for i := range row {
		row[i] = ' '
	}
	for i := 0; i < len(bars); i += 10 {
		label := time.UnixMilli(bars[i].Time).UTC().Format(layout)
		pos := i * 2
		if pos+len(label) > cols {
			break
		}
		copy(row[pos:], []rune(label))
	}
	return string(row)
}

// renderCandle paints one candle into the grid at column x (2 cells wide).
func renderCandle(grid [][]string, bar domain.Bar, x, chartH int, hi, lo float64) {
	style := bullStyle
	if bar.Close < bar.Open {
		style = bearStyle
	}

	bodyTop := priceToRow(math.Max(bar.Open, bar.Close), chartH, hi, lo)
	bodyBot := priceToRow(math.Min(bar.Open, bar.Close), chartH, hi, lo)
	wickTop := priceToRow(bar.High, chartH, hi, lo)
	wickBot := priceToRow(bar.Low, chartH, hi, lo)

	for row := 0; row < chartH; row++ {
		inBody := row >= bodyTop && row <= bodyBot
		inWick := row >= wickTop && row <= wickBot

		var left, right string
		switch {
		case inBody:
			left = style.Render("█")
			right = style.Render("█")
		case inWick:
			left = wickStyle.Render("│")
			right = " "
		default:
			left = " "
			right = " "
		}

		if x < len(grid[row]) {
			grid[row][x] = left
		}
		if x+1 < len(grid[row]) {
			grid[row][x+1] = right
		}
	}
}

// priceToRow converts a price to a grid row (0 = top = high).
func priceToRow(price float64, chartH int, hi, lo float64) int {
	if hi == lo {
		return chartH / 2
	}
	row := (hi - price) / (hi - lo) * float64(chartH-1)
	r := int(math.Round(row))
	if r < 0 {
		r = 0
	}
	if r >= chartH {
		r = chartH - 1
	}
	return r
}

// rowToPrice is the inverse of priceToRow.
func rowToPrice(row, chartH int, hi, lo float64) float64 {
	if chartH <= 1 {
		return hi
	}
	return hi - float64(row)/float64(chartH-1)*(hi-lo)
}

func priceRange(bars []domain.Bar) (hi, lo float64) {
	hi = -math.MaxFloat64
	lo = math.MaxFloat64
	for _, bar := range bars {
		if bar.High > hi {
			hi = bar.High
		}
		if bar.Low < lo {
			lo = bar.Low
		}
	}
	if hi == -math.MaxFloat64 {
		hi = 0
	}
	if lo == math.MaxFloat64 {
		lo = 0
	}
	return
}

// renderSide draws the order book ladder and the trade tape next to the
// chart. Both sides of the ladder always occupy ladderDepth rows so the
// layout holds still while levels come and go.
func (m model) renderSide() string {
	v := m.view
	lines := make([]string, 0, m.chartHeight()+2)

	lines = append(lines, colHeaderStyle.Render(fmt.Sprintf("%9s %7s %8s", "price", "size", "value")))
	for i := ladderDepth - 1; i >= 0; i-- {
		lines = append(lines, ladderLine(v.Book.Asks, i, askStyle))
	}
	lines = append(lines, colHeaderStyle.Render(fmt.Sprintf("   spread %6.2f", v.Spread)))
	for i := 0; i < ladderDepth; i++ {
		lines = append(lines, ladderLine(v.Book.Bids, i, bidStyle))
	}

	lines = append(lines, colHeaderStyle.Render(fmt.Sprintf("%-8s %9s %6s", "time", "price", "size")))
	tapeRows := m.chartHeight() + 2 - len(lines)
	if tapeRows > len(v.Trades) {
		tapeRows = len(v.Trades)
	}
	for i := 0; i < tapeRows; i++ {
		t := v.Trades[i]
		style := bidStyle
		if t.Side == domain.SideSell {
			style = askStyle
		}
		ts := time.UnixMilli(t.Time).UTC().Format("15:04:05")
		lines = append(lines, style.Render(fmt.Sprintf("%-8s %9.2f %6.0f", ts, t.Price, t.Size)))
	}

	return strings.Join(lines, "\n")
}

func ladderLine(levels []domain.QuoteLevel, i int, style lipgloss.Style) string {
	if i >= len(levels) {
		return ""
	}
	l := levels[i]
	return style.Render(fmt.Sprintf("%9.2f %7.0f %8.0f", l.Price, l.Size, l.Total))
}

func (m model) renderFooter() string {
	if m.typing {
		return "symbol: " + inputStyle.Render(" "+m.input+"█ ") +
			footerStyle.Render("  enter to switch, esc to cancel")
	}
	return footerStyle.Render("[q] quit  [1-5] 1D 1W 1M 3M 1Y  [s] symbol")
}
