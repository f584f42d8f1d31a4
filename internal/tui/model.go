// Package tui is the terminal scanner: one input line, one result card
// and a status line.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/query"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
)

// Catalog is the part of the synchronizer the scanner drives.
type Catalog interface {
	Snapshot() synchronizer.Snapshot
	Reload(ctx context.Context) synchronizer.Status
	Retry(ctx context.Context) synchronizer.Status
	Subscribe() (<-chan synchronizer.Status, func())
}

// statusMsg carries a status pushed by the synchronizer.
type statusMsg synchronizer.Status

// fetchDoneMsg carries the status a reload or retry ended with.
type fetchDoneMsg synchronizer.Status

// Model is the bubbletea model of the scanner.
type Model struct {
	ctx      context.Context
	catalog  Catalog
	engine   *query.Engine
	renderer *barcode.Renderer

	input   textinput.Model
	status  synchronizer.Status
	result  query.Result
	updates <-chan synchronizer.Status
	stop    func()

	fetching    bool
	allBarcodes bool
	width       int
}

// New returns a scanner bound to c. A nil renderer hides image URLs. Call
// Close once the program has exited.
func New(ctx context.Context, c Catalog, renderer *barcode.Renderer) Model {
	ti := textinput.New()
	ti.Placeholder = "Scan or type a barcode / SKU"
	ti.Prompt = "› "
	ti.CharLimit = 64
	ti.Width = 40
	ti.Focus()

	updates, stop := c.Subscribe()
	return Model{
		ctx:      ctx,
		catalog:  c,
		engine:   query.New(c),
		renderer: renderer,
		input:    ti,
		result:   query.Result{Kind: query.Empty, Index: -1},
		updates:  updates,
		stop:     stop,
	}
}

// Close stops status notifications.
func (m Model) Close() {
	m.stop()
}

// Init starts the cursor blink and the status listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForStatus())
}

func (m Model) waitForStatus() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return nil
		}
		return statusMsg(st)
	}
}

// Update handles key presses and catalog notifications.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case statusMsg:
		m.status = synchronizer.Status(msg)
		m.requery()
		return m, m.waitForStatus()

	case fetchDoneMsg:
		m.fetching = false
		m.status = synchronizer.Status(msg)
		m.requery()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.input.SetValue("")
			m.requery()
			return m, nil
		case "tab":
			m.allBarcodes = !m.allBarcodes
			return m, nil
		case "ctrl+r":
			cmd := m.fetch()
			return m, cmd
		}
	}

	var cmd tea.Cmd
	prev := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != prev {
		m.allBarcodes = false
		m.requery()
	}
	return m, cmd
}

// requery reruns the current input against the active dataset.
func (m *Model) requery() {
	m.result = m.engine.Query(m.input.Value())
}

// fetch reloads a loaded catalog or retries a failed one. It does nothing
// while a fetch is running.
func (m *Model) fetch() tea.Cmd {
	if m.fetching {
		return nil
	}
	var fn func(context.Context) synchronizer.Status
	switch m.catalog.Snapshot().State {
	case synchronizer.Ready:
		fn = m.catalog.Reload
	case synchronizer.Failed, synchronizer.Empty:
		fn = m.catalog.Retry
	default:
		return nil
	}
	m.fetching = true
	ctx := m.ctx
	return func() tea.Msg {
		return fetchDoneMsg(fn(ctx))
	}
}

// View renders the scanner.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Quick-Scan"))
	b.WriteString("\n\n")
	b.WriteString(inputStyle.Render(m.input.View()))
	b.WriteString("\n\n")
	b.WriteString(m.resultView())
	b.WriteString("\n\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("[ctrl+r] reload  [tab] all barcodes  [esc] clear  [ctrl+c] quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) resultView() string {
	switch m.result.Kind {
	case query.Found:
		return m.card()
	case query.NotFound:
		return messageStyle.Render("No matching item found")
	case query.NotReady:
		return messageStyle.Render("Loading catalog…")
	case query.Failed:
		return errorStyle.Render("Unable to load data: "+errString(m.result.Err)) +
			"\n" + hintStyle.Render("Press ctrl+r to retry")
	}

	// Empty input: tell the operator whether scanning works yet.
	switch m.status.State {
	case synchronizer.Ready:
		return readyStyle.Render("Ready to search items")
	case synchronizer.Failed:
		return errorStyle.Render("Unable to load data: "+errString(m.status.Err)) +
			"\n" + hintStyle.Render("Press ctrl+r to retry")
	default:
		return messageStyle.Render("Loading catalog…")
	}
}

func (m Model) card() string {
	it := m.result.Item

	codes := "-"
	switch {
	case len(it.Barcodes) == 0:
	case len(it.Barcodes) == 1 || m.allBarcodes:
		codes = strings.Join(it.Barcodes, ", ")
	default:
		codes = fmt.Sprintf("%s … (+%d)", it.PrimaryBarcode, len(it.Barcodes)-1)
	}

	lines := []string{
		nameStyle.Render(it.Name),
		labelStyle.Render("SKU: ") + it.SKU,
		labelStyle.Render("Barcodes: ") + codes,
	}
	if it.Category != "" {
		lines = append(lines, labelStyle.Render("Category: ")+it.Category)
	}
	if m.renderer != nil {
		if u := m.renderer.URL(it.PrimaryBarcode); u != "" {
			lines = append(lines, labelStyle.Render("Image: ")+u)
		}
	}

	style := cardStyle
	if m.width > 8 {
		style = style.MaxWidth(m.width)
	}
	return style.Render(strings.Join(lines, "\n"))
}

func (m Model) statusLine() string {
	st := m.status
	parts := []string{st.State.String()}
	if st.Items > 0 {
		parts = append(parts, fmt.Sprintf("%d items", st.Items))
	}
	if st.Source != "" {
		parts = append(parts, "from "+string(st.Source))
	}
	if !st.FetchedAt.IsZero() {
		parts = append(parts, "fetched "+st.FetchedAt.Local().Format(time.DateTime))
	}
	if st.Refreshing || m.fetching {
		parts = append(parts, "refreshing…")
	}
	line := hintStyle.Render(strings.Join(parts, " · "))
	if st.State == synchronizer.Ready && st.Err != nil {
		line += "\n" + errorStyle.Render("Last refresh failed: "+st.Err.Error())
	}
	return line
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
