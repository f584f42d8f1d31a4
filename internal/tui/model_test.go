package tui

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/domain/catalog"
	"github.com/aap-rauf/Quick-Scan/internal/query"
	"github.com/aap-rauf/Quick-Scan/internal/synchronizer"
)

func widgets() *catalog.Dataset {
	return catalog.NewDataset([]catalog.Item{
		catalog.Normalize(catalog.RawRow{SKU: "A100", Name: "Widget", Barcode: "000111222, 555"}),
	}, time.Now(), catalog.SourceLive)
}

func newSync(t *testing.T, fail *atomic.Bool, calls *atomic.Int32) *synchronizer.Synchronizer {
	t.Helper()
	s := synchronizer.New(synchronizer.FetcherFunc(func(context.Context) (*catalog.Dataset, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("sheet unreachable")
		}
		return widgets(), nil
	}), nil)
	t.Cleanup(s.Close)
	return s
}

func typeText(m tea.Model, s string) tea.Model {
	for _, r := range s {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return m
}

func press(t *testing.T, m tea.Model, key tea.KeyType) (tea.Model, tea.Cmd) {
	t.Helper()
	return m.Update(tea.KeyMsg{Type: key})
}

func TestModel_Lookup(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	s := newSync(t, &fail, &calls)
	s.Initialize(context.Background())

	renderer, err := barcode.New(barcode.Config{})
	require.NoError(t, err)
	m := New(context.Background(), s, renderer)
	defer m.Close()

	var tm tea.Model = m
	tm = typeText(tm, "222")
	got := tm.(Model)
	require.Equal(t, query.Found, got.result.Kind)

	view := got.View()
	assert.Contains(t, view, "Widget")
	assert.Contains(t, view, "A100")
	assert.Contains(t, view, "000111222 … (+1)")
	assert.Contains(t, view, "https://barcodeapi.org/api/code128/000111222")

	tm, _ = press(t, tm, tea.KeyTab)
	assert.Contains(t, tm.View(), "000111222, 555")

	tm = typeText(tm, "9")
	assert.Contains(t, tm.View(), "No matching item found")

	tm, _ = press(t, tm, tea.KeyEsc)
	assert.Equal(t, query.Empty, tm.(Model).result.Kind)
}

func TestModel_StatusUpdates(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	s := newSync(t, &fail, &calls)

	m := New(context.Background(), s, nil)
	defer m.Close()

	var tm tea.Model = typeText(m, "222")
	assert.Equal(t, query.NotReady, tm.(Model).result.Kind)

	s.Initialize(context.Background())

	// Feed pushed statuses until the model sees Ready.
	cmd := m.waitForStatus()
	for range 3 {
		var next tea.Cmd
		tm, next = tm.Update(cmd())
		if tm.(Model).status.State == synchronizer.Ready {
			break
		}
		cmd = next
	}
	got := tm.(Model)
	require.Equal(t, synchronizer.Ready, got.status.State)
	// The pending query is rerun against the new dataset.
	assert.Equal(t, query.Found, got.result.Kind)
	assert.Contains(t, got.View(), "1 items")
}

func TestModel_RetryAndReload(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	fail.Store(true)
	s := newSync(t, &fail, &calls)
	s.Initialize(context.Background())
	require.EqualValues(t, 1, calls.Load())

	m := New(context.Background(), s, nil)
	defer m.Close()

	var tm tea.Model = m
	tm, _ = tm.Update(statusMsg(s.Status()))
	view := tm.View()
	assert.Contains(t, view, "Unable to load data: sheet unreachable")
	assert.Contains(t, view, "ctrl+r")

	fail.Store(false)
	tm, cmd := press(t, tm, tea.KeyCtrlR)
	require.NotNil(t, cmd)

	// A second ctrl+r while the first is running does nothing.
	_, again := press(t, tm, tea.KeyCtrlR)
	assert.Nil(t, again)

	tm, _ = tm.Update(cmd())
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, synchronizer.Ready, tm.(Model).status.State)
	assert.Contains(t, tm.View(), "Ready to search items")

	// In Ready, ctrl+r reloads.
	tm, cmd = press(t, tm, tea.KeyCtrlR)
	require.NotNil(t, cmd)
	tm.Update(cmd())
	assert.EqualValues(t, 3, calls.Load())
}

func TestModel_Quit(t *testing.T) {
	var fail atomic.Bool
	var calls atomic.Int32
	m := New(context.Background(), newSync(t, &fail, &calls), nil)
	defer m.Close()

	_, cmd := press(t, m, tea.KeyCtrlC)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}
