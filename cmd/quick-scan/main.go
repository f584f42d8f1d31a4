// Command quick-scan is the terminal scanner: type or scan a barcode or SKU
// suffix and see the matching item.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/aap-rauf/Quick-Scan/internal/app"
	"github.com/aap-rauf/Quick-Scan/internal/barcode"
	"github.com/aap-rauf/Quick-Scan/internal/tui"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "quick-scan:", err)
		os.Exit(1)
	}

	lg, closeLog, err := app.NewFileLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "quick-scan:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err = run(ctx, cfg, lg)
	cancel()
	if err != nil {
		lg.Error("Scanner failed", zap.Error(err))
	}
	closeLog()
	if err != nil {
		fmt.Fprintln(os.Stderr, "quick-scan:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, lg *zap.Logger) error {
	renderer, err := barcode.New(cfg.Barcode)
	if err != nil {
		return errors.Wrap(err, "create barcode renderer")
	}

	syncer, closeSync, err := app.NewSynchronizer(ctx, cfg, lg, app.Telemetry{})
	if err != nil {
		return errors.Wrap(err, "create synchronizer")
	}
	defer closeSync()

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	// The UI comes up at once and shows Loading until the catalog is in.
	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		st := syncer.Initialize(ctx)
		lg.Info("Catalog initialized", zap.Stringer("state", st.State), zap.Int("items", st.Items))
		if err := app.KeepFresh(ctx, cfg, syncer, lg); err != nil {
			lg.Error("Background refresh stopped", zap.Error(err))
		}
	}()

	m := tui.New(ctx, syncer, renderer)
	defer m.Close()

	_, err = tea.NewProgram(m, tea.WithContext(ctx)).Run()
	stop()
	<-bgDone
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "run scanner")
	}
	return nil
}
