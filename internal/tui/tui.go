// Package tui renders a live terminal view of the sync state: network
// quality, queue depth, pass progress and the conflicts waiting for a
// decision.
package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/models"
)

type TUI struct {
	coordinator Coordinator
	scheduler   ProgressiveStatus
	buildInfo   models.AppBuildInfo
	logger      *logger.Logger
}

// New creates the status view. scheduler may be nil.
func New(coordinator Coordinator, scheduler ProgressiveStatus, buildInfo models.AppBuildInfo, log *logger.Logger) (*TUI, error) {
	if coordinator == nil {
		return nil, ErrNoCoordinator
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TUI{
		coordinator: coordinator,
		scheduler:   scheduler,
		buildInfo:   buildInfo,
		logger:      log.WithComponent("tui"),
	}, nil
}

// Run blocks until the user quits or ctx is cancelled.
func (t *TUI) Run(ctx context.Context) error {
	feed := newStateFeed()
	dispose := t.coordinator.OnStateChange(feed.push)
	defer dispose()

	model := newStatusModel(ctx, t.coordinator, t.scheduler, feed, t.buildInfo)
	_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		t.logger.Err(err).Str("func", "TUI.Run").Msg("status view stopped")
	}
	return err
}
