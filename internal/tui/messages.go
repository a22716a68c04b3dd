package tui

import (
	"time"

	"github.com/MKhiriev/go-offline-sync/models"
)

type stateMsg struct {
	state models.SyncState
}

type syncDoneMsg struct {
	result models.SyncResult
	err    error
}

type conflictDoneMsg struct {
	operationID string
	action      string
	err         error
}

type tickMsg time.Time

type clearStatusMsg struct{}
