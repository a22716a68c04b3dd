package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	tickInterval  = time.Second
	statusTimeout = 3 * time.Second
)

// stateFeed hands the newest snapshot to the program. Older unread
// snapshots are dropped.
type stateFeed chan models.SyncState

func newStateFeed() stateFeed {
	return make(stateFeed, 1)
}

func (f stateFeed) push(s models.SyncState) {
	for {
		select {
		case f <- s:
			return
		default:
		}
		select {
		case <-f:
		default:
		}
	}
}

func (f stateFeed) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-f:
			return stateMsg{state: s}
		case <-ctx.Done():
			return nil
		}
	}
}

type statusModel struct {
	ctx         context.Context
	coordinator Coordinator
	scheduler   ProgressiveStatus
	feed        stateFeed
	buildInfo   models.AppBuildInfo

	state       models.SyncState
	progressive models.ProgressiveStatus
	idx         int
	syncing     bool
	spinner     spinner.Model
	status      string
	errMsg      string

	showBuildInfo bool
}

func newStatusModel(ctx context.Context, coordinator Coordinator, scheduler ProgressiveStatus, feed stateFeed, buildInfo models.AppBuildInfo) statusModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	m := statusModel{
		ctx:         ctx,
		coordinator: coordinator,
		scheduler:   scheduler,
		feed:        feed,
		buildInfo:   buildInfo,
		state:       coordinator.State(),
		spinner:     s,
	}
	if scheduler != nil {
		m.progressive = scheduler.Status()
	}
	return m
}

func (m statusModel) Init() tea.Cmd {
	return tea.Batch(m.feed.wait(m.ctx), m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func clearStatusAfter() tea.Cmd {
	return tea.Tick(statusTimeout, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stateMsg:
		m.state = msg.state
		m.clampSelection()
		return m, m.feed.wait(m.ctx)
	case tickMsg:
		if m.scheduler != nil {
			m.progressive = m.scheduler.Status()
		}
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case syncDoneMsg:
		m.syncing = false
		if msg.err != nil {
			m.errMsg = humanizeServerUnavailableError(msg.err)
			return m, nil
		}
		m.errMsg = ""
		m.status = fmt.Sprintf("Sync finished: %d synced, %d failed, %d conflicts",
			msg.result.Completed, msg.result.Failed, msg.result.Conflicts)
		return m, clearStatusAfter()
	case conflictDoneMsg:
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("Could not %s %s: %v", msg.action, msg.operationID, msg.err)
			return m, nil
		}
		m.errMsg = ""
		m.status = fmt.Sprintf("Conflict %s: %s", msg.operationID, msg.action)
		m.state = m.coordinator.State()
		m.clampSelection()
		return m, clearStatusAfter()
	case clearStatusMsg:
		m.status = ""
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m statusModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.quit) {
		return m, tea.Quit
	}
	if m.showBuildInfo {
		if key.Matches(msg, keys.esc) || key.Matches(msg, keys.version) {
			m.showBuildInfo = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, keys.version):
		m.showBuildInfo = true
	case key.Matches(msg, keys.up):
		if m.idx > 0 {
			m.idx--
		}
	case key.Matches(msg, keys.down):
		if m.idx < len(m.state.ActiveConflicts)-1 {
			m.idx++
		}
	case key.Matches(msg, keys.sync):
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		m.errMsg = ""
		return m, m.cmdSync()
	case key.Matches(msg, keys.keepLocal):
		if c, ok := m.selected(); ok {
			return m, m.cmdResolve(c.OperationID, c.Conflict.LocalVersion, "kept local")
		}
	case key.Matches(msg, keys.acceptMerge):
		if c, ok := m.selected(); ok {
			if c.Resolution.ResolvedData == nil {
				m.errMsg = "No merge suggestion for this conflict"
				return m, nil
			}
			return m, m.cmdResolve(c.OperationID, c.Resolution.ResolvedData, "merged")
		}
	case key.Matches(msg, keys.discard):
		if c, ok := m.selected(); ok {
			return m, m.cmdDiscard(c.OperationID)
		}
	}
	return m, nil
}

func (m *statusModel) clampSelection() {
	if m.idx >= len(m.state.ActiveConflicts) {
		m.idx = len(m.state.ActiveConflicts) - 1
	}
	if m.idx < 0 {
		m.idx = 0
	}
}

func (m statusModel) selected() (models.ActiveConflict, bool) {
	if m.idx < 0 || m.idx >= len(m.state.ActiveConflicts) {
		return models.ActiveConflict{}, false
	}
	return m.state.ActiveConflicts[m.idx], true
}

func (m statusModel) cmdSync() tea.Cmd {
	return func() tea.Msg {
		res, err := m.coordinator.SyncNow(m.ctx)
		return syncDoneMsg{result: res, err: err}
	}
}

func (m statusModel) cmdResolve(operationID string, data map[string]any, action string) tea.Cmd {
	return func() tea.Msg {
		err := m.coordinator.ResolveConflict(m.ctx, operationID, data)
		return conflictDoneMsg{operationID: operationID, action: action, err: err}
	}
}

func (m statusModel) cmdDiscard(operationID string) tea.Cmd {
	return func() tea.Msg {
		err := m.coordinator.DiscardConflict(m.ctx, operationID)
		return conflictDoneMsg{operationID: operationID, action: "discarded", err: err}
	}
}

func (m statusModel) View() string {
	if m.showBuildInfo {
		return appStyle.Render(renderBuildInfoWindow(m.buildInfo))
	}

	st := m.state
	var b strings.Builder

	fmt.Fprintf(&b, "Network:     %s\n", networkLine(st))

	syncLine := string(st.SyncStatus)
	if st.SyncStatus == models.SyncSyncing || m.syncing {
		syncLine += " " + m.spinner.View()
	}
	fmt.Fprintf(&b, "Sync:        %s\n", syncLine)
	if st.Progress.Total > 0 {
		fmt.Fprintf(&b, "Progress:    %s  %d/%d, batch %d/%d\n",
			progressBar(st.Progress), st.Progress.Completed, st.Progress.Total,
			st.Progress.CurrentBatch, st.Progress.TotalBatches)
	}
	fmt.Fprintf(&b, "Unsynced:    %d\n", st.UnsyncedChanges)
	fmt.Fprintf(&b, "Next sync:   %s\n", timeOrDash(st.NextSyncAt))
	fmt.Fprintf(&b, "Last sync:   %s\n", timeOrDash(st.Statistics.LastSyncAt))
	fmt.Fprintf(&b, "Totals:      %d synced, %d failed, %d conflicts, avg %s\n",
		st.Statistics.TotalSynced, st.Statistics.TotalFailed, st.Statistics.TotalConflicts,
		st.Statistics.AverageSyncDuration.Round(time.Millisecond))

	if p := m.progressive; p.TotalChunks > 0 {
		fmt.Fprintf(&b, "Chunks:      %d/%d done, %d failed, %s/s, eta %s\n",
			p.CompletedChunks, p.TotalChunks, p.FailedChunks,
			humanBytes(p.CurrentSpeed), p.EstimatedTimeRemaining.Round(time.Second))
	}

	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error:  %s\n", errorStyle.Render(fitText(st.LastError, 60)))
	}

	b.WriteString("\n")
	if len(st.ActiveConflicts) == 0 {
		b.WriteString("No conflicts\n")
	} else {
		fmt.Fprintf(&b, "Conflicts (%d)\n", len(st.ActiveConflicts))
		for i, c := range st.ActiveConflicts {
			line := fmt.Sprintf("%s  %s  %s", c.OperationID, c.Conflict.EntityID, fitText(c.Resolution.Explanation, 40))
			if i == m.idx {
				line = selectedStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	if m.errMsg != "" {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.errMsg) + "\n")
	}

	hotKeys := "s sync  ↑/↓ select  l keep local  m merge  d discard  v version  q quit"
	return appStyle.Render(renderPage("OFFLINE SYNC", b.String(), hotKeys))
}
