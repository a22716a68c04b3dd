// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

// Package network implements the network monitor: a liveness probe, a
// slower latency sampler, the derived quality score and the transfer
// recommendations consumed by the sync processor and the progressive
// scheduler.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/adapter"
	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/config"
	"github.com/MKhiriev/go-offline-sync/internal/events"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
	"github.com/MKhiriev/go-offline-sync/models"
)

const (
	historyLimit = 100
	rttAlpha     = 0.3
)

// LinkState is the platform-level view of the link: the OS online flag,
// connection type and data-saver preference. The monitor never probes while
// Online is false.
type LinkState struct {
	Online         bool
	ConnectionType models.ConnectionType
	EffectiveType  string
	Downlink       float64
	SaveData       bool
}

// NetworkChange carries a status or connectivity transition.
type NetworkChange struct {
	Current  models.NetworkInfo
	Previous models.NetworkInfo
}

// Monitor tracks connectivity and link quality.
type Monitor struct {
	remote     adapter.RemoteEndpoint
	cfg        config.Network
	healthPath string
	clock      clock.Clock

	mu    sync.RWMutex
	link  LinkState
	state models.NetworkState

	// serializes observe so listeners see transitions in detection order
	updateMu sync.Mutex

	networkChange *events.Registry[NetworkChange]
	connectivity  *events.Registry[bool]

	loopMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logger.Logger
}

// NewMonitor creates an idle monitor that assumes an online link of unknown
// type until the first probe completes.
func NewMonitor(remote adapter.RemoteEndpoint, cfg config.Network, healthPath string, clk clock.Clock, log *logger.Logger) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("network")

	link := LinkState{Online: true, ConnectionType: models.ConnectionUnknown}
	initial := models.NetworkInfo{
		IsOnline:       true,
		Status:         models.NetworkGood,
		ConnectionType: link.ConnectionType,
		Timestamp:      clk.Now(),
	}

	return &Monitor{
		remote:     remote,
		cfg:        cfg,
		healthPath: healthPath,
		clock:      clk,
		link:       link,
		state: models.NetworkState{
			Current:      initial,
			QualityScore: QualityScore(initial, 0, nil),
		},
		networkChange: events.NewRegistry[NetworkChange]("network_change", log),
		connectivity:  events.NewRegistry[bool]("connectivity_change", log),
		logger:        log,
	}
}

// Start launches the liveness and quality loops. A running monitor is
// restarted. The first liveness probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.Stop()

	m.loopMu.Lock()
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(2)
	m.loopMu.Unlock()

	go func() {
		defer m.wg.Done()
		m.ForceUpdate(loopCtx)
		m.every(loopCtx, m.cfg.ProbeInterval, func(ctx context.Context) { m.ForceUpdate(ctx) })
	}()
	go func() {
		defer m.wg.Done()
		m.every(loopCtx, m.cfg.QualityInterval, func(ctx context.Context) { m.CheckQuality(ctx) })
	}()

	m.logger.Info().
		Str("func", "Monitor.Start").
		Dur("probe_interval", m.cfg.ProbeInterval).
		Dur("quality_interval", m.cfg.QualityInterval).
		Msg("network monitoring started")
}

// Stop cancels both loops and waits for them to exit. Safe to call on an
// idle monitor.
func (m *Monitor) Stop() {
	m.loopMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.loopMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(interval):
			fn(ctx)
		}
	}
}

// TestConnection runs a single liveness probe. It returns within timeout even
// if the request hangs; a timeout or transport error yields an offline
// sample. The monitor state is not updated.
func (m *Monitor) TestConnection(ctx context.Context, timeout time.Duration) models.NetworkInfo {
	link := m.Link()
	info := m.sample(link)
	if !link.Online {
		return info
	}

	rtt, ok := m.probe(ctx, timeout)
	if !ok {
		return info
	}

	info.IsOnline = true
	info.RTT = rtt
	info.Status = ClassifyStatus(true, rtt, link.EffectiveType)
	return info
}

func (m *Monitor) sample(link LinkState) models.NetworkInfo {
	return models.NetworkInfo{
		IsOnline:       false,
		Status:         models.NetworkOffline,
		ConnectionType: link.ConnectionType,
		EffectiveType:  link.EffectiveType,
		Downlink:       link.Downlink,
		SaveData:       link.SaveData,
		Timestamp:      m.clock.Now(),
	}
}

type probeResult struct {
	resp adapter.Response
	err  error
}

func (m *Monitor) probe(ctx context.Context, timeout time.Duration) (time.Duration, bool) {
	if timeout <= 0 {
		timeout = m.cfg.ProbeTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := m.clock.Now()
	done := make(chan probeResult, 1)
	go func() {
		resp, err := m.remote.Do(ctx, adapter.Request{Method: http.MethodGet, Path: m.healthPath})
		done <- probeResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		m.logger.Debug().Str("func", "Monitor.probe").Dur("timeout", timeout).Msg("probe timed out")
		return 0, false
	case r := <-done:
		if r.err != nil {
			m.logger.Debug().Err(r.err).Str("func", "Monitor.probe").Msg("probe failed")
			return 0, false
		}
		if adapter.Classify(r.resp.Status) != adapter.OutcomeSuccess {
			m.logger.Debug().Str("func", "Monitor.probe").Int("status", r.resp.Status).Msg("health check rejected")
			return 0, false
		}
		rtt := r.resp.Duration
		if rtt <= 0 {
			rtt = m.clock.Now().Sub(started)
		}
		return rtt, true
	}
}

// ForceUpdate probes immediately and folds the sample into the state.
func (m *Monitor) ForceUpdate(ctx context.Context) models.NetworkInfo {
	info := m.TestConnection(ctx, m.cfg.ProbeTimeout)
	m.observe(info)
	return info
}

// CheckQuality samples several probes and records their mean RTT. If every
// sample fails the link is recorded as offline.
func (m *Monitor) CheckQuality(ctx context.Context) models.NetworkInfo {
	link := m.Link()
	info := m.sample(link)

	samples := m.cfg.QualitySamples
	if samples <= 0 {
		samples = 1
	}

	var total time.Duration
	var ok int
	for i := 0; link.Online && i < samples; i++ {
		if ctx.Err() != nil {
			return m.Current()
		}
		if rtt, success := m.probe(ctx, m.cfg.ProbeTimeout); success {
			total += rtt
			ok++
		}
	}

	if ok > 0 {
		info.IsOnline = true
		info.RTT = total / time.Duration(ok)
		info.Status = ClassifyStatus(true, info.RTT, link.EffectiveType)
	}

	m.observe(info)
	return info
}

// NotifyConnectivity feeds an OS-level connectivity event and re-evaluates
// the link right away.
func (m *Monitor) NotifyConnectivity(ctx context.Context, online bool) models.NetworkInfo {
	m.mu.Lock()
	m.link.Online = online
	m.mu.Unlock()

	return m.ForceUpdate(ctx)
}

// SetLink replaces the platform link hint without probing.
func (m *Monitor) SetLink(link LinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link = link
}

// Link returns the platform link hint.
func (m *Monitor) Link() LinkState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.link
}

func (m *Monitor) observe(info models.NetworkInfo) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	prev := m.state.Current
	st := &m.state

	st.Current = info
	st.History = append(st.History, info)
	if len(st.History) > historyLimit {
		st.History = append([]models.NetworkInfo(nil), st.History[len(st.History)-historyLimit:]...)
	}

	at := info.Timestamp
	if info.IsOnline {
		st.LastOnlineAt = &at
		st.ConsecutiveFailures = 0
		st.AverageRTT = ema(st.AverageRTT, info.RTT)
	} else {
		st.LastOfflineAt = &at
		st.ConsecutiveFailures++
	}
	st.QualityScore = QualityScore(info, st.ConsecutiveFailures, st.History)
	score := st.QualityScore
	m.mu.Unlock()

	if prev.Status != info.Status || prev.IsOnline != info.IsOnline {
		m.logger.Info().
			Str("func", "Monitor.observe").
			Str("status", string(info.Status)).
			Str("previous", string(prev.Status)).
			Float64("quality_score", score).
			Msg("network status changed")
		m.networkChange.Emit(NetworkChange{Current: info, Previous: prev})
	}
	if prev.IsOnline != info.IsOnline {
		m.connectivity.Emit(info.IsOnline)
	}
}

func ema(avg, sample time.Duration) time.Duration {
	if sample <= 0 {
		return avg
	}
	if avg == 0 {
		return sample
	}
	return time.Duration(rttAlpha*float64(sample) + (1-rttAlpha)*float64(avg))
}

// RecordRequest folds the outcome of a sync request into the failure streak
// and the RTT average.
func (m *Monitor) RecordRequest(rtt time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.state
	if success {
		st.ConsecutiveFailures = 0
		st.AverageRTT = ema(st.AverageRTT, rtt)
	} else {
		st.ConsecutiveFailures++
	}
	st.QualityScore = QualityScore(st.Current, st.ConsecutiveFailures, st.History)
}

// OnNetworkChange subscribes to status transitions.
func (m *Monitor) OnNetworkChange(h func(current, previous models.NetworkInfo)) events.Disposer {
	return m.networkChange.Subscribe(func(c NetworkChange) { h(c.Current, c.Previous) })
}

// OnConnectivityChange subscribes to online/offline transitions.
func (m *Monitor) OnConnectivityChange(h func(online bool)) events.Disposer {
	return m.connectivity.Subscribe(h)
}

// State returns a copy of the rolling network state.
func (m *Monitor) State() models.NetworkState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := m.state
	st.History = append([]models.NetworkInfo(nil), m.state.History...)
	return st
}

// Current returns the latest sample.
func (m *Monitor) Current() models.NetworkInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Current
}

func (m *Monitor) IsOnline() bool {
	return m.Current().IsOnline
}

// IsGoodForSync reports an online good or excellent link scoring above 30.
func (m *Monitor) IsGoodForSync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := m.state.Current
	good := cur.Status == models.NetworkGood || cur.Status == models.NetworkExcellent
	return cur.IsOnline && good && m.state.QualityScore > 30
}

// IsGoodForLargeTransfers reports an excellent link scoring above 60 without
// data saving.
func (m *Monitor) IsGoodForLargeTransfers() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := m.state.Current
	return cur.Status == models.NetworkExcellent && m.state.QualityScore > 60 && !cur.SaveData
}

// Recommendations derives the transfer policy from the current state.
func (m *Monitor) Recommendations() models.QualityRecommendations {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Recommend(m.state.Current, m.state.QualityScore)
}
