// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispute watches the adjudicator for unilateral closes of tracked
// channels and answers stale ones with the freshest local state before the
// challenge window elapses.
package dispute

import (
	"context"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/client"
	"perun.network/x402-channels/event"
)

// ModuleName is the error codespace of the dispute monitor.
const ModuleName = "dispute"

// ErrChallengeWindowMissed means a stale close could not be countered
// before its deadline. The channel will settle at the stale state; this is
// an operator-level failure, never retried.
var ErrChallengeWindowMissed = errorsmod.Register(ModuleName, 2, "challenge window missed")

const (
	// DefaultSweepInterval is how often disputed channels are checked for
	// elapsed challenge windows.
	DefaultSweepInterval = 10 * time.Second

	// Challenge submission retry bounds while the gateway is unavailable.
	retryInitial = 500 * time.Millisecond
	retryMax     = 10 * time.Second

	// alertBuffer bounds the alert queue; overflow is logged and dropped.
	alertBuffer = 16
)

// Phase is the monitor's view of one watched channel.
type Phase uint8

const (
	// PhaseWatching means no action is pending.
	PhaseWatching Phase = iota
	// PhaseCounterSubmitted means a stale close was countered with fresher
	// state and the monitor awaits finalization.
	PhaseCounterSubmitted
	// PhaseResolved means the channel settled.
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseWatching:
		return "watching"
	case PhaseCounterSubmitted:
		return "counter-submitted"
	case PhaseResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Alert reports a condition the operator must act on, such as a missed
// challenge window.
type Alert struct {
	ChannelID types.ChannelID
	Err       error
}

// Config collects the monitor's operating parameters.
type Config struct {
	// SweepTicker drives the deadline sweeps; nil selects a real ticker at
	// DefaultSweepInterval.
	SweepTicker ticker.Ticker
	// Clock measures deadlines and retry waits; nil selects the wall
	// clock.
	Clock clock.Clock
}

// Monitor mirrors adjudicator events into the ledger for the channels it
// watches and counters stale unilateral closes. One monitor serves one
// ledger; Start it once and Stop it when done.
type Monitor struct {
	ledger *channel.Ledger
	gw     client.ChainGateway
	tick   ticker.Ticker
	clk    clock.Clock
	log    log.Embedding

	closer *pkgsync.Closer
	wg     sync.WaitGroup

	mu      sync.Mutex
	watched map[types.ChannelID]Phase
	alerts  chan Alert
}

// NewMonitor creates a monitor over the given ledger and gateway.
func NewMonitor(ledger *channel.Ledger, gw client.ChainGateway, cfg Config) *Monitor {
	if cfg.SweepTicker == nil {
		cfg.SweepTicker = ticker.New(DefaultSweepInterval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Monitor{
		ledger:  ledger,
		gw:      gw,
		tick:    cfg.SweepTicker,
		clk:     cfg.Clock,
		log:     log.MakeEmbedding(log.Default()),
		closer:  new(pkgsync.Closer),
		watched: make(map[types.ChannelID]Phase),
		alerts:  make(chan Alert, alertBuffer),
	}
}

// Start subscribes to the adjudicator and runs the monitor until Stop is
// called or ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	events, err := m.gw.Subscribe(ctx)
	if err != nil {
		return errors.WithMessage(err, "subscribing to adjudicator events")
	}
	m.tick.Resume()
	m.wg.Add(1)
	go m.run(ctx, events)
	return nil
}

// Stop shuts the monitor down and waits for in-flight work.
func (m *Monitor) Stop() {
	if m.closer.IsClosed() {
		return
	}
	m.closer.Close()
	m.tick.Stop()
	m.wg.Wait()
}

// Watch starts monitoring the channel. It must be tracked by the ledger.
func (m *Monitor) Watch(id types.ChannelID) error {
	if _, err := m.ledger.Channel(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[id]; !ok {
		m.watched[id] = PhaseWatching
	}
	return nil
}

// Unwatch stops monitoring the channel.
func (m *Monitor) Unwatch(id types.ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watched, id)
}

// PhaseOf returns the monitor's phase for the channel.
func (m *Monitor) PhaseOf(id types.ChannelID) (Phase, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.watched[id]
	return p, ok
}

// Alerts delivers the conditions that need operator attention.
func (m *Monitor) Alerts() <-chan Alert {
	return m.alerts
}

func (m *Monitor) run(ctx context.Context, events <-chan event.AdjEvent) {
	defer m.wg.Done()
	m.log.Log().Info("dispute monitor running")
	for {
		select {
		case <-m.closer.Closed():
			return
		case e, ok := <-events:
			if !ok {
				m.log.Log().Info("adjudicator event stream ended")
				return
			}
			m.handle(ctx, e)
		case <-m.tick.Ticks():
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) handle(ctx context.Context, e event.AdjEvent) {
	if !m.isWatched(e.ID()) {
		return
	}
	switch e := e.(type) {
	case *event.ClosingStartedEvent:
		m.onClosingStarted(ctx, e)
	case *event.ChallengedEvent:
		m.onChallenged(e)
	case *event.FinalizedEvent:
		m.onFinalized(e)
	case *event.DepositedEvent:
		m.log.Log().WithField("channel", e.ChannelID.Hex()).Debugf("observed deposit of %s", e.Amount)
	case *event.RebalancedEvent:
		m.log.Log().WithField("channel", e.ChannelID.Hex()).Debugf("observed rebalance of %s", e.Amount)
	}
}

// onClosingStarted freezes the channel and, if the close state is staler
// than the local one, counters it in the background.
func (m *Monitor) onClosingStarted(ctx context.Context, e *event.ClosingStartedEvent) {
	id := e.ChannelID
	if err := m.ledger.MarkClosing(id, e.Nonce, e.Deadline); err != nil {
		m.alert(id, errors.WithMessage(err, "freezing channel"))
		return
	}
	ch, err := m.ledger.Channel(id)
	if err != nil {
		m.alert(id, err)
		return
	}
	latest := ch.Latest
	if latest.State.Nonce <= e.Nonce {
		m.log.Log().WithField("channel", id.Hex()).Infof("close at nonce %d matches our freshest state", e.Nonce)
		return
	}

	m.log.Log().WithField("channel", id.Hex()).Warnf("stale close at nonce %d, countering with nonce %d", e.Nonce, latest.State.Nonce)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.counter(ctx, id, latest, e.Deadline); err != nil {
			m.alert(id, err)
			return
		}
		m.setPhase(id, PhaseCounterSubmitted)
	}()
}

// counter submits the fresher state, retrying with backoff while the
// gateway is unavailable. Once the deadline passes without a successful
// submission the window is missed for good.
func (m *Monitor) counter(ctx context.Context, id types.ChannelID, latest channel.SignedState, deadline uint64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitial
	bo.MaxInterval = retryMax
	bo.MaxElapsedTime = 0
	for {
		err := m.gw.Challenge(ctx, latest.State, latest.Sig)
		if err == nil {
			m.log.Log().WithField("channel", id.Hex()).Infof("counter-challenge submitted at nonce %d", latest.State.Nonce)
			return nil
		}
		if !errors.Is(err, client.ErrGatewayUnavailable) {
			return errors.WithMessage(err, "challenge rejected")
		}
		if m.now() >= deadline {
			return errorsmod.Wrapf(ErrChallengeWindowMissed, "channel %s: gateway unavailable through deadline %d", id, deadline)
		}
		select {
		case <-m.closer.Closed():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clk.TickAfter(bo.NextBackOff()):
		}
	}
}

// onChallenged records the new best close state, whether submitted by us or
// the counterparty.
func (m *Monitor) onChallenged(e *event.ChallengedEvent) {
	if err := m.ledger.MarkClosing(e.ChannelID, e.Nonce, e.Deadline); err != nil {
		m.log.Log().WithField("channel", e.ChannelID.Hex()).Warnf("recording challenge: %v", err)
	}
}

func (m *Monitor) onFinalized(e *event.FinalizedEvent) {
	if err := m.ledger.MarkClosed(e.ChannelID); err != nil {
		m.alert(e.ChannelID, errors.WithMessage(err, "recording finalization"))
		return
	}
	m.setPhase(e.ChannelID, PhaseResolved)
	m.log.Log().WithField("channel", e.ChannelID.Hex()).Infof("settled: A %s, B %s", e.BalA, e.BalB)
}

// sweep finalizes every watched disputed channel whose challenge window has
// elapsed. Gateway outages are left for the next sweep.
func (m *Monitor) sweep(ctx context.Context) {
	for _, id := range m.watchedIDs() {
		ch, err := m.ledger.Channel(id)
		if err != nil || ch.Status != channel.StatusClosingDisputed {
			continue
		}
		if m.now() < ch.CloseDeadline {
			continue
		}
		if err := m.gw.FinalizeClose(ctx, id); err != nil {
			if errors.Is(err, client.ErrGatewayUnavailable) {
				m.log.Log().WithField("channel", id.Hex()).Debug("finalize postponed, gateway unavailable")
				continue
			}
			m.alert(id, errors.WithMessage(err, "finalizing close"))
		}
	}
}

func (m *Monitor) isWatched(id types.ChannelID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watched[id]
	return ok
}

func (m *Monitor) setPhase(id types.ChannelID, p Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watched[id]; ok {
		m.watched[id] = p
	}
}

func (m *Monitor) watchedIDs() []types.ChannelID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.ChannelID, 0, len(m.watched))
	for id := range m.watched {
		ids = append(ids, id)
	}
	return ids
}

// alert queues the condition for the operator; a full queue drops it with a
// log entry so the monitor never blocks.
func (m *Monitor) alert(id types.ChannelID, err error) {
	select {
	case m.alerts <- Alert{ChannelID: id, Err: err}:
	default:
		m.log.Log().Errorf("alert queue full, dropping alert for %s: %v", id, err)
	}
}

func (m *Monitor) now() uint64 {
	now := m.clk.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}
