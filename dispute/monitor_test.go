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

package dispute_test

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/test"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/client"
	"perun.network/x402-channels/dispute"
	"perun.network/x402-channels/event"
	"perun.network/x402-channels/wallet"
)

const (
	channelTotal      = 1_000_000
	challengeDuration = 600
	paymentAmount     = 10_000

	waitFor  = 5 * time.Second
	pollTick = 10 * time.Millisecond
)

// monitorFixture runs a dispute monitor on the payee's ledger over a
// payer-funded channel on the simulated chain. The optional wrap function
// lets a test interpose a faulty gateway between monitor and chain.
type monitorFixture struct {
	*test.Setup
	ctx    context.Context
	ledger *channel.Ledger
	gw     *client.SimulatedGateway
	force  *ticker.Force
	mon    *dispute.Monitor
	chID   types.ChannelID

	// states holds a copy of every accepted payment state by nonce, so
	// tests can replay stale ones.
	states map[uint64]*channel.State
}

func newMonitorFixture(t *testing.T, wrap func(client.ChainGateway) client.ChainGateway) *monitorFixture {
	s := test.NewSetup(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sim := client.NewSimulatedGateway(s.Backend, s.Clock)
	ledger := s.NewLedger(s.Payee)
	funder := client.NewFunder(sim, ledger)

	chID, err := funder.OpenAndFund(ctx, client.OpenRequest{
		ParticipantA:      s.Payer.Participant(),
		ParticipantB:      s.Payee.Participant(),
		Asset:             s.Asset,
		Deposit:           math.NewInt(channelTotal),
		ChallengeDuration: challengeDuration,
	}, channel.HubRoleNone)
	require.NoError(t, err)

	var gw client.ChainGateway = sim
	if wrap != nil {
		gw = wrap(sim)
	}
	force := ticker.NewForce(time.Hour)
	mon := dispute.NewMonitor(ledger, gw, dispute.Config{SweepTicker: force, Clock: s.Clock})
	require.NoError(t, mon.Start(ctx))
	t.Cleanup(mon.Stop)
	require.NoError(t, mon.Watch(chID))

	return &monitorFixture{
		Setup:  s,
		ctx:    ctx,
		ledger: ledger,
		gw:     sim,
		force:  force,
		mon:    mon,
		chID:   chID,
		states: make(map[uint64]*channel.State),
	}
}

// pay accepts n sequential payments of paymentAmount into the payee's
// ledger, recording each state.
func (f *monitorFixture) pay(n int) {
	for i := 0; i < n; i++ {
		ch, err := f.ledger.Channel(f.chID)
		require.NoError(f.T, err)
		st := f.NextState(ch.Latest.State, channel.SideA, paymentAmount)
		_, err = f.ledger.AcceptState(f.chID, st, f.Sign(f.Payer, st))
		require.NoError(f.T, err)
		f.states[st.Nonce] = st
	}
}

// staleClose has the payer start a unilateral close at the given old nonce.
func (f *monitorFixture) staleClose(nonce uint64) {
	st, ok := f.states[nonce]
	require.True(f.T, ok, "no recorded state at nonce %d", nonce)
	require.NoError(f.T, f.gw.StartClose(f.ctx, st, f.Sign(f.Payee, st)))
}

// waitFinalized drains the event stream until the channel's finalization
// arrives.
func waitFinalized(t *testing.T, events <-chan event.AdjEvent) *event.FinalizedEvent {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "event stream ended early")
			if fe, ok := e.(*event.FinalizedEvent); ok {
				return fe
			}
		case <-timeout:
			t.Fatal("timed out waiting for finalization")
			return nil
		}
	}
}

func TestMonitorCountersStaleClose(t *testing.T) {
	f := newMonitorFixture(t, nil)
	events, err := f.gw.Subscribe(f.ctx)
	require.NoError(t, err)

	f.pay(7)
	f.staleClose(5)

	// The monitor must answer with the freshest state before the window
	// closes.
	require.Eventually(t, func() bool {
		st, err := f.gw.ChannelStatus(f.ctx, f.chID)
		return err == nil && st.Phase == channel.StatusClosingDisputed && st.Nonce == 7
	}, waitFor, pollTick, "expected a counter-challenge at nonce 7")
	require.Eventually(t, func() bool {
		p, ok := f.mon.PhaseOf(f.chID)
		return ok && p == dispute.PhaseCounterSubmitted
	}, waitFor, pollTick)

	ch, err := f.ledger.Channel(f.chID)
	require.NoError(t, err)
	require.Equal(t, channel.StatusClosingDisputed, ch.Status)

	// After the window elapses a sweep finalizes the close at our nonce.
	f.Advance(time.Duration(challengeDuration+1) * time.Second)
	f.force.Force <- time.Time{}

	fe := waitFinalized(t, events)
	require.True(t, fe.BalA.Equal(math.NewInt(channelTotal-7*paymentAmount)), "payout A %s", fe.BalA)
	require.True(t, fe.BalB.Equal(math.NewInt(7*paymentAmount)), "payout B %s", fe.BalB)

	require.Eventually(t, func() bool {
		ch, err := f.ledger.Channel(f.chID)
		if err != nil || ch.Status != channel.StatusClosed {
			return false
		}
		p, ok := f.mon.PhaseOf(f.chID)
		return ok && p == dispute.PhaseResolved
	}, waitFor, pollTick, "ledger must record the settled channel")
}

func TestMonitorLeavesFreshCloseAlone(t *testing.T) {
	f := newMonitorFixture(t, nil)

	f.pay(3)
	ch, err := f.ledger.Channel(f.chID)
	require.NoError(t, err)
	require.NoError(t, f.gw.StartClose(f.ctx, ch.Latest.State, ch.Latest.Sig))

	require.Eventually(t, func() bool {
		c, err := f.ledger.Channel(f.chID)
		return err == nil && c.Status == channel.StatusClosingDisputed
	}, waitFor, pollTick)

	f.Advance(time.Duration(challengeDuration+1) * time.Second)
	f.force.Force <- time.Time{}

	require.Eventually(t, func() bool {
		st, err := f.gw.ChannelStatus(f.ctx, f.chID)
		return err == nil && st.Phase == channel.StatusClosed
	}, waitFor, pollTick)

	// Settled at the close nonce; no challenge was needed and nothing is
	// alarming.
	st, err := f.gw.ChannelStatus(f.ctx, f.chID)
	require.NoError(t, err)
	require.EqualValues(t, 3, st.Nonce)
	select {
	case a := <-f.mon.Alerts():
		t.Fatalf("unexpected alert: %v", a.Err)
	default:
	}
}

// downChallengeGateway simulates an outage of the challenge path while the
// rest of the chain stays reachable.
type downChallengeGateway struct {
	client.ChainGateway
}

func (g *downChallengeGateway) Challenge(context.Context, *channel.State, wallet.Sig) error {
	return client.ErrGatewayUnavailable
}

func TestMonitorReportsMissedWindow(t *testing.T) {
	f := newMonitorFixture(t, func(gw client.ChainGateway) client.ChainGateway {
		return &downChallengeGateway{ChainGateway: gw}
	})

	f.pay(7)
	f.staleClose(5)

	// The monitor keeps retrying against the dead challenge path; once the
	// window elapses it must give up loudly.
	var alert dispute.Alert
	require.Eventually(t, func() bool {
		f.Advance(10 * time.Minute)
		select {
		case alert = <-f.mon.Alerts():
			return true
		default:
			return false
		}
	}, waitFor, pollTick, "expected a missed-window alert")
	require.Equal(t, f.chID, alert.ChannelID)
	require.ErrorIs(t, alert.Err, dispute.ErrChallengeWindowMissed)

	p, ok := f.mon.PhaseOf(f.chID)
	require.True(t, ok)
	require.Equal(t, dispute.PhaseWatching, p, "no counter was submitted")

	// The stale close wins a missed window; the sweep still records the
	// settlement.
	f.force.Force <- time.Time{}
	require.Eventually(t, func() bool {
		st, err := f.gw.ChannelStatus(f.ctx, f.chID)
		return err == nil && st.Phase == channel.StatusClosed
	}, waitFor, pollTick)
	st, err := f.gw.ChannelStatus(f.ctx, f.chID)
	require.NoError(t, err)
	require.EqualValues(t, 5, st.Nonce)
}

func TestMonitorWatchValidation(t *testing.T) {
	f := newMonitorFixture(t, nil)

	err := f.mon.Watch(types.ChannelID{0xde, 0xad})
	require.ErrorIs(t, err, channel.ErrChannelNotFound)

	f.mon.Unwatch(f.chID)
	_, ok := f.mon.PhaseOf(f.chID)
	require.False(t, ok)
}
