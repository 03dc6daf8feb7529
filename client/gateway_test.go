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

package client_test

import (
	"context"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"perun.network/x402-channels/channel"
	chtest "perun.network/x402-channels/channel/test"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/client"
	"perun.network/x402-channels/event"
)

func newSim(s *chtest.Setup) *client.SimulatedGateway {
	return client.NewSimulatedGateway(s.Backend, s.Clock)
}

func openRequest(s *chtest.Setup, deposit int64) client.OpenRequest {
	return client.OpenRequest{
		ParticipantA:      s.Payer.Participant(),
		ParticipantB:      s.Payee.Participant(),
		Asset:             s.Asset,
		Deposit:           math.NewInt(deposit),
		ChallengeDuration: 600,
	}
}

func nextEvent(t *testing.T, sub <-chan event.AdjEvent) event.AdjEvent {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(time.Second):
		t.Fatal("expected an adjudicator event")
		return nil
	}
}

func TestSimulatedGatewayLifecycle(t *testing.T) {
	s := chtest.NewSetup(t)
	gw := newSim(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := gw.Subscribe(ctx)
	require.NoError(t, err)

	id, err := gw.OpenChannel(ctx, openRequest(s, 1_000_000))
	require.NoError(t, err)
	opened, ok := nextEvent(t, sub).(*event.OpenedEvent)
	require.True(t, ok)
	require.Equal(t, id, opened.ChannelID)
	require.Equal(t, math.NewInt(1_000_000), opened.TotalBalance)

	require.NoError(t, gw.Deposit(ctx, id, s.Payee.Participant(), math.NewInt(500)))
	deposited, ok := nextEvent(t, sub).(*event.DepositedEvent)
	require.True(t, ok)
	require.Equal(t, math.NewInt(500), deposited.Amount)

	status, err := gw.ChannelStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, channel.StatusOpen, status.Phase)
	require.Equal(t, math.NewInt(1_000_500), status.TotalBalance)

	// Cooperative close at a both-signed state settles immediately.
	final := &channel.State{
		ChannelID: id,
		Nonce:     3,
		BalA:      math.NewInt(999_500),
		BalB:      math.NewInt(1000),
	}
	err = gw.CooperativeClose(ctx, final, s.Sign(s.Payer, final), s.Sign(s.Payee, final))
	require.NoError(t, err)

	finalized, ok := nextEvent(t, sub).(*event.FinalizedEvent)
	require.True(t, ok)
	require.Equal(t, math.NewInt(999_500), finalized.BalA)
	require.Equal(t, math.NewInt(1000), finalized.BalB)

	status, err = gw.ChannelStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, channel.StatusClosed, status.Phase)

	// No further submissions are accepted.
	require.ErrorIs(t,
		gw.StartClose(ctx, final, s.Sign(s.Payer, final)),
		client.ErrRejected)
}

func TestSimulatedGatewayDispute(t *testing.T) {
	s := chtest.NewSetup(t)
	gw := newSim(s)
	ctx := context.Background()

	id, err := gw.OpenChannel(ctx, openRequest(s, 1_000_000))
	require.NoError(t, err)

	mkState := func(nonce uint64, balB int64) *channel.State {
		return &channel.State{
			ChannelID: id,
			Nonce:     nonce,
			BalA:      math.NewInt(1_000_000 - balB),
			BalB:      math.NewInt(balB),
		}
	}

	stale := mkState(5, 500)
	require.NoError(t, gw.StartClose(ctx, stale, s.Sign(s.Payer, stale)))

	// Finalizing before the window elapsed is rejected.
	require.ErrorIs(t, gw.FinalizeClose(ctx, id), client.ErrRejected)

	// A non-newer challenge is rejected; a newer one replaces the state.
	require.ErrorIs(t,
		gw.Challenge(ctx, stale, s.Sign(s.Payer, stale)),
		client.ErrRejected)

	fresher := mkState(7, 700)
	require.NoError(t, gw.Challenge(ctx, fresher, s.Sign(s.Payer, fresher)))

	// After the window, challenges are over and the payout follows the
	// best state.
	s.Advance(601 * time.Second)
	later := mkState(8, 800)
	require.ErrorIs(t,
		gw.Challenge(ctx, later, s.Sign(s.Payer, later)),
		client.ErrRejected)

	require.NoError(t, gw.FinalizeClose(ctx, id))
	status, err := gw.ChannelStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, channel.StatusClosed, status.Phase)
	require.Equal(t, uint64(7), status.Nonce)

	// FinalizeClose is idempotent once settled.
	require.NoError(t, gw.FinalizeClose(ctx, id))
}

// flakyGateway fails the first fails calls of OpenChannel with
// ErrGatewayUnavailable, then delegates.
type flakyGateway struct {
	client.ChainGateway
	fails int
	calls int
}

func (f *flakyGateway) OpenChannel(ctx context.Context, req client.OpenRequest) (types.ChannelID, error) {
	f.calls++
	if f.calls <= f.fails {
		return types.ChannelID{}, client.ErrGatewayUnavailable
	}
	return f.ChainGateway.OpenChannel(ctx, req)
}

func TestRetryingGatewayRecovers(t *testing.T) {
	s := chtest.NewSetup(t)
	flaky := &flakyGateway{ChainGateway: newSim(s), fails: 3}
	gw := client.NewRetryingGateway(flaky, client.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
	})

	_, err := gw.OpenChannel(context.Background(), openRequest(s, 1000))
	require.NoError(t, err)
	require.Equal(t, 4, flaky.calls)
}

func TestRetryingGatewayDoesNotRetryRejections(t *testing.T) {
	s := chtest.NewSetup(t)
	flaky := &flakyGateway{ChainGateway: newSim(s)}
	gw := client.NewRetryingGateway(flaky, client.RetryConfig{
		InitialInterval: time.Millisecond,
		MaxElapsedTime:  time.Second,
	})

	req := openRequest(s, 1000)
	req.ParticipantB = req.ParticipantA // rejected by the adjudicator
	_, err := gw.OpenChannel(context.Background(), req)
	require.ErrorIs(t, err, client.ErrRejected)
	require.Equal(t, 1, flaky.calls)
}

func TestFunderOpenAndFund(t *testing.T) {
	s := chtest.NewSetup(t)
	gw := newSim(s)
	ledger := s.NewLedger(s.Payer)
	funder := client.NewFunderWithPolling(gw, ledger, 10*time.Millisecond, 5)

	id, err := funder.OpenAndFund(context.Background(), openRequest(s, 1_000_000), channel.HubRoleNone)
	require.NoError(t, err)

	ch, err := ledger.Channel(id)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(1_000_000), ch.TotalBalance)
	require.True(t, ch.ParticipantA.Equal(s.Payer.Participant()))
	require.True(t, ch.ParticipantB.Equal(s.Payee.Participant()))
	require.Equal(t, channel.StatusOpen, ch.Status)
}
