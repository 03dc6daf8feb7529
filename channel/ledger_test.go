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

package channel_test

import (
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"perun.network/x402-channels/channel"
	chtest "perun.network/x402-channels/channel/test"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/util"
)

const channelTotal = 1_000_000

// openPayerPayee registers a payer-payee channel on the payee's ledger and
// returns the ledger, the channel id and the seed state.
func openPayerPayee(s *chtest.Setup) (*channel.Ledger, *channel.Channel) {
	l := s.NewLedger(s.Payee)
	id := s.OpenChannel(l, s.Payer, s.Payee, channelTotal, channel.HubRoleNone)
	ch, err := l.Channel(id)
	require.NoError(s.T, err)
	return l, ch
}

func TestLedgerAcceptState(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	// Payer moves 1000 to the payee at nonce 1.
	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	sig := s.Sign(s.Payer, st)

	debit, err := l.AcceptState(ch.ID, st, sig)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(1000), debit)

	got, err := l.Channel(ch.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Latest.State.Nonce)
	require.Equal(t, math.NewInt(channelTotal-1000), got.BalA)
	require.Equal(t, math.NewInt(1000), got.BalB)

	// Replaying the same nonce is rejected and leaves the ledger unchanged.
	_, err = l.AcceptState(ch.ID, st, sig)
	require.ErrorIs(t, err, channel.ErrStaleNonce)

	after, err := l.Channel(ch.ID)
	require.NoError(t, err)
	require.Equal(t, got.BalA, after.BalA)
	require.Equal(t, got.BalB, after.BalB)
}

func TestLedgerRejectsWrongSigner(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)

	// Signed by the payee itself instead of the counterparty.
	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payee, st))
	require.ErrorIs(t, err, channel.ErrInvalidSignature)

	// Signed by an unrelated key.
	_, err = l.AcceptState(ch.ID, st, s.Sign(s.Hub, st))
	require.ErrorIs(t, err, channel.ErrInvalidSignature)
}

func TestLedgerRejectsUnknownChannel(t *testing.T) {
	s := chtest.NewSetup(t)
	l := s.NewLedger(s.Payee)

	st := &channel.State{
		ChannelID: util.RandomChannelID(s.Rng),
		Nonce:     1,
		BalA:      math.NewInt(1),
		BalB:      math.ZeroInt(),
	}
	_, err := l.AcceptState(st.ChannelID, st, s.Sign(s.Payer, st))
	require.ErrorIs(t, err, channel.ErrChannelNotFound)
}

func TestLedgerRejectsConservationViolation(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	st.BalB = st.BalB.AddRaw(1) // sum exceeds the funded total

	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.ErrorIs(t, err, channel.ErrBalanceConservation)
}

func TestLedgerRejectsLocks(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	st.LocksRoot[0] = 0xaa

	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.ErrorIs(t, err, channel.ErrLocksNotSupported)
}

func TestLedgerExpiry(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	// A state expiring exactly now is already expired.
	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	st.Expiry = s.Now()
	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.ErrorIs(t, err, channel.ErrStateExpired)

	// A future expiry passes.
	st.Expiry = s.Now() + 60
	_, err = l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.NoError(t, err)

	// Once the clock passes the bound, a successor with the same expiry is
	// rejected.
	s.Advance(2 * time.Minute)
	st2 := s.NextState(st, channel.SideA, 1000)
	st2.Expiry = st.Expiry
	_, err = l.AcceptState(ch.ID, st2, s.Sign(s.Payer, st2))
	require.ErrorIs(t, err, channel.ErrStateExpired)
}

func TestLedgerRejectsDebitTowardSigner(t *testing.T) {
	s := chtest.NewSetup(t)
	l := s.NewLedger(s.Payee)
	id := s.OpenChannel(l, s.Payer, s.Payee, channelTotal, channel.HubRoleNone)
	ch, err := l.Channel(id)
	require.NoError(t, err)

	// Fund the payee first so there is something to steal back.
	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	_, err = l.AcceptState(id, st, s.Sign(s.Payer, st))
	require.NoError(t, err)

	// The payer signs a state crediting itself.
	back := s.NextState(st, channel.SideB, 400)
	_, err = l.AcceptState(id, back, s.Sign(s.Payer, back))
	require.ErrorIs(t, err, channel.ErrInvalidState)
}

// A disputed channel still accepts fresher states, so the wronged party can
// collect ammunition against a stale close. Only a closed channel rejects.
func TestLedgerDisputedChannelAcceptsStates(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	require.NoError(t, l.MarkClosing(ch.ID, 0, s.Now()+600))

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.NoError(t, err)

	got, err := l.Channel(ch.ID)
	require.NoError(t, err)
	require.Equal(t, channel.StatusClosingDisputed, got.Status)
	require.EqualValues(t, 1, got.Latest.State.Nonce)

	require.NoError(t, l.MarkClosed(ch.ID))
	st2 := s.NextState(got.Latest.State, channel.SideA, 1000)
	_, err = l.AcceptState(ch.ID, st2, s.Sign(s.Payer, st2))
	require.ErrorIs(t, err, channel.ErrChannelNotOpen)
	require.ErrorIs(t, l.MarkClosing(ch.ID, 0, 0), channel.ErrChannelNotOpen)
}

func TestLedgerFinalState(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.NoError(t, err)

	final, err := l.FinalState(ch.ID)
	require.NoError(t, err)
	require.NoError(t, final.Validate())
	require.EqualValues(t, 2, final.Nonce)
	require.Equal(t, math.NewInt(channelTotal-1000), final.BalA)
	require.Equal(t, math.NewInt(1000), final.BalB)

	// Both parties can sign it as-is.
	ok, err := s.Backend.VerifyState(final, s.Sign(s.Payer, final), s.Payer.Participant())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.MarkClosed(ch.ID))
	_, err = l.FinalState(ch.ID)
	require.ErrorIs(t, err, channel.ErrChannelNotOpen)
}

func TestLedgerDeposit(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	require.NoError(t, l.ApplyDeposit(ch.ID, s.Payer.Participant(), math.NewInt(500)))

	// A state built against the old total no longer conserves.
	stale := s.NextState(ch.Latest.State, channel.SideA, 1000)
	_, err := l.AcceptState(ch.ID, stale, s.Sign(s.Payer, stale))
	require.ErrorIs(t, err, channel.ErrBalanceConservation)

	// A corrected state includes the deposit; the debit is the payment
	// alone, not offset by the deposit.
	corrected := stale.Clone()
	corrected.BalA = math.NewInt(channelTotal + 500 - 1000)
	debit, err := l.AcceptState(ch.ID, corrected, s.Sign(s.Payer, corrected))
	require.NoError(t, err)
	require.Equal(t, math.NewInt(1000), debit)

	require.ErrorIs(t,
		l.ApplyDeposit(ch.ID, s.Hub.Participant(), math.NewInt(1)),
		channel.ErrInvalidState)
	require.ErrorIs(t,
		l.ApplyDeposit(ch.ID, s.Payer.Participant(), math.NewInt(0)),
		channel.ErrInvalidState)
}

func TestLedgerShiftBalance(t *testing.T) {
	s := chtest.NewSetup(t)
	l := s.NewLedger(s.Hub)
	src := s.OpenChannel(l, s.Payer, s.Hub, channelTotal, channel.HubRoleB)
	dst := s.OpenChannel(l, s.Hub, s.Payee, 50_000, channel.HubRoleA)

	// The payer pays the hub 600 on the source channel.
	srcCh, err := l.Channel(src)
	require.NoError(t, err)
	st := s.NextState(srcCh.Latest.State, channel.SideA, 600)
	_, err = l.AcceptState(src, st, s.Sign(s.Payer, st))
	require.NoError(t, err)

	// More than earned cannot be shifted.
	err = l.ShiftBalance(src, dst, s.Hub.Participant(), math.NewInt(601))
	require.ErrorIs(t, err, channel.ErrInsufficientChannelBalance)

	require.NoError(t, l.ShiftBalance(src, dst, s.Hub.Participant(), math.NewInt(500)))

	srcCh, err = l.Channel(src)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(channelTotal-500), srcCh.TotalBalance)
	require.Equal(t, math.NewInt(100), srcCh.BalB)

	dstCh, err := l.Channel(dst)
	require.NoError(t, err)
	require.Equal(t, math.NewInt(50_500), dstCh.TotalBalance)
	require.Equal(t, math.NewInt(50_500), dstCh.BalA)

	// A second shift cannot reuse the already moved earnings.
	err = l.ShiftBalance(src, dst, s.Hub.Participant(), math.NewInt(200))
	require.ErrorIs(t, err, channel.ErrInsufficientChannelBalance)
}

func TestLedgerShiftBalanceChecks(t *testing.T) {
	s := chtest.NewSetup(t)
	l := s.NewLedger(s.Hub)
	src := s.OpenChannel(l, s.Payer, s.Hub, channelTotal, channel.HubRoleB)
	dst := s.OpenChannel(l, s.Hub, s.Payee, 50_000, channel.HubRoleA)

	err := l.ShiftBalance(src, src, s.Hub.Participant(), math.NewInt(1))
	require.ErrorIs(t, err, channel.ErrInvalidState)

	// Destination in a foreign asset.
	foreign := channel.NewChannel(
		util.RandomChannelID(s.Rng),
		s.Hub.Participant(), s.Payee.Participant(),
		util.RandomAsset(s.Rng), math.NewInt(1000), channel.HubRoleA)
	require.NoError(t, l.Register(foreign))
	err = l.ShiftBalance(src, foreign.ID, s.Hub.Participant(), math.NewInt(1))
	require.ErrorIs(t, err, channel.ErrAssetMismatch)

	// Destination no longer open.
	require.NoError(t, l.MarkClosed(dst))
	err = l.ShiftBalance(src, dst, s.Hub.Participant(), math.NewInt(1))
	require.ErrorIs(t, err, channel.ErrChannelNotOpen)
}

// Crossing shifts over the same channel pair must not deadlock: both locks
// are taken in id order, not in argument order.
func TestLedgerShiftBalanceCrossing(t *testing.T) {
	s := chtest.NewSetup(t)
	l := s.NewLedger(s.Hub)
	a := s.OpenChannel(l, s.Hub, s.Payer, channelTotal, channel.HubRoleA)
	b := s.OpenChannel(l, s.Hub, s.Payee, channelTotal, channel.HubRoleA)

	const iters = 200
	run := func(src, dst types.ChannelID) error {
		for i := 0; i < iters; i++ {
			if err := l.ShiftBalance(src, dst, s.Hub.Participant(), math.NewInt(1)); err != nil {
				return err
			}
		}
		return nil
	}
	errs := make(chan error, 2)
	go func() { errs <- run(a, b) }()
	go func() { errs <- run(b, a) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("crossing shifts did not finish")
		}
	}

	// Equal and opposite flows: every total is back at its seed and each
	// channel still balances.
	for _, id := range []types.ChannelID{a, b} {
		ch, err := l.Channel(id)
		require.NoError(t, err)
		require.Equal(t, math.NewInt(channelTotal), ch.TotalBalance)
		require.Equal(t, ch.TotalBalance, ch.BalA.Add(ch.BalB))
	}
}

func TestLedgerConcurrentSameNonce(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	sig := s.Sign(s.Payer, st)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.AcceptState(ch.ID, st, sig)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var accepted, stale int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		default:
			require.ErrorIs(t, err, channel.ErrStaleNonce)
			stale++
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, workers-1, stale)
}

func TestLedgerStateDigestAt(t *testing.T) {
	s := chtest.NewSetup(t)
	l, ch := openPayerPayee(s)

	st := s.NextState(ch.Latest.State, channel.SideA, 1000)
	_, err := l.AcceptState(ch.ID, st, s.Sign(s.Payer, st))
	require.NoError(t, err)

	want, err := s.Backend.StateDigest(st)
	require.NoError(t, err)
	got, err := l.StateDigestAt(ch.ID, 1)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = l.StateDigestAt(ch.ID, 2)
	require.Error(t, err)
}

func TestLedgerChannelsOf(t *testing.T) {
	s := chtest.NewSetup(t)
	l := s.NewLedger(s.Hub)
	a := s.OpenChannel(l, s.Payer, s.Hub, 1000, channel.HubRoleB)
	b := s.OpenChannel(l, s.Hub, s.Payee, 1000, channel.HubRoleA)

	require.ElementsMatch(t, []types.ChannelID{a, b}, l.ChannelsOf(s.Hub.Participant()))
	require.Equal(t, []types.ChannelID{a}, l.ChannelsOf(s.Payer.Participant()))
	require.Equal(t, []types.ChannelID{b}, l.ChannelsOf(s.Payee.Participant()))
}
