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
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"perun.network/x402-channels/channel"
	chtest "perun.network/x402-channels/channel/test"
	"perun.network/x402-channels/util"
	"perun.network/x402-channels/wallet"
)

func testState(s *chtest.Setup) *channel.State {
	return &channel.State{
		ChannelID: util.RandomChannelID(s.Rng),
		Nonce:     1,
		BalA:      math.NewInt(999_000),
		BalB:      math.NewInt(1000),
	}
}

func TestStateDigestDeterministic(t *testing.T) {
	s := chtest.NewSetup(t)
	st := testState(s)

	d1, err := s.Backend.StateDigest(st)
	require.NoError(t, err)
	d2, err := s.Backend.StateDigest(st.Clone())
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestStateDigestCoversAllFields(t *testing.T) {
	s := chtest.NewSetup(t)
	base := testState(s)
	baseDigest, err := s.Backend.StateDigest(base)
	require.NoError(t, err)

	mutations := map[string]func(*channel.State){
		"channelId":   func(st *channel.State) { st.ChannelID[0] ^= 1 },
		"nonce":       func(st *channel.State) { st.Nonce++ },
		"balA":        func(st *channel.State) { st.BalA = st.BalA.AddRaw(1) },
		"balB":        func(st *channel.State) { st.BalB = st.BalB.SubRaw(1) },
		"expiry":      func(st *channel.State) { st.Expiry = 12345 },
		"contextHash": func(st *channel.State) { st.ContextHash[31] ^= 1 },
	}
	for name, mutate := range mutations {
		st := base.Clone()
		mutate(st)
		digest, err := s.Backend.StateDigest(st)
		require.NoError(t, err)
		require.NotEqual(t, baseDigest, digest, "mutating %s must change the digest", name)
	}
}

func TestDigestDomainSeparation(t *testing.T) {
	s := chtest.NewSetup(t)
	st := testState(s)

	otherChain, err := channel.NewBackend(channel.Domain{
		Name:     channel.ProtocolName,
		Version:  channel.ProtocolVersion,
		ChainID:  s.Backend.Domain().ChainID + 1,
		Contract: s.Backend.Domain().Contract,
	})
	require.NoError(t, err)
	otherContract, err := channel.NewBackend(channel.Domain{
		Name:     channel.ProtocolName,
		Version:  channel.ProtocolVersion,
		ChainID:  s.Backend.Domain().ChainID,
		Contract: util.RandomAddress(s.Rng),
	})
	require.NoError(t, err)

	d, err := s.Backend.StateDigest(st)
	require.NoError(t, err)
	dChain, err := otherChain.StateDigest(st)
	require.NoError(t, err)
	dContract, err := otherContract.StateDigest(st)
	require.NoError(t, err)

	require.NotEqual(t, d, dChain)
	require.NotEqual(t, d, dContract)
	require.NotEqual(t, dChain, dContract)
}

func TestSignVerifyState(t *testing.T) {
	s := chtest.NewSetup(t)
	st := testState(s)

	for _, acc := range []wallet.Account{s.Payer, s.Payee} {
		sig, err := s.Backend.SignState(acc, st)
		require.NoError(t, err)

		valid, err := s.Backend.VerifyState(st, sig, acc.Participant())
		require.NoError(t, err)
		require.True(t, valid)

		// Signature must not verify for a different signer or a mutated
		// state.
		valid, err = s.Backend.VerifyState(st, sig, s.Hub.Participant())
		require.NoError(t, err)
		require.False(t, valid)

		tampered := st.Clone()
		tampered.BalB = tampered.BalB.AddRaw(1)
		tampered.BalA = tampered.BalA.SubRaw(1)
		valid, err = s.Backend.VerifyState(tampered, sig, acc.Participant())
		require.NoError(t, err)
		require.False(t, valid)
	}
}

func TestStateValidate(t *testing.T) {
	s := chtest.NewSetup(t)

	st := testState(s)
	require.NoError(t, st.Validate())

	locked := st.Clone()
	locked.LocksRoot[5] = 1
	require.ErrorIs(t, locked.Validate(), channel.ErrLocksNotSupported)

	negative := st.Clone()
	negative.BalA = math.NewInt(-1)
	require.ErrorIs(t, negative.Validate(), channel.ErrInvalidState)

	var unset channel.State
	require.ErrorIs(t, unset.Validate(), channel.ErrInvalidState)
}

func TestContextHash(t *testing.T) {
	s := chtest.NewSetup(t)
	const expiry = 1_700_000_600

	h1, err := channel.ContextHash(s.Payee.Participant(), "/weather", "inv-1", "pay-1", math.NewInt(100_000), s.Asset, expiry)
	require.NoError(t, err)
	h2, err := channel.ContextHash(s.Payee.Participant(), "/weather", "inv-1", "pay-1", math.NewInt(100_000), s.Asset, expiry)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	hAmount, err := channel.ContextHash(s.Payee.Participant(), "/weather", "inv-1", "pay-1", math.NewInt(100_001), s.Asset, expiry)
	require.NoError(t, err)
	require.NotEqual(t, h1, hAmount)

	hPayment, err := channel.ContextHash(s.Payee.Participant(), "/weather", "inv-1", "pay-2", math.NewInt(100_000), s.Asset, expiry)
	require.NoError(t, err)
	require.NotEqual(t, h1, hPayment)

	hPayee, err := channel.ContextHash(s.Hub.Participant(), "/weather", "inv-1", "pay-1", math.NewInt(100_000), s.Asset, expiry)
	require.NoError(t, err)
	require.NotEqual(t, h1, hPayee)

	hExpiry, err := channel.ContextHash(s.Payee.Participant(), "/weather", "inv-1", "pay-1", math.NewInt(100_000), s.Asset, expiry+1)
	require.NoError(t, err)
	require.NotEqual(t, h1, hExpiry)
}
