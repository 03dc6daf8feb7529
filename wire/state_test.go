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

package wire_test

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/wire"
)

func randHash(rng *rand.Rand) (h [32]byte) {
	rng.Read(h[:])
	return h
}

func randID(rng *rand.Rand) (id types.ChannelID) {
	rng.Read(id[:])
	return id
}

func TestStateConversion(t *testing.T) {
	rng := pkgtest.Prng(t)
	s := &channel.State{
		ChannelID:   randID(rng),
		Nonce:       7,
		BalA:        math.NewInt(900_000),
		BalB:        math.NewInt(100_000),
		Expiry:      1_700_000_000,
		ContextHash: randHash(rng),
	}

	ws, err := wire.MakeState(s)
	require.NoError(t, err)
	raw, err := json.Marshal(ws)
	require.NoError(t, err)

	var decoded wire.ChannelState
	require.NoError(t, json.Unmarshal(raw, &decoded))
	back, err := wire.ToState(decoded)
	require.NoError(t, err)

	require.Equal(t, s.ChannelID, back.ChannelID)
	require.Equal(t, s.Nonce, back.Nonce)
	require.True(t, back.BalA.Equal(s.BalA))
	require.True(t, back.BalB.Equal(s.BalB))
	require.Equal(t, s.LocksRoot, back.LocksRoot)
	require.Equal(t, s.Expiry, back.Expiry)
	require.Equal(t, s.ContextHash, back.ContextHash)
}

// TestStateJSONKeys pins the exact field names of the state body.
func TestStateJSONKeys(t *testing.T) {
	var id types.ChannelID
	var ctx [32]byte
	for i := range id {
		id[i] = 0x11
		ctx[i] = 0x22
	}
	s := &channel.State{
		ChannelID:   id,
		Nonce:       7,
		BalA:        math.NewInt(900_000),
		BalB:        math.NewInt(100_000),
		ContextHash: ctx,
	}

	ws, err := wire.MakeState(s)
	require.NoError(t, err)
	raw, err := json.Marshal(ws)
	require.NoError(t, err)

	expected := fmt.Sprintf(
		`{"channelId":"0x%s","stateNonce":7,"balA":"900000","balB":"100000","locksRoot":"0x%s","stateExpiry":0,"contextHash":"0x%s"}`,
		strings.Repeat("11", 32), strings.Repeat("00", 32), strings.Repeat("22", 32))
	require.JSONEq(t, expected, string(raw))
}

// Absent hash fields decode as the zero hash.
func TestStateDecodeDefaults(t *testing.T) {
	blob := fmt.Sprintf(`{"channelId":"0x%s","stateNonce":1,"balA":"5","balB":"7"}`,
		strings.Repeat("ab", 32))

	var ws wire.ChannelState
	require.NoError(t, json.Unmarshal([]byte(blob), &ws))
	s, err := wire.ToState(ws)
	require.NoError(t, err)

	require.Equal(t, [32]byte{}, s.LocksRoot)
	require.Equal(t, [32]byte{}, s.ContextHash)
	require.True(t, s.BalA.Equal(math.NewInt(5)))
	require.True(t, s.BalB.Equal(math.NewInt(7)))
}

func TestStateDecodeRejects(t *testing.T) {
	id := strings.Repeat("ab", 32)
	cases := []struct {
		name string
		blob string
	}{
		{"missing balances", fmt.Sprintf(`{"channelId":"0x%s","stateNonce":1}`, id)},
		{"negative balance", fmt.Sprintf(`{"channelId":"0x%s","stateNonce":1,"balA":"-5","balB":"7"}`, id)},
		{"short context hash", fmt.Sprintf(`{"channelId":"0x%s","stateNonce":1,"balA":"5","balB":"7","contextHash":"0xdead"}`, id)},
		{"short locks root", fmt.Sprintf(`{"channelId":"0x%s","stateNonce":1,"balA":"5","balB":"7","locksRoot":"0xdead"}`, id)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var ws wire.ChannelState
			require.NoError(t, json.Unmarshal([]byte(tc.blob), &ws))
			_, err := wire.ToState(ws)
			require.Error(t, err)
		})
	}
}

// A nonzero locks root is rejected with the lock support error, not a
// generic shape error.
func TestStateDecodeLocksRoot(t *testing.T) {
	blob := fmt.Sprintf(`{"channelId":"0x%s","stateNonce":1,"balA":"5","balB":"7","locksRoot":"0x%s"}`,
		strings.Repeat("ab", 32), strings.Repeat("33", 32))

	var ws wire.ChannelState
	require.NoError(t, json.Unmarshal([]byte(blob), &ws))
	_, err := wire.ToState(ws)
	require.ErrorIs(t, err, channel.ErrLocksNotSupported)
}

func TestMakeStateRejects(t *testing.T) {
	_, err := wire.MakeState(nil)
	require.Error(t, err)

	rng := pkgtest.Prng(t)
	s := &channel.State{
		ChannelID: randID(rng),
		Nonce:     1,
		BalA:      math.NewInt(5),
		BalB:      math.NewInt(7),
		LocksRoot: randHash(rng),
	}
	_, err = wire.MakeState(s)
	require.ErrorIs(t, err, channel.ErrLocksNotSupported)
}
