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

// Package wire defines the JSON bodies in which states, tickets and payment
// proofs travel between payer, hub and payee. Amounts are decimal strings,
// byte fields 0x-prefixed hex, participants "<scheme>:<hex key>". Every
// decoder revalidates, so a body from an untrusted peer never turns into an
// invalid domain value.
package wire

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
)

// ChannelState is the wire form of one off-chain state snapshot.
type ChannelState struct {
	ChannelID   types.ChannelID `json:"channelId"`
	StateNonce  uint64          `json:"stateNonce"`
	BalA        math.Int        `json:"balA"`
	BalB        math.Int        `json:"balB"`
	LocksRoot   hexutil.Bytes   `json:"locksRoot"`
	StateExpiry uint64          `json:"stateExpiry"`
	ContextHash hexutil.Bytes   `json:"contextHash"`
}

// MakeState converts a state into its wire form.
func MakeState(s *channel.State) (ChannelState, error) {
	if s == nil {
		return ChannelState{}, errors.New("nil state")
	}
	if err := s.Validate(); err != nil {
		return ChannelState{}, err
	}
	return ChannelState{
		ChannelID:   s.ChannelID,
		StateNonce:  s.Nonce,
		BalA:        s.BalA,
		BalB:        s.BalB,
		LocksRoot:   append(hexutil.Bytes(nil), s.LocksRoot[:]...),
		StateExpiry: s.Expiry,
		ContextHash: append(hexutil.Bytes(nil), s.ContextHash[:]...),
	}, nil
}

// ToState converts the wire form back into a state. Hash fields must be
// exactly 32 bytes; an absent hash decodes as the zero hash.
func ToState(ws ChannelState) (*channel.State, error) {
	locksRoot, err := hash32(ws.LocksRoot, "locksRoot")
	if err != nil {
		return nil, err
	}
	contextHash, err := hash32(ws.ContextHash, "contextHash")
	if err != nil {
		return nil, err
	}
	s := &channel.State{
		ChannelID:   ws.ChannelID,
		Nonce:       ws.StateNonce,
		BalA:        ws.BalA,
		BalB:        ws.BalB,
		LocksRoot:   locksRoot,
		Expiry:      ws.StateExpiry,
		ContextHash: contextHash,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// hash32 converts a hex byte field into a 32-byte array. Empty means the
// sender omitted the field and decodes as zero.
func hash32(b hexutil.Bytes, field string) ([32]byte, error) {
	var h [32]byte
	if len(b) == 0 {
		return h, nil
	}
	if len(b) != len(h) {
		return h, errors.Errorf("%s has length %d, expected %d", field, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}
