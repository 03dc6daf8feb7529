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

package channel

import (
	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"

	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/wallet"
)

// Side indexes the two participants of a channel.
type Side uint8

const (
	// SideA is the side of the first participant.
	SideA Side = 0
	// SideB is the side of the second participant.
	SideB Side = 1
)

// Other returns the opposite side.
func (s Side) Other() Side {
	return 1 - s
}

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// State is one off-chain snapshot of a channel's balance split. States are
// totally ordered per channel by Nonce; only the newest counterparty-signed
// state is enforceable on-chain.
type State struct {
	// ChannelID names the channel the state belongs to.
	ChannelID types.ChannelID
	// Nonce orders states within the channel, strictly increasing.
	Nonce uint64
	// BalA and BalB are the non-negative balances of the two sides. Their
	// sum must equal the channel's funded total.
	BalA math.Int
	BalB math.Int
	// LocksRoot commits to in-flight conditional locks. Lock support is
	// reserved; the field must be all-zero.
	LocksRoot [32]byte
	// Expiry is an optional validity bound as a Unix timestamp. Zero means
	// the state does not expire.
	Expiry uint64
	// ContextHash binds the payment context (payee, resource, invoice,
	// payment id, amount, asset, quote expiry) into the signed state. Zero
	// when the state carries no context.
	ContextHash [32]byte
}

// Balance returns the balance of the given side.
func (s *State) Balance(side Side) math.Int {
	if side == SideA {
		return s.BalA
	}
	return s.BalB
}

// SetBalance sets the balance of the given side.
func (s *State) SetBalance(side Side, bal math.Int) {
	if side == SideA {
		s.BalA = bal
	} else {
		s.BalB = bal
	}
}

// Total returns the sum of both balances.
func (s *State) Total() math.Int {
	return s.BalA.Add(s.BalB)
}

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// Validate checks the state's structural invariants: both balances are set
// and non-negative, and the locks root is zero.
func (s *State) Validate() error {
	if s.BalA.IsNil() || s.BalB.IsNil() {
		return errorsmod.Wrap(ErrInvalidState, "balance unset")
	}
	if s.BalA.IsNegative() || s.BalB.IsNegative() {
		return errorsmod.Wrap(ErrInvalidState, "negative balance")
	}
	if s.LocksRoot != ([32]byte{}) {
		return ErrLocksNotSupported
	}
	return nil
}

// SignedState is a state together with the counterparty's signature over
// its digest.
type SignedState struct {
	State *State
	Sig   wallet.Sig
}

// Clone returns an independent copy.
func (s SignedState) Clone() SignedState {
	c := SignedState{State: s.State.Clone()}
	if s.Sig != nil {
		c.Sig = make(wallet.Sig, len(s.Sig))
		copy(c.Sig, s.Sig)
	}
	return c
}
