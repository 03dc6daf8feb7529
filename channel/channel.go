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
	"cosmossdk.io/math"

	"perun.network/x402-channels/channel/types"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Status is the ledger's view of a channel's lifecycle.
type Status uint8

const (
	// StatusOpen accepts new states.
	StatusOpen Status = iota
	// StatusClosingDisputed marks a channel with a running on-chain close.
	// Fresher states are still accepted to counter a stale close; deposits
	// and balance shifts stop.
	StatusClosingDisputed
	// StatusClosed is terminal.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusClosingDisputed:
		return "closing-disputed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HubRole records which side of a channel, if any, the coordinating hub
// occupies.
type HubRole uint8

const (
	// HubRoleNone marks a direct payer-payee channel without hub.
	HubRoleNone HubRole = iota
	// HubRoleA marks the hub as participant A.
	HubRoleA
	// HubRoleB marks the hub as participant B.
	HubRoleB
)

func (r HubRole) String() string {
	switch r {
	case HubRoleA:
		return "hub-is-A"
	case HubRoleB:
		return "hub-is-B"
	default:
		return "no-hub"
	}
}

// Channel is the ledger's record of one payment channel. BalA and BalB
// track the effective split after accepted states, deposits and rebalances;
// Latest keeps the newest counterparty-signed state as on-chain evidence.
type Channel struct {
	ID           types.ChannelID
	ParticipantA *wtypes.Participant
	ParticipantB *wtypes.Participant
	Asset        types.Asset
	HubRole      HubRole
	Status       Status

	// TotalBalance is the funded total. Every accepted state must conserve
	// it; deposits and rebalances move it.
	TotalBalance math.Int
	BalA         math.Int
	BalB         math.Int

	// Latest is the newest accepted signed state. At nonce zero it is the
	// unsigned seed state.
	Latest SignedState

	// DisputeNonce and CloseDeadline are set while Status is
	// StatusClosingDisputed: the nonce the on-chain close was started with
	// and the Unix time the challenge window ends.
	DisputeNonce  uint64
	CloseDeadline uint64
}

// NewChannel creates an open channel record seeded at nonce zero with the
// full total on side A, mirroring how the adjudicator reports a fresh
// channel funded by its opener.
func NewChannel(id types.ChannelID, a, b *wtypes.Participant, asset types.Asset, total math.Int, hubRole HubRole) *Channel {
	seed := &State{
		ChannelID: id,
		Nonce:     0,
		BalA:      total,
		BalB:      math.ZeroInt(),
	}
	return &Channel{
		ID:           id,
		ParticipantA: a,
		ParticipantB: b,
		Asset:        asset,
		HubRole:      hubRole,
		Status:       StatusOpen,
		TotalBalance: total,
		BalA:         total,
		BalB:         math.ZeroInt(),
		Latest:       SignedState{State: seed},
	}
}

// Participant returns the participant occupying the given side.
func (c *Channel) Participant(side Side) *wtypes.Participant {
	if side == SideA {
		return c.ParticipantA
	}
	return c.ParticipantB
}

// SideOf returns the side p occupies, or false if p is not a participant.
func (c *Channel) SideOf(p *wtypes.Participant) (Side, bool) {
	switch {
	case c.ParticipantA.Equal(p):
		return SideA, true
	case c.ParticipantB.Equal(p):
		return SideB, true
	default:
		return 0, false
	}
}

// Peer returns the counterparty of p, or false if p is not a participant.
func (c *Channel) Peer(p *wtypes.Participant) (*wtypes.Participant, bool) {
	side, ok := c.SideOf(p)
	if !ok {
		return nil, false
	}
	return c.Participant(side.Other()), true
}

// Balance returns the tracked balance of the given side.
func (c *Channel) Balance(side Side) math.Int {
	if side == SideA {
		return c.BalA
	}
	return c.BalB
}

// Clone returns a deep copy of the record.
func (c *Channel) Clone() *Channel {
	clone := *c
	clone.ParticipantA = c.ParticipantA.Clone()
	clone.ParticipantB = c.ParticipantB.Clone()
	clone.Latest = c.Latest.Clone()
	return &clone
}
