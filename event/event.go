// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package event defines the adjudicator events a chain gateway delivers to
// its subscribers: channel lifecycle transitions as observed on-chain.
package event

import (
	"cosmossdk.io/math"

	"perun.network/x402-channels/channel/types"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Type enumerates the adjudicator event kinds.
type Type int

const (
	// TypeOpened reports a freshly funded channel.
	TypeOpened Type = iota
	// TypeDeposited reports an additional on-chain deposit.
	TypeDeposited
	// TypeClosingStarted reports a unilateral close with a running
	// challenge window.
	TypeClosingStarted
	// TypeChallenged reports a newer state submitted during the window.
	TypeChallenged
	// TypeFinalized reports the terminal payout of a channel.
	TypeFinalized
	// TypeRebalanced reports funds moved between two hub channels.
	TypeRebalanced
)

func (t Type) String() string {
	switch t {
	case TypeOpened:
		return "opened"
	case TypeDeposited:
		return "deposited"
	case TypeClosingStarted:
		return "closing-started"
	case TypeChallenged:
		return "challenged"
	case TypeFinalized:
		return "finalized"
	case TypeRebalanced:
		return "rebalanced"
	default:
		return "unknown"
	}
}

// AdjEvent is one adjudicator event. The concrete type carries the
// event-specific payload.
type AdjEvent interface {
	// ID names the channel the event belongs to.
	ID() types.ChannelID
	// Type returns the event kind.
	Type() Type
}

// OpenedEvent reports a channel known and funded on-chain.
type OpenedEvent struct {
	ChannelID         types.ChannelID
	ParticipantA      *wtypes.Participant
	ParticipantB      *wtypes.Participant
	Asset             types.Asset
	TotalBalance      math.Int
	ChallengeDuration uint64
}

func (e *OpenedEvent) ID() types.ChannelID { return e.ChannelID }
func (e *OpenedEvent) Type() Type          { return TypeOpened }

// DepositedEvent reports an additional deposit into an open channel.
type DepositedEvent struct {
	ChannelID types.ChannelID
	Depositor *wtypes.Participant
	Amount    math.Int
}

func (e *DepositedEvent) ID() types.ChannelID { return e.ChannelID }
func (e *DepositedEvent) Type() Type          { return TypeDeposited }

// ClosingStartedEvent reports a unilateral close. Nonce is the nonce of the
// submitted state, Deadline the Unix time the challenge window ends.
type ClosingStartedEvent struct {
	ChannelID types.ChannelID
	Nonce     uint64
	Deadline  uint64
}

func (e *ClosingStartedEvent) ID() types.ChannelID { return e.ChannelID }
func (e *ClosingStartedEvent) Type() Type          { return TypeClosingStarted }

// ChallengedEvent reports that a newer state replaced the close state
// during the challenge window.
type ChallengedEvent struct {
	ChannelID types.ChannelID
	Nonce     uint64
	Deadline  uint64
}

func (e *ChallengedEvent) ID() types.ChannelID { return e.ChannelID }
func (e *ChallengedEvent) Type() Type          { return TypeChallenged }

// FinalizedEvent reports the terminal payout split of a closed channel.
type FinalizedEvent struct {
	ChannelID types.ChannelID
	BalA      math.Int
	BalB      math.Int
}

func (e *FinalizedEvent) ID() types.ChannelID { return e.ChannelID }
func (e *FinalizedEvent) Type() Type          { return TypeFinalized }

// RebalancedEvent reports that the hub moved funds out of the source
// channel into the destination channel.
type RebalancedEvent struct {
	ChannelID types.ChannelID
	To        types.ChannelID
	Amount    math.Int
}

func (e *RebalancedEvent) ID() types.ChannelID { return e.ChannelID }
func (e *RebalancedEvent) Type() Type          { return TypeRebalanced }
