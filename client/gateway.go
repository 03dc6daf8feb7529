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

package client

import (
	"context"

	"cosmossdk.io/math"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/event"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// OpenRequest describes the channel a party asks the adjudicator to open.
// The opener funds the channel with Deposit on side A.
type OpenRequest struct {
	ParticipantA      *wtypes.Participant
	ParticipantB      *wtypes.Participant
	Asset             types.Asset
	Deposit           math.Int
	ChallengeDuration uint64
}

// Status is the gateway's view of a channel's on-chain control state.
type Status struct {
	Phase channel.Status
	// Nonce of the best state known to the adjudicator; zero before any
	// close or challenge.
	Nonce uint64
	// Deadline is the end of the running challenge window, zero outside
	// disputes.
	Deadline     uint64
	TotalBalance math.Int
}

// ChainGateway submits channel operations to the adjudicating chain and
// reports its events. Implementations signal transient unavailability with
// ErrGatewayUnavailable; everything else is treated as final by the
// callers.
type ChainGateway interface {
	// OpenChannel registers and funds a new channel, returning its id.
	OpenChannel(ctx context.Context, req OpenRequest) (types.ChannelID, error)

	// Deposit adds funds to an open channel on the depositor's side.
	Deposit(ctx context.Context, id types.ChannelID, depositor *wtypes.Participant, amount math.Int) error

	// CooperativeClose settles the channel immediately at the given state,
	// authorized by both participants.
	CooperativeClose(ctx context.Context, state *channel.State, sigA, sigB wallet.Sig) error

	// StartClose begins a unilateral close at the given counterparty-signed
	// state, opening the challenge window.
	StartClose(ctx context.Context, state *channel.State, counterpartySig wallet.Sig) error

	// Challenge replaces the close state with a strictly newer one while
	// the challenge window runs.
	Challenge(ctx context.Context, state *channel.State, counterpartySig wallet.Sig) error

	// FinalizeClose pays out a disputed channel after its window elapsed.
	FinalizeClose(ctx context.Context, id types.ChannelID) error

	// Rebalance withdraws amount of the hub's earnings, proven by the
	// counterparty-signed state, from the state's channel into the
	// destination channel.
	Rebalance(ctx context.Context, hub *wtypes.Participant, state *channel.State, to types.ChannelID, amount math.Int, counterpartySig wallet.Sig) error

	// ChannelStatus returns the adjudicator's view of the channel.
	ChannelStatus(ctx context.Context, id types.ChannelID) (Status, error)

	// Subscribe delivers adjudicator events until ctx is done. Events of
	// all channels are delivered; callers filter for the ones they track.
	Subscribe(ctx context.Context) (<-chan event.AdjEvent, error)
}
