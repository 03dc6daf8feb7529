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

package client

import (
	"context"
	"time"

	"cosmossdk.io/math"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	wtypes "perun.network/x402-channels/wallet/types"
)

const MaxIterationsUntilAbort = 20
const DefaultPollingInterval = time.Duration(2) * time.Second

// Funder opens channels through the gateway and registers them on the
// local ledger once the adjudicator confirms the funding. Confirmation is
// polled, bounded by maxIters times the polling interval.
type Funder struct {
	gw              ChainGateway
	ledger          *channel.Ledger
	maxIters        int
	pollingInterval time.Duration
	log             log.Embedding
}

// NewFunder creates a funder with the default polling schedule.
func NewFunder(gw ChainGateway, ledger *channel.Ledger) *Funder {
	return &Funder{
		gw:              gw,
		ledger:          ledger,
		maxIters:        MaxIterationsUntilAbort,
		pollingInterval: DefaultPollingInterval,
		log:             log.MakeEmbedding(log.Default()),
	}
}

// NewFunderWithPolling creates a funder with a custom polling schedule.
func NewFunderWithPolling(gw ChainGateway, ledger *channel.Ledger, interval time.Duration, maxIters int) *Funder {
	f := NewFunder(gw, ledger)
	f.pollingInterval = interval
	f.maxIters = maxIters
	return f
}

// OpenAndFund opens the channel described by req, waits until the
// adjudicator reports it funded, and registers it on the ledger with the
// given hub role. It returns the new channel's id.
func (f *Funder) OpenAndFund(ctx context.Context, req OpenRequest, hubRole channel.HubRole) (types.ChannelID, error) {
	id, err := f.gw.OpenChannel(ctx, req)
	if err != nil {
		return types.ChannelID{}, errors.Wrap(err, "opening channel")
	}

	for i := 0; i < f.maxIters; i++ {
		status, err := f.gw.ChannelStatus(ctx, id)
		switch {
		case err != nil:
			f.log.Log().Warnf("polling channel %s: %v", id, err)
		case status.Phase == channel.StatusOpen && status.TotalBalance.GTE(req.Deposit):
			ch := channel.NewChannel(id, req.ParticipantA, req.ParticipantB, req.Asset, status.TotalBalance, hubRole)
			if err := f.ledger.Register(ch); err != nil {
				return types.ChannelID{}, errors.Wrap(err, "registering channel")
			}
			return id, nil
		default:
			f.log.Log().Debugf("channel %s not funded yet", id)
		}

		select {
		case <-ctx.Done():
			return types.ChannelID{}, ctx.Err()
		case <-time.After(f.pollingInterval):
		}
	}
	return types.ChannelID{}, errors.Errorf("channel %s not funded after %d polls", id, f.maxIters)
}

// DepositAndTrack submits an additional deposit and reflects it on the
// ledger once accepted.
func (f *Funder) DepositAndTrack(ctx context.Context, id types.ChannelID, depositor *wtypes.Participant, amount math.Int) error {
	if err := f.gw.Deposit(ctx, id, depositor, amount); err != nil {
		return errors.Wrap(err, "submitting deposit")
	}
	return f.ledger.ApplyDeposit(id, depositor, amount)
}
