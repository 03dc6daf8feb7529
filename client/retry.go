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
	"errors"
	"time"

	"cosmossdk.io/math"
	"github.com/cenkalti/backoff/v4"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/event"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Default retry schedule for gateway submissions.
const (
	DefaultInitialInterval = 200 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
)

// RetryConfig tunes the exponential backoff of the retrying gateway.
// Zero values select the defaults.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime bounds the total retry span of one submission.
	MaxElapsedTime time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = DefaultMaxElapsedTime
	}
	return c
}

// RetryingGateway wraps a ChainGateway and retries submissions that fail
// with ErrGatewayUnavailable under exponential backoff. All other errors
// pass through unchanged on the first attempt.
type RetryingGateway struct {
	gw  ChainGateway
	cfg RetryConfig
	log log.Embedding
}

var _ ChainGateway = (*RetryingGateway)(nil)

// NewRetryingGateway wraps gw with the given retry schedule.
func NewRetryingGateway(gw ChainGateway, cfg RetryConfig) *RetryingGateway {
	return &RetryingGateway{
		gw:  gw,
		cfg: cfg.withDefaults(),
		log: log.MakeEmbedding(log.Default()),
	}
}

// retry runs op under the configured backoff, stopping early on permanent
// errors or context cancellation.
func (r *RetryingGateway) retry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = r.cfg.MaxElapsedTime

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrGatewayUnavailable):
			r.log.Log().Warnf("gateway %s attempt %d: %v", name, attempt, err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(b, ctx))
}

func (r *RetryingGateway) OpenChannel(ctx context.Context, req OpenRequest) (types.ChannelID, error) {
	var id types.ChannelID
	err := r.retry(ctx, "open", func() error {
		var err error
		id, err = r.gw.OpenChannel(ctx, req)
		return err
	})
	return id, err
}

func (r *RetryingGateway) Deposit(ctx context.Context, id types.ChannelID, depositor *wtypes.Participant, amount math.Int) error {
	return r.retry(ctx, "deposit", func() error {
		return r.gw.Deposit(ctx, id, depositor, amount)
	})
}

func (r *RetryingGateway) CooperativeClose(ctx context.Context, state *channel.State, sigA, sigB wallet.Sig) error {
	return r.retry(ctx, "cooperative close", func() error {
		return r.gw.CooperativeClose(ctx, state, sigA, sigB)
	})
}

func (r *RetryingGateway) StartClose(ctx context.Context, state *channel.State, counterpartySig wallet.Sig) error {
	return r.retry(ctx, "start close", func() error {
		return r.gw.StartClose(ctx, state, counterpartySig)
	})
}

func (r *RetryingGateway) Challenge(ctx context.Context, state *channel.State, counterpartySig wallet.Sig) error {
	return r.retry(ctx, "challenge", func() error {
		return r.gw.Challenge(ctx, state, counterpartySig)
	})
}

func (r *RetryingGateway) FinalizeClose(ctx context.Context, id types.ChannelID) error {
	return r.retry(ctx, "finalize close", func() error {
		return r.gw.FinalizeClose(ctx, id)
	})
}

func (r *RetryingGateway) Rebalance(ctx context.Context, hub *wtypes.Participant, state *channel.State, to types.ChannelID, amount math.Int, counterpartySig wallet.Sig) error {
	return r.retry(ctx, "rebalance", func() error {
		return r.gw.Rebalance(ctx, hub, state, to, amount, counterpartySig)
	})
}

func (r *RetryingGateway) ChannelStatus(ctx context.Context, id types.ChannelID) (Status, error) {
	var status Status
	err := r.retry(ctx, "status", func() error {
		var err error
		status, err = r.gw.ChannelStatus(ctx, id)
		return err
	})
	return status, err
}

func (r *RetryingGateway) Subscribe(ctx context.Context) (<-chan event.AdjEvent, error) {
	return r.gw.Subscribe(ctx)
}
