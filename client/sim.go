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
	"encoding/binary"
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lightningnetwork/lnd/clock"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/event"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// simSubBuffer is the event buffer per subscriber. Slow subscribers drop
// events beyond it.
const simSubBuffer = 64

// SimulatedGateway is an in-memory adjudicator. It enforces the same rules
// a channel contract would: conservation against the funded total, strict
// nonce ordering of disputes, challenge windows measured on its clock, and
// signature checks against the channel's participants.
//
// It backs the tests and the demo binary; production deployments implement
// ChainGateway against a real chain.
type SimulatedGateway struct {
	backend *channel.Backend
	clk     clock.Clock
	log     log.Embedding

	mu          sync.Mutex
	channels    map[types.ChannelID]*simChannel
	subs        map[int]chan event.AdjEvent
	nextSub     int
	salt        uint64
	unavailable bool
}

type simChannel struct {
	a, b  *wtypes.Participant
	asset types.Asset

	// total is deposits minus rebalance withdrawals. Submitted states
	// must conserve it, so rebalances require a fresh co-signed state
	// before the channel can close again.
	total math.Int

	phase             channel.Status
	challengeDuration uint64
	bestNonce         uint64
	bestState         *channel.State
	deadline          uint64
	rebalanceNonce    uint64
}

var _ ChainGateway = (*SimulatedGateway)(nil)

// NewSimulatedGateway creates a simulated adjudicator on the given clock.
// A nil clock selects the wall clock.
func NewSimulatedGateway(backend *channel.Backend, clk clock.Clock) *SimulatedGateway {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &SimulatedGateway{
		backend:  backend,
		clk:      clk,
		log:      log.MakeEmbedding(log.Default()),
		channels: make(map[types.ChannelID]*simChannel),
		subs:     make(map[int]chan event.AdjEvent),
	}
}

// SetUnavailable switches the gateway into (or out of) a simulated outage.
// While unavailable every operation fails with ErrGatewayUnavailable.
func (g *SimulatedGateway) SetUnavailable(down bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unavailable = down
}

func (g *SimulatedGateway) OpenChannel(_ context.Context, req OpenRequest) (types.ChannelID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return types.ChannelID{}, ErrGatewayUnavailable
	}
	if err := req.ParticipantA.Validate(); err != nil {
		return types.ChannelID{}, errorsmod.Wrap(ErrRejected, err.Error())
	}
	if err := req.ParticipantB.Validate(); err != nil {
		return types.ChannelID{}, errorsmod.Wrap(ErrRejected, err.Error())
	}
	if req.ParticipantA.Equal(req.ParticipantB) {
		return types.ChannelID{}, errorsmod.Wrap(ErrRejected, "participants must differ")
	}
	if req.Deposit.IsNil() || req.Deposit.IsNegative() {
		return types.ChannelID{}, errorsmod.Wrap(ErrRejected, "invalid deposit")
	}

	g.salt++
	id := g.deriveID(req)
	g.channels[id] = &simChannel{
		a:                 req.ParticipantA.Clone(),
		b:                 req.ParticipantB.Clone(),
		asset:             req.Asset,
		total:             req.Deposit,
		phase:             channel.StatusOpen,
		challengeDuration: req.ChallengeDuration,
	}
	g.emit(&event.OpenedEvent{
		ChannelID:         id,
		ParticipantA:      req.ParticipantA.Clone(),
		ParticipantB:      req.ParticipantB.Clone(),
		Asset:             req.Asset,
		TotalBalance:      req.Deposit,
		ChallengeDuration: req.ChallengeDuration,
	})
	g.log.Log().WithField("channel", id.Hex()).Debugf("opened with deposit %s", req.Deposit)
	return id, nil
}

func (g *SimulatedGateway) Deposit(_ context.Context, id types.ChannelID, depositor *wtypes.Participant, amount math.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, err := g.get(id)
	if err != nil {
		return err
	}
	if sc.phase != channel.StatusOpen {
		return errorsmod.Wrap(ErrRejected, "channel not open")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return errorsmod.Wrap(ErrRejected, "non-positive deposit")
	}
	if !sc.a.Equal(depositor) && !sc.b.Equal(depositor) {
		return errorsmod.Wrap(ErrRejected, "depositor not a participant")
	}
	sc.total = sc.total.Add(amount)
	g.emit(&event.DepositedEvent{ChannelID: id, Depositor: depositor.Clone(), Amount: amount})
	return nil
}

func (g *SimulatedGateway) CooperativeClose(_ context.Context, state *channel.State, sigA, sigB wallet.Sig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, err := g.get(state.ChannelID)
	if err != nil {
		return err
	}
	if sc.phase == channel.StatusClosed {
		return errorsmod.Wrap(ErrRejected, "channel already closed")
	}
	if err := g.checkState(sc, state); err != nil {
		return err
	}
	for _, check := range []struct {
		sig wallet.Sig
		p   *wtypes.Participant
	}{{sigA, sc.a}, {sigB, sc.b}} {
		ok, err := g.backend.VerifyState(state, check.sig, check.p)
		if err != nil {
			return errorsmod.Wrap(ErrRejected, err.Error())
		}
		if !ok {
			return errorsmod.Wrap(ErrRejected, "missing participant signature")
		}
	}
	g.settle(sc, state)
	return nil
}

func (g *SimulatedGateway) StartClose(_ context.Context, state *channel.State, counterpartySig wallet.Sig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, err := g.get(state.ChannelID)
	if err != nil {
		return err
	}
	if sc.phase != channel.StatusOpen {
		return errorsmod.Wrap(ErrRejected, "close already running or settled")
	}
	if err := g.checkState(sc, state); err != nil {
		return err
	}
	if err := g.checkParticipantSig(sc, state, counterpartySig); err != nil {
		return err
	}

	sc.phase = channel.StatusClosingDisputed
	sc.bestNonce = state.Nonce
	sc.bestState = state.Clone()
	sc.deadline = g.now() + sc.challengeDuration
	g.emit(&event.ClosingStartedEvent{ChannelID: state.ChannelID, Nonce: state.Nonce, Deadline: sc.deadline})
	g.log.Log().WithField("channel", state.ChannelID.Hex()).Debugf("close started at nonce %d", state.Nonce)
	return nil
}

func (g *SimulatedGateway) Challenge(_ context.Context, state *channel.State, counterpartySig wallet.Sig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, err := g.get(state.ChannelID)
	if err != nil {
		return err
	}
	if sc.phase != channel.StatusClosingDisputed {
		return errorsmod.Wrap(ErrRejected, "no close running")
	}
	if g.now() >= sc.deadline {
		return errorsmod.Wrap(ErrRejected, "challenge window elapsed")
	}
	if state.Nonce <= sc.bestNonce {
		return errorsmod.Wrapf(ErrRejected, "nonce %d not newer than %d", state.Nonce, sc.bestNonce)
	}
	if err := g.checkState(sc, state); err != nil {
		return err
	}
	if err := g.checkParticipantSig(sc, state, counterpartySig); err != nil {
		return err
	}

	sc.bestNonce = state.Nonce
	sc.bestState = state.Clone()
	g.emit(&event.ChallengedEvent{ChannelID: state.ChannelID, Nonce: state.Nonce, Deadline: sc.deadline})
	return nil
}

func (g *SimulatedGateway) FinalizeClose(_ context.Context, id types.ChannelID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, err := g.get(id)
	if err != nil {
		return err
	}
	if sc.phase == channel.StatusClosed {
		return nil
	}
	if sc.phase != channel.StatusClosingDisputed {
		return errorsmod.Wrap(ErrRejected, "no close running")
	}
	if g.now() < sc.deadline {
		return errorsmod.Wrap(ErrRejected, "challenge window still open")
	}
	g.settle(sc, sc.bestState)
	return nil
}

func (g *SimulatedGateway) Rebalance(_ context.Context, hub *wtypes.Participant, state *channel.State, to types.ChannelID, amount math.Int, counterpartySig wallet.Sig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	src, err := g.get(state.ChannelID)
	if err != nil {
		return err
	}
	dst, err := g.get(to)
	if err != nil {
		return err
	}
	if src.phase != channel.StatusOpen || dst.phase != channel.StatusOpen {
		return errorsmod.Wrap(ErrRejected, "both channels must be open")
	}
	if !src.asset.Equal(dst.asset) {
		return errorsmod.Wrap(ErrRejected, "asset mismatch")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return errorsmod.Wrap(ErrRejected, "non-positive amount")
	}

	hubSrcSide, err := sideOf(src, hub)
	if err != nil {
		return err
	}
	if _, err := sideOf(dst, hub); err != nil {
		return err
	}
	if err := g.checkState(src, state); err != nil {
		return err
	}
	if state.Nonce <= src.rebalanceNonce {
		return errorsmod.Wrapf(ErrRejected, "state nonce %d already used for a rebalance", state.Nonce)
	}
	peer := src.a
	if hubSrcSide == channel.SideA {
		peer = src.b
	}
	ok, err := g.backend.VerifyState(state, counterpartySig, peer)
	if err != nil {
		return errorsmod.Wrap(ErrRejected, err.Error())
	}
	if !ok {
		return errorsmod.Wrap(ErrRejected, "state not signed by hub counterparty")
	}
	if state.Balance(hubSrcSide).LT(amount) {
		return errorsmod.Wrapf(ErrRejected, "state proves %s for the hub, needs %s", state.Balance(hubSrcSide), amount)
	}

	src.rebalanceNonce = state.Nonce
	src.total = src.total.Sub(amount)
	dst.total = dst.total.Add(amount)
	g.emit(&event.RebalancedEvent{ChannelID: state.ChannelID, To: to, Amount: amount})
	g.log.Log().Debugf("rebalanced %s from %s to %s", amount, state.ChannelID, to)
	return nil
}

func (g *SimulatedGateway) ChannelStatus(_ context.Context, id types.ChannelID) (Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sc, err := g.get(id)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Phase:        sc.phase,
		Nonce:        sc.bestNonce,
		Deadline:     sc.deadline,
		TotalBalance: sc.total,
	}, nil
}

// Subscribe registers an event subscriber. The subscription ends when ctx
// is done; its channel is closed then.
func (g *SimulatedGateway) Subscribe(ctx context.Context) (<-chan event.AdjEvent, error) {
	g.mu.Lock()
	ch := make(chan event.AdjEvent, simSubBuffer)
	idx := g.nextSub
	g.nextSub++
	g.subs[idx] = ch
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		g.mu.Lock()
		delete(g.subs, idx)
		g.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// settle closes the channel and pays out the given state's balances. The
// state has already been checked against the funded total, which includes
// all deposits and rebalances. Caller holds the lock.
func (g *SimulatedGateway) settle(sc *simChannel, state *channel.State) {
	sc.phase = channel.StatusClosed
	sc.bestNonce = state.Nonce
	sc.bestState = state.Clone()
	g.emit(&event.FinalizedEvent{ChannelID: state.ChannelID, BalA: state.BalA, BalB: state.BalB})
	g.log.Log().WithField("channel", state.ChannelID.Hex()).Debugf("settled at nonce %d: A %s, B %s", state.Nonce, state.BalA, state.BalB)
}

// checkState validates structure and conservation against the funded
// total. Caller holds the lock.
func (g *SimulatedGateway) checkState(sc *simChannel, state *channel.State) error {
	if state == nil {
		return errorsmod.Wrap(ErrRejected, "nil state")
	}
	if err := state.Validate(); err != nil {
		return errorsmod.Wrap(ErrRejected, err.Error())
	}
	if !state.Total().Equal(sc.total) {
		return errorsmod.Wrapf(ErrRejected, "state total %s, funded total %s", state.Total(), sc.total)
	}
	return nil
}

// checkParticipantSig accepts a signature by either channel participant.
func (g *SimulatedGateway) checkParticipantSig(sc *simChannel, state *channel.State, sig wallet.Sig) error {
	for _, p := range []*wtypes.Participant{sc.a, sc.b} {
		ok, err := g.backend.VerifyState(state, sig, p)
		if err != nil {
			return errorsmod.Wrap(ErrRejected, err.Error())
		}
		if ok {
			return nil
		}
	}
	return errorsmod.Wrap(ErrRejected, "state not signed by a participant")
}

func (g *SimulatedGateway) get(id types.ChannelID) (*simChannel, error) {
	if g.unavailable {
		return nil, ErrGatewayUnavailable
	}
	sc, ok := g.channels[id]
	if !ok {
		return nil, errorsmod.Wrapf(ErrUnknownChannel, "channel %s", id)
	}
	return sc, nil
}

func sideOf(sc *simChannel, p *wtypes.Participant) (channel.Side, error) {
	switch {
	case sc.a.Equal(p):
		return channel.SideA, nil
	case sc.b.Equal(p):
		return channel.SideB, nil
	default:
		return 0, errorsmod.Wrap(ErrRejected, "not a channel participant")
	}
}

// emit delivers to all subscribers without blocking; a full subscriber
// buffer drops the event.
func (g *SimulatedGateway) emit(e event.AdjEvent) {
	for _, sub := range g.subs {
		select {
		case sub <- e:
		default:
			g.log.Log().Warnf("dropping %s event for %s: subscriber buffer full", e.Type(), e.ID())
		}
	}
}

func (g *SimulatedGateway) deriveID(req OpenRequest) types.ChannelID {
	var salt [8]byte
	binary.BigEndian.PutUint64(salt[:], g.salt)
	aBin, _ := req.ParticipantA.MarshalBinary()
	bBin, _ := req.ParticipantB.MarshalBinary()
	hash := crypto.Keccak256(salt[:], aBin, bBin, []byte(req.Asset.String()))
	var id types.ChannelID
	copy(id[:], hash)
	return id
}

func (g *SimulatedGateway) now() uint64 {
	now := g.clk.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}
