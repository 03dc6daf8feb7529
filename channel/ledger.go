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
	"sync"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// digestWindow is the number of accepted-state digests kept per channel for
// ticket proof checks. Proofs referencing older states no longer resolve.
const digestWindow = 32

// Ledger tracks the channels the local party takes part in and validates
// incoming counterparty-signed states against them. All mutations of one
// channel are serialized by a per-channel lock; operations on different
// channels proceed concurrently.
type Ledger struct {
	backend *Backend
	self    *wtypes.Participant
	clk     clock.Clock
	log     log.Embedding

	mu       sync.RWMutex
	channels map[types.ChannelID]*ledgerEntry
	byPeer   map[string][]types.ChannelID
}

type ledgerEntry struct {
	mu      sync.Mutex
	ch      *Channel
	digests map[uint64][32]byte
	order   []uint64
}

// NewLedger creates a ledger for the given local participant. The clock is
// the validation clock for state expiries; nil selects the wall clock.
func NewLedger(backend *Backend, self *wtypes.Participant, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Ledger{
		backend:  backend,
		self:     self,
		clk:      clk,
		log:      log.MakeEmbedding(log.Default()),
		channels: make(map[types.ChannelID]*ledgerEntry),
		byPeer:   make(map[string][]types.ChannelID),
	}
}

// Self returns the local participant the ledger validates for.
func (l *Ledger) Self() *wtypes.Participant {
	return l.self
}

// Register starts tracking a freshly opened channel. The record must be an
// open seed-state channel involving the local participant.
func (l *Ledger) Register(ch *Channel) error {
	if ch == nil {
		return errors.New("nil channel")
	}
	if err := ch.ParticipantA.Validate(); err != nil {
		return errors.Wrap(err, "participant A")
	}
	if err := ch.ParticipantB.Validate(); err != nil {
		return errors.Wrap(err, "participant B")
	}
	if ch.ParticipantA.Equal(ch.ParticipantB) {
		return errors.New("participants must differ")
	}
	if _, ok := ch.SideOf(l.self); !ok {
		return errors.New("local participant not in channel")
	}
	if ch.Status != StatusOpen {
		return errors.Errorf("cannot register channel in status %s", ch.Status)
	}
	if ch.TotalBalance.IsNil() || ch.TotalBalance.IsNegative() {
		return errors.New("invalid total balance")
	}
	if ch.Latest.State == nil || ch.Latest.State.Nonce != 0 {
		return errors.New("channel must start at the seed state")
	}
	if !ch.BalA.Add(ch.BalB).Equal(ch.TotalBalance) {
		return errors.New("seed balances do not sum to total")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.channels[ch.ID]; ok {
		return errors.Errorf("channel %s already registered", ch.ID)
	}
	l.channels[ch.ID] = &ledgerEntry{
		ch:      ch.Clone(),
		digests: make(map[uint64][32]byte),
	}
	l.byPeer[ch.ParticipantA.String()] = append(l.byPeer[ch.ParticipantA.String()], ch.ID)
	l.byPeer[ch.ParticipantB.String()] = append(l.byPeer[ch.ParticipantB.String()], ch.ID)
	l.log.Log().WithField("channel", ch.ID.Hex()).Infof("tracking channel, total %s", ch.TotalBalance)
	return nil
}

// AcceptState validates a counterparty-signed state against the channel and
// commits it as the new latest state. It returns the debit: how much the
// signer's tracked balance decreased. Rejections leave the channel
// untouched and carry one of the ledger sentinel errors.
//
// Validation order: channel exists and is not closed, nonce strictly
// increases, structure is sound, balances conserve the funded total, the
// state is not expired, and the signature verifies against the
// counterparty. A disputed channel still accepts fresher states; they are
// the ammunition for countering a stale close.
func (l *Ledger) AcceptState(id types.ChannelID, s *State, sig wallet.Sig) (math.Int, error) {
	e, err := l.entry(id)
	if err != nil {
		return math.Int{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.ch

	if ch.Status == StatusClosed {
		return math.Int{}, errorsmod.Wrapf(ErrChannelNotOpen, "status %s", ch.Status)
	}
	if s == nil {
		return math.Int{}, errorsmod.Wrap(ErrInvalidState, "nil state")
	}
	if s.ChannelID != id {
		return math.Int{}, errorsmod.Wrap(ErrInvalidState, "state names a different channel")
	}
	if s.Nonce <= ch.Latest.State.Nonce {
		return math.Int{}, errorsmod.Wrapf(ErrStaleNonce, "nonce %d, latest %d", s.Nonce, ch.Latest.State.Nonce)
	}
	if err := s.Validate(); err != nil {
		return math.Int{}, err
	}
	if !s.Total().Equal(ch.TotalBalance) {
		return math.Int{}, errorsmod.Wrapf(ErrBalanceConservation, "state total %s, funded total %s", s.Total(), ch.TotalBalance)
	}
	if s.Expiry != 0 && l.now() >= s.Expiry {
		return math.Int{}, errorsmod.Wrapf(ErrStateExpired, "expiry %d, now %d", s.Expiry, l.now())
	}

	peer, ok := ch.Peer(l.self)
	if !ok {
		return math.Int{}, errors.New("local participant not in channel")
	}
	digest, err := l.backend.StateDigest(s)
	if err != nil {
		return math.Int{}, err
	}
	valid, err := wallet.VerifyDigest(digest, sig, peer)
	if err != nil {
		return math.Int{}, err
	}
	if !valid {
		return math.Int{}, errorsmod.Wrap(ErrInvalidSignature, "state not signed by counterparty")
	}

	peerSide, _ := ch.SideOf(peer)
	debit := ch.Balance(peerSide).Sub(s.Balance(peerSide))
	if debit.IsNegative() {
		return math.Int{}, errorsmod.Wrap(ErrInvalidState, "state moves funds toward the signer")
	}

	ch.Latest = SignedState{State: s, Sig: sig}.Clone()
	ch.BalA = s.BalA
	ch.BalB = s.BalB
	l.recordDigest(e, s.Nonce, digest)
	l.log.Log().WithField("channel", id.Hex()).Debugf("accepted state nonce %d, debit %s", s.Nonce, debit)
	return debit, nil
}

// Channel returns a copy of the channel record.
func (l *Ledger) Channel(id types.ChannelID) (*Channel, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch.Clone(), nil
}

// ChannelsOf lists the channels p takes part in, in registration order.
func (l *Ledger) ChannelsOf(p *wtypes.Participant) []types.ChannelID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := l.byPeer[p.String()]
	out := make([]types.ChannelID, len(ids))
	copy(out, ids)
	return out
}

// ApplyDeposit reflects an on-chain deposit: it raises the depositor's
// tracked balance and the funded total. States signed before the deposit no
// longer conserve the new total and will be rejected until rebuilt.
func (l *Ledger) ApplyDeposit(id types.ChannelID, depositor *wtypes.Participant, amount math.Int) error {
	e, err := l.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := e.ch

	if ch.Status != StatusOpen {
		return errorsmod.Wrapf(ErrChannelNotOpen, "status %s", ch.Status)
	}
	side, ok := ch.SideOf(depositor)
	if !ok {
		return errorsmod.Wrap(ErrInvalidState, "depositor not a participant")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return errorsmod.Wrap(ErrInvalidState, "non-positive deposit")
	}
	ch.TotalBalance = ch.TotalBalance.Add(amount)
	if side == SideA {
		ch.BalA = ch.BalA.Add(amount)
	} else {
		ch.BalB = ch.BalB.Add(amount)
	}
	l.log.Log().WithField("channel", id.Hex()).Infof("deposit %s by side %s, total now %s", amount, side, ch.TotalBalance)
	return nil
}

// MarkClosing records a running on-chain close. The nonce is the one the
// close was started with, deadline the end of the challenge window. The
// channel keeps accepting fresher states while disputed; deposits and
// balance shifts stop.
func (l *Ledger) MarkClosing(id types.ChannelID, nonce, deadline uint64) error {
	e, err := l.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch.Status == StatusClosed {
		return errorsmod.Wrap(ErrChannelNotOpen, "channel already closed")
	}
	e.ch.Status = StatusClosingDisputed
	e.ch.DisputeNonce = nonce
	e.ch.CloseDeadline = deadline
	l.log.Log().WithField("channel", id.Hex()).Infof("close started at nonce %d, deadline %d", nonce, deadline)
	return nil
}

// MarkClosed finalizes the channel. Idempotent.
func (l *Ledger) MarkClosed(id types.ChannelID) error {
	e, err := l.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ch.Status = StatusClosed
	l.log.Log().WithField("channel", id.Hex()).Info("channel closed")
	return nil
}

// FinalState builds the unsigned settlement state for a cooperative close:
// the tracked balances at the next nonce, with no payment context. Both
// parties sign it and either one submits it to the gateway.
func (l *Ledger) FinalState(id types.ChannelID) (*State, error) {
	e, err := l.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ch.Status == StatusClosed {
		return nil, errorsmod.Wrap(ErrChannelNotOpen, "channel already closed")
	}
	return &State{
		ChannelID: id,
		Nonce:     e.ch.Latest.State.Nonce + 1,
		BalA:      e.ch.BalA,
		BalB:      e.ch.BalB,
	}, nil
}

// ShiftBalance moves amount of the hub's funds from the source channel to
// the destination channel after an on-chain rebalance. Both channel locks
// are taken in id order, so concurrent shifts over crossing pairs cannot
// deadlock.
func (l *Ledger) ShiftBalance(src, dst types.ChannelID, hub *wtypes.Participant, amount math.Int) error {
	if src == dst {
		return errorsmod.Wrap(ErrInvalidState, "source and destination are the same channel")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return errorsmod.Wrap(ErrInvalidState, "non-positive amount")
	}
	se, err := l.entry(src)
	if err != nil {
		return err
	}
	de, err := l.entry(dst)
	if err != nil {
		return err
	}

	first, second := se, de
	if dst.Less(src) {
		first, second = de, se
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	sch, dch := se.ch, de.ch
	if !sch.Asset.Equal(dch.Asset) {
		return errorsmod.Wrapf(ErrAssetMismatch, "source %s, destination %s", sch.Asset, dch.Asset)
	}
	if sch.Status != StatusOpen {
		return errorsmod.Wrapf(ErrChannelNotOpen, "source status %s", sch.Status)
	}
	if dch.Status != StatusOpen {
		return errorsmod.Wrapf(ErrChannelNotOpen, "destination status %s", dch.Status)
	}
	srcSide, ok := sch.SideOf(hub)
	if !ok {
		return errorsmod.Wrap(ErrInvalidState, "hub not in source channel")
	}
	dstSide, ok := dch.SideOf(hub)
	if !ok {
		return errorsmod.Wrap(ErrInvalidState, "hub not in destination channel")
	}
	if sch.Balance(srcSide).LT(amount) {
		return errorsmod.Wrapf(ErrInsufficientChannelBalance, "hub holds %s in source, needs %s", sch.Balance(srcSide), amount)
	}

	sch.TotalBalance = sch.TotalBalance.Sub(amount)
	dch.TotalBalance = dch.TotalBalance.Add(amount)
	if srcSide == SideA {
		sch.BalA = sch.BalA.Sub(amount)
	} else {
		sch.BalB = sch.BalB.Sub(amount)
	}
	if dstSide == SideA {
		dch.BalA = dch.BalA.Add(amount)
	} else {
		dch.BalB = dch.BalB.Add(amount)
	}
	l.log.Log().Infof("shifted %s from %s to %s", amount, src, dst)
	return nil
}

// StateDigestAt returns the digest of the accepted state at the given
// nonce, as long as it is within the retained window.
func (l *Ledger) StateDigestAt(id types.ChannelID, nonce uint64) ([32]byte, error) {
	e, err := l.entry(id)
	if err != nil {
		return [32]byte{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	digest, ok := e.digests[nonce]
	if !ok {
		return [32]byte{}, errors.Errorf("no accepted state at nonce %d", nonce)
	}
	return digest, nil
}

func (l *Ledger) entry(id types.ChannelID) (*ledgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.channels[id]
	if !ok {
		return nil, errorsmod.Wrapf(ErrChannelNotFound, "channel %s", id)
	}
	return e, nil
}

// recordDigest keeps the accepted-state digest for later proof checks,
// bounded to the newest digestWindow entries. Caller holds the entry lock.
func (l *Ledger) recordDigest(e *ledgerEntry, nonce uint64, digest [32]byte) {
	e.digests[nonce] = digest
	e.order = append(e.order, nonce)
	for len(e.order) > digestWindow {
		delete(e.digests, e.order[0])
		e.order = e.order[1:]
	}
}

func (l *Ledger) now() uint64 {
	now := l.clk.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}
