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

package hub

import (
	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/idempotency"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// StateSource resolves the digests of accepted channel states, so a ticket's
// channel proof can be checked against what the ledger actually committed.
// *channel.Ledger implements it; a payee without ledger access plugs in a
// client of the hub's query surface instead.
type StateSource interface {
	StateDigestAt(id types.ChannelID, nonce uint64) ([32]byte, error)
}

// Expectation is what the payee believes it is owed before it accepts a
// ticket as payment.
type Expectation struct {
	Payee     *wtypes.Participant
	InvoiceID string
	Asset     types.Asset
	Amount    math.Int
}

// Verifier is the payee's side of the ticket profile. It checks hub tickets
// against the payee's expectation and burns each payment id exactly once.
type Verifier struct {
	backend *channel.Backend
	states  StateSource
	idem    *idempotency.Store
	clk     clock.Clock
	log     log.Embedding
}

// NewVerifier creates a verifier. The idempotency store must be the payee's
// own; sharing it with a hub would let either party burn the other's ids. A
// nil clock selects the wall clock.
func NewVerifier(backend *channel.Backend, states StateSource, idem *idempotency.Store, clk clock.Clock) *Verifier {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Verifier{
		backend: backend,
		states:  states,
		idem:    idem,
		clk:     clk,
		log:     log.MakeEmbedding(log.Default()),
	}
}

// VerifyTicket accepts a ticket as payment for the expectation, or reports
// why it cannot. The payment id is consumed only after every other check
// passed, so an invalid ticket never burns the id. A nil error means the
// payee may release the resource.
//
// Check order: structure, expiry, hub signature, proof against the accepted
// state, expectation binding, single use.
func (v *Verifier) VerifyTicket(t *Ticket, proof *ChannelProof, expect Expectation) error {
	if t == nil || proof == nil {
		return errors.New("nil ticket or proof")
	}
	if err := t.Validate(); err != nil {
		return errors.WithMessage(err, "ticket")
	}
	if err := proof.Validate(); err != nil {
		return errors.WithMessage(err, "channel proof")
	}
	if now := v.now(); now >= t.Expiry {
		return errorsmod.Wrapf(ErrTicketExpired, "expired at %d, now %d", t.Expiry, now)
	}

	digest, err := t.Digest(v.backend)
	if err != nil {
		return err
	}
	valid, err := wallet.VerifyDigest(digest, t.Signature, t.Hub)
	if err != nil {
		return err
	}
	if !valid {
		return errorsmod.Wrap(channel.ErrInvalidSignature, "ticket not signed by hub")
	}

	accepted, err := v.states.StateDigestAt(proof.ChannelID, proof.StateNonce)
	if err != nil {
		return errorsmod.Wrapf(ErrTicketBinding, "proof references no accepted state: %v", err)
	}
	if accepted != proof.StateHash {
		return errorsmod.Wrap(ErrTicketBinding, "proof state hash does not match the accepted state")
	}

	if err := v.checkExpectation(t, expect); err != nil {
		return err
	}

	if err := v.idem.Consume(t.PaymentID); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyConsumed) {
			return errorsmod.Wrapf(ErrTicketAlreadyConsumed, "payment %q", t.PaymentID)
		}
		return err
	}
	v.log.Log().Debugf("accepted ticket %s: %s for invoice %q", t.TicketID, t.Amount, t.InvoiceID)
	return nil
}

func (v *Verifier) checkExpectation(t *Ticket, expect Expectation) error {
	if expect.Payee == nil || !t.Payee.Equal(expect.Payee) {
		return errorsmod.Wrap(ErrTicketBinding, "ticket names a different payee")
	}
	if t.InvoiceID != expect.InvoiceID {
		return errorsmod.Wrapf(ErrTicketBinding, "ticket invoice %q, expected %q", t.InvoiceID, expect.InvoiceID)
	}
	if !t.Asset.Equal(expect.Asset) {
		return errorsmod.Wrapf(ErrTicketBinding, "ticket asset %s, expected %s", t.Asset, expect.Asset)
	}
	if expect.Amount.IsNil() || !t.Amount.Equal(expect.Amount) {
		return errorsmod.Wrapf(ErrTicketBinding, "ticket amount %s, expected %s", t.Amount, expect.Amount)
	}
	return nil
}

func (v *Verifier) now() uint64 {
	now := v.clk.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}
