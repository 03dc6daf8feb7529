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

// Package payment settles direct-profile x402 payments: a payer-signed
// channel state is exchanged for the requested resource exactly once per
// payment id.
package payment

import (
	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/idempotency"
	"perun.network/x402-channels/wallet"
)

// ModuleName is the error codespace of the payment processor.
const ModuleName = "payment"

// ErrShortPayment means the accepted state debits less than the payee
// required. The state itself was valid and is committed; the payment is
// not settled until a corrected successor covers the difference.
var ErrShortPayment = errorsmod.Register(ModuleName, 2, "accepted debit below required amount")

// Processor validates incoming payments against the payee's ledger under
// at-most-once semantics per payment id.
type Processor struct {
	ledger *channel.Ledger
	idem   *idempotency.Store
	log    log.Embedding
}

// NewProcessor creates a processor over the given ledger and idempotency
// store.
func NewProcessor(ledger *channel.Ledger, idem *idempotency.Store) *Processor {
	return &Processor{
		ledger: ledger,
		idem:   idem,
		log:    log.MakeEmbedding(log.Default()),
	}
}

// ProcessPayment settles one payment: it reserves the payment id, accepts
// the payer-signed state into the ledger, checks the resulting debit
// covers the required amount, and consumes the id. On any failure the
// reservation is released so a corrected retry can settle the same id.
// The returned debit is what the ledger actually deducted from the payer.
func (p *Processor) ProcessPayment(paymentID string, id types.ChannelID, state *channel.State, sig wallet.Sig, required math.Int) (math.Int, error) {
	if paymentID == "" {
		return math.Int{}, errors.New("empty payment id")
	}
	if required.IsNil() || required.IsNegative() {
		return math.Int{}, errors.New("invalid required amount")
	}

	if err := p.idem.Reserve(paymentID); err != nil {
		return math.Int{}, err
	}

	debit, err := p.ledger.AcceptState(id, state, sig)
	if err != nil {
		p.idem.Release(paymentID)
		return math.Int{}, err
	}
	if debit.LT(required) {
		// The state is committed either way; the payer must follow up
		// with a successor covering the remainder under the same id.
		p.idem.Release(paymentID)
		p.log.Log().Warnf("payment %s underpaid: debit %s, required %s", paymentID, debit, required)
		return math.Int{}, errorsmod.Wrapf(ErrShortPayment, "debit %s, required %s", debit, required)
	}

	if err := p.idem.Consume(paymentID); err != nil {
		return math.Int{}, errors.Wrap(err, "consuming payment id")
	}
	p.log.Log().WithField("channel", id.Hex()).Debugf("settled payment %s, debit %s", paymentID, debit)
	return debit, nil
}
