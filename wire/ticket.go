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

package wire

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/hub"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Ticket is the wire form of a hub-issued payment ticket.
type Ticket struct {
	TicketID   string              `json:"ticketId"`
	Hub        *wtypes.Participant `json:"hub"`
	Payee      *wtypes.Participant `json:"payee"`
	InvoiceID  string              `json:"invoiceId"`
	PaymentID  string              `json:"paymentId"`
	Asset      types.Asset         `json:"asset"`
	Amount     math.Int            `json:"amount"`
	FeeCharged math.Int            `json:"feeCharged"`
	TotalDebit math.Int            `json:"totalDebit"`
	Expiry     uint64              `json:"expiry"`
	PolicyHash hexutil.Bytes       `json:"policyHash"`
	Signature  hexutil.Bytes       `json:"signature"`
}

// MakeTicket converts a ticket into its wire form.
func MakeTicket(t *hub.Ticket) (Ticket, error) {
	if t == nil {
		return Ticket{}, errors.New("nil ticket")
	}
	if err := t.Validate(); err != nil {
		return Ticket{}, err
	}
	if len(t.Signature) == 0 {
		return Ticket{}, errors.New("ticket is unsigned")
	}
	return Ticket{
		TicketID:   t.TicketID,
		Hub:        t.Hub.Clone(),
		Payee:      t.Payee.Clone(),
		InvoiceID:  t.InvoiceID,
		PaymentID:  t.PaymentID,
		Asset:      t.Asset,
		Amount:     t.Amount,
		FeeCharged: t.FeeCharged,
		TotalDebit: t.TotalDebit,
		Expiry:     t.Expiry,
		PolicyHash: append(hexutil.Bytes(nil), t.PolicyHash[:]...),
		Signature:  append(hexutil.Bytes(nil), t.Signature...),
	}, nil
}

// ToTicket converts the wire form back into a ticket, revalidating it.
func ToTicket(wt Ticket) (*hub.Ticket, error) {
	policyHash, err := hash32(wt.PolicyHash, "policyHash")
	if err != nil {
		return nil, err
	}
	t := &hub.Ticket{
		TicketID:   wt.TicketID,
		Hub:        wt.Hub.Clone(),
		Payee:      wt.Payee.Clone(),
		InvoiceID:  wt.InvoiceID,
		PaymentID:  wt.PaymentID,
		Asset:      wt.Asset,
		Amount:     wt.Amount,
		FeeCharged: wt.FeeCharged,
		TotalDebit: wt.TotalDebit,
		Expiry:     wt.Expiry,
		PolicyHash: policyHash,
		Signature:  append(wallet.Sig(nil), wt.Signature...),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(t.Signature) == 0 {
		return nil, errors.New("ticket is unsigned")
	}
	return t, nil
}

// ChannelProof is the wire form of the payer's debit proof accompanying a
// ticket.
type ChannelProof struct {
	ChannelID       types.ChannelID `json:"channelId"`
	StateNonce      uint64          `json:"stateNonce"`
	StateHash       hexutil.Bytes   `json:"stateHash"`
	CounterpartySig hexutil.Bytes   `json:"counterpartySignature"`
}

// MakeChannelProof converts a channel proof into its wire form.
func MakeChannelProof(p *hub.ChannelProof) (ChannelProof, error) {
	if p == nil {
		return ChannelProof{}, errors.New("nil channel proof")
	}
	if err := p.Validate(); err != nil {
		return ChannelProof{}, err
	}
	return ChannelProof{
		ChannelID:       p.ChannelID,
		StateNonce:      p.StateNonce,
		StateHash:       append(hexutil.Bytes(nil), p.StateHash[:]...),
		CounterpartySig: append(hexutil.Bytes(nil), p.CounterpartySig...),
	}, nil
}

// ToChannelProof converts the wire form back, revalidating it.
func ToChannelProof(wp ChannelProof) (*hub.ChannelProof, error) {
	stateHash, err := hash32(wp.StateHash, "stateHash")
	if err != nil {
		return nil, err
	}
	p := &hub.ChannelProof{
		ChannelID:       wp.ChannelID,
		StateNonce:      wp.StateNonce,
		StateHash:       stateHash,
		CounterpartySig: append(wallet.Sig(nil), wp.CounterpartySig...),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
