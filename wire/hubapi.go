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

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/hub"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// QuoteRequest is the body of a quote call. The channel id names the payer
// leg the later issue call will debit; the hub prices independently of it.
type QuoteRequest struct {
	ChannelID types.ChannelID     `json:"channelId"`
	Payee     *wtypes.Participant `json:"payee"`
	Resource  string              `json:"resource,omitempty"`
	InvoiceID string              `json:"invoiceId"`
	PaymentID string              `json:"paymentId"`
	Asset     types.Asset         `json:"asset"`
	Amount    math.Int            `json:"amount"`
	MaxFee    *math.Int           `json:"maxFee,omitempty"`
}

// MakeQuoteRequest converts a pricing inquiry into its wire form.
func MakeQuoteRequest(id types.ChannelID, req hub.QuoteRequest) QuoteRequest {
	wr := QuoteRequest{
		ChannelID: id,
		Payee:     req.Payee.Clone(),
		Resource:  req.Resource,
		InvoiceID: req.InvoiceID,
		PaymentID: req.PaymentID,
		Asset:     req.Asset,
		Amount:    req.Amount,
	}
	if !req.MaxFee.IsNil() {
		maxFee := req.MaxFee
		wr.MaxFee = &maxFee
	}
	return wr
}

// ToQuoteRequest converts the wire form into the coordinator's request. The
// channel id is not part of it; read it off the wire form directly.
func ToQuoteRequest(wr QuoteRequest) hub.QuoteRequest {
	req := hub.QuoteRequest{
		Payee:     wr.Payee.Clone(),
		Resource:  wr.Resource,
		InvoiceID: wr.InvoiceID,
		PaymentID: wr.PaymentID,
		Asset:     wr.Asset,
		Amount:    wr.Amount,
	}
	if wr.MaxFee != nil {
		req.MaxFee = *wr.MaxFee
	}
	return req
}

// Quote is the wire form of the hub's priced offer. It answers the quote
// call and is echoed back unchanged inside the issue request; the hub
// re-derives its numbers on issue, so tampering only produces a rejection.
type Quote struct {
	Request     QuoteRequest  `json:"request"`
	Fee         math.Int      `json:"fee"`
	TotalDebit  math.Int      `json:"totalDebit"`
	PolicyHash  hexutil.Bytes `json:"policyHash"`
	ContextHash hexutil.Bytes `json:"contextHash"`
	Expiry      uint64        `json:"expiry"`
}

// MakeQuote converts a priced offer into its wire form. The channel id is
// carried in the embedded request.
func MakeQuote(id types.ChannelID, q *hub.Quote) (Quote, error) {
	if q == nil {
		return Quote{}, errors.New("nil quote")
	}
	return Quote{
		Request:     MakeQuoteRequest(id, q.Request),
		Fee:         q.Fee,
		TotalDebit:  q.TotalDebit,
		PolicyHash:  append(hexutil.Bytes(nil), q.PolicyHash[:]...),
		ContextHash: append(hexutil.Bytes(nil), q.ContextHash[:]...),
		Expiry:      q.Expiry,
	}, nil
}

// ToQuote converts the wire form back into a priced offer.
func ToQuote(wq Quote) (*hub.Quote, error) {
	policyHash, err := hash32(wq.PolicyHash, "policyHash")
	if err != nil {
		return nil, err
	}
	contextHash, err := hash32(wq.ContextHash, "contextHash")
	if err != nil {
		return nil, err
	}
	return &hub.Quote{
		Request:     ToQuoteRequest(wq.Request),
		Fee:         wq.Fee,
		TotalDebit:  wq.TotalDebit,
		PolicyHash:  policyHash,
		ContextHash: contextHash,
		Expiry:      wq.Expiry,
	}, nil
}

// IssueTicketRequest is the body of an issue call: the echoed quote, the
// payer's proposed debit state and the payer's signature over its digest.
type IssueTicketRequest struct {
	Quote          Quote         `json:"quote"`
	ProposedState  ChannelState  `json:"proposedState"`
	PayerSignature hexutil.Bytes `json:"payerSignature"`
}

// MakeIssueTicketRequest assembles an issue call body.
func MakeIssueTicketRequest(wq Quote, proposed *channel.State, payerSig wallet.Sig) (IssueTicketRequest, error) {
	ws, err := MakeState(proposed)
	if err != nil {
		return IssueTicketRequest{}, err
	}
	if len(payerSig) == 0 {
		return IssueTicketRequest{}, errors.New("missing payer signature")
	}
	return IssueTicketRequest{
		Quote:          wq,
		ProposedState:  ws,
		PayerSignature: append(hexutil.Bytes(nil), payerSig...),
	}, nil
}

// IssueArgs decodes the request into coordinator arguments: the quote, the
// payer leg to debit, the proposed state and the payer's signature.
func (r *IssueTicketRequest) IssueArgs() (*hub.Quote, types.ChannelID, *channel.State, wallet.Sig, error) {
	q, err := ToQuote(r.Quote)
	if err != nil {
		return nil, types.ChannelID{}, nil, nil, err
	}
	proposed, err := ToState(r.ProposedState)
	if err != nil {
		return nil, types.ChannelID{}, nil, nil, err
	}
	if len(r.PayerSignature) == 0 {
		return nil, types.ChannelID{}, nil, nil, errors.New("missing payer signature")
	}
	return q, r.Quote.Request.ChannelID, proposed, append(wallet.Sig(nil), r.PayerSignature...), nil
}

// IssueTicketResponse is the body answering an issue call.
type IssueTicketResponse struct {
	Ticket       Ticket       `json:"ticket"`
	ChannelProof ChannelProof `json:"channelProof"`
}

// MakeIssueTicketResponse assembles the issue call answer.
func MakeIssueTicketResponse(t *hub.Ticket, cp *hub.ChannelProof) (IssueTicketResponse, error) {
	wt, err := MakeTicket(t)
	if err != nil {
		return IssueTicketResponse{}, err
	}
	wcp, err := MakeChannelProof(cp)
	if err != nil {
		return IssueTicketResponse{}, err
	}
	return IssueTicketResponse{Ticket: wt, ChannelProof: wcp}, nil
}
