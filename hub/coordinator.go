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

// Package hub implements the routing hub of the ticket profile: payers
// debit their hub channel, the hub issues signed single-use tickets that
// payees verify offline, and earned balance is rebalanced into the payee
// legs on chain.
package hub

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"perun.network/go-perun/log"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/client"
	"perun.network/x402-channels/idempotency"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Default lifetimes of the two hub artifacts. A quote only needs to survive
// one payer round-trip; a ticket must survive delivery to the payee.
const (
	DefaultQuoteTTL  = 2 * time.Minute
	DefaultTicketTTL = 10 * time.Minute
)

// Config collects the coordinator's operating parameters.
type Config struct {
	// Account signs the issued tickets. Its participant must be the
	// ledger's local party.
	Account   wallet.Account
	FeePolicy FeePolicy
	// QuoteTTL and TicketTTL bound the artifact lifetimes; non-positive
	// values select the defaults.
	QuoteTTL  time.Duration
	TicketTTL time.Duration
	// Clock drives quote and ticket expiries; nil selects the wall clock.
	Clock clock.Clock
}

// Coordinator runs the hub side of ticketed payments: pricing quotes,
// accepting payer debits, minting tickets and rebalancing earned channel
// balance. It is safe for concurrent use.
type Coordinator struct {
	backend    *channel.Backend
	ledger     *channel.Ledger
	idem       *idempotency.Store
	gw         client.ChainGateway
	acc        wallet.Account
	policy     FeePolicy
	policyHash [32]byte
	quoteTTL   time.Duration
	ticketTTL  time.Duration
	clk        clock.Clock
	log        log.Embedding
}

// NewCoordinator creates a hub coordinator over the hub's ledger. The
// ledger's local participant and the config account must be the same party.
func NewCoordinator(backend *channel.Backend, ledger *channel.Ledger, idem *idempotency.Store, gw client.ChainGateway, cfg Config) (*Coordinator, error) {
	if cfg.Account == nil {
		return nil, errors.New("missing hub account")
	}
	if !cfg.Account.Participant().Equal(ledger.Self()) {
		return nil, errors.New("account does not match the ledger's local participant")
	}
	if err := cfg.FeePolicy.Validate(); err != nil {
		return nil, errors.WithMessage(err, "fee policy")
	}
	policyHash, err := cfg.FeePolicy.Hash()
	if err != nil {
		return nil, err
	}
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = DefaultQuoteTTL
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = DefaultTicketTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	return &Coordinator{
		backend:    backend,
		ledger:     ledger,
		idem:       idem,
		gw:         gw,
		acc:        cfg.Account,
		policy:     cfg.FeePolicy,
		policyHash: policyHash,
		quoteTTL:   cfg.QuoteTTL,
		ticketTTL:  cfg.TicketTTL,
		clk:        cfg.Clock,
		log:        log.MakeEmbedding(log.Default()),
	}, nil
}

// Participant returns the hub's signing identity.
func (c *Coordinator) Participant() *wtypes.Participant {
	return c.acc.Participant()
}

// Policy returns the active fee policy.
func (c *Coordinator) Policy() FeePolicy {
	return c.policy
}

// QuoteRequest is a payer's pricing inquiry for one payment.
type QuoteRequest struct {
	Payee     *wtypes.Participant
	Resource  string
	InvoiceID string
	PaymentID string
	Asset     types.Asset
	Amount    math.Int
	// MaxFee caps the fee the payer accepts; a nil Int means unbounded.
	MaxFee math.Int
}

// Validate checks the request's structural integrity.
func (r *QuoteRequest) Validate() error {
	if r.Payee == nil {
		return errors.New("missing payee")
	}
	if err := r.Payee.Validate(); err != nil {
		return errors.WithMessage(err, "payee")
	}
	if r.InvoiceID == "" || r.PaymentID == "" {
		return errors.New("missing invoice or payment id")
	}
	if r.Amount.IsNil() || !r.Amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

// Quote is the hub's priced offer. The payer must propose a state that
// debits TotalDebit and carries ContextHash before Expiry.
type Quote struct {
	Request     QuoteRequest
	Fee         math.Int
	TotalDebit  math.Int
	PolicyHash  [32]byte
	ContextHash [32]byte
	// Expiry is the unix second after which the quote is void.
	Expiry uint64
}

// Quote prices a payment on the payer's hub channel and fixes the context
// the payer's state must commit to. Pricing fails fast when the channel
// cannot carry the payment: it must be open, hold the requested asset and
// have enough payer-side balance for amount plus fee. IssueTicket repeats
// these checks, the quote is only a priced offer.
func (c *Coordinator) Quote(id types.ChannelID, req QuoteRequest) (*Quote, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	fee := c.policy.Fee(req.Amount)
	if !req.MaxFee.IsNil() && fee.GT(req.MaxFee) {
		return nil, errorsmod.Wrapf(ErrFeeAboveMax, "fee %s, maximum %s", fee, req.MaxFee)
	}
	totalDebit := req.Amount.Add(fee)

	ch, err := c.ledger.Channel(id)
	if err != nil {
		return nil, err
	}
	if ch.Status != channel.StatusOpen {
		return nil, errorsmod.Wrapf(channel.ErrChannelNotOpen, "channel %s is %s", id, ch.Status)
	}
	if !ch.Asset.Equal(req.Asset) {
		return nil, errorsmod.Wrapf(channel.ErrAssetMismatch, "channel %s, request %s", ch.Asset, req.Asset)
	}
	payer, ok := ch.Peer(c.acc.Participant())
	if !ok {
		return nil, errorsmod.Wrapf(ErrNotHubChannel, "channel %s", id)
	}
	payerSide, _ := ch.SideOf(payer)
	if ch.Balance(payerSide).LT(totalDebit) {
		return nil, errorsmod.Wrapf(channel.ErrInsufficientChannelBalance, "payer holds %s, debit %s", ch.Balance(payerSide), totalDebit)
	}

	expiry := c.now() + uint64(c.quoteTTL/time.Second)
	contextHash, err := channel.ContextHash(req.Payee, req.Resource, req.InvoiceID, req.PaymentID, req.Amount, req.Asset, expiry)
	if err != nil {
		return nil, err
	}
	return &Quote{
		Request:     req,
		Fee:         fee,
		TotalDebit:  totalDebit,
		PolicyHash:  c.policyHash,
		ContextHash: contextHash,
		Expiry:      expiry,
	}, nil
}

// IssueTicket settles a quoted payment on the payer's hub channel and mints
// the signed ticket for the payee. The proposed state must commit to the
// quote's context hash and debit exactly the quoted total; anything else is
// rejected before the state is accepted, so the payer can re-sign at the
// same nonce. The payment id is consumed on success and released on every
// failure.
func (c *Coordinator) IssueTicket(quote *Quote, id types.ChannelID, proposed *channel.State, payerSig wallet.Sig) (*Ticket, *ChannelProof, error) {
	if quote == nil || proposed == nil {
		return nil, nil, errors.New("nil quote or state")
	}
	if c.now() >= quote.Expiry {
		return nil, nil, errorsmod.Wrapf(ErrQuoteExpired, "expired at %d, now %d", quote.Expiry, c.now())
	}
	if quote.Expiry > c.now()+uint64(c.quoteTTL/time.Second) {
		return nil, nil, errorsmod.Wrap(ErrQuoteMismatch, "expiry exceeds the quote lifetime")
	}
	paymentID := quote.Request.PaymentID
	if err := c.idem.Reserve(paymentID); err != nil {
		return nil, nil, err
	}

	ticket, proof, err := c.issueReserved(quote, id, proposed, payerSig)
	if err != nil {
		c.idem.Release(paymentID)
		return nil, nil, err
	}
	if err := c.idem.Consume(paymentID); err != nil {
		return nil, nil, errors.Wrap(err, "consuming payment id")
	}
	c.log.Log().WithField("channel", id.Hex()).Infof("issued ticket %s over %s (fee %s)", ticket.TicketID, ticket.Amount, ticket.FeeCharged)
	return ticket, proof, nil
}

// issueReserved does the work of IssueTicket under an already-held payment
// id reservation. The quote may have travelled through the payer, so every
// derived number in it is recomputed here rather than trusted.
func (c *Coordinator) issueReserved(quote *Quote, id types.ChannelID, proposed *channel.State, payerSig wallet.Sig) (*Ticket, *ChannelProof, error) {
	if err := quote.Request.Validate(); err != nil {
		return nil, nil, err
	}
	fee := c.policy.Fee(quote.Request.Amount)
	if quote.Fee.IsNil() || quote.TotalDebit.IsNil() || quote.PolicyHash != c.policyHash ||
		!quote.Fee.Equal(fee) || !quote.TotalDebit.Equal(quote.Request.Amount.Add(fee)) {
		return nil, nil, errorsmod.Wrapf(ErrQuoteMismatch, "quoted fee %s over %s", quote.Fee, quote.Request.Amount)
	}
	contextHash, err := channel.ContextHash(quote.Request.Payee, quote.Request.Resource,
		quote.Request.InvoiceID, quote.Request.PaymentID, quote.Request.Amount, quote.Request.Asset, quote.Expiry)
	if err != nil {
		return nil, nil, err
	}
	if quote.ContextHash != contextHash || proposed.ContextHash != contextHash {
		return nil, nil, errorsmod.Wrap(ErrTicketBinding, "state does not commit to the quoted context")
	}
	ch, err := c.ledger.Channel(id)
	if err != nil {
		return nil, nil, err
	}
	if !ch.Asset.Equal(quote.Request.Asset) {
		return nil, nil, errorsmod.Wrapf(channel.ErrAssetMismatch, "channel %s, quote %s", ch.Asset, quote.Request.Asset)
	}
	payer, ok := ch.Peer(c.acc.Participant())
	if !ok {
		return nil, nil, errorsmod.Wrapf(ErrNotHubChannel, "channel %s", id)
	}

	// Check the debit arithmetic against the current balances before
	// accepting, so a mismatching state is rejected without committing
	// and the payer can correct it at the same nonce.
	payerSide, _ := ch.SideOf(payer)
	wouldDebit := ch.Balance(payerSide).Sub(proposed.Balance(payerSide))
	if !wouldDebit.Equal(quote.TotalDebit) {
		return nil, nil, errorsmod.Wrapf(ErrDebitMismatch, "state debits %s, quoted total %s", wouldDebit, quote.TotalDebit)
	}

	debit, err := c.ledger.AcceptState(id, proposed, payerSig)
	if err != nil {
		return nil, nil, err
	}
	if !debit.Equal(quote.TotalDebit) {
		// A concurrent acceptance moved the balances between the check
		// and the commit. The state is in; the ticket is not.
		c.log.Log().Warnf("channel %s: committed debit %s under quote over %s", id, debit, quote.TotalDebit)
		return nil, nil, errorsmod.Wrapf(ErrDebitMismatch, "committed debit %s, quoted total %s", debit, quote.TotalDebit)
	}

	stateHash, err := c.backend.StateDigest(proposed)
	if err != nil {
		return nil, nil, err
	}
	ticket := &Ticket{
		TicketID:   uuid.NewString(),
		Hub:        c.acc.Participant(),
		Payee:      quote.Request.Payee,
		InvoiceID:  quote.Request.InvoiceID,
		PaymentID:  quote.Request.PaymentID,
		Asset:      quote.Request.Asset,
		Amount:     quote.Request.Amount,
		FeeCharged: quote.Fee,
		TotalDebit: quote.TotalDebit,
		Expiry:     c.now() + uint64(c.ticketTTL/time.Second),
		PolicyHash: quote.PolicyHash,
	}
	digest, err := ticket.Digest(c.backend)
	if err != nil {
		return nil, nil, err
	}
	if ticket.Signature, err = c.acc.SignDigest(digest); err != nil {
		return nil, nil, errors.Wrap(err, "signing ticket")
	}
	proof := &ChannelProof{
		ChannelID:       id,
		StateNonce:      proposed.Nonce,
		StateHash:       stateHash,
		CounterpartySig: payerSig,
	}
	return ticket, proof, nil
}

// Rebalance moves amount of the hub's earned balance from the payer leg src
// into the payee leg dst. Both legs must be open and the earned state must
// carry the source counterparty's signature; it proves the hub's balance in
// src to the adjudicator. All refusals run before the chain submission, so
// a refused rebalance touches neither the chain nor the ledger. On success
// the ledger mirrors the shift.
func (c *Coordinator) Rebalance(ctx context.Context, src, dst types.ChannelID, amount math.Int, earned *channel.State, counterpartySig wallet.Sig) error {
	if earned == nil {
		return errors.New("nil state")
	}
	if earned.ChannelID != src {
		return errorsmod.Wrap(channel.ErrInvalidState, "proof state names a different channel")
	}
	hub := c.acc.Participant()
	sch, err := c.ledger.Channel(src)
	if err != nil {
		return err
	}
	dch, err := c.ledger.Channel(dst)
	if err != nil {
		return err
	}
	if !sch.Asset.Equal(dch.Asset) {
		return errorsmod.Wrapf(channel.ErrAssetMismatch, "source %s, destination %s", sch.Asset, dch.Asset)
	}
	if sch.Status != channel.StatusOpen {
		return errorsmod.Wrapf(channel.ErrChannelNotOpen, "source status %s", sch.Status)
	}
	if dch.Status != channel.StatusOpen {
		return errorsmod.Wrapf(channel.ErrChannelNotOpen, "destination status %s", dch.Status)
	}
	srcSide, ok := sch.SideOf(hub)
	if !ok {
		return errorsmod.Wrapf(ErrNotHubChannel, "channel %s", src)
	}
	if _, ok := dch.SideOf(hub); !ok {
		return errorsmod.Wrapf(ErrNotHubChannel, "channel %s", dst)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	if sch.Balance(srcSide).LT(amount) {
		return errorsmod.Wrapf(channel.ErrInsufficientChannelBalance, "hub holds %s, needs %s", sch.Balance(srcSide), amount)
	}
	payer, _ := sch.Peer(hub)
	signed, err := c.backend.VerifyState(earned, counterpartySig, payer)
	if err != nil {
		return err
	}
	if !signed {
		return errorsmod.Wrap(channel.ErrInvalidSignature, "earned state not signed by the source counterparty")
	}

	if err := c.gw.Rebalance(ctx, hub, earned, dst, amount, counterpartySig); err != nil {
		return errors.WithMessage(err, "submitting rebalance")
	}
	if err := c.ledger.ShiftBalance(src, dst, hub, amount); err != nil {
		// The chain moved the funds; the local mirror must follow or the
		// hub over-reports its source balance.
		c.log.Log().Errorf("rebalance settled on chain but ledger shift failed: %v", err)
		return errors.WithMessage(err, "mirroring rebalance")
	}
	c.log.Log().Infof("rebalanced %s from %s to %s", amount, src, dst)
	return nil
}

func (c *Coordinator) now() uint64 {
	now := c.clk.Now().Unix()
	if now < 0 {
		return 0
	}
	return uint64(now)
}
