package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/sirupsen/logrus"
	plogrus "perun.network/go-perun/log/logrus"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/client"
	"perun.network/x402-channels/dispute"
	"perun.network/x402-channels/hub"
	"perun.network/x402-channels/idempotency"
	"perun.network/x402-channels/payment"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
	"perun.network/x402-channels/wire"
)

const ChainID = 8453
const USDCToken = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
const AdjudicatorAddr = "0x7c2C195CD6D34B8F845992d380aADB2730bB9C6F"

func main() {
	plogrus.Set(logrus.InfoLevel, &logrus.TextFormatter{ForceColors: true})

	rng := rand.New(rand.NewSource(0x402))
	clk := clock.NewDefaultClock()
	ctx := context.Background()

	backend, err := channel.NewBackend(channel.DefaultDomain(ChainID, common.HexToAddress(AdjudicatorAddr)))
	if err != nil {
		panic(err)
	}

	w := wallet.NewEphemeralWallet()
	payer, err := w.AddNewAccount(rng, wtypes.SchemeSecp256k1)
	if err != nil {
		panic(err)
	}
	payee, err := w.AddNewAccount(rng, wtypes.SchemeEd25519)
	if err != nil {
		panic(err)
	}
	hubAcc, err := w.AddNewAccount(rng, wtypes.SchemeSecp256k1)
	if err != nil {
		panic(err)
	}
	fmt.Println("payer:", payer.Participant())
	fmt.Println("payee:", payee.Participant())
	fmt.Println("hub:  ", hubAcc.Participant())

	asset := types.NewAsset(ChainID, common.HexToAddress(USDCToken))
	gw := client.NewSimulatedGateway(backend, clk)
	rgw := client.NewRetryingGateway(gw, client.RetryConfig{})

	// Direct profile: payer and payee share a channel, each payment is a
	// fresher signed state handed over as the payment proof.
	fmt.Println("--- direct profile ---")

	payeeLedger := channel.NewLedger(backend, payee.Participant(), clk)
	payeeFunder := client.NewFunder(rgw, payeeLedger)
	directID, err := payeeFunder.OpenAndFund(ctx, client.OpenRequest{
		ParticipantA:      payer.Participant(),
		ParticipantB:      payee.Participant(),
		Asset:             asset,
		Deposit:           math.NewInt(1_000_000),
		ChallengeDuration: 3,
	}, channel.HubRoleNone)
	if err != nil {
		panic(err)
	}
	fmt.Println("direct channel:", directID)

	processor := payment.NewProcessor(payeeLedger, idempotency.NewStore(clk, 0))

	directState := &channel.State{
		ChannelID: directID,
		Nonce:     0,
		BalA:      math.NewInt(1_000_000),
		BalB:      math.ZeroInt(),
	}
	pay := func(amount int64) (*channel.State, wallet.Sig) {
		next := directState.Clone()
		next.Nonce++
		next.BalA = next.BalA.Sub(math.NewInt(amount))
		next.BalB = next.BalB.Add(math.NewInt(amount))
		sig, err := backend.SignState(payer, next)
		if err != nil {
			panic(err)
		}
		directState = next
		return next, sig
	}

	st1, sig1 := pay(25_000)
	directProof, err := wire.MakeDirectProof(st1, sig1, payer.Participant(), payee.Participant(), math.NewInt(25_000), asset)
	if err != nil {
		panic(err)
	}
	body, err := json.MarshalIndent(directProof, "", "  ")
	if err != nil {
		panic(err)
	}
	fmt.Println("payment body:")
	fmt.Println(string(body))

	var in wire.PaymentProof
	if err := json.Unmarshal(body, &in); err != nil {
		panic(err)
	}
	recvState, recvSig, err := in.DirectParts()
	if err != nil {
		panic(err)
	}
	credited, err := processor.ProcessPayment("pay-2026-0001", recvState.ChannelID, recvState, recvSig, *in.Amount)
	if err != nil {
		panic(err)
	}
	fmt.Println("pay-2026-0001 settled, credited", credited)

	if _, err := processor.ProcessPayment("pay-2026-0001", recvState.ChannelID, recvState, recvSig, *in.Amount); err != nil {
		fmt.Println("replay rejected:", err)
	}

	// The payee acknowledges the first state with its own signature. The
	// payer will later abuse this receipt for a stale close.
	receipt, err := backend.SignState(payee, st1)
	if err != nil {
		panic(err)
	}

	st2, sig2 := pay(40_000)
	if _, err := processor.ProcessPayment("pay-2026-0002", st2.ChannelID, st2, sig2, math.NewInt(40_000)); err != nil {
		panic(err)
	}
	fmt.Println("pay-2026-0002 settled, payee holds", directState.BalB)

	// Hub profile: payer and payee share no channel. The hub quotes a fee,
	// debits the payer's leg and issues a single-use ticket the payee can
	// verify against the hub's ledger.
	fmt.Println("--- hub profile ---")

	hubLedger := channel.NewLedger(backend, hubAcc.Participant(), clk)
	hubFunder := client.NewFunder(rgw, hubLedger)

	payerLeg, err := hubFunder.OpenAndFund(ctx, client.OpenRequest{
		ParticipantA:      payer.Participant(),
		ParticipantB:      hubAcc.Participant(),
		Asset:             asset,
		Deposit:           math.NewInt(2_000_000),
		ChallengeDuration: 600,
	}, channel.HubRoleB)
	if err != nil {
		panic(err)
	}
	payeeLeg, err := hubFunder.OpenAndFund(ctx, client.OpenRequest{
		ParticipantA:      hubAcc.Participant(),
		ParticipantB:      payee.Participant(),
		Asset:             asset,
		Deposit:           math.NewInt(2_000_000),
		ChallengeDuration: 600,
	}, channel.HubRoleA)
	if err != nil {
		panic(err)
	}
	// The payee mirrors its leg on its own ledger.
	err = payeeLedger.Register(channel.NewChannel(payeeLeg, hubAcc.Participant(), payee.Participant(), asset, math.NewInt(2_000_000), channel.HubRoleA))
	if err != nil {
		panic(err)
	}
	fmt.Println("payer leg:", payerLeg)
	fmt.Println("payee leg:", payeeLeg)

	// The payer tops up its leg while the adjudicator rides out a brief
	// outage; the retrying gateway hides it.
	gw.SetUnavailable(true)
	time.AfterFunc(300*time.Millisecond, func() { gw.SetUnavailable(false) })
	if err := hubFunder.DepositAndTrack(ctx, payerLeg, payer.Participant(), math.NewInt(500_000)); err != nil {
		panic(err)
	}
	fmt.Println("payer leg topped up by 500000")

	coord, err := hub.NewCoordinator(backend, hubLedger, idempotency.NewStore(clk, 0), rgw, hub.Config{
		Account:   hubAcc,
		FeePolicy: hub.FeePolicy{Base: math.NewInt(10), Bps: 30, Surcharge: math.ZeroInt()},
	})
	if err != nil {
		panic(err)
	}
	verifier := hub.NewVerifier(backend, hubLedger, idempotency.NewStore(clk, 0), clk)

	// Payer asks the hub for a price.
	quoteReq := wire.MakeQuoteRequest(payerLeg, hub.QuoteRequest{
		Payee:     payee.Participant(),
		Resource:  "/reports/2026-08",
		InvoiceID: "inv-7001",
		PaymentID: "pay-2026-7001",
		Asset:     asset,
		Amount:    math.NewInt(100_000),
	})
	reqBody, err := json.Marshal(quoteReq)
	if err != nil {
		panic(err)
	}

	var hubReq wire.QuoteRequest
	if err := json.Unmarshal(reqBody, &hubReq); err != nil {
		panic(err)
	}
	quote, err := coord.Quote(hubReq.ChannelID, wire.ToQuoteRequest(hubReq))
	if err != nil {
		panic(err)
	}
	wireQuote, err := wire.MakeQuote(hubReq.ChannelID, quote)
	if err != nil {
		panic(err)
	}
	quoteBody, err := json.Marshal(wireQuote)
	if err != nil {
		panic(err)
	}
	fmt.Println("quote:", string(quoteBody))

	// Payer checks the quote commits to its request, then signs the debit.
	var payerWireQuote wire.Quote
	if err := json.Unmarshal(quoteBody, &payerWireQuote); err != nil {
		panic(err)
	}
	payerQuote, err := wire.ToQuote(payerWireQuote)
	if err != nil {
		panic(err)
	}
	wantCtx, err := channel.ContextHash(payee.Participant(), "/reports/2026-08", "inv-7001", "pay-2026-7001", math.NewInt(100_000), asset, payerQuote.Expiry)
	if err != nil {
		panic(err)
	}
	if payerQuote.ContextHash != wantCtx {
		panic("quote does not commit to the requested payment")
	}
	fmt.Println("fee:", payerQuote.Fee, "total debit:", payerQuote.TotalDebit)

	paid := &channel.State{
		ChannelID:   payerWireQuote.Request.ChannelID,
		Nonce:       1,
		BalA:        math.NewInt(2_500_000).Sub(payerQuote.TotalDebit),
		BalB:        payerQuote.TotalDebit,
		ContextHash: wantCtx,
	}
	paidSig, err := backend.SignState(payer, paid)
	if err != nil {
		panic(err)
	}

	issueReq, err := wire.MakeIssueTicketRequest(payerWireQuote, paid, paidSig)
	if err != nil {
		panic(err)
	}
	issueBody, err := json.Marshal(issueReq)
	if err != nil {
		panic(err)
	}

	var hubIssue wire.IssueTicketRequest
	if err := json.Unmarshal(issueBody, &hubIssue); err != nil {
		panic(err)
	}
	issueQuote, issueID, proposed, proposedSig, err := hubIssue.IssueArgs()
	if err != nil {
		panic(err)
	}
	ticket, chProof, err := coord.IssueTicket(issueQuote, issueID, proposed, proposedSig)
	if err != nil {
		panic(err)
	}
	issueResp, err := wire.MakeIssueTicketResponse(ticket, chProof)
	if err != nil {
		panic(err)
	}
	respBody, err := json.Marshal(issueResp)
	if err != nil {
		panic(err)
	}

	// Payer assembles the payment proof for the payee.
	var payerResp wire.IssueTicketResponse
	if err := json.Unmarshal(respBody, &payerResp); err != nil {
		panic(err)
	}
	gotTicket, err := wire.ToTicket(payerResp.Ticket)
	if err != nil {
		panic(err)
	}
	gotChProof, err := wire.ToChannelProof(payerResp.ChannelProof)
	if err != nil {
		panic(err)
	}
	hubProof, err := wire.MakeHubProof(gotTicket, gotChProof)
	if err != nil {
		panic(err)
	}
	hubBody, err := json.MarshalIndent(hubProof, "", "  ")
	if err != nil {
		panic(err)
	}
	fmt.Println("payment body:")
	fmt.Println(string(hubBody))

	// Payee verifies the ticket against its expectation.
	var payeeIn wire.PaymentProof
	if err := json.Unmarshal(hubBody, &payeeIn); err != nil {
		panic(err)
	}
	recvTicket, recvChProof, err := payeeIn.HubParts()
	if err != nil {
		panic(err)
	}
	err = verifier.VerifyTicket(recvTicket, recvChProof, hub.Expectation{
		Payee:     payee.Participant(),
		InvoiceID: "inv-7001",
		Asset:     asset,
		Amount:    math.NewInt(100_000),
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("ticket", recvTicket.TicketID, "accepted for inv-7001")

	// The hub moves the earned liquidity to the payee leg and forwards the
	// payment there.
	earned, err := hubLedger.Channel(payerLeg)
	if err != nil {
		panic(err)
	}
	err = coord.Rebalance(ctx, payerLeg, payeeLeg, math.NewInt(100_000), earned.Latest.State, earned.Latest.Sig)
	if err != nil {
		panic(err)
	}
	fmt.Println("rebalanced 100000 to the payee leg")

	if err := payeeLedger.ApplyDeposit(payeeLeg, hubAcc.Participant(), math.NewInt(100_000)); err != nil {
		panic(err)
	}
	forward := &channel.State{
		ChannelID: payeeLeg,
		Nonce:     1,
		BalA:      math.NewInt(2_000_000),
		BalB:      math.NewInt(100_000),
	}
	forwardSig, err := backend.SignState(hubAcc, forward)
	if err != nil {
		panic(err)
	}
	credited, err = processor.ProcessPayment("settle-7001", payeeLeg, forward, forwardSig, math.NewInt(100_000))
	if err != nil {
		panic(err)
	}
	fmt.Println("hub forwarded", credited, "on the payee leg")

	// Cooperative close of both legs at the post-rebalance splits.
	closeLeg, err := hubLedger.FinalState(payerLeg)
	if err != nil {
		panic(err)
	}
	closeSig, err := backend.SignState(payer, closeLeg)
	if err != nil {
		panic(err)
	}
	if _, err := hubLedger.AcceptState(payerLeg, closeLeg, closeSig); err != nil {
		panic(err)
	}
	hubCloseSig, err := backend.SignState(hubAcc, closeLeg)
	if err != nil {
		panic(err)
	}
	if err := rgw.CooperativeClose(ctx, closeLeg, closeSig, hubCloseSig); err != nil {
		panic(err)
	}
	if err := hubLedger.MarkClosed(payerLeg); err != nil {
		panic(err)
	}

	payeeCloseSig, err := backend.SignState(payee, forward)
	if err != nil {
		panic(err)
	}
	if err := rgw.CooperativeClose(ctx, forward, forwardSig, payeeCloseSig); err != nil {
		panic(err)
	}
	if err := payeeLedger.MarkClosed(payeeLeg); err != nil {
		panic(err)
	}
	if err := hubLedger.MarkClosed(payeeLeg); err != nil {
		panic(err)
	}
	fmt.Println("hub legs settled cooperatively")

	// Dispute drill: the payer closes the direct channel at the stale
	// nonce-1 split using the payee's receipt. The monitor counters with
	// the freshest state and finalizes once the window elapsed.
	fmt.Println("--- dispute drill ---")

	monitor := dispute.NewMonitor(payeeLedger, rgw, dispute.Config{
		SweepTicker: ticker.New(250 * time.Millisecond),
		Clock:       clk,
	})
	if err := monitor.Start(ctx); err != nil {
		panic(err)
	}
	defer monitor.Stop()
	if err := monitor.Watch(directID); err != nil {
		panic(err)
	}

	if err := gw.StartClose(ctx, st1, receipt); err != nil {
		panic(err)
	}
	fmt.Println("payer submitted a close at stale nonce", st1.Nonce)

	time.Sleep(time.Second)
	status, err := gw.ChannelStatus(ctx, directID)
	if err != nil {
		panic(err)
	}
	fmt.Println("countered: phase", status.Phase, "best nonce", status.Nonce)

	time.Sleep(3500 * time.Millisecond)
	status, err = gw.ChannelStatus(ctx, directID)
	if err != nil {
		panic(err)
	}
	directCh, err := payeeLedger.Channel(directID)
	if err != nil {
		panic(err)
	}
	fmt.Println("finalized: phase", status.Phase, "at nonce", status.Nonce, "payee kept", directCh.BalB)

	for _, c := range []struct {
		name string
		id   types.ChannelID
	}{
		{"direct   ", directID},
		{"payer leg", payerLeg},
		{"payee leg", payeeLeg},
	} {
		st, err := gw.ChannelStatus(ctx, c.id)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s %s at nonce %d\n", c.name, st.Phase, st.Nonce)
	}

	log.Println("DONE")
}
