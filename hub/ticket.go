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
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// ticketType is the struct layout hashed into every ticket digest.
const ticketType = "PaymentTicket(string ticketId,bytes hub,bytes payee,string invoiceId,string paymentId,uint256 amount,uint256 feeCharged,uint256 totalDebit,uint256 chainId,address token,uint64 expiry,bytes32 policyHash)"

// Ticket is the hub's signed receipt for a forwarded payment. It promises
// the payee the amount for the named invoice and is redeemable exactly once.
type Ticket struct {
	TicketID   string
	Hub        *wtypes.Participant
	Payee      *wtypes.Participant
	InvoiceID  string
	PaymentID  string
	Asset      types.Asset
	Amount     math.Int
	FeeCharged math.Int
	TotalDebit math.Int
	Expiry     uint64
	PolicyHash [32]byte
	Signature  wallet.Sig
}

// Validate checks the structural integrity of the ticket. It does not check
// the signature or expiry; that is the verifier's job.
func (t *Ticket) Validate() error {
	if t.TicketID == "" {
		return errors.New("empty ticket id")
	}
	if t.Hub == nil || t.Payee == nil {
		return errors.New("missing hub or payee")
	}
	if err := t.Hub.Validate(); err != nil {
		return errors.WithMessage(err, "hub participant")
	}
	if err := t.Payee.Validate(); err != nil {
		return errors.WithMessage(err, "payee participant")
	}
	if t.Expiry == 0 {
		return errors.New("ticket must carry an expiry")
	}
	for _, a := range []struct {
		name string
		val  math.Int
	}{
		{"amount", t.Amount},
		{"feeCharged", t.FeeCharged},
		{"totalDebit", t.TotalDebit},
	} {
		if a.val.IsNil() || a.val.IsNegative() {
			return errors.Errorf("%s must be a non-negative integer", a.name)
		}
	}
	if !t.TotalDebit.Equal(t.Amount.Add(t.FeeCharged)) {
		return errors.New("totalDebit must equal amount plus feeCharged")
	}
	return nil
}

// Digest computes the ticket's signing digest under the backend's domain.
func (t *Ticket) Digest(b *channel.Backend) ([32]byte, error) {
	structHash, err := t.structHash()
	if err != nil {
		return [32]byte{}, err
	}
	return b.TypedDigest(structHash), nil
}

func (t *Ticket) structHash() ([32]byte, error) {
	if err := t.Validate(); err != nil {
		return [32]byte{}, err
	}
	hubBin, err := t.Hub.MarshalBinary()
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "encoding hub")
	}
	payeeBin, err := t.Payee.MarshalBinary()
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "encoding payee")
	}
	args, err := abiArgs(
		"bytes32", "bytes32", "bytes32", "bytes32", "bytes32", "bytes32",
		"uint256", "uint256", "uint256", "uint256", "address", "uint64", "bytes32",
	)
	if err != nil {
		return [32]byte{}, err
	}
	packed, err := args.Pack(
		hashOf([]byte(ticketType)),
		hashOf([]byte(t.TicketID)),
		hashOf(hubBin),
		hashOf(payeeBin),
		hashOf([]byte(t.InvoiceID)),
		hashOf([]byte(t.PaymentID)),
		t.Amount.BigInt(),
		t.FeeCharged.BigInt(),
		t.TotalDebit.BigInt(),
		new(big.Int).SetUint64(t.Asset.ChainID),
		t.Asset.Token,
		t.Expiry,
		t.PolicyHash,
	)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "packing ticket")
	}
	return hashOf(packed), nil
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Hub = t.Hub.Clone()
	c.Payee = t.Payee.Clone()
	if t.Signature != nil {
		c.Signature = append(wallet.Sig(nil), t.Signature...)
	}
	return &c
}

// ChannelProof accompanies a ticket and lets the payee check that the payer
// actually debited a channel for it, without seeing the channel itself.
type ChannelProof struct {
	ChannelID       types.ChannelID
	StateNonce      uint64
	StateHash       [32]byte
	CounterpartySig wallet.Sig
}

// Validate checks the structural integrity of the proof.
func (p *ChannelProof) Validate() error {
	if p.StateNonce == 0 {
		return errors.New("proof must reference a payment state, not the seed")
	}
	if len(p.CounterpartySig) == 0 {
		return errors.New("missing counterparty signature")
	}
	return nil
}

// Clone returns a deep copy of the proof.
func (p *ChannelProof) Clone() *ChannelProof {
	if p == nil {
		return nil
	}
	c := *p
	if p.CounterpartySig != nil {
		c.CounterpartySig = append(wallet.Sig(nil), p.CounterpartySig...)
	}
	return &c
}

// abiArgs builds an abi.Arguments list from solidity type names.
func abiArgs(typeNames ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, len(typeNames))
	for i, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, errors.Wrapf(err, "constructing abi type %s", name)
		}
		args[i] = abi.Argument{Type: t}
	}
	return args, nil
}

func hashOf(data []byte) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256(data))
	return out
}
