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
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/hub"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Profile names the two payment proof layouts.
type Profile uint8

const (
	// ProfileDirect is a counterparty-signed channel state handed straight
	// to the payee.
	ProfileDirect Profile = iota + 1
	// ProfileHub is a hub ticket together with the payer's debit proof.
	ProfileHub
)

func (p Profile) String() string {
	switch p {
	case ProfileDirect:
		return "direct"
	case ProfileHub:
		return "hub"
	default:
		return fmt.Sprintf("profile(%d)", uint8(p))
	}
}

// PaymentProof is the JSON body a payer presents to settle one payment. It
// carries exactly one profile: either a hub ticket with its channel proof,
// or a directly signed channel state with its payment context.
type PaymentProof struct {
	// Hub profile.
	Ticket       *Ticket       `json:"ticket,omitempty"`
	ChannelProof *ChannelProof `json:"channelProof,omitempty"`

	// Direct profile.
	ChannelState *ChannelState       `json:"channelState,omitempty"`
	Signature    hexutil.Bytes       `json:"signature,omitempty"`
	Payer        *wtypes.Participant `json:"payer,omitempty"`
	Payee        *wtypes.Participant `json:"payee,omitempty"`
	Amount       *math.Int           `json:"amount,omitempty"`
	Asset        *types.Asset        `json:"asset,omitempty"`
}

// MakeHubProof assembles a hub-profile payment proof.
func MakeHubProof(t *hub.Ticket, cp *hub.ChannelProof) (PaymentProof, error) {
	wt, err := MakeTicket(t)
	if err != nil {
		return PaymentProof{}, err
	}
	wcp, err := MakeChannelProof(cp)
	if err != nil {
		return PaymentProof{}, err
	}
	return PaymentProof{Ticket: &wt, ChannelProof: &wcp}, nil
}

// MakeDirectProof assembles a direct-profile payment proof from the signed
// state and its payment context.
func MakeDirectProof(s *channel.State, sig wallet.Sig, payer, payee *wtypes.Participant, amount math.Int, asset types.Asset) (PaymentProof, error) {
	ws, err := MakeState(s)
	if err != nil {
		return PaymentProof{}, err
	}
	if len(sig) == 0 {
		return PaymentProof{}, errors.New("missing signature")
	}
	if payer == nil || payee == nil {
		return PaymentProof{}, errors.New("missing payer or payee")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return PaymentProof{}, errors.New("amount must be positive")
	}
	return PaymentProof{
		ChannelState: &ws,
		Signature:    append(hexutil.Bytes(nil), sig...),
		Payer:        payer.Clone(),
		Payee:        payee.Clone(),
		Amount:       &amount,
		Asset:        &asset,
	}, nil
}

// Profile reports which profile the proof carries. A proof mixing fields of
// both profiles, or missing fields of the one it carries, is rejected.
func (p *PaymentProof) Profile() (Profile, error) {
	hubSet := p.Ticket != nil || p.ChannelProof != nil
	directSet := p.ChannelState != nil || len(p.Signature) > 0 ||
		p.Payer != nil || p.Payee != nil || p.Amount != nil || p.Asset != nil
	switch {
	case hubSet && directSet:
		return 0, errors.New("payment proof mixes hub and direct profile fields")
	case hubSet:
		if p.Ticket == nil || p.ChannelProof == nil {
			return 0, errors.New("hub profile needs both ticket and channelProof")
		}
		return ProfileHub, nil
	case directSet:
		if p.ChannelState == nil || len(p.Signature) == 0 ||
			p.Payer == nil || p.Payee == nil || p.Amount == nil || p.Asset == nil {
			return 0, errors.New("direct profile is missing fields")
		}
		return ProfileDirect, nil
	default:
		return 0, errors.New("empty payment proof")
	}
}

// Validate checks that the proof carries exactly one complete profile.
func (p *PaymentProof) Validate() error {
	_, err := p.Profile()
	return err
}

// HubParts decodes the hub-profile contents. It fails if the proof does not
// carry the hub profile.
func (p *PaymentProof) HubParts() (*hub.Ticket, *hub.ChannelProof, error) {
	profile, err := p.Profile()
	if err != nil {
		return nil, nil, err
	}
	if profile != ProfileHub {
		return nil, nil, errors.Errorf("proof carries the %s profile", profile)
	}
	t, err := ToTicket(*p.Ticket)
	if err != nil {
		return nil, nil, err
	}
	cp, err := ToChannelProof(*p.ChannelProof)
	if err != nil {
		return nil, nil, err
	}
	return t, cp, nil
}

// DirectParts decodes the direct-profile contents. It fails if the proof
// does not carry the direct profile.
func (p *PaymentProof) DirectParts() (*channel.State, wallet.Sig, error) {
	profile, err := p.Profile()
	if err != nil {
		return nil, nil, err
	}
	if profile != ProfileDirect {
		return nil, nil, errors.Errorf("proof carries the %s profile", profile)
	}
	s, err := ToState(*p.ChannelState)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Payer.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "payer")
	}
	if err := p.Payee.Validate(); err != nil {
		return nil, nil, errors.WithMessage(err, "payee")
	}
	if p.Amount.IsNil() || !p.Amount.IsPositive() {
		return nil, nil, errors.New("amount must be positive")
	}
	return s, append(wallet.Sig(nil), p.Signature...), nil
}
