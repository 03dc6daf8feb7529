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

package types

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Scheme identifies the signature scheme of a channel participant. The set
// of schemes is closed: states and tickets are signed either with a
// secp256k1 key in the Ethereum recovery format or with an Ed25519 key.
type Scheme uint8

const (
	// SchemeSecp256k1 marks participants addressed by a 20-byte Ethereum
	// address whose signatures are 65-byte [R || S || V] values.
	SchemeSecp256k1 Scheme = 1
	// SchemeEd25519 marks participants addressed by a raw 32-byte Ed25519
	// public key whose signatures are 64 bytes long.
	SchemeEd25519 Scheme = 2
)

const (
	// EthAddrLength is the length of a secp256k1 participant address.
	EthAddrLength = 20
	// Ed25519KeyLength is the length of an Ed25519 participant key.
	Ed25519KeyLength = ed25519.PublicKeySize
	// SigLengthSecp256k1 is the length of a compact recoverable signature.
	SigLengthSecp256k1 = 65
	// SigLengthEd25519 is the length of an Ed25519 signature.
	SigLengthEd25519 = ed25519.SignatureSize
)

// Valid reports whether s is one of the two known schemes.
func (s Scheme) Valid() bool {
	return s == SchemeSecp256k1 || s == SchemeEd25519
}

// SigLength returns the exact signature length of the scheme. Signatures of
// any other length are invalid, never truncated or padded.
func (s Scheme) SigLength() int {
	if s == SchemeEd25519 {
		return SigLengthEd25519
	}
	return SigLengthSecp256k1
}

func (s Scheme) String() string {
	switch s {
	case SchemeSecp256k1:
		return "secp256k1"
	case SchemeEd25519:
		return "ed25519"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// SchemeFromString parses the canonical scheme names used on the wire.
func SchemeFromString(s string) (Scheme, error) {
	switch s {
	case "secp256k1":
		return SchemeSecp256k1, nil
	case "ed25519":
		return SchemeEd25519, nil
	default:
		return 0, errors.Errorf("unknown signature scheme: %q", s)
	}
}

// Participant identifies one side of a payment channel. Depending on the
// scheme it carries either an Ethereum address or an Ed25519 public key as
// key material; the respective other field is unset.
type Participant struct {
	Scheme  Scheme
	EthAddr common.Address
	EdKey   ed25519.PublicKey
}

// NewSecpParticipant creates a secp256k1 participant from its address.
func NewSecpParticipant(addr common.Address) *Participant {
	return &Participant{Scheme: SchemeSecp256k1, EthAddr: addr}
}

// NewEdParticipant creates an Ed25519 participant from its public key.
func NewEdParticipant(key ed25519.PublicKey) *Participant {
	k := make(ed25519.PublicKey, Ed25519KeyLength)
	copy(k, key)
	return &Participant{Scheme: SchemeEd25519, EdKey: k}
}

// Validate checks that the scheme is known and the key material has the
// length the scheme demands.
func (p *Participant) Validate() error {
	if !p.Scheme.Valid() {
		return errors.Errorf("unknown signature scheme: %d", p.Scheme)
	}
	if p.Scheme == SchemeEd25519 && len(p.EdKey) != Ed25519KeyLength {
		return errors.Errorf("ed25519 key has length %d, expected %d", len(p.EdKey), Ed25519KeyLength)
	}
	return nil
}

// KeyBytes returns the raw key material: the 20-byte address for secp256k1
// participants, the 32-byte public key for Ed25519 participants.
func (p *Participant) KeyBytes() []byte {
	if p.Scheme == SchemeEd25519 {
		return []byte(p.EdKey)
	}
	return p.EthAddr.Bytes()
}

// MarshalBinary encodes the participant as one scheme byte followed by the
// raw key material.
func (p Participant) MarshalBinary() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	key := p.KeyBytes()
	data := make([]byte, 1+len(key))
	data[0] = byte(p.Scheme)
	copy(data[1:], key)
	return data, nil
}

// UnmarshalBinary decodes a participant from the scheme-byte format written
// by MarshalBinary. Trailing bytes are rejected.
func (p *Participant) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return errors.New("participant encoding is empty")
	}
	scheme := Scheme(data[0])
	key := data[1:]
	switch scheme {
	case SchemeSecp256k1:
		if len(key) != EthAddrLength {
			return errors.Errorf("secp256k1 participant has %d key bytes, expected %d", len(key), EthAddrLength)
		}
		p.Scheme = scheme
		p.EthAddr = common.BytesToAddress(key)
		p.EdKey = nil
	case SchemeEd25519:
		if len(key) != Ed25519KeyLength {
			return errors.Errorf("ed25519 participant has %d key bytes, expected %d", len(key), Ed25519KeyLength)
		}
		p.Scheme = scheme
		p.EthAddr = common.Address{}
		p.EdKey = make(ed25519.PublicKey, Ed25519KeyLength)
		copy(p.EdKey, key)
	default:
		return errors.Errorf("unknown signature scheme: %d", scheme)
	}
	return nil
}

// MarshalText renders the participant as "<scheme>:<hex key>", e.g.
// "secp256k1:0x9ad3...". This is the form used in JSON bodies.
func (p Participant) MarshalText() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return []byte(p.String()), nil
}

// UnmarshalText parses the "<scheme>:<hex key>" form.
func (p *Participant) UnmarshalText(text []byte) error {
	scheme, keyHex, found := strings.Cut(string(text), ":")
	if !found {
		return errors.Errorf("participant %q: missing scheme separator", text)
	}
	s, err := SchemeFromString(scheme)
	if err != nil {
		return err
	}
	keyHex = strings.TrimPrefix(keyHex, "0x")
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return errors.Wrap(err, "decoding participant key")
	}
	data := make([]byte, 1+len(key))
	data[0] = byte(s)
	copy(data[1:], key)
	return p.UnmarshalBinary(data)
}

func (p Participant) String() string {
	switch p.Scheme {
	case SchemeSecp256k1:
		return "secp256k1:" + p.EthAddr.Hex()
	case SchemeEd25519:
		return "ed25519:0x" + hex.EncodeToString(p.EdKey)
	default:
		return fmt.Sprintf("scheme(%d):?", uint8(p.Scheme))
	}
}

// Equal reports whether both participants use the same scheme and key.
func (p *Participant) Equal(other *Participant) bool {
	if p == nil || other == nil {
		return p == other
	}
	if p.Scheme != other.Scheme {
		return false
	}
	if p.Scheme == SchemeEd25519 {
		return bytes.Equal(p.EdKey, other.EdKey)
	}
	return p.EthAddr == other.EthAddr
}

// Clone returns an independent copy of the participant.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	c := &Participant{Scheme: p.Scheme, EthAddr: p.EthAddr}
	if p.EdKey != nil {
		c.EdKey = make(ed25519.PublicKey, len(p.EdKey))
		copy(c.EdKey, p.EdKey)
	}
	return c
}
