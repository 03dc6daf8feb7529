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
	"math/big"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

const (
	// ProtocolName is the domain name under which states are signed.
	ProtocolName = "x402-channels"
	// ProtocolVersion is the domain version. Bumping it invalidates all
	// signatures produced under earlier versions.
	ProtocolVersion = "1"
)

// Type strings hashed into every digest. A signature is only valid for the
// exact struct layout these describe.
const (
	domainType  = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"
	stateType   = "ChannelState(bytes32 channelId,uint64 stateNonce,uint256 balA,uint256 balB,bytes32 locksRoot,uint64 stateExpiry,bytes32 contextHash)"
	contextType = "PaymentContext(bytes32 payee,bytes32 resource,bytes32 invoiceId,bytes32 paymentId,uint256 amount,uint256 chainId,address token,uint64 expiry)"
)

// Domain is the signing domain mixed into every digest. Signatures are only
// valid for one protocol deployment: same name, version, chain and
// adjudicator contract.
type Domain struct {
	Name     string
	Version  string
	ChainID  uint64
	Contract common.Address
}

// DefaultDomain returns the protocol's signing domain for the given chain
// and adjudicator contract.
func DefaultDomain(chainID uint64, contract common.Address) Domain {
	return Domain{
		Name:     ProtocolName,
		Version:  ProtocolVersion,
		ChainID:  chainID,
		Contract: contract,
	}
}

// Backend turns channel states into signing digests and dispatches
// signature creation and verification. It is stateless apart from the
// precomputed domain separator and safe for concurrent use.
type Backend struct {
	domain    Domain
	separator [32]byte
}

// NewBackend creates a backend for the given signing domain.
func NewBackend(domain Domain) (*Backend, error) {
	sep, err := domainSeparator(domain)
	if err != nil {
		return nil, err
	}
	return &Backend{domain: domain, separator: sep}, nil
}

// Domain returns the backend's signing domain.
func (b *Backend) Domain() Domain {
	return b.domain
}

// DomainSeparator returns the precomputed domain hash.
func (b *Backend) DomainSeparator() [32]byte {
	return b.separator
}

// StateDigest computes the 32-byte signing digest of a state:
// keccak256(0x19 || 0x01 || domainSeparator || structHash(state)).
func (b *Backend) StateDigest(s *State) ([32]byte, error) {
	structHash, err := stateStructHash(s)
	if err != nil {
		return [32]byte{}, err
	}
	return b.TypedDigest(structHash), nil
}

// TypedDigest combines a struct hash with the domain separator into the
// final signing digest. It is the common tail for all signed structures,
// channel states and hub tickets alike.
func (b *Backend) TypedDigest(structHash [32]byte) [32]byte {
	digest := crypto.Keccak256([]byte{0x19, 0x01}, b.separator[:], structHash[:])
	var out [32]byte
	copy(out[:], digest)
	return out
}

// SignState signs the state's digest with the given account.
func (b *Backend) SignState(acc wallet.Account, s *State) (wallet.Sig, error) {
	digest, err := b.StateDigest(s)
	if err != nil {
		return nil, err
	}
	return acc.SignDigest(digest)
}

// VerifyState reports whether sig is p's signature over the state's digest.
func (b *Backend) VerifyState(s *State, sig wallet.Sig, p *wtypes.Participant) (bool, error) {
	digest, err := b.StateDigest(s)
	if err != nil {
		return false, err
	}
	return wallet.VerifyDigest(digest, sig, p)
}

// ContextHash commits a payment context into a 32-byte value carried in the
// state's contextHash field. The hub derives it when quoting, with the quote
// expiry as the last input, and the payer must re-derive it from the quote
// before signing for a ticket to bind.
func ContextHash(payee *wtypes.Participant, resource, invoiceID, paymentID string, amount math.Int, asset types.Asset, expiry uint64) ([32]byte, error) {
	payeeBin, err := payee.MarshalBinary()
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "encoding payee")
	}
	args, err := abiArgs("bytes32", "bytes32", "bytes32", "bytes32", "bytes32", "uint256", "uint256", "address", "uint64")
	if err != nil {
		return [32]byte{}, err
	}
	packed, err := args.Pack(
		hashOf([]byte(contextType)),
		hashOf(payeeBin),
		hashOf([]byte(resource)),
		hashOf([]byte(invoiceID)),
		hashOf([]byte(paymentID)),
		amount.BigInt(),
		new(big.Int).SetUint64(asset.ChainID),
		asset.Token,
		expiry,
	)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "packing payment context")
	}
	return hashOf(packed), nil
}

func stateStructHash(s *State) ([32]byte, error) {
	if err := s.Validate(); err != nil {
		return [32]byte{}, err
	}
	args, err := abiArgs("bytes32", "bytes32", "uint64", "uint256", "uint256", "bytes32", "uint64", "bytes32")
	if err != nil {
		return [32]byte{}, err
	}
	packed, err := args.Pack(
		hashOf([]byte(stateType)),
		[32]byte(s.ChannelID),
		s.Nonce,
		s.BalA.BigInt(),
		s.BalB.BigInt(),
		s.LocksRoot,
		s.Expiry,
		s.ContextHash,
	)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "packing channel state")
	}
	return hashOf(packed), nil
}

func domainSeparator(d Domain) ([32]byte, error) {
	args, err := abiArgs("bytes32", "bytes32", "bytes32", "uint256", "address")
	if err != nil {
		return [32]byte{}, err
	}
	packed, err := args.Pack(
		hashOf([]byte(domainType)),
		hashOf([]byte(d.Name)),
		hashOf([]byte(d.Version)),
		new(big.Int).SetUint64(d.ChainID),
		d.Contract,
	)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "packing signing domain")
	}
	return hashOf(packed), nil
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
