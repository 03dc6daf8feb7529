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
	"github.com/pkg/errors"
)

// BpsDenominator is the divisor of the proportional fee component: a Bps
// value of 100 charges one percent.
const BpsDenominator = 10_000

// FeePolicy describes how the hub prices forwarded payments. The fee of an
// amount is Base + amount*Bps/BpsDenominator + Surcharge, with the
// proportional part rounded down.
type FeePolicy struct {
	Base      math.Int
	Bps       uint32
	Surcharge math.Int
}

// ZeroFeePolicy is a policy that charges nothing.
func ZeroFeePolicy() FeePolicy {
	return FeePolicy{Base: math.ZeroInt(), Bps: 0, Surcharge: math.ZeroInt()}
}

// Validate checks that all components are non-negative and the proportional
// part is below 100%.
func (p FeePolicy) Validate() error {
	if p.Base.IsNil() || p.Base.IsNegative() {
		return errors.New("base fee must be non-negative")
	}
	if p.Surcharge.IsNil() || p.Surcharge.IsNegative() {
		return errors.New("surcharge must be non-negative")
	}
	if p.Bps >= BpsDenominator {
		return errors.Errorf("bps must be below %d, got %d", BpsDenominator, p.Bps)
	}
	return nil
}

// Fee computes the fee for forwarding the given amount.
func (p FeePolicy) Fee(amount math.Int) math.Int {
	proportional := amount.MulRaw(int64(p.Bps)).QuoRaw(BpsDenominator)
	return p.Base.Add(proportional).Add(p.Surcharge)
}

// Hash returns the policy commitment that is embedded into tickets, so that
// a payer can later prove which pricing the hub advertised.
func (p FeePolicy) Hash() ([32]byte, error) {
	args, err := abiArgs("uint256", "uint256", "uint256")
	if err != nil {
		return [32]byte{}, err
	}
	packed, err := args.Pack(
		p.Base.BigInt(),
		new(big.Int).SetUint64(uint64(p.Bps)),
		p.Surcharge.BigInt(),
	)
	if err != nil {
		return [32]byte{}, errors.WithMessage(err, "packing fee policy")
	}
	return hashOf(packed), nil
}
