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

package wallet

import (
	"math/rand"

	"github.com/pkg/errors"
	"polycry.pt/poly-go/sync"

	"perun.network/x402-channels/wallet/types"
)

// EphemeralWallet is a wallet that stores accounts in memory. It is keyed
// by the participant's string form, so one wallet can hold accounts of both
// schemes side by side.
type EphemeralWallet struct {
	lock     sync.Mutex
	accounts map[string]Account
}

// NewEphemeralWallet creates a new EphemeralWallet instance.
func NewEphemeralWallet() *EphemeralWallet {
	return &EphemeralWallet{
		accounts: make(map[string]Account),
	}
}

// Unlock returns the account associated with the given participant.
func (e *EphemeralWallet) Unlock(p *types.Participant) (Account, error) {
	if p == nil {
		return nil, errors.New("nil participant")
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	account, ok := e.accounts[p.String()]
	if !ok {
		return nil, errors.New("account not found")
	}
	return account, nil
}

// AddAccount adds the given account to the wallet.
func (e *EphemeralWallet) AddAccount(acc Account) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	k := acc.Participant().String()
	if _, ok := e.accounts[k]; ok {
		return errors.New("account already exists")
	}
	e.accounts[k] = acc
	return nil
}

// AddNewAccount generates a new account of the given scheme and adds it to
// the wallet.
func (e *EphemeralWallet) AddNewAccount(rng *rand.Rand, scheme types.Scheme) (Account, error) {
	acc, err := NewRandomAccount(rng, scheme)
	if err != nil {
		return nil, err
	}
	return acc, e.AddAccount(acc)
}
