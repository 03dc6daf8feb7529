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
	errorsmod "cosmossdk.io/errors"
)

// ModuleName is the error codespace of the channel ledger.
const ModuleName = "channel"

// Ledger sentinel errors. Rejections carry exactly one of these so callers
// can map them to wire responses without string matching.
var (
	ErrChannelNotFound            = errorsmod.Register(ModuleName, 2, "channel not tracked")
	ErrChannelNotOpen             = errorsmod.Register(ModuleName, 3, "channel not open")
	ErrStaleNonce                 = errorsmod.Register(ModuleName, 4, "state nonce not strictly increasing")
	ErrBalanceConservation        = errorsmod.Register(ModuleName, 5, "balances do not sum to channel total")
	ErrStateExpired               = errorsmod.Register(ModuleName, 6, "state past its expiry")
	ErrInvalidSignature           = errorsmod.Register(ModuleName, 7, "signature does not verify against counterparty")
	ErrInsufficientChannelBalance = errorsmod.Register(ModuleName, 8, "insufficient channel balance")
	ErrAssetMismatch              = errorsmod.Register(ModuleName, 9, "channel assets differ")
	ErrLocksNotSupported          = errorsmod.Register(ModuleName, 10, "lock commitments not supported")
	ErrInvalidState               = errorsmod.Register(ModuleName, 11, "malformed channel state")
)
