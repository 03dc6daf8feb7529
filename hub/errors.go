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
	errorsmod "cosmossdk.io/errors"
)

// ModuleName is the error codespace of the hub coordinator.
const ModuleName = "hub"

var (
	// ErrFeeAboveMax means the quoted fee exceeds the payer's bound.
	ErrFeeAboveMax = errorsmod.Register(ModuleName, 2, "fee exceeds caller maximum")
	// ErrQuoteExpired means the quote lapsed before the ticket was issued.
	ErrQuoteExpired = errorsmod.Register(ModuleName, 3, "quote expired")
	// ErrTicketExpired means the ticket lapsed before verification.
	ErrTicketExpired = errorsmod.Register(ModuleName, 4, "ticket expired")
	// ErrTicketAlreadyConsumed means the single-use ticket was redeemed
	// before.
	ErrTicketAlreadyConsumed = errorsmod.Register(ModuleName, 5, "ticket already consumed")
	// ErrTicketBinding means the ticket, its channel proof and the payee's
	// expectation do not fit together.
	ErrTicketBinding = errorsmod.Register(ModuleName, 6, "ticket binding mismatch")
	// ErrDebitMismatch means the payer's state does not debit exactly the
	// quoted total.
	ErrDebitMismatch = errorsmod.Register(ModuleName, 7, "state debit does not match quoted total")
	// ErrNotHubChannel means the named channel does not involve the hub.
	ErrNotHubChannel = errorsmod.Register(ModuleName, 8, "hub is not a participant of the channel")
	// ErrQuoteMismatch means a presented quote does not reproduce under the
	// hub's active fee policy.
	ErrQuoteMismatch = errorsmod.Register(ModuleName, 9, "quote does not match the active fee policy")
)
