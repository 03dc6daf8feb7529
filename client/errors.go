// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	errorsmod "cosmossdk.io/errors"
)

// ModuleName is the error codespace of the chain gateway.
const ModuleName = "gateway"

var (
	// ErrGatewayUnavailable marks transient chain access failures. It is
	// the only gateway error worth retrying.
	ErrGatewayUnavailable = errorsmod.Register(ModuleName, 2, "chain gateway unavailable")
	// ErrUnknownChannel means the adjudicator does not track the channel.
	ErrUnknownChannel = errorsmod.Register(ModuleName, 3, "channel unknown to adjudicator")
	// ErrRejected means the adjudicator refused the submission for good:
	// stale state, bad signature or closed channel. Retrying the same
	// submission cannot succeed.
	ErrRejected = errorsmod.Register(ModuleName, 4, "submission rejected by adjudicator")
)
