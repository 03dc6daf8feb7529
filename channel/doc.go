// Copyright 2025 - See NOTICE file for copyright holders.
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

// Package channel holds the off-chain core of the payment engine: the state
// model with its signing codec and the ledger that validates and commits
// counterparty-signed states.
// The Backend derives EIP-712 style digests over a deployment-specific
// signing domain, so a signature can never be replayed across channels,
// chains or contract versions. The Ledger serializes all mutations of one
// channel and enforces strict nonce ordering and balance conservation
// before a state becomes the channel's latest.
package channel
