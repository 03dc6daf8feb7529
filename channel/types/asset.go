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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies the token a channel is denominated in. A channel holds
// exactly one asset; operations across channels require equal assets.
type Asset struct {
	// ChainID is the EVM chain the token lives on.
	ChainID uint64 `json:"chainId"`
	// Token is the token contract address.
	Token common.Address `json:"token"`
}

// NewAsset creates an asset from chain id and token address.
func NewAsset(chainID uint64, token common.Address) Asset {
	return Asset{ChainID: chainID, Token: token}
}

// Equal reports whether both assets name the same token on the same chain.
func (a Asset) Equal(other Asset) bool {
	return a.ChainID == other.ChainID && a.Token == other.Token
}

func (a Asset) String() string {
	return fmt.Sprintf("%d:%s", a.ChainID, a.Token.Hex())
}
