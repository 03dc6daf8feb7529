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
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// IDLength is the length of a channel identifier in bytes.
const IDLength = 32

// ChannelID is the 32-byte identifier under which the adjudicator tracks a
// channel.
type ChannelID [IDLength]byte

// ChannelIDFromBytes converts a 32-byte slice into a ChannelID.
func ChannelIDFromBytes(b []byte) (ChannelID, error) {
	var id ChannelID
	if len(b) != IDLength {
		return id, errors.Errorf("channel id has length %d, expected %d", len(b), IDLength)
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the id as a slice.
func (id ChannelID) Bytes() []byte {
	return id[:]
}

// Hex returns the 0x-prefixed hex form of the id.
func (id ChannelID) Hex() string {
	return "0x" + hex.EncodeToString(id[:])
}

// String returns a shortened hex form for logging.
func (id ChannelID) String() string {
	return "0x" + hex.EncodeToString(id[:4]) + "…"
}

// Less defines a total order on channel ids. It is used to acquire channel
// locks in a fixed order when an operation spans two channels.
func (id ChannelID) Less(other ChannelID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// MarshalText renders the id as 0x-prefixed hex.
func (id ChannelID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText parses a 0x-prefixed hex id of exactly 32 bytes.
func (id *ChannelID) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrap(err, "decoding channel id")
	}
	parsed, err := ChannelIDFromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
