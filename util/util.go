package util

import (
	"encoding/binary"
	mathrand "math/rand"

	"github.com/ethereum/go-ethereum/common"

	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// RandomChannelID draws a pseudo-random channel id from rng.
func RandomChannelID(rng *mathrand.Rand) types.ChannelID {
	var id types.ChannelID
	rng.Read(id[:])
	return id
}

// RandomAddress draws a pseudo-random EVM address from rng.
func RandomAddress(rng *mathrand.Rand) common.Address {
	var addr common.Address
	rng.Read(addr[:])
	return addr
}

// RandomAsset draws a pseudo-random asset on a pseudo-random chain.
func RandomAsset(rng *mathrand.Rand) types.Asset {
	var buf [8]byte
	rng.Read(buf[:])
	return types.NewAsset(binary.BigEndian.Uint64(buf[:])%1_000_000, RandomAddress(rng))
}

// MakeRandomAccounts generates one account per given scheme.
func MakeRandomAccounts(rng *mathrand.Rand, schemes ...wtypes.Scheme) ([]wallet.Account, error) {
	accs := make([]wallet.Account, len(schemes))
	for i, scheme := range schemes {
		acc, err := wallet.NewRandomAccount(rng, scheme)
		if err != nil {
			return nil, err
		}
		accs[i] = acc
	}
	return accs, nil
}
