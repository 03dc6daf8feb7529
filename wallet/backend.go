package wallet

import (
	"crypto/ed25519"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/x402-channels/wallet/types"
)

// VerifyDigest reports whether sig is a valid signature by p over digest.
// A malformed signature yields (false, nil); only unknown schemes are
// reported as errors.
//
// Secp256k1 signatures must be exactly 65 bytes with V in {0, 1} and a
// canonical low S value; the recovered address must equal the participant's
// address. Ed25519 signatures must be exactly 64 bytes.
func VerifyDigest(digest [32]byte, sig Sig, p *types.Participant) (bool, error) {
	if p == nil {
		return false, errors.New("nil participant")
	}
	switch p.Scheme {
	case types.SchemeSecp256k1:
		return verifySecp(digest, sig, p)
	case types.SchemeEd25519:
		if len(sig) != types.SigLengthEd25519 {
			return false, nil
		}
		return ed25519.Verify(p.EdKey, digest[:], sig), nil
	default:
		return false, errors.Errorf("unknown signature scheme: %d", p.Scheme)
	}
}

func verifySecp(digest [32]byte, sig Sig, p *types.Participant) (bool, error) {
	if len(sig) != types.SigLengthSecp256k1 {
		return false, nil
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	v := sig[64]
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return false, nil
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == p.EthAddr, nil
}
