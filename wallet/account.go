package wallet

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"io"
	"math/rand"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"perun.network/x402-channels/wallet/types"
)

// Sig is a raw channel signature. Its length is determined by the signer's
// scheme: 65 bytes [R || S || V] for secp256k1, 64 bytes for Ed25519.
type Sig []byte

// Account is a single-scheme signing key for channel states and tickets.
// Implementations sign 32-byte digests produced by the state codec.
type Account interface {
	// Participant returns the public identity of the account.
	Participant() *types.Participant
	// SignDigest signs the given digest and returns the raw signature.
	SignDigest(digest [32]byte) (Sig, error)
}

// SecpAccount signs with a secp256k1 key in the Ethereum recovery format.
// Produced signatures always carry a canonical low S value.
type SecpAccount struct {
	key         *ecdsa.PrivateKey
	participant *types.Participant
}

// NewSecpAccount wraps an existing secp256k1 private key.
func NewSecpAccount(key *ecdsa.PrivateKey) *SecpAccount {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	return &SecpAccount{key: key, participant: types.NewSecpParticipant(addr)}
}

// NewRandomSecpAccount generates a fresh secp256k1 account from rng.
func NewRandomSecpAccount(rng *rand.Rand) (*SecpAccount, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rng)
	if err != nil {
		return nil, errors.Wrap(err, "generating secp256k1 key")
	}
	return NewSecpAccount(key), nil
}

// Participant returns the account's address identity.
func (a *SecpAccount) Participant() *types.Participant {
	return a.participant
}

// SignDigest signs digest, returning a 65-byte recoverable signature with
// V in {0, 1}.
func (a *SecpAccount) SignDigest(digest [32]byte) (Sig, error) {
	sig, err := crypto.Sign(digest[:], a.key)
	if err != nil {
		return nil, errors.Wrap(err, "signing digest")
	}
	return sig, nil
}

// EdAccount signs with an Ed25519 key.
type EdAccount struct {
	key         ed25519.PrivateKey
	participant *types.Participant
}

// NewEdAccount wraps an existing Ed25519 private key.
func NewEdAccount(key ed25519.PrivateKey) *EdAccount {
	pub := key.Public().(ed25519.PublicKey)
	return &EdAccount{key: key, participant: types.NewEdParticipant(pub)}
}

// NewRandomEdAccount generates a fresh Ed25519 account from the given
// randomness source.
func NewRandomEdAccount(rng io.Reader) (*EdAccount, error) {
	_, key, err := ed25519.GenerateKey(rng)
	if err != nil {
		return nil, errors.Wrap(err, "generating ed25519 key")
	}
	return NewEdAccount(key), nil
}

// Participant returns the account's public key identity.
func (a *EdAccount) Participant() *types.Participant {
	return a.participant
}

// SignDigest signs digest, returning a 64-byte Ed25519 signature.
func (a *EdAccount) SignDigest(digest [32]byte) (Sig, error) {
	return ed25519.Sign(a.key, digest[:]), nil
}

// NewRandomAccount generates an account of the given scheme from rng.
func NewRandomAccount(rng *rand.Rand, scheme types.Scheme) (Account, error) {
	switch scheme {
	case types.SchemeSecp256k1:
		return NewRandomSecpAccount(rng)
	case types.SchemeEd25519:
		return NewRandomEdAccount(rng)
	default:
		return nil, errors.Errorf("unknown signature scheme: %d", scheme)
	}
}
