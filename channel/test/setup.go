package test

import (
	"math/rand"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	pkgtest "polycry.pt/poly-go/test"

	"perun.network/x402-channels/channel"
	"perun.network/x402-channels/channel/types"
	"perun.network/x402-channels/util"
	"perun.network/x402-channels/wallet"
	wtypes "perun.network/x402-channels/wallet/types"
)

// Genesis is the fixed start time of the test clock.
var Genesis = time.Unix(1_700_000_000, 0)

// Setup bundles the common fixtures of the engine tests: a signing backend
// on a test domain, a controllable clock, and one account per role. The
// payer signs with secp256k1 and the payee with Ed25519, so every test
// exercises both schemes.
type Setup struct {
	T       *testing.T
	Rng     *rand.Rand
	Backend *channel.Backend
	Clock   *clock.TestClock

	Payer wallet.Account
	Payee wallet.Account
	Hub   wallet.Account

	Asset types.Asset
}

// NewSetup creates the default test fixture.
func NewSetup(t *testing.T) *Setup {
	rng := pkgtest.Prng(t)

	backend, err := channel.NewBackend(channel.DefaultDomain(1337, util.RandomAddress(rng)))
	require.NoError(t, err)

	payer, err := wallet.NewRandomAccount(rng, wtypes.SchemeSecp256k1)
	require.NoError(t, err)
	payee, err := wallet.NewRandomAccount(rng, wtypes.SchemeEd25519)
	require.NoError(t, err)
	hub, err := wallet.NewRandomAccount(rng, wtypes.SchemeSecp256k1)
	require.NoError(t, err)

	return &Setup{
		T:       t,
		Rng:     rng,
		Backend: backend,
		Clock:   clock.NewTestClock(Genesis),
		Payer:   payer,
		Payee:   payee,
		Hub:     hub,
		Asset:   util.RandomAsset(rng),
	}
}

// NewLedger creates a ledger owned by the given account, on the setup's
// backend and clock.
func (s *Setup) NewLedger(self wallet.Account) *channel.Ledger {
	return channel.NewLedger(s.Backend, self.Participant(), s.Clock)
}

// OpenChannel registers a fresh channel between a and b with the given
// funded total on the ledger and returns its id.
func (s *Setup) OpenChannel(l *channel.Ledger, a, b wallet.Account, total int64, hubRole channel.HubRole) types.ChannelID {
	id := util.RandomChannelID(s.Rng)
	ch := channel.NewChannel(id, a.Participant(), b.Participant(), s.Asset, math.NewInt(total), hubRole)
	require.NoError(s.T, l.Register(ch))
	return id
}

// NextState builds the successor of prev that pays amount from the given
// side to the other.
func (s *Setup) NextState(prev *channel.State, from channel.Side, amount int64) *channel.State {
	next := prev.Clone()
	next.Nonce = prev.Nonce + 1
	pay := math.NewInt(amount)
	next.SetBalance(from, prev.Balance(from).Sub(pay))
	next.SetBalance(from.Other(), prev.Balance(from.Other()).Add(pay))
	return next
}

// Sign signs the state with the given account.
func (s *Setup) Sign(acc wallet.Account, st *channel.State) wallet.Sig {
	sig, err := s.Backend.SignState(acc, st)
	require.NoError(s.T, err)
	return sig
}

// Advance moves the test clock forward by d.
func (s *Setup) Advance(d time.Duration) {
	s.Clock.SetTime(s.Clock.Now().Add(d))
}

// Now returns the current test time as a Unix timestamp.
func (s *Setup) Now() uint64 {
	return uint64(s.Clock.Now().Unix())
}
