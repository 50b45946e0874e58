// Package wallet implements the Wallet component: a set of owned
// keypairs and a FIFO queue of coins (this wallet's private belief about
// which UTXOs it can currently spend).
package wallet

import (
	"github.com/pkg/errors"
	"github.com/ypatiosch/coind/internal/chain"
	"github.com/ypatiosch/coind/internal/crypto"
)

// ErrUnknownAddress is raised by AddUTXO when the wallet holds no keypair
// for the output's address. Per the error policy this is a programming
// bug and is always surfaced, never silently dropped.
var ErrUnknownAddress = errors.New("wallet: no keypair for address")

// ErrInsufficientFunds is raised by SpendUTXOs when the wallet's balance
// cannot cover the requested amount. This is a user-facing condition, not
// a bug, and is surfaced to the caller the same way.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// Coin is the wallet's private record of a UTXO it believes is currently
// spendable, plus the key needed to spend it (the keypair itself lives in
// keys, keyed by address, and is retained even after the coin is
// consumed so the wallet can re-derive its coin set from the chain if a
// spend attempt is rejected).
type Coin struct {
	Output      chain.Output
	TxID        chain.TxID
	OutputIndex int
}

// Wallet owns keypairs and a FIFO coin queue. Not safe for concurrent use
// from more than one goroutine without an external lock, callers
// (node.Client/node.Miner) serialize access with their own mutex.
type Wallet struct {
	keys  map[crypto.Address]crypto.KeyPair
	order []crypto.Address // insertion order, oldest first
	coins []Coin           // front = most recent, back = oldest

	eligibilityAddress *crypto.Address
}

// New returns an empty wallet.
func New() *Wallet {
	return &Wallet{keys: make(map[crypto.Address]crypto.KeyPair)}
}

// Balance sums the amounts of every coin currently queued.
func (w *Wallet) Balance() uint64 {
	var total uint64
	for _, c := range w.coins {
		total += c.Output.Amount
	}
	return total
}

// HasKey reports whether the wallet owns a keypair for address.
func (w *Wallet) HasKey(address crypto.Address) bool {
	_, ok := w.keys[address]
	return ok
}

// MakeAddress generates a fresh keypair, stores it, and returns the
// derived address.
func (w *Wallet) MakeAddress() (crypto.Address, error) {
	kp, err := crypto.GenerateKeypair()
	if err != nil {
		return crypto.Address{}, errors.Wrap(err, "make address")
	}
	addr := crypto.CalcAddress(kp.Public)
	w.keys[addr] = kp
	w.order = append(w.order, addr)
	return addr, nil
}

// AddUTXO credits the wallet with a UTXO it can spend, prepending it to
// the coin queue (front = most recent).
func (w *Wallet) AddUTXO(output chain.Output, txID chain.TxID, outputIndex int) error {
	if !w.HasKey(output.Address) {
		return ErrUnknownAddress
	}
	w.coins = append([]Coin{{Output: output, TxID: txID, OutputIndex: outputIndex}}, w.coins...)
	return nil
}

// SpendResult is the outcome of a successful SpendUTXOs call.
type SpendResult struct {
	Inputs        []chain.Input
	ChangeAmount  uint64
	ConsumedCoins []Coin
}

// SpendUTXOs signs and returns enough inputs to cover requestedAmount,
// consuming coins from the oldest end of the queue (most likely
// finalized first) until the accumulated amount is at least the request.
// Consumed coins are removed from the queue; the underlying keypairs are
// retained so the wallet can re-derive its coin state later.
func (w *Wallet) SpendUTXOs(requestedAmount uint64) (SpendResult, error) {
	if requestedAmount > w.Balance() {
		return SpendResult{}, ErrInsufficientFunds
	}

	var (
		inputs       []chain.Input
		accumulated  uint64
		consumeCount int
	)

	for i := len(w.coins) - 1; i >= 0 && accumulated < requestedAmount; i-- {
		coin := w.coins[i]
		kp, ok := w.keys[coin.Output.Address]
		if !ok {
			return SpendResult{}, ErrUnknownAddress
		}
		sig := crypto.Sign(kp.Private, coin.Output)
		inputs = append(inputs, chain.Input{
			TxID:        coin.TxID,
			OutputIndex: coin.OutputIndex,
			PubKey:      crypto.SerializePubKey(kp.Public),
			Signature:   sig,
		})
		accumulated += coin.Output.Amount
		consumeCount++
	}

	consumed := make([]Coin, consumeCount)
	copy(consumed, w.coins[len(w.coins)-consumeCount:])
	w.coins = w.coins[:len(w.coins)-consumeCount]

	return SpendResult{
		Inputs:        inputs,
		ChangeAmount:  accumulated - requestedAmount,
		ConsumedCoins: consumed,
	}, nil
}

// SaveEligibilityProof captures the wallet-wide "eligibility public key"
// used by the mint-eligibility check. The source this is ported from
// overwrites a single slot while iterating every owned address, so in
// practice whichever address iteration visits last wins, almost
// certainly a latent bug (see spec §9). This port preserves that shape
// (one address, not a combination of all of them) but makes the "last"
// deterministic by using insertion order rather than relying on Go's
// randomized map iteration: the most recently created address always
// wins. See DESIGN.md for the Open Question writeup.
func (w *Wallet) SaveEligibilityProof() {
	if len(w.order) == 0 {
		return
	}
	last := w.order[len(w.order)-1]
	w.eligibilityAddress = &last
}

// GetEligibilityAddress returns the eligibility public key captured by
// the most recent SaveEligibilityProof call, serialized compressed.
func (w *Wallet) GetEligibilityAddress() ([]byte, bool) {
	if w.eligibilityAddress == nil {
		return nil, false
	}
	kp, ok := w.keys[*w.eligibilityAddress]
	if !ok {
		return nil, false
	}
	return crypto.SerializePubKey(kp.Public), true
}

// KeyPairFor returns the keypair backing address and whether the wallet
// owns one.
func (w *Wallet) KeyPairFor(address crypto.Address) (crypto.KeyPair, bool) {
	kp, ok := w.keys[address]
	return kp, ok
}
