package chain

import (
	"github.com/pkg/errors"
	"github.com/ypatiosch/coind/internal/crypto"
)

// TxID is the content hash frozen at construction time. It is NOT
// recomputed later even when a coinbase transaction's outputs mutate
// (AddFee), see the construction-time-only invariant in the data model.
type TxID [32]byte

// Output is a spendable amount locked to an address.
type Output struct {
	Amount  uint64
	Address crypto.Address
}

// Input references a specific output of a prior transaction and carries
// the proof of authorization to spend it.
type Input struct {
	TxID        TxID
	OutputIndex int
	PubKey      []byte
	Signature   crypto.Signature
}

// Transaction is the immutable (barring coinbase fee collection) UTXO
// transaction: an ordered list of inputs, an ordered non-empty list of
// outputs, and a content-addressed id.
type Transaction struct {
	ID      TxID
	Inputs  []Input
	Outputs []Output
}

// txBody is the portion of a Transaction that the id commits to. Kept as
// a separate type (rather than hashing the Transaction itself) so that
// later mutation of Outputs[0].Amount by AddFee can never accidentally
// change what computeTxID hashed.
type txBody struct {
	Inputs  []Input
	Outputs []Output
}

// NewTransaction freezes a new Transaction's id over (inputs, outputs).
// Passing no inputs produces a coinbase transaction.
func NewTransaction(inputs []Input, outputs []Output) *Transaction {
	tx := &Transaction{Inputs: inputs, Outputs: outputs}
	tx.ID = computeTxID(inputs, outputs)
	return tx
}

// NewCoinbaseTransaction builds the input-less reward transaction every
// block creates automatically.
func NewCoinbaseTransaction(reward Output) *Transaction {
	return NewTransaction(nil, []Output{reward})
}

func computeTxID(inputs []Input, outputs []Output) TxID {
	body := txBody{Inputs: inputs, Outputs: outputs}
	return TxID(crypto.Hash(crypto.CanonicalBytes(body)))
}

// IsCoinbase reports whether tx is input-less.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 0
}

// TotalOutput sums the transaction's output amounts.
func (tx *Transaction) TotalOutput() uint64 {
	var total uint64
	for _, out := range tx.Outputs {
		total += out.Amount
	}
	return total
}

// SpendOutput is a purely functional self-check: it validates that input
// correctly authorizes spending one of tx's own outputs and returns that
// output's amount. It never consults a UTXO view, it only checks that
// the input was built correctly against this transaction.
func (tx *Transaction) SpendOutput(input Input) (uint64, error) {
	if input.TxID != tx.ID {
		return 0, ErrWrongTxID
	}
	if input.OutputIndex < 0 || input.OutputIndex >= len(tx.Outputs) {
		return 0, errors.Wrap(ErrAddressMismatch, "output index out of range")
	}
	out := tx.Outputs[input.OutputIndex]

	pub, err := crypto.ParsePubKey(input.PubKey)
	if err != nil {
		return 0, errors.Wrap(ErrBadSignature, "unparsable pubkey")
	}
	if crypto.CalcAddress(pub) != out.Address {
		return 0, ErrAddressMismatch
	}
	if !crypto.Verify(pub, out, input.Signature) {
		return 0, ErrBadSignature
	}
	return out.Amount, nil
}

// IsValid checks tx against a UTXO view: every input must resolve to a
// still-unspent output whose address matches the input's pubkey and whose
// signature verifies, and the summed input amounts must be at least the
// summed output amounts. IsValid never panics or returns an error, any
// structural problem (missing tx, missing/spent output slot, bad
// signature) simply makes the transaction invalid. Not meaningful on a
// coinbase transaction.
func (tx *Transaction) IsValid(view UTXOView) bool {
	if tx.IsCoinbase() {
		return false
	}

	var inSum uint64
	for _, in := range tx.Inputs {
		outs, ok := view[in.TxID]
		if !ok || in.OutputIndex < 0 || in.OutputIndex >= len(outs) {
			return false
		}
		out := outs[in.OutputIndex]
		if out == nil {
			return false // already spent
		}

		pub, err := crypto.ParsePubKey(in.PubKey)
		if err != nil {
			return false
		}
		if crypto.CalcAddress(pub) != out.Address {
			return false
		}
		if !crypto.Verify(pub, *out, in.Signature) {
			return false
		}
		inSum += out.Amount
	}

	return inSum >= tx.TotalOutput()
}

// Fee returns the difference between resolved input amounts and output
// amounts under view. Only meaningful once IsValid(view) holds.
func (tx *Transaction) Fee(view UTXOView) uint64 {
	var inSum uint64
	for _, in := range tx.Inputs {
		if outs, ok := view[in.TxID]; ok && in.OutputIndex < len(outs) && outs[in.OutputIndex] != nil {
			inSum += outs[in.OutputIndex].Amount
		}
	}
	return inSum - tx.TotalOutput()
}

// AddFee mutates the coinbase's first output upward by amount. Legal only
// on a coinbase transaction; this is the one place a "frozen" id no
// longer corresponds to the transaction's current bytes, by design (see
// DESIGN.md).
func (tx *Transaction) AddFee(amount uint64) error {
	if !tx.IsCoinbase() {
		return ErrNotCoinbase
	}
	tx.Outputs[0].Amount += amount
	return nil
}
