package chain

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// UTXOView maps a transaction id to the outputs it produced that a block
// still considers spendable. A nil entry at outs[i] marks that output as
// spent, an absent slot, per the data model, rather than removing it
// from the slice (which would shift every later index).
type UTXOView map[TxID][]*Output

// Clone returns a deep-enough copy: a new top-level map and new output
// slices, so mutating the clone (spending/crediting) never touches the
// original. Output values themselves are shared rather than copied, so
// an UpdateCoinbaseAmount on either view is visible through both.
func (v UTXOView) Clone() UTXOView {
	out := make(UTXOView, len(v))
	for id, outs := range v {
		cloned := make([]*Output, len(outs))
		copy(cloned, outs)
		out[id] = cloned
	}
	return out
}

// Credit records tx's outputs as spendable in the view.
func (v UTXOView) Credit(id TxID, outputs []Output) {
	slots := make([]*Output, len(outputs))
	for i := range outputs {
		o := outputs[i]
		slots[i] = &o
	}
	v[id] = slots
}

// Spend clears the referenced output slot, if present.
func (v UTXOView) Spend(id TxID, index int) {
	outs, ok := v[id]
	if !ok || index < 0 || index >= len(outs) {
		return
	}
	outs[index] = nil
}

// UpdateCoinbaseAmount overwrites the recorded amount of a coinbase
// transaction's sole output, keeping the view's copy in sync after
// AddFee mutates the transaction's own Outputs[0].Amount.
func (v UTXOView) UpdateCoinbaseAmount(id TxID, amount uint64) {
	outs, ok := v[id]
	if !ok || len(outs) == 0 || outs[0] == nil {
		return
	}
	outs[0].Amount = amount
}

// utxoSlot is the wire form of one element of a UTXOView output slice.
// gob refuses to encode a nil pointer sitting inside a slice ("nil
// element"), which a spent slot always is, so GobEncode/GobDecode below
// flatten the `[]*Output` representation into this by-value form instead
// of letting gob reflect into UTXOView directly.
type utxoSlot struct {
	Spent  bool
	Output Output
}

// GobEncode implements gob.GobEncoder so a view with spent (nil) slots
// can still be serialized as part of a Block.
func (v UTXOView) GobEncode() ([]byte, error) {
	raw := make(map[TxID][]utxoSlot, len(v))
	for id, outs := range v {
		slots := make([]utxoSlot, len(outs))
		for i, o := range outs {
			if o == nil {
				slots[i] = utxoSlot{Spent: true}
				continue
			}
			slots[i] = utxoSlot{Output: *o}
		}
		raw[id] = slots
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(raw); err != nil {
		return nil, errors.Wrap(err, "encode utxo view")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder, the inverse of GobEncode.
func (v *UTXOView) GobDecode(data []byte) error {
	var raw map[TxID][]utxoSlot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return errors.Wrap(err, "decode utxo view")
	}

	out := make(UTXOView, len(raw))
	for id, slots := range raw {
		outs := make([]*Output, len(slots))
		for i, s := range slots {
			if s.Spent {
				continue
			}
			o := s.Output
			outs[i] = &o
		}
		out[id] = outs
	}
	*v = out
	return nil
}
