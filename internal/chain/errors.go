package chain

import "github.com/pkg/errors"

// Sentinel errors per the error taxonomy: anything a peer might do wrong
// is a silent reject inside Block/Transaction methods (they return bool,
// never one of these); these are reserved for local programming errors
// and user-facing spend failures that must surface to the caller.
var (
	ErrWrongTxID       = errors.New("chain: input references the wrong transaction id")
	ErrAddressMismatch = errors.New("chain: pubkey hash does not match referenced output address")
	ErrBadSignature    = errors.New("chain: signature does not verify against referenced output")
	ErrNotCoinbase     = errors.New("chain: operation only valid on a coinbase transaction")
)
