// Package node implements the Client and Miner participants: the
// consumers of chain, wallet, crypto, and bus.
package node

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ypatiosch/coind/internal/bus"
	"github.com/ypatiosch/coind/internal/chain"
	"github.com/ypatiosch/coind/internal/wallet"
)

// Client is a participant that holds a wallet, listens for confirmed
// payments, and can post new transactions. Miner embeds Client and adds
// the consensus loop.
type Client struct {
	Name      string
	SessionID uuid.UUID
	Wallet    *wallet.Wallet
	Bus       *bus.Bus
	Log       zerolog.Logger

	mu sync.Mutex
}

// NewClient builds a Client, wires its wallet, and subscribes it to the
// bus events a plain client cares about (spec §4.5).
func NewClient(name string, b *bus.Bus, logger zerolog.Logger) *Client {
	c := &Client{
		Name:      name,
		SessionID: uuid.New(),
		Wallet:    wallet.New(),
		Bus:       b,
		Log:       logger.With().Str("participant", name).Logger(),
	}
	c.Bus.On(c.Name, bus.EventProofFound, c.onProofFound)
	c.Bus.On(c.Name, bus.EventPostTransaction, c.onPostTransaction)
	return c
}

// onProofFound absorbs any outputs in a newly announced block that this
// client's wallet can spend, both the block's coinbase and every
// ordinary transaction it carries.
func (c *Client) onProofFound(payload any) {
	msg, ok := payload.(ProofFoundPayload)
	if !ok {
		return
	}
	blk, err := chain.DeserializeBlock(msg.Block)
	if err != nil {
		c.Log.Debug().Err(err).Msg("dropping unparsable announced block")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.MinerName != c.Name {
		// Miner.announce already credited its own coinbase directly,
		// outside the bus, before broadcasting. Crediting it again here
		// would double-count that UTXO in the wallet's coin queue; the
		// block's ordinary transactions (e.g. a self-paid coinage tx)
		// were never credited anywhere else, so those still apply below.
		c.receiveOutputLocked(blk.CoinbaseTX)
	}
	for _, tx := range blk.Transactions {
		c.receiveOutputLocked(tx)
	}
}

// onPostTransaction is the base Client's reaction to a newly broadcast
// transaction. A plain (non-mining) client has no ledger to admit it
// into; this exists for wire-level symmetry with the spec's subscription
// list and is a no-op beyond a debug log.
func (c *Client) onPostTransaction(payload any) {
	tx, ok := payload.(*chain.Transaction)
	if !ok {
		return
	}
	c.Log.Debug().Str("tx", txIDHex(tx.ID)).Msg("observed posted transaction")
}

// receiveOutputLocked credits every output of tx addressed to this
// client's wallet. Caller must hold c.mu.
func (c *Client) receiveOutputLocked(tx *chain.Transaction) {
	for i, out := range tx.Outputs {
		if !c.Wallet.HasKey(out.Address) {
			continue
		}
		if err := c.Wallet.AddUTXO(out, tx.ID, i); err != nil {
			c.Log.Error().Err(err).Msg("failed to credit owned output")
		}
	}
}

// ReceiveOutput is the public form of receiveOutputLocked, used by
// network setup (genesis crediting). Miner.announce, which already holds
// the lock, credits its own coinbase through receiveOutputLocked.
func (c *Client) ReceiveOutput(tx *chain.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiveOutputLocked(tx)
}

// PostTransaction spends enough of the wallet's balance to cover
// outputs, attaches change to a freshly minted address if any is left
// over, and broadcasts the resulting transaction.
func (c *Client) PostTransaction(outputs []chain.Output) (*chain.Transaction, error) {
	var total uint64
	for _, o := range outputs {
		total += o.Amount
	}

	c.mu.Lock()
	spend, err := c.Wallet.SpendUTXOs(total)
	if err != nil {
		c.mu.Unlock()
		return nil, errors.Wrap(err, "post transaction")
	}

	finalOutputs := append([]chain.Output{}, outputs...)
	if spend.ChangeAmount > 0 {
		changeAddr, err := c.Wallet.MakeAddress()
		if err != nil {
			c.mu.Unlock()
			return nil, errors.Wrap(err, "mint change address")
		}
		finalOutputs = append(finalOutputs, chain.Output{Amount: spend.ChangeAmount, Address: changeAddr})
	}
	c.mu.Unlock()

	tx := chain.NewTransaction(spend.Inputs, finalOutputs)
	c.Bus.Broadcast(bus.EventPostTransaction, tx)
	return tx, nil
}

// Balance is a convenience wrapper, guarded the same way every other
// wallet access is.
func (c *Client) Balance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Wallet.Balance()
}

func txIDHex(id chain.TxID) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 0; i < 4; i++ {
		buf[i*2] = hextable[id[i]>>4]
		buf[i*2+1] = hextable[id[i]&0xf]
	}
	return string(buf)
}
