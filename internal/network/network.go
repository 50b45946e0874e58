// Package network wires a MessageBus, a set of Clients/Miners, and the
// genesis block together, the glue the distilled spec treats as "a user
// calls postTransaction on a Client" without describing how the network
// itself is assembled (spec §2 Data flow).
package network

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/ypatiosch/coind/internal/bus"
	"github.com/ypatiosch/coind/internal/chain"
	"github.com/ypatiosch/coind/internal/node"
)

// Alloc is one entry of a genesis balance allocation, keyed by a
// human-readable participant name rather than an address, the network
// resolves the name to whatever address that participant's wallet mints
// for the purpose.
type Alloc struct {
	Name   string
	Amount uint64
	Miner  bool
}

// Network is an in-process collection of participants sharing one Bus.
type Network struct {
	Bus     *bus.Bus
	Clients map[string]*node.Client
	Miners  map[string]*node.Miner
	Genesis *chain.Block
}

// New builds every participant named in allocs, mints one fresh address
// per participant to receive its genesis allocation, builds the genesis
// block, and credits each participant's wallet from it. Miners are
// constructed but not started, call Start to launch their consensus
// loops.
func New(allocs []Alloc, cfg node.Config, logger zerolog.Logger, now func() int64) (*Network, error) {
	n := &Network{
		Bus:     bus.New(),
		Clients: make(map[string]*node.Client),
		Miners:  make(map[string]*node.Miner),
	}

	var chainAllocs []chain.GenesisAlloc
	receivers := make(map[string]*node.Client, len(allocs))

	for _, a := range allocs {
		var c *node.Client
		if a.Miner {
			m := node.NewMiner(a.Name, n.Bus, logger, cfg)
			n.Miners[a.Name] = m
			c = m.Client
		} else {
			c = node.NewClient(a.Name, n.Bus, logger)
		}
		n.Clients[a.Name] = c
		receivers[a.Name] = c

		addr, err := c.Wallet.MakeAddress()
		if err != nil {
			return nil, errors.Wrapf(err, "mint genesis address for %s", a.Name)
		}
		chainAllocs = append(chainAllocs, chain.GenesisAlloc{Address: addr, Amount: a.Amount})
	}

	n.Genesis = chain.MakeGenesisBlock(now(), chainAllocs)
	for i, tx := range n.Genesis.Transactions {
		receivers[allocs[i].Name].ReceiveOutput(tx)
	}

	for _, m := range n.Miners {
		m.Initialize(n.Genesis)
	}

	return n, nil
}

// Start launches every miner's consensus loop in its own goroutine,
// bounded by ctx.
func (n *Network) Start(ctx context.Context) {
	for _, m := range n.Miners {
		go m.Run(ctx)
	}
}

// Stop cancels every miner's loop.
func (n *Network) Stop() {
	for _, m := range n.Miners {
		m.Stop()
	}
}

// LongestChain returns the chain length of the furthest-along miner.
// Useful for tests/CLI output since there is no single shared
// "canonical" block store, only each miner's own currentBlock.
func (n *Network) LongestChain() uint64 {
	var best uint64
	for _, m := range n.Miners {
		if l := m.CurrentChainLength(); l > best {
			best = l
		}
	}
	return best
}

// DefaultClock is the wall-clock collaborator the spec treats as an
// external, black-box source of "now" in milliseconds.
func DefaultClock() int64 {
	return time.Now().UnixMilli()
}
