package node

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ypatiosch/coind/internal/bus"
	"github.com/ypatiosch/coind/internal/chain"
	"github.com/ypatiosch/coind/internal/crypto"
)

// Config carries the per-network constants the spec requires be injected
// at construction rather than baked in at compile time (§9 DESIGN NOTES).
type Config struct {
	// NumRoundsMining bounds how many proof attempts a single Searching
	// quantum makes before yielding.
	NumRoundsMining int
	// TimeUntilEligibilityDecrease is how long an ineligible miner waits
	// before rechecking with a lowered target.
	TimeUntilEligibilityDecrease time.Duration
	// BaseTarget is the eligibility bar reset at the start of every new
	// block (spec: base target 2, ~1/4 of miners eligible at any block).
	BaseTarget int
	// CoinageAmount is the size of the self-paid "coinage" transaction a
	// miner posts at the start of every new block, the act that makes it
	// visible as a stakeholder.
	CoinageAmount uint64
}

// DefaultConfig returns reasonable defaults for a small in-process
// network.
func DefaultConfig() Config {
	return Config{
		NumRoundsMining:              4000,
		TimeUntilEligibilityDecrease: 2 * time.Second,
		BaseTarget:                   2,
		CoinageAmount:                1,
	}
}

// ProofFoundPayload is the wire-level payload of a PROOF_FOUND broadcast:
// the serialized block, the announcing miner's name, and the public key
// needed to re-check its eligibility (the spec's Open Question requires
// remote blocks to always carry miner identity; EligibilityPubKey is how
// that identity is made independently verifiable).
type ProofFoundPayload struct {
	Block             []byte
	MinerName         string
	EligibilityPubKey []byte
}

type minerState int

const (
	statePreparing minerState = iota
	stateAwaitingEligibility
	stateSearching
	stateAnnouncing
)

// Miner extends Client with the consensus loop: eligibility check, proof
// search, and fork resolution.
type Miner struct {
	*Client

	cfg Config

	currentBlock        *chain.Block
	previousBlocks      map[chain.BlockHash]*chain.Block
	rewardAddress       crypto.Address
	target              int
	shouldMine          bool
	shouldStartNewBlock bool
	reuseRewardAddress  bool

	clock  func() int64
	cancel context.CancelFunc
}

// NewMiner builds a Miner and subscribes its consensus handlers.
func NewMiner(name string, b *bus.Bus, logger zerolog.Logger, cfg Config) *Miner {
	m := &Miner{
		Client:         NewClient(name, b, logger),
		cfg:            cfg,
		previousBlocks: make(map[chain.BlockHash]*chain.Block),
		clock:          func() int64 { return time.Now().UnixMilli() },
	}
	m.Bus.On(m.Name, bus.EventProofFound, m.receiveBlock)
	m.Bus.On(m.Name, bus.EventPostTransaction, m.admitTransaction)
	return m
}

// Initialize sets the miner's starting point and marks it ready to begin
// preparing its first block. Run must be called separately to actually
// drive the consensus loop.
func (m *Miner) Initialize(startingBlock *chain.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentBlock = startingBlock
	m.shouldStartNewBlock = true
	m.target = m.cfg.BaseTarget
}

// Run drives the Idle→Preparing→Searching→Announcing→Preparing loop on
// the calling goroutine until ctx is cancelled or Stop is called.
func (m *Miner) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	state := statePreparing
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch state {
		case statePreparing:
			eligible, coinage := m.prepare()
			if coinage != nil {
				if _, err := m.PostTransaction(coinage); err != nil {
					m.Log.Debug().Err(err).Msg("skipped coinage transaction")
				}
			}
			if eligible {
				state = stateSearching
			} else {
				state = stateAwaitingEligibility
			}
		case stateAwaitingEligibility:
			m.backoff(ctx)
			state = statePreparing
		case stateSearching:
			found, stillMining := m.searchQuantum()
			switch {
			case found:
				state = stateAnnouncing
			case stillMining:
				state = stateSearching
			default:
				state = statePreparing
			}
		case stateAnnouncing:
			m.announce()
			state = statePreparing
		}
	}
}

// CurrentChainLength reports the chain length of the block this miner is
// currently building on or extending.
func (m *Miner) CurrentChainLength() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentBlock == nil {
		return 0
	}
	return m.currentBlock.ChainLength
}

// PendingTransactionCount reports how many non-coinbase transactions the
// block currently being assembled has admitted so far.
func (m *Miner) PendingTransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentBlock == nil {
		return 0
	}
	return len(m.currentBlock.Transactions)
}

// Stop cancels the miner's Run loop.
func (m *Miner) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// prepare is the Preparing state's startNewSearch: it (re)seals the
// eligibility proof, optionally starts a new block on top of
// currentBlock, and checks eligibility against the (possibly just
// reset) target. It returns whether the miner may proceed to Searching
// and, if a new block was started, the coinage outputs the caller
// should post outside the lock (PostTransaction broadcasts, which would
// deadlock if called while holding m.mu).
func (m *Miner) prepare() (eligible bool, coinageOutputs []chain.Output) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Wallet.SaveEligibilityProof()

	if m.shouldStartNewBlock {
		m.target = m.cfg.BaseTarget

		if !m.reuseRewardAddress {
			addr, err := m.Wallet.MakeAddress()
			if err != nil {
				m.Log.Error().Err(err).Msg("failed to mint reward address")
			} else {
				m.rewardAddress = addr
			}
		}
		m.reuseRewardAddress = false

		newBlock := chain.NewBlock(m.rewardAddress, m.currentBlock, m.clock())
		if m.currentBlock != nil {
			m.previousBlocks[newBlock.PrevBlockHash] = m.currentBlock
		}
		m.currentBlock = newBlock
		m.shouldStartNewBlock = false

		if coinageAddr, err := m.Wallet.MakeAddress(); err == nil {
			coinageOutputs = []chain.Output{{Amount: m.cfg.CoinageAmount, Address: coinageAddr}}
		}
	}

	eligPub, ok := m.Wallet.GetEligibilityAddress()
	if ok {
		matched, err := isEligibleToMint(eligPub, m.currentBlock.PrevBlockHash, m.target)
		if err != nil {
			m.Log.Error().Err(err).Msg("eligibility check failed")
		} else {
			eligible = matched
		}
	}
	m.shouldMine = eligible
	return eligible, coinageOutputs
}

// backoff implements the AwaitingEligibility suspension point: decrement
// the local target, then wait out the configured interval (or ctx
// cancellation) before the next Preparing attempt.
func (m *Miner) backoff(ctx context.Context) {
	m.mu.Lock()
	if m.target > 0 {
		m.target--
	}
	wait := m.cfg.TimeUntilEligibilityDecrease
	m.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

// searchQuantum runs up to NumRoundsMining proof attempts, holding the
// lock for the whole quantum (the spec's "no parallelism inside a
// miner"). It unlocks between quanta, one of the loop's two suspension
// points (backoff is the other) and a place a concurrent
// receiveBlock/admitTransaction call may interleave.
func (m *Miner) searchQuantum() (found, stillMining bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldMine {
		return false, false
	}

	for i := 0; i < m.cfg.NumRoundsMining && m.shouldMine; i++ {
		if m.currentBlock.VerifyProof() {
			return true, m.shouldMine
		}
		m.currentBlock.Proof++
	}
	return false, m.shouldMine
}

// announce seals the winning block, credits the miner's own coinbase
// directly (not via the bus, the spec's announce step), and broadcasts
// PROOF_FOUND.
func (m *Miner) announce() {
	m.mu.Lock()
	sealed := m.currentBlock
	m.receiveOutputLocked(sealed.CoinbaseTX)
	eligPub, _ := m.Wallet.GetEligibilityAddress()
	name := m.Name
	m.shouldMine = false
	m.shouldStartNewBlock = true
	serialized, err := sealed.Serialize(true)
	m.mu.Unlock()

	if err != nil {
		m.Log.Error().Err(err).Msg("failed to serialize announced block")
		return
	}

	m.Bus.Broadcast(bus.EventProofFound, ProofFoundPayload{
		Block:             serialized,
		MinerName:         name,
		EligibilityPubKey: eligPub,
	})
}

// admitTransaction is the POST_TRANSACTION handler: admit tx into the
// block currently being assembled, or silently reject it (spec §7:
// InvalidTransaction is never surfaced to the broadcaster).
func (m *Miner) admitTransaction(payload any) {
	tx, ok := payload.(*chain.Transaction)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentBlock == nil {
		return
	}
	if !m.currentBlock.WillAcceptTransaction(tx) {
		m.Log.Debug().Str("tx", txIDHex(tx.ID)).Msg("rejected transaction")
		return
	}
	if err := m.currentBlock.AddTransaction(tx); err != nil {
		m.Log.Debug().Err(err).Msg("rejected transaction")
	}
}

// receiveBlock is the Miner's own PROOF_FOUND reaction, independent of
// the base Client's payment-absorption handler: validate the announced
// block's proof, (for remote blocks) its eligibility, and every
// transaction it carries, then cut over to it if it is at least as long
// as the current chain.
func (m *Miner) receiveBlock(payload any) {
	msg, ok := payload.(ProofFoundPayload)
	if !ok {
		return
	}
	blk, err := chain.DeserializeBlock(msg.Block)
	if err != nil {
		m.Log.Debug().Err(err).Msg("dropping unparsable announced block")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !blk.VerifyProof() {
		m.Log.Debug().Msg("rejecting block: invalid proof")
		return
	}

	isSelf := msg.MinerName == m.Name
	if !isSelf {
		if len(msg.EligibilityPubKey) == 0 {
			m.Log.Debug().Msg("rejecting remote block: missing miner identity")
			return
		}
		elapsedMs := m.clock() - blk.Timestamp
		if elapsedMs < 0 {
			elapsedMs = 0
		}
		decreaseMs := m.cfg.TimeUntilEligibilityDecrease.Milliseconds()
		target := m.cfg.BaseTarget
		if decreaseMs > 0 {
			target -= int(elapsedMs / decreaseMs)
		}
		if target < 0 {
			target = 0
		}
		eligible, err := isEligibleToMint(msg.EligibilityPubKey, blk.PrevBlockHash, target)
		if err != nil {
			m.Log.Error().Err(err).Msg("eligibility recheck failed")
			return
		}
		if !eligible {
			m.Log.Debug().Msg("rejecting block: sender not eligible")
			return
		}
	}

	parent, ok := m.resolveParentLocked(blk)
	if !ok {
		m.Log.Debug().Msg("rejecting block: unknown parent")
		return
	}
	if !chain.ReplayValidate(parent.UTXOs, blk.CoinbaseTX, blk.Transactions) {
		m.Log.Debug().Msg("rejecting block: transaction replay failed")
		return
	}

	if _, known := m.previousBlocks[blk.HashVal()]; !known {
		m.previousBlocks[blk.HashVal()] = blk
	}

	if isSelf {
		return
	}
	if m.currentBlock != nil && blk.ChainLength >= m.currentBlock.ChainLength {
		m.previousBlocks[blk.PrevBlockHash] = m.currentBlock
		m.currentBlock = blk
		m.shouldStartNewBlock = true
		m.reuseRewardAddress = true
		m.shouldMine = false
	}
}

// resolveParentLocked finds the block blk extends, used to reconstruct
// the ancestor UTXO view for ReplayValidate. Caller must hold m.mu.
func (m *Miner) resolveParentLocked(blk *chain.Block) (*chain.Block, bool) {
	if blk.ChainLength == 0 {
		return &chain.Block{UTXOs: make(chain.UTXOView)}, true
	}
	if m.currentBlock != nil && m.currentBlock.HashVal() == blk.PrevBlockHash {
		return m.currentBlock, true
	}
	if p, ok := m.previousBlocks[blk.PrevBlockHash]; ok {
		return p, true
	}
	return nil, false
}

// isEligibleToMint implements the spec's mint-eligibility predicate:
// matchingPrefixBits(bin16(block.prevBlockHash), bin16(minerEligibilityPubKey)) >= target.
func isEligibleToMint(eligibilityPubKey []byte, prevBlockHash chain.BlockHash, target int) (bool, error) {
	matching, err := crypto.MatchingPrefixBits(prevBlockHash[:], eligibilityPubKey)
	if err != nil {
		return false, err
	}
	return matching >= target, nil
}
