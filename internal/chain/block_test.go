package chain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ypatiosch/coind/internal/chain"
	"github.com/ypatiosch/coind/internal/crypto"
)

func mineBlock(t *testing.T, b *chain.Block) {
	t.Helper()
	for i := 0; i < 200000; i++ {
		if b.VerifyProof() {
			return
		}
		b.Proof++
	}
	t.Fatalf("did not find a valid proof within budget")
}

func TestGenesisBlockCreditsAllocs(t *testing.T) {
	k1 := mustKeypair(t)
	k2 := mustKeypair(t)
	addrA := crypto.CalcAddress(k1.Public)
	addrB := crypto.CalcAddress(k2.Public)

	genesis := chain.MakeGenesisBlock(0, []chain.GenesisAlloc{
		{Address: addrA, Amount: 150},
		{Address: addrB, Amount: 90},
	})

	require.Len(t, genesis.Transactions, 2)
	assert.Equal(t, uint64(150), genesis.Transactions[0].Outputs[0].Amount)
	assert.Equal(t, uint64(90), genesis.Transactions[1].Outputs[0].Amount)

	outs, ok := genesis.UTXOs[genesis.Transactions[0].ID]
	require.True(t, ok)
	assert.Equal(t, addrA, outs[0].Address)
}

// P3: no double spend within a block.
func TestAddTransactionRejectsDoubleSpend(t *testing.T) {
	k1 := mustKeypair(t)
	addrA := crypto.CalcAddress(k1.Public)
	kMiner := mustKeypair(t)
	rewardAddr := crypto.CalcAddress(kMiner.Public)

	genesis := chain.MakeGenesisBlock(0, []chain.GenesisAlloc{{Address: addrA, Amount: 100}})
	blk := chain.NewBlock(rewardAddr, genesis, 1)

	fundingTx := genesis.Transactions[0]
	input := signedInput(t, k1, fundingTx.Outputs[0], fundingTx.ID, 0)

	kB := mustKeypair(t)
	addrB := crypto.CalcAddress(kB.Public)
	spend := chain.NewTransaction([]chain.Input{input}, []chain.Output{{Amount: 40, Address: addrB}})

	require.True(t, blk.WillAcceptTransaction(spend))
	require.NoError(t, blk.AddTransaction(spend))

	// Replaying the exact same input again must fail: first spend already
	// cleared the slot from the view.
	replay := chain.NewTransaction([]chain.Input{input}, []chain.Output{{Amount: 40, Address: addrB}})
	assert.False(t, blk.WillAcceptTransaction(replay))
}

func TestAddTransactionCreditsFeeToCoinbase(t *testing.T) {
	k1 := mustKeypair(t)
	addrA := crypto.CalcAddress(k1.Public)
	kMiner := mustKeypair(t)
	rewardAddr := crypto.CalcAddress(kMiner.Public)

	genesis := chain.MakeGenesisBlock(0, []chain.GenesisAlloc{{Address: addrA, Amount: 100}})
	blk := chain.NewBlock(rewardAddr, genesis, 1)

	fundingTx := genesis.Transactions[0]
	input := signedInput(t, k1, fundingTx.Outputs[0], fundingTx.ID, 0)

	kB := mustKeypair(t)
	addrB := crypto.CalcAddress(kB.Public)
	spend := chain.NewTransaction([]chain.Input{input}, []chain.Output{{Amount: 90, Address: addrB}})

	require.NoError(t, blk.AddTransaction(spend))
	assert.Equal(t, chain.BaseReward+10, blk.CoinbaseTX.Outputs[0].Amount)
}

// P6: VerifyProof/HashVal agree before and after serialization round-trip.
func TestHashAndProofSurviveSerialization(t *testing.T) {
	kMiner := mustKeypair(t)
	rewardAddr := crypto.CalcAddress(kMiner.Public)
	blk := chain.NewBlock(rewardAddr, nil, 0)
	mineBlock(t, blk)

	hashBefore := blk.HashVal()
	data, err := blk.Serialize(true)
	require.NoError(t, err)

	restored, err := chain.DeserializeBlock(data)
	require.NoError(t, err)

	assert.Equal(t, hashBefore, restored.HashVal())
	assert.True(t, restored.VerifyProof())
}

// P6, with a spent slot present: a block that has admitted a
// non-coinbase transaction carries a nil entry in its UTXOView (the
// spent input). Serialize/deserialize must round-trip that just as
// cleanly as a transaction-free block.
func TestBlockWithSpentUTXORoundTripsSerialization(t *testing.T) {
	k1 := mustKeypair(t)
	addrA := crypto.CalcAddress(k1.Public)
	kMiner := mustKeypair(t)
	rewardAddr := crypto.CalcAddress(kMiner.Public)

	genesis := chain.MakeGenesisBlock(0, []chain.GenesisAlloc{{Address: addrA, Amount: 100}})
	blk := chain.NewBlock(rewardAddr, genesis, 1)

	fundingTx := genesis.Transactions[0]
	input := signedInput(t, k1, fundingTx.Outputs[0], fundingTx.ID, 0)
	kB := mustKeypair(t)
	addrB := crypto.CalcAddress(kB.Public)
	spend := chain.NewTransaction([]chain.Input{input}, []chain.Output{{Amount: 90, Address: addrB}})
	require.NoError(t, blk.AddTransaction(spend))
	mineBlock(t, blk)

	data, err := blk.Serialize(true)
	require.NoError(t, err)

	restored, err := chain.DeserializeBlock(data)
	require.NoError(t, err)

	require.Len(t, restored.Transactions, 1)
	restoredOuts, ok := restored.UTXOs[fundingTx.ID]
	require.True(t, ok)
	assert.Nil(t, restoredOuts[0])
	spendOuts, ok := restored.UTXOs[spend.ID]
	require.True(t, ok)
	require.NotNil(t, spendOuts[0])
	assert.Equal(t, addrB, spendOuts[0].Address)
	assert.Equal(t, chain.BaseReward+10, restored.CoinbaseTX.Outputs[0].Amount)
}

func TestReplayValidateAcceptsWellFormedChain(t *testing.T) {
	k1 := mustKeypair(t)
	addrA := crypto.CalcAddress(k1.Public)
	kMiner := mustKeypair(t)
	rewardAddr := crypto.CalcAddress(kMiner.Public)

	genesis := chain.MakeGenesisBlock(0, []chain.GenesisAlloc{{Address: addrA, Amount: 100}})
	blk := chain.NewBlock(rewardAddr, genesis, 1)

	fundingTx := genesis.Transactions[0]
	input := signedInput(t, k1, fundingTx.Outputs[0], fundingTx.ID, 0)
	kB := mustKeypair(t)
	addrB := crypto.CalcAddress(kB.Public)
	spend := chain.NewTransaction([]chain.Input{input}, []chain.Output{{Amount: 90, Address: addrB}})
	require.NoError(t, blk.AddTransaction(spend))

	ok := chain.ReplayValidate(genesis.UTXOs, blk.CoinbaseTX, blk.Transactions)
	assert.True(t, ok)
}

func TestReplayValidateRejectsTamperedReward(t *testing.T) {
	k1 := mustKeypair(t)
	addrA := crypto.CalcAddress(k1.Public)
	kMiner := mustKeypair(t)
	rewardAddr := crypto.CalcAddress(kMiner.Public)

	genesis := chain.MakeGenesisBlock(0, []chain.GenesisAlloc{{Address: addrA, Amount: 100}})
	blk := chain.NewBlock(rewardAddr, genesis, 1)

	// Tamper with the coinbase reward without a matching fee.
	blk.CoinbaseTX.Outputs[0].Amount += 1000

	ok := chain.ReplayValidate(genesis.UTXOs, blk.CoinbaseTX, blk.Transactions)
	assert.False(t, ok)
}
