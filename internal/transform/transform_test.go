package transform

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shark-indexer/indexer/internal/node"
)

func noopLookup(string) (uint64, bool) { return 0, false }

func coinbaseTx(id string, reward uint64, minerAddr string) node.TransactionJSON {
	return node.TransactionJSON{
		ID:     id,
		Size:   100,
		Inputs: []node.InputJSON{{BoxID: "coinbase-input"}},
		Outputs: []node.OutputJSON{
			{BoxID: id + "-out0", Value: reward, Address: minerAddr, ErgoTree: "0008cd"},
		},
	}
}

func genesisBlock() *node.RawBlock {
	return &node.RawBlock{
		Header: node.Header{
			ID: "block-1", Timestamp: 1600000000000, Difficulty: "123456", Version: 1,
			PowSolutions: map[string]interface{}{"pk": "abc"},
		},
		BlockTransactions: node.BlockTransactions{
			HeaderID:     "block-1",
			Transactions: []node.TransactionJSON{coinbaseTx("tx-1", 6700000000, "minerAddr1")},
		},
		Size:   500,
		Height: 1,
	}
}

// A single block at height 1 with only a coinbase transaction: the
// simplest possible happy path.
func TestTransform_SingleCoinbaseBlock(t *testing.T) {
	raw := genesisBlock()
	result, err := Transform(raw, noopLookup)
	require.NoError(t, err)

	assert.Equal(t, "block-1", result.Block.ID)
	assert.Nil(t, result.Block.ParentID)
	assert.Equal(t, 1, result.Block.TxsCount)
	assert.Equal(t, uint64(6700000000), result.Block.BlockCoins)

	require.Len(t, result.Transactions, 1)
	require.NotNil(t, result.Transactions[0].Fee)
	assert.Equal(t, uint64(0), *result.Transactions[0].Fee)

	require.NotNil(t, result.MiningReward)
	assert.Equal(t, uint64(6700000000), result.MiningReward.RewardAmount)
	assert.Equal(t, "minerAddr1", result.MiningReward.MinerAddress)
	assert.Equal(t, uint64(0), result.MiningReward.FeesAmount)
}

// Height > 1 with no parentId is a malformed block.
func TestTransform_MissingParentID(t *testing.T) {
	raw := genesisBlock()
	raw.Height = 2
	raw.Header.ParentID = ""

	_, err := Transform(raw, noopLookup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedBlock))
}

// Fee computation: a regular transaction spending a known prior output
// pays the difference between input and output sums as its fee.
func TestTransform_FeeComputation(t *testing.T) {
	raw := &node.RawBlock{
		Header:   node.Header{ID: "block-2", ParentID: "block-1", Timestamp: 1600000010000, Difficulty: "123456", Version: 1},
		Height:   2,
		BlockTransactions: node.BlockTransactions{
			HeaderID: "block-2",
			Transactions: []node.TransactionJSON{
				coinbaseTx("tx-coinbase", 800, "minerAddr2"),
				{
					ID:   "tx-spend",
					Size: 200,
					Inputs: []node.InputJSON{
						{BoxID: "known-box"},
					},
					Outputs: []node.OutputJSON{
						{BoxID: "new-box-1", Value: 900, Address: "addrA", ErgoTree: "0008cd01"},
					},
				},
			},
		},
	}

	lookup := func(boxID string) (uint64, bool) {
		if boxID == "known-box" {
			return 1000, true
		}
		return 0, false
	}

	result, err := Transform(raw, lookup)
	require.NoError(t, err)

	require.Len(t, result.Transactions, 2)
	spendTx := result.Transactions[1]
	require.NotNil(t, spendTx.Fee)
	assert.Equal(t, uint64(100), *spendTx.Fee) // 1000 in - 900 out

	require.NotNil(t, result.MiningReward)
	assert.Equal(t, uint64(100), result.MiningReward.FeesAmount)
}

// A transaction spending an output produced earlier in the very same
// block resolves its input value from the in-block map, without ever
// calling back into the injected lookup for that box.
func TestTransform_SameBlockSpend(t *testing.T) {
	calledWith := map[string]bool{}
	lookup := func(boxID string) (uint64, bool) {
		calledWith[boxID] = true
		return 0, false
	}

	raw := &node.RawBlock{
		Header: node.Header{ID: "block-3", ParentID: "block-2", Timestamp: 1600000020000, Difficulty: "123456", Version: 1},
		Height: 3,
		BlockTransactions: node.BlockTransactions{
			HeaderID: "block-3",
			Transactions: []node.TransactionJSON{
				coinbaseTx("tx-coinbase", 6700000000, "miner"),
				{
					ID:      "tx-a",
					Size:    100,
					Inputs:  []node.InputJSON{{BoxID: "ext-box"}},
					Outputs: []node.OutputJSON{{BoxID: "box-from-tx-a", Value: 500, Address: "addrB", ErgoTree: "x"}},
				},
				{
					ID:      "tx-b",
					Size:    100,
					Inputs:  []node.InputJSON{{BoxID: "box-from-tx-a"}},
					Outputs: []node.OutputJSON{{BoxID: "box-from-tx-b", Value: 450, Address: "addrC", ErgoTree: "y"}},
				},
			},
		},
	}

	result, err := Transform(raw, lookup)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 3)

	// tx-b's input resolves to tx-a's output value (500), never hitting lookup.
	assert.False(t, calledWith["box-from-tx-a"])
	require.NotNil(t, result.Transactions[2].Fee)
	assert.Equal(t, uint64(50), *result.Transactions[2].Fee) // 500 - 450

	// The output spent by tx-b should carry spent_by_tx_id = tx-b.
	var found bool
	for _, out := range result.Outputs {
		if out.BoxID == "box-from-tx-a" {
			found = true
			require.NotNil(t, out.SpentByTxID)
			assert.Equal(t, "tx-b", *out.SpentByTxID)
		}
	}
	assert.True(t, found)
}

// Coinbase inputs are formal placeholders: persisted as input rows but
// never looked up and never treated as spending a real box.
func TestTransform_CoinbaseInputNeverLooksUp(t *testing.T) {
	called := false
	lookup := func(string) (uint64, bool) {
		called = true
		return 0, false
	}
	raw := genesisBlock()
	_, err := Transform(raw, lookup)
	require.NoError(t, err)
	assert.False(t, called)
}

// A nil block and missing required fields are rejected before any
// per-transaction work happens.
func TestTransform_Validation(t *testing.T) {
	_, err := Transform(nil, noopLookup)
	require.Error(t, err)

	raw := genesisBlock()
	raw.Header.ID = ""
	_, err = Transform(raw, noopLookup)
	require.Error(t, err)

	raw = genesisBlock()
	raw.BlockTransactions.Transactions[0].ID = ""
	_, err = Transform(raw, noopLookup)
	require.Error(t, err)

	raw = genesisBlock()
	raw.Header.Version = 0
	_, err = Transform(raw, noopLookup)
	require.Error(t, err)
}

func TestClassifyAddress(t *testing.T) {
	shortTree := "0008cd0279"
	addrType, complexity := ClassifyAddress(shortTree)
	assert.Equal(t, "p2pk", addrType)
	assert.GreaterOrEqual(t, complexity, 0)

	longTokenTree := make([]byte, 1200)
	for i := range longTokenTree {
		longTokenTree[i] = 'a'
	}
	tokenTree := string(longTokenTree) + "TOKEN"
	addrType, _ = ClassifyAddress(tokenTree)
	assert.Equal(t, "token_contract", addrType)

	longTree := string(longTokenTree)
	addrType, _ = ClassifyAddress(longTree)
	assert.Equal(t, "smart_contract", addrType)
}
