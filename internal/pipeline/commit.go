package pipeline

import (
	"sort"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/store"
	"github.com/shark-indexer/indexer/internal/syncstatus"
	"github.com/shark-indexer/indexer/internal/transform"
)

// pendingSpend records a spend whose creating output lives outside the
// set of blocks being committed together (i.e. already durable from an
// earlier run), so it needs a targeted UPDATE after the bulk inserts.
type pendingSpend struct {
	boxID        string
	spendingTxID string
}

// commitBlocks inserts every row for blocks (which must already be
// sorted ascending by height and contiguous with the durable cursor)
// within tx, per-entity in dependency order: all Blocks, then all
// Transactions, then Inputs, Outputs, Assets, MiningRewards,
// AddressStats. It advances the sync cursor to the highest height in
// blocks as the final write, inside the same transaction the caller will
// commit. Used identically by the sequential path (len(blocks) == 1) and
// the mini-batch flush (len(blocks) > 1) — one shared transform/insert
// path serves both.
func commitBlocks(tx *gorm.DB, blocks []*node.RawBlock, bulkInsert bool) error {
	if len(blocks) == 0 {
		return nil
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height < blocks[j].Height })

	// outputsInRun maps box_id to the in-memory Output row for any output
	// produced by a block in this commit, so later blocks in the same
	// commit resolve fee lookups and spend-marking without a DB round
	// trip, and so a spend crossing block boundaries within this commit
	// mutates the same struct that is about to be serialized.
	outputsInRun := make(map[string]*store.Output)
	var pendingSpends []pendingSpend

	results := make([]*transform.Result, 0, len(blocks))
	for _, raw := range blocks {
		lookup := func(boxID string) (uint64, bool) {
			if out, ok := outputsInRun[boxID]; ok {
				return out.Value, true
			}
			return store.GetOutputValue(tx, boxID)
		}
		res, err := transform.Transform(raw, lookup)
		if err != nil {
			return err
		}
		for _, out := range res.Outputs {
			outputsInRun[out.BoxID] = out
		}
		for _, in := range res.Inputs {
			if out, ok := outputsInRun[in.BoxID]; ok {
				// resolved in-memory (same or earlier block in this run):
				// mark the spend on the row that is about to be inserted.
				spender := in.TxID
				out.SpentByTxID = &spender
				continue
			}
			if _, ok := store.GetOutputValue(tx, in.BoxID); ok {
				pendingSpends = append(pendingSpends, pendingSpend{boxID: in.BoxID, spendingTxID: in.TxID})
			}
			// else: coinbase placeholder or genuinely unknown box; no spend to mark.
		}
		results = append(results, res)
	}

	if err := insertAllEntities(tx, results, bulkInsert); err != nil {
		return err
	}

	for _, ps := range pendingSpends {
		if err := store.MarkSpent(tx, ps.boxID, ps.spendingTxID); err != nil {
			return err
		}
	}

	last := blocks[len(blocks)-1]
	blockTime := time.Unix(0, int64(last.Header.Timestamp)*int64(time.Millisecond))
	return syncstatus.Advance(tx, last.Height, blockTime)
}

var blockColumns = []string{
	"id", "header_id", "parent_id", "height", "timestamp", "difficulty",
	"block_size", "block_coins", "txs_count", "txs_size", "miner_address",
	"main_chain", "version", "transactions_root", "state_root", "pow_solutions",
}

var txColumns = []string{
	"id", "block_id", "header_id", "inclusion_height", "timestamp",
	"tx_index", "main_chain", "size", "fee",
}

var inputColumns = []string{"box_id", "tx_id", "index_in_tx", "proof_bytes", "extension"}

var outputColumns = []string{
	"box_id", "tx_id", "index_in_tx", "value", "creation_height",
	"address", "ergo_tree", "additional_registers", "spent_by_tx_id",
}

var assetColumns = []string{"box_id", "index_in_outputs", "token_id", "amount", "name", "decimals"}

var rewardColumns = []string{"block_id", "reward_amount", "fees_amount", "miner_address"}

func insertAllEntities(tx *gorm.DB, results []*transform.Result, bulkInsert bool) error {
	var blockRows, txRows, inputRows, outputRows, assetRows, rewardRows []store.Row
	addressTotals := map[string]*store.AddressStats{}

	for _, res := range results {
		minerAddr := ""
		if res.MiningReward != nil {
			minerAddr = res.MiningReward.MinerAddress
		}
		blockRows = append(blockRows, store.Row{
			"id": res.Block.ID, "header_id": res.Block.HeaderID, "parent_id": res.Block.ParentID,
			"height": res.Block.Height, "timestamp": res.Block.Timestamp, "difficulty": res.Block.Difficulty,
			"block_size": res.Block.BlockSize, "block_coins": res.Block.BlockCoins, "txs_count": res.Block.TxsCount,
			"txs_size": res.Block.TxsSize, "miner_address": minerAddr, "main_chain": res.Block.MainChain,
			"version": res.Block.Version, "transactions_root": res.Block.TransactionsRoot,
			"state_root": res.Block.StateRoot, "pow_solutions": res.Block.PowSolutions,
		})

		for _, t := range res.Transactions {
			txRows = append(txRows, store.Row{
				"id": t.ID, "block_id": t.BlockID, "header_id": t.HeaderID,
				"inclusion_height": t.InclusionHeight, "timestamp": t.Timestamp,
				"tx_index": t.Index, "main_chain": t.MainChain, "size": t.Size, "fee": t.Fee,
			})
		}
		for _, in := range res.Inputs {
			inputRows = append(inputRows, store.Row{
				"box_id": in.BoxID, "tx_id": in.TxID, "index_in_tx": in.IndexInTx,
				"proof_bytes": in.ProofBytes, "extension": in.Extension,
			})
		}
		for _, out := range res.Outputs {
			outputRows = append(outputRows, store.Row{
				"box_id": out.BoxID, "tx_id": out.TxID, "index_in_tx": out.IndexInTx,
				"value": out.Value, "creation_height": out.CreationHeight, "address": out.Address,
				"ergo_tree": out.ErgoTree, "additional_registers": out.AdditionalRegisters,
				"spent_by_tx_id": out.SpentByTxID,
			})
		}
		for _, a := range res.Assets {
			assetRows = append(assetRows, store.Row{
				"box_id": a.BoxID, "index_in_outputs": a.IndexInOutputs, "token_id": a.TokenID,
				"amount": a.Amount, "name": a.Name, "decimals": a.Decimals,
			})
		}
		if res.MiningReward != nil {
			rewardRows = append(rewardRows, store.Row{
				"block_id": res.MiningReward.BlockID, "reward_amount": res.MiningReward.RewardAmount,
				"fees_amount": res.MiningReward.FeesAmount, "miner_address": res.MiningReward.MinerAddress,
			})
		}
		for _, obs := range res.AddressObservations {
			addrType, complexity := transform.ClassifyAddress(obs.ErgoTree)
			if existing, ok := addressTotals[obs.Address]; ok {
				if obs.Timestamp < existing.FirstActiveTime {
					existing.FirstActiveTime = obs.Timestamp
				}
				if obs.Timestamp > existing.LastActiveTime {
					existing.LastActiveTime = obs.Timestamp
				}
			} else {
				addressTotals[obs.Address] = &store.AddressStats{
					Address: obs.Address, FirstActiveTime: obs.Timestamp, LastActiveTime: obs.Timestamp,
					AddressType: addrType, ScriptComplexity: complexity,
				}
			}
		}
	}

	steps := []struct {
		table store.TableDescriptor
		rows  []store.Row
	}{
		{store.TableDescriptor{Name: "blocks", Columns: blockColumns}, blockRows},
		{store.TableDescriptor{Name: "transactions", Columns: txColumns}, txRows},
		{store.TableDescriptor{Name: "inputs", Columns: inputColumns}, inputRows},
		{store.TableDescriptor{Name: "outputs", Columns: outputColumns}, outputRows},
		{store.TableDescriptor{Name: "assets", Columns: assetColumns}, assetRows},
		{store.TableDescriptor{Name: "mining_rewards", Columns: rewardColumns}, rewardRows},
	}
	for _, step := range steps {
		if len(step.rows) == 0 {
			continue
		}
		result := store.BulkInsert(tx, step.table, step.rows, bulkInsert)
		if result.Outcome == store.Fatal {
			return result.Err
		}
	}

	for _, stats := range addressTotals {
		row := store.Row{
			"address": stats.Address, "first_active_time": stats.FirstActiveTime,
			"last_active_time": stats.LastActiveTime, "address_type": stats.AddressType,
			"script_complexity": stats.ScriptComplexity,
		}
		if err := store.UpsertAddressStats(tx, row); err != nil {
			return err
		}
	}
	return nil
}
