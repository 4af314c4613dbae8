// Package transform implements a pure function mapping one raw node
// block payload into row mappings for every persisted table. It
// performs no I/O; the one piece of external state it needs — prior
// output values, for fee computation — is passed in as an explicit
// lookup function rather than read from a global, so the function
// stays pure and testable in isolation. This replaces an ORM
// row-class hierarchy with plain row-value structs plus a transformer
// function.
package transform

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/shark-indexer/indexer/internal/node"
	"github.com/shark-indexer/indexer/internal/store"
)

// ErrMalformedBlock marks a structurally invalid block payload. Fatal for
// the height being transformed; the operator decides whether to skip.
var ErrMalformedBlock = errors.New("malformed block")

// OutputLookup resolves a previously-committed output's value by box ID.
// Returns ok=false if the box is unknown (coinbase inputs are formal
// placeholders and are never looked up).
type OutputLookup func(boxID string) (value uint64, ok bool)

// AddressObservation is one (address, timestamp, ergoTree) sighting
// within the block, destined for an AddressStats upsert.
type AddressObservation struct {
	Address   string
	Timestamp uint64
	ErgoTree  string
}

// Result is the full set of row mappings produced for one block.
type Result struct {
	Block               *store.Block
	Transactions        []*store.Transaction
	Inputs              []*store.Input
	Outputs             []*store.Output
	Assets              []*store.Asset
	MiningReward        *store.MiningReward
	AddressObservations []AddressObservation
}

const tokenMarker = "TOKEN"

// Transform validates and maps a raw block into Result. Outputs produced
// earlier in this very block are resolved internally; lookup resolves
// every other input value against outputs outside the block (see
// internal/pipeline for how it layers earlier blocks of the same commit
// over the store).
func Transform(raw *node.RawBlock, lookup OutputLookup) (*Result, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}

	var parentID *string
	if raw.Height != 1 {
		if raw.Header.ParentID == "" {
			return nil, errors.Wrapf(ErrMalformedBlock, "height %d: missing parentId", raw.Height)
		}
		pid := raw.Header.ParentID
		parentID = &pid
	}

	powJSON, err := json.Marshal(raw.Header.PowSolutions)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedBlock, "encode powSolutions")
	}

	result := &Result{
		Block: &store.Block{
			ID:               raw.Header.ID,
			HeaderID:         raw.BlockTransactions.HeaderID,
			ParentID:         parentID,
			Height:           raw.Height,
			Timestamp:        raw.Header.Timestamp,
			Difficulty:       raw.Header.Difficulty,
			BlockSize:        raw.Size,
			TxsCount:         len(raw.BlockTransactions.Transactions),
			MainChain:        true,
			Version:          raw.Header.Version,
			TransactionsRoot: raw.Header.TransactionsRoot,
			StateRoot:        raw.Header.StateRoot,
			PowSolutions:     string(powJSON),
		},
	}

	// Outputs produced earlier within this same block are valid fee
	// lookup targets for later transactions in the block (invariant 2:
	// "or in the same block at a lower index"). Layer the in-block map
	// over the injected lookup without ever calling back into the
	// caller's I/O for same-block hits.
	inBlockOutputs := make(map[string]uint64)
	inBlockAddress := make(map[string]*store.Output) // box_id -> output row, for same-block spend resolution

	addressSeen := make(map[string]AddressObservation)
	var blockCoins uint64
	var txsSize int
	var otherTxsOutputSum uint64

	for txIdx, tx := range raw.BlockTransactions.Transactions {
		isCoinbase := txIdx == 0
		txsSize += tx.Size

		dbTx := &store.Transaction{
			ID:              tx.ID,
			BlockID:         raw.Header.ID,
			HeaderID:        raw.BlockTransactions.HeaderID,
			InclusionHeight: raw.Height,
			Timestamp:       raw.Header.Timestamp,
			Index:           txIdx,
			MainChain:       true,
			Size:            tx.Size,
		}

		var inputSum uint64
		var inputsKnown = true
		for idx, in := range tx.Inputs {
			ext, err := json.Marshal(in.Extension)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedBlock, "tx %s input %d: encode extension", tx.ID, idx)
			}
			result.Inputs = append(result.Inputs, &store.Input{
				BoxID:      in.BoxID,
				TxID:       tx.ID,
				IndexInTx:  idx,
				ProofBytes: in.ProofBytes,
				Extension:  string(ext),
			})

			// Coinbase inputs are formal placeholders (invariant 6): they
			// are persisted like any other input row, but never feed fee
			// computation or same-block spend resolution since they do
			// not reference a box this indexer produced.
			if isCoinbase {
				continue
			}

			if v, ok := inBlockOutputs[in.BoxID]; ok {
				inputSum += v
			} else if v, ok := lookup(in.BoxID); ok {
				inputSum += v
			} else {
				inputsKnown = false
			}

			if out, ok := inBlockAddress[in.BoxID]; ok {
				out.SpentByTxID = strPtr(tx.ID)
			}
		}

		var outputSum uint64
		for idx, out := range tx.Outputs {
			regs, err := json.Marshal(out.AdditionalRegisters)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedBlock, "tx %s output %d: encode registers", tx.ID, idx)
			}
			var addr *string
			if out.Address != "" {
				a := out.Address
				addr = &a
			}
			dbOut := &store.Output{
				BoxID:               out.BoxID,
				TxID:                tx.ID,
				IndexInTx:           idx,
				Value:               out.Value,
				CreationHeight:      out.CreationHeight,
				Address:             addr,
				ErgoTree:            out.ErgoTree,
				AdditionalRegisters: string(regs),
			}
			result.Outputs = append(result.Outputs, dbOut)
			inBlockOutputs[out.BoxID] = out.Value
			inBlockAddress[out.BoxID] = dbOut

			for assetIdx, a := range out.Assets {
				result.Assets = append(result.Assets, &store.Asset{
					BoxID:          out.BoxID,
					IndexInOutputs: assetIdx,
					TokenID:        a.TokenID,
					Amount:         a.Amount,
					Name:           a.Name,
					Decimals:       a.Decimals,
				})
			}

			outputSum += out.Value
			blockCoins += out.Value

			if addr != nil {
				obs := AddressObservation{Address: *addr, Timestamp: raw.Header.Timestamp, ErgoTree: out.ErgoTree}
				if existing, ok := addressSeen[*addr]; !ok || obs.Timestamp < existing.Timestamp {
					addressSeen[*addr] = obs
				}
			}
		}

		if isCoinbase {
			dbTx.Fee = uint64Ptr(0)
			if len(tx.Outputs) > 0 {
				reward := tx.Outputs[0].Value
				minerAddr := tx.Outputs[0].Address
				result.MiningReward = &store.MiningReward{
					BlockID:      raw.Header.ID,
					RewardAmount: reward,
					MinerAddress: minerAddr,
				}
			}
		} else {
			var fee uint64
			if inputsKnown && inputSum > outputSum {
				fee = inputSum - outputSum
			}
			dbTx.Fee = uint64Ptr(fee)
			otherTxsOutputSum += outputSum
		}

		result.Transactions = append(result.Transactions, dbTx)
	}

	result.Block.BlockCoins = blockCoins
	result.Block.TxsSize = txsSize

	if result.MiningReward != nil {
		var fees uint64
		if otherTxsOutputSum > result.MiningReward.RewardAmount {
			fees = otherTxsOutputSum - result.MiningReward.RewardAmount
		}
		result.MiningReward.FeesAmount = fees
	}

	for _, obs := range addressSeen {
		result.AddressObservations = append(result.AddressObservations, obs)
	}

	return result, nil
}

func validate(raw *node.RawBlock) error {
	if raw == nil {
		return errors.Wrap(ErrMalformedBlock, "nil block")
	}
	if raw.Header.ID == "" {
		return errors.Wrap(ErrMalformedBlock, "header.id missing")
	}
	if raw.Header.Timestamp == 0 {
		return errors.Wrap(ErrMalformedBlock, "header.timestamp missing")
	}
	if raw.Header.Difficulty == "" {
		return errors.Wrap(ErrMalformedBlock, "header.difficulty missing")
	}
	if raw.Header.Version == 0 {
		return errors.Wrap(ErrMalformedBlock, "header.version missing")
	}
	if raw.BlockTransactions.Transactions == nil {
		return errors.Wrap(ErrMalformedBlock, "blockTransactions.transactions missing")
	}
	for i, tx := range raw.BlockTransactions.Transactions {
		if tx.ID == "" {
			return errors.Wrapf(ErrMalformedBlock, "transaction %d missing id", i)
		}
		if tx.Inputs == nil && i != 0 {
			return errors.Wrapf(ErrMalformedBlock, "transaction %s missing inputs", tx.ID)
		}
		if tx.Outputs == nil {
			return errors.Wrapf(ErrMalformedBlock, "transaction %s missing outputs", tx.ID)
		}
	}
	return nil
}

// ClassifyAddress derives a stable-but-heuristic address_type and
// script_complexity from an ErgoTree. Treat both as heuristic only:
// they exist to bucket addresses for the read API, not to characterize
// script semantics precisely.
func ClassifyAddress(ergoTree string) (addressType string, complexity int) {
	switch {
	case len(ergoTree) < 1000:
		addressType = "p2pk"
	case strings.Contains(ergoTree, tokenMarker):
		addressType = "token_contract"
	default:
		addressType = "smart_contract"
	}
	complexity = len(ergoTree)/100 + strings.Count(ergoTree, "CONST") + strings.Count(ergoTree, "IF")
	return addressType, complexity
}

func strPtr(s string) *string   { return &s }
func uint64Ptr(v uint64) *uint64 { return &v }
