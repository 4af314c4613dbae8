package store

import "time"

// Block is the primary row for one discovered block. Created once
// per block discovered and never mutated: reorg recovery deletes
// diverging blocks outright instead of flipping MainChain (see
// DESIGN.md for the cascade-delete discipline).
type Block struct {
	ID                string `gorm:"column:id;primary_key;size:64"`
	HeaderID          string `gorm:"column:header_id;size:64"`
	ParentID          *string `gorm:"column:parent_id;size:64;index"`
	Height            uint64 `gorm:"column:height;unique_index"`
	Timestamp         uint64 `gorm:"column:timestamp"`
	Difficulty        string `gorm:"column:difficulty"`
	BlockSize         int    `gorm:"column:block_size"`
	BlockCoins        uint64 `gorm:"column:block_coins"`
	TxsCount          int    `gorm:"column:txs_count"`
	TxsSize           int    `gorm:"column:txs_size"`
	MinerAddress      string `gorm:"column:miner_address;index"`
	MainChain         bool   `gorm:"column:main_chain;index"`
	Version           int    `gorm:"column:version"`
	TransactionsRoot  string `gorm:"column:transactions_root"`
	StateRoot         string `gorm:"column:state_root"`
	PowSolutions      string `gorm:"column:pow_solutions;type:json"`
}

func (Block) TableName() string { return "blocks" }

// Transaction is created exactly once per inclusion.
type Transaction struct {
	ID               string  `gorm:"column:id;primary_key;size:64"`
	BlockID          string  `gorm:"column:block_id;size:64;index"`
	HeaderID         string  `gorm:"column:header_id;size:64"`
	InclusionHeight  uint64  `gorm:"column:inclusion_height;index"`
	Timestamp        uint64  `gorm:"column:timestamp"`
	Index            int     `gorm:"column:tx_index"`
	MainChain        bool    `gorm:"column:main_chain"`
	Size             int     `gorm:"column:size"`
	Fee              *uint64 `gorm:"column:fee"`
}

func (Transaction) TableName() string { return "transactions" }

// Input has composite primary key (box_id, tx_id).
type Input struct {
	BoxID      string `gorm:"column:box_id;primary_key;size:64"`
	TxID       string `gorm:"column:tx_id;primary_key;size:64;index"`
	IndexInTx  int    `gorm:"column:index_in_tx"`
	ProofBytes string `gorm:"column:proof_bytes"`
	Extension  string `gorm:"column:extension;type:json"`
}

func (Input) TableName() string { return "inputs" }

// Output (a "box") is created when its tx is committed; SpentByTxID is
// set later, in the spending block's commit, as part of resolving the
// cyclic Transaction<->Output relationship.
type Output struct {
	BoxID                string  `gorm:"column:box_id;primary_key;size:64"`
	TxID                 string  `gorm:"column:tx_id;size:64;index"`
	IndexInTx            int     `gorm:"column:index_in_tx"`
	Value                uint64  `gorm:"column:value"`
	CreationHeight       uint64  `gorm:"column:creation_height"`
	Address              *string `gorm:"column:address;index"`
	ErgoTree             string  `gorm:"column:ergo_tree"`
	AdditionalRegisters  string  `gorm:"column:additional_registers;type:json"`
	SpentByTxID          *string `gorm:"column:spent_by_tx_id;size:64;index"`
}

func (Output) TableName() string { return "outputs" }

// Asset has composite primary key (box_id, index_in_outputs).
type Asset struct {
	BoxID           string `gorm:"column:box_id;primary_key;size:64"`
	IndexInOutputs  int    `gorm:"column:index_in_outputs;primary_key"`
	TokenID         string `gorm:"column:token_id;index"`
	Amount          uint64 `gorm:"column:amount"`
	Name            string `gorm:"column:name"`
	Decimals        int    `gorm:"column:decimals"`
}

func (Asset) TableName() string { return "assets" }

// MiningReward has one row per block.
type MiningReward struct {
	BlockID      string `gorm:"column:block_id;primary_key;size:64"`
	RewardAmount uint64 `gorm:"column:reward_amount"`
	FeesAmount   uint64 `gorm:"column:fees_amount"`
	MinerAddress string `gorm:"column:miner_address;index"`
}

func (MiningReward) TableName() string { return "mining_rewards" }

// AddressStats is upserted per address observed in a block.
type AddressStats struct {
	Address           string `gorm:"column:address;primary_key;size:64"`
	FirstActiveTime   uint64 `gorm:"column:first_active_time"`
	LastActiveTime    uint64 `gorm:"column:last_active_time"`
	AddressType       string `gorm:"column:address_type"`
	ScriptComplexity  int    `gorm:"column:script_complexity"`
}

func (AddressStats) TableName() string { return "address_stats" }

// SyncStatus is the singleton durable checkpoint.
type SyncStatus struct {
	ID             int       `gorm:"column:id;primary_key"`
	CurrentHeight  uint64    `gorm:"column:current_height"`
	TargetHeight   uint64    `gorm:"column:target_height"`
	IsSyncing      bool      `gorm:"column:is_syncing"`
	LastBlockTime  time.Time `gorm:"column:last_block_time"`
}

func (SyncStatus) TableName() string { return "sync_status" }
