package node

// Header mirrors the node's block header JSON (GET /blocks/{id}).
type Header struct {
	ID               string                 `json:"id"`
	ParentID         string                 `json:"parentId"`
	Timestamp        uint64                 `json:"timestamp"`
	Difficulty       string                 `json:"difficulty"`
	Version          int                    `json:"version"`
	TransactionsRoot string                 `json:"transactionsRoot"`
	StateRoot        string                 `json:"stateRoot"`
	PowSolutions     map[string]interface{} `json:"powSolutions"`
}

// InputJSON mirrors one element of transaction.inputs.
type InputJSON struct {
	BoxID      string                 `json:"boxId"`
	ProofBytes string                 `json:"spendingProof"`
	Extension  map[string]interface{} `json:"extension"`
}

// AssetJSON mirrors one element of output.assets.
type AssetJSON struct {
	TokenID  string `json:"tokenId"`
	Amount   uint64 `json:"amount"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`
}

// OutputJSON mirrors one element of transaction.outputs.
type OutputJSON struct {
	BoxID                string                 `json:"boxId"`
	Value                uint64                 `json:"value"`
	CreationHeight       uint64                 `json:"creationHeight"`
	Address              string                 `json:"address"`
	ErgoTree             string                 `json:"ergoTree"`
	Assets               []AssetJSON            `json:"assets"`
	AdditionalRegisters  map[string]interface{} `json:"additionalRegisters"`
}

// TransactionJSON mirrors one element of blockTransactions.transactions.
type TransactionJSON struct {
	ID     string       `json:"id"`
	Size   int          `json:"size"`
	Inputs []InputJSON  `json:"inputs"`
	Outputs []OutputJSON `json:"outputs"`
}

// BlockTransactions mirrors the blockTransactions field of a block payload.
type BlockTransactions struct {
	HeaderID     string            `json:"headerId"`
	Transactions []TransactionJSON `json:"transactions"`
	Size         int               `json:"blockTransactionsSize"`
}

// RawBlock is the full JSON body returned by GET /blocks/{id}, with
// Height attached by the client since the node's own response omits it.
type RawBlock struct {
	Header            Header            `json:"header"`
	BlockTransactions BlockTransactions `json:"blockTransactions"`
	Size              int               `json:"size"`
	Height            uint64            `json:"height"`
}

// Info mirrors GET /info.
type Info struct {
	FullHeight        uint64 `json:"fullHeight"`
	HeadersHeight     uint64 `json:"headersHeight"`
	Version           string `json:"version"`
	IsMining          bool   `json:"isMining"`
	PeersCount        int    `json:"peersCount"`
	UnconfirmedCount  int    `json:"unconfirmedCount"`
}
