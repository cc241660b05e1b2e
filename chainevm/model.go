package chainevm

// TransactionStatusResponse - Response status transaction
type TransactionStatusResponse struct {
	TxHash        string  `json:"tx_hash"`
	Status        string  `json:"status"` // pending, confirmed, failed, not_found
	Confirmations uint64  `json:"confirmations"`
	BlockNumber   uint64  `json:"block_number"`
	BlockTime     *uint64 `json:"block_time,omitempty"`
	GasUsed       uint64  `json:"gas_used"`
	Error         *string `json:"error,omitempty"`
	ExplorerURL   string  `json:"explorer_url"`
}

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusNotFound  = "not_found"
)
