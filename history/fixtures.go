package history

import (
	"math/big"
	"strconv"
	"time"

	"fxpay/fixedpoint"
)

// FixturePayer is the account every fixture is attributed to.
const FixturePayer = "0xAeeAe0B6dBD6EF6eFE2fec07a720c65AeFb2492A"

type fixture struct {
	payee    string
	amount   string
	currency string
	age      time.Duration
	status   uint8
	txHash   string
}

var fixtures = []fixture{
	{"0x1234567890123456789012345678901234567890", "100", "USDC", time.Hour, StatusCompleted,
		"0xabc123def456789abc123def456789abc123def456789abc123def456789abc123"},
	{"0xabcdef1234567890abcdef1234567890abcdef12", "250", "USDT", 2 * time.Hour, StatusCompleted,
		"0xdef456789abc123def456789abc123def456789abc123def456789abc123def456"},
	{"0x9876543210987654321098765432109876543210", "50", "VNDC", 24 * time.Hour, StatusProcessing,
		"0xghi789012345678ghi789012345678ghi789012345678ghi789012345678ghi"},
	{"0x5555555555555555555555555555555555555555", "175.50", "EURC", 48 * time.Hour, StatusCompleted,
		"0xjkl012345678901jkl012345678901jkl012345678901jkl012345678901jkl"},
	{"0x6666666666666666666666666666666666666666", "500", "USDC", 72 * time.Hour, StatusPending,
		"0xmno345678901234mno345678901234mno345678901234mno345678901234mno"},
	{"0x7777777777777777777777777777777777777777", "75.25", "USDT", 96 * time.Hour, StatusCompleted,
		"0xpqr567890123456pqr567890123456pqr567890123456pqr567890123456pqr"},
	{"0x8888888888888888888888888888888888888888", "320", "USDC", 120 * time.Hour, StatusFailed,
		"0xstu789012345678stu789012345678stu789012345678stu789012345678stu"},
	{"0x9999999999999999999999999999999999999999", "1250", "EURC", 144 * time.Hour, StatusCompleted,
		"0xvwx901234567890vwx901234567890vwx901234567890vwx901234567890vwx"},
}

// Fixtures returns the illustrative history shown when no real records
// exist, timestamped relative to now. The tx hashes are placeholders.
func Fixtures(now time.Time) []Record {
	records := make([]Record, 0, len(fixtures))
	for i, f := range fixtures {
		raw, err := fixedpoint.ToRaw(f.amount, AmountDecimals)
		if err != nil {
			raw = new(big.Int)
		}
		records = append(records, Record{
			ID:          strconv.Itoa(i + 1),
			Payer:       FixturePayer,
			Payee:       f.payee,
			Amount:      fixedpoint.ToHuman(raw, AmountDecimals),
			AmountRaw:   raw,
			Currency:    f.currency,
			Timestamp:   now.Add(-f.age).UTC(),
			Status:      f.status,
			StatusLabel: StatusLabel(f.status),
			TxHash:      f.txHash,
		})
	}
	return records
}
