package history

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"fxpay/fixedpoint"
	"fxpay/payerr"
	"fxpay/payment"
)

// JournalEntry - locally recorded payment attempt
type JournalEntry struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AttemptID    string     `gorm:"uniqueIndex;size:64" json:"attempt_id"`
	PayerAddress string     `gorm:"index;size:42" json:"payer_address"`
	PayeeAddress string     `gorm:"index;size:42" json:"payee_address"`
	Token        string     `gorm:"size:42" json:"token"`
	Currency     string     `gorm:"size:16" json:"currency"`
	Decimals     uint8      `json:"decimals"`
	Amount       string     `json:"amount"`
	Nonce        string     `json:"nonce"`
	TxHash       string     `gorm:"index;size:66" json:"tx_hash"`
	ApprovalTx   string     `gorm:"size:66" json:"approval_tx,omitempty"`
	Status       uint8      `gorm:"index" json:"status"`
	State        string     `gorm:"size:20" json:"state"`
	ErrorKind    string     `gorm:"size:40" json:"error_kind,omitempty"`
	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
}

// TableName - Specify table name
func (JournalEntry) TableName() string {
	return "payment_journal"
}

// TokenInfo resolves a token address to its symbol and decimals.
type TokenInfo func(token common.Address) (symbol string, decimals uint8, ok bool)

// Open connects to a sqlite database at dsn.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dsn, err)
	}
	return db, nil
}

// Store persists terminal payment attempts. It satisfies payment.Journal.
type Store struct {
	db     *gorm.DB
	tokens TokenInfo
}

// NewStore migrates the journal schema on db.
func NewStore(db *gorm.DB, tokens TokenInfo) (*Store, error) {
	if db == nil {
		return nil, errors.New("database not configured")
	}
	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Store{db: db, tokens: tokens}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts the attempt keyed by its ID.
func (s *Store) Save(ctx context.Context, a payment.Attempt) error {
	if a.ID == "" {
		return errors.New("attempt id required")
	}
	entry := JournalEntry{
		AttemptID:    a.ID,
		PayerAddress: strings.ToLower(a.Payer.Hex()),
		PayeeAddress: strings.ToLower(a.Recipient.Hex()),
		Token:        a.Token.Hex(),
		Currency:     a.Token.Hex(),
		Decimals:     AmountDecimals,
		Status:       statusOf(a),
		State:        string(a.State),
		CreatedAt:    a.StartedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	if s.tokens != nil {
		if symbol, decimals, ok := s.tokens(a.Token); ok {
			entry.Currency, entry.Decimals = symbol, decimals
		}
	}
	if a.Amount != nil {
		entry.Amount = a.Amount.String()
	}
	if a.Nonce != nil {
		entry.Nonce = a.Nonce.String()
	}
	if a.Broadcast() {
		entry.TxHash = a.TxHash.Hex()
	}
	if a.ApprovalTx != (common.Hash{}) {
		entry.ApprovalTx = a.ApprovalTx.Hex()
	}
	if a.Err != nil {
		entry.ErrorKind = string(a.Err.Kind)
		entry.ErrorMessage = a.Err.Error()
	}
	if a.State == payment.StateSucceeded {
		confirmed := a.UpdatedAt
		entry.ConfirmedAt = &confirmed
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attempt_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tx_hash", "approval_tx", "status", "state", "error_kind", "error_message", "updated_at", "confirmed_at",
		}),
	}).Create(&entry).Error
}

// Entries returns journal rows involving address, newest first.
func (s *Store) Entries(ctx context.Context, address common.Address, limit int) ([]JournalEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("database not configured")
	}
	addr := strings.ToLower(address.Hex())
	var entries []JournalEntry
	err := s.db.WithContext(ctx).
		Where("payer_address = ? OR payee_address = ?", addr, addr).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return entries, nil
}

// ForAddress returns journal rows for address as history records.
func (s *Store) ForAddress(ctx context.Context, address common.Address, limit int) ([]Record, error) {
	entries, err := s.Entries(ctx, address, limit)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.record())
	}
	return records, nil
}

func (e JournalEntry) record() Record {
	raw, ok := new(big.Int).SetString(e.Amount, 10)
	if !ok {
		raw = new(big.Int)
	}
	return Record{
		ID:          e.AttemptID,
		Payer:       common.HexToAddress(e.PayerAddress).Hex(),
		Payee:       common.HexToAddress(e.PayeeAddress).Hex(),
		Amount:      fixedpoint.ToHuman(raw, e.Decimals),
		AmountRaw:   raw,
		Currency:    e.Currency,
		Timestamp:   e.CreatedAt.UTC(),
		Status:      e.Status,
		StatusLabel: StatusLabel(e.Status),
		TxHash:      e.TxHash,
		Error:       e.ErrorMessage,
	}
}

// statusOf maps an attempt onto the router's status codes.
func statusOf(a payment.Attempt) uint8 {
	switch a.State {
	case payment.StateSucceeded:
		return StatusCompleted
	case payment.StateFailed:
		if a.Err == nil {
			return StatusFailed
		}
		switch a.Err.Kind {
		case payerr.KindAttemptAbandoned:
			return StatusCancelled
		case payerr.KindConfirmationTimeout:
			// the transaction may still land
			return StatusProcessing
		}
		return StatusFailed
	case payment.StateConfirming:
		return StatusProcessing
	default:
		return StatusPending
	}
}
