package history

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"fxpay/chainevm"
	"fxpay/fixedpoint"
	"fxpay/logger"
)

// ChainReader reads the router's payment history. *chainevm.PaymentRouter
// satisfies it.
type ChainReader interface {
	PaymentHistory(ctx context.Context, user common.Address) ([]chainevm.PaymentRecord, error)
}

// JournalReader reads locally journaled payments. *Store satisfies it.
type JournalReader interface {
	ForAddress(ctx context.Context, address common.Address, limit int) ([]Record, error)
}

// View resolves an account's history from the chain, then the journal,
// then fixtures.
type View struct {
	chain     ChainReader
	journal   JournalReader
	forceMock bool
	limit     int
	now       func() time.Time
	log       *logger.Logger
}

// ViewOption configures a View.
type ViewOption func(*View)

func WithJournal(j JournalReader) ViewOption {
	return func(v *View) { v.journal = j }
}

// WithForceMock always serves fixtures.
func WithForceMock(force bool) ViewOption {
	return func(v *View) { v.forceMock = force }
}

// WithLimit caps the number of records returned.
func WithLimit(n int) ViewOption {
	return func(v *View) {
		if n > 0 {
			v.limit = n
		}
	}
}

func WithLogger(l *logger.Logger) ViewOption {
	return func(v *View) { v.log = logger.OrNop(l).Named("history") }
}

func WithClock(now func() time.Time) ViewOption {
	return func(v *View) {
		if now != nil {
			v.now = now
		}
	}
}

// NewView builds a history view. chain may be nil when no router is
// reachable.
func NewView(chain ChainReader, opts ...ViewOption) *View {
	v := &View{
		chain: chain,
		limit: 50,
		now:   time.Now,
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// List returns account's payments, newest first. It never fails: a read
// error or an empty result falls through to the next source and finally
// to fixtures, which are flagged IsMock.
func (v *View) List(ctx context.Context, account common.Address) Page {
	if v.forceMock || account == (common.Address{}) {
		return v.fixtures()
	}
	log := v.log.With(zap.String("account", account.Hex()))

	if v.chain != nil {
		raw, err := v.chain.PaymentHistory(ctx, account)
		switch {
		case err != nil:
			log.LogRPCCall("getPaymentHistory", err)
		case len(raw) > 0:
			return Page{Records: v.cap(fromChain(raw)), Source: SourceChain}
		}
	}

	if v.journal != nil {
		records, err := v.journal.ForAddress(ctx, account, v.limit)
		switch {
		case err != nil:
			log.Warn("Journal read failed", zap.Error(err))
		case len(records) > 0:
			return Page{Records: v.cap(records), Source: SourceJournal}
		}
	}

	return v.fixtures()
}

func (v *View) fixtures() Page {
	return Page{Records: v.cap(Fixtures(v.now())), Source: SourceFixtures, IsMock: true}
}

func (v *View) cap(records []Record) []Record {
	if len(records) > v.limit {
		return records[:v.limit]
	}
	return records
}

// fromChain converts router records, newest first.
func fromChain(raw []chainevm.PaymentRecord) []Record {
	records := make([]Record, 0, len(raw))
	for _, p := range raw {
		records = append(records, FromPaymentRecord(p))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records
}

// FromPaymentRecord converts one router record. Amounts are reported in
// AmountDecimals and timestamps in unix seconds.
func FromPaymentRecord(p chainevm.PaymentRecord) Record {
	r := Record{
		ID:          "0",
		Payer:       p.Payer.Hex(),
		Payee:       p.Payee.Hex(),
		Currency:    p.Currency,
		Status:      p.Status,
		StatusLabel: StatusLabel(p.Status),
	}
	if p.Id != nil {
		r.ID = p.Id.String()
	}
	if p.Amount != nil {
		r.AmountRaw = p.Amount
		r.Amount = fixedpoint.ToHuman(p.Amount, AmountDecimals)
	}
	if r.Currency == "" {
		r.Currency = "USDC"
	}
	if p.Timestamp != nil && p.Timestamp.IsInt64() {
		r.Timestamp = time.Unix(p.Timestamp.Int64(), 0).UTC()
	}
	if p.TxHash != ([32]byte{}) {
		r.TxHash = common.Hash(p.TxHash).Hex()
	}
	return r
}
