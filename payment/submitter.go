package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fxpay/allowance"
	"fxpay/chainevm"
	"fxpay/fixedpoint"
	"fxpay/logger"
	"fxpay/metrics"
	"fxpay/payerr"
	"fxpay/permit"
	"fxpay/wallet"
)

// BalanceReader reads token balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// Approver is satisfied by *allowance.Manager.
type Approver interface {
	NeedsApproval(ctx context.Context, owner, token, spender common.Address, required *big.Int) (bool, error)
	EnsureApproved(ctx context.Context, owner, token, spender common.Address, required *big.Int) (allowance.Result, error)
}

// Authorizer is satisfied by *permit.Builder.
type Authorizer interface {
	BuildDomain(chainID uint64) permit.Domain
	Sign(ctx context.Context, signer permit.Signer, intent permit.Intent, domain permit.Domain) (permit.SignedAuthorization, error)
}

// Confirmer is satisfied by *chainevm.Confirmer.
type Confirmer interface {
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	RevertReason(ctx context.Context, receipt *types.Receipt) (string, []byte)
}

// Journal persists attempts that reached the chain.
type Journal interface {
	Save(ctx context.Context, attempt Attempt) error
}

// Config holds the contract addresses and bounds of the payment flow.
type Config struct {
	ChainID        uint64
	Token          common.Address
	Decimals       uint8
	Permit2        common.Address // approval spender
	Router         common.Address // settlement contract, permit spender
	DeadlineTTL    time.Duration
	ConfirmTimeout time.Duration
}

// Submitter owns one payment attempt at a time.
type Submitter struct {
	cfg       Config
	wallet    wallet.Wallet
	balances  BalanceReader
	approver  Approver
	auth      Authorizer
	confirmer Confirmer
	nonces    permit.NonceSource
	journal   Journal
	explorer  func(txHash string) string
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	gen     uint64
	current Attempt
	cancel  context.CancelFunc
	done    chan struct{}
	subs    map[int]chan Transition
	nextSub int
}

// Option configures a Submitter.
type Option func(*Submitter)

func WithLogger(l *logger.Logger) Option {
	return func(s *Submitter) { s.log = logger.OrNop(l).Named("payment") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Submitter) { s.metrics = m }
}

// WithNonceSource replaces the default time-based nonce source.
func WithNonceSource(n permit.NonceSource) Option {
	return func(s *Submitter) { s.nonces = n }
}

// WithJournal stores every broadcast attempt once it terminates.
func WithJournal(j Journal) Option {
	return func(s *Submitter) { s.journal = j }
}

// WithExplorer sets the transaction link builder.
func WithExplorer(fn func(txHash string) string) Option {
	return func(s *Submitter) { s.explorer = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Submitter) { s.now = now }
}

// NewSubmitter wires a submitter. All collaborators are required.
func NewSubmitter(w wallet.Wallet, balances BalanceReader, approver Approver, auth Authorizer, confirmer Confirmer, cfg Config, opts ...Option) (*Submitter, error) {
	switch {
	case w == nil:
		return nil, errors.New("payment: wallet required")
	case balances == nil || approver == nil || auth == nil || confirmer == nil:
		return nil, errors.New("payment: balance reader, approver, authorizer and confirmer required")
	case cfg.Token == (common.Address{}):
		return nil, errors.New("payment: token address required")
	case cfg.Router == (common.Address{}):
		return nil, errors.New("payment: router address required")
	case cfg.Permit2 == (common.Address{}):
		return nil, errors.New("payment: permit2 address required")
	}
	if cfg.DeadlineTTL <= 0 {
		cfg.DeadlineTTL = time.Hour
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 120 * time.Second
	}
	s := &Submitter{
		cfg:       cfg,
		wallet:    w,
		balances:  balances,
		approver:  approver,
		auth:      auth,
		confirmer: confirmer,
		nonces:    permit.TimeNonce{},
		log:       logger.Nop(),
		now:       time.Now,
		current:   Attempt{State: StateIdle},
		subs:      make(map[int]chan Transition),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Submit runs an attempt to a terminal state on the calling goroutine. A
// failed attempt returns its classified error alongside the snapshot.
func (s *Submitter) Submit(ctx context.Context, req Request) (Attempt, error) {
	r, err := s.begin(ctx, req)
	if err != nil {
		return s.Current(), err
	}
	return r.run(req)
}

// Start begins an attempt in the background and returns immediately. Use
// Wait or Subscribe to follow it. ctx bounds the whole attempt, so pass a
// context that outlives the caller's request.
func (s *Submitter) Start(ctx context.Context, req Request) (Attempt, error) {
	r, err := s.begin(ctx, req)
	if err != nil {
		return s.Current(), err
	}
	go func() { _, _ = r.run(req) }()
	return r.last, nil
}

// Wait blocks until the attempt in flight (if any) finishes.
func (s *Submitter) Wait(ctx context.Context) (Attempt, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return s.Current(), ctx.Err()
		}
	}
	return s.Current(), nil
}

// Current returns a snapshot of the current attempt.
func (s *Submitter) Current() Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Abandon drops the attempt in flight: its context is cancelled, later
// wallet or chain responses are ignored, and the machine returns to Idle.
// A broadcast transaction cannot be recalled and may still land. It
// reports false when nothing was in flight.
func (s *Submitter) Abandon() (Attempt, bool) {
	s.mu.Lock()
	if s.current.State.acceptsSubmit() {
		snap := s.current
		s.mu.Unlock()
		return snap, false
	}
	from := s.current.State
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	perr := payerr.New(payerr.KindAttemptAbandoned, "abandoned while %s", from)
	s.current.Err = perr
	s.current.State = StateIdle
	s.current.UpdatedAt = s.now()
	snap := s.current
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.emit(Transition{AttemptID: snap.ID, From: from, To: StateIdle, Err: perr, At: snap.UpdatedAt}, subs)
	s.metrics.RecordAttempt("abandoned", snap.UpdatedAt.Sub(snap.StartedAt))
	s.log.Info("Payment attempt abandoned",
		zap.String("attempt_id", snap.ID),
		zap.String("state", string(from)),
		zap.Bool("broadcast", snap.Broadcast()),
	)
	if snap.Broadcast() {
		// the run goroutine of a superseded generation never reaches finish
		entry := snap
		entry.State = StateFailed
		s.record(context.Background(), entry)
	}
	return snap, true
}

// Reset clears a finished attempt and returns the machine to Idle.
func (s *Submitter) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.current.State.acceptsSubmit() {
		return payerr.New(payerr.KindAttemptInFlight, "attempt %s is %s", s.current.ID, s.current.State)
	}
	s.current = Attempt{State: StateIdle}
	return nil
}

// Subscribe returns a channel receiving every transition. Slow subscribers
// miss transitions rather than stall the attempt.
func (s *Submitter) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Transition, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// begin claims the machine for a new attempt and enters Checking.
func (s *Submitter) begin(ctx context.Context, req Request) (*attemptRun, error) {
	s.mu.Lock()
	if !s.current.State.acceptsSubmit() {
		err := payerr.New(payerr.KindAttemptInFlight, "attempt %s is %s", s.current.ID, s.current.State)
		s.mu.Unlock()
		return nil, err
	}
	s.gen++
	runCtx, cancel := context.WithCancel(ctx)
	now := s.now()
	s.current = Attempt{
		ID:         uuid.NewString(),
		State:      StateChecking,
		Token:      s.cfg.Token,
		AmountText: strings.TrimSpace(req.Amount),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done
	r := &attemptRun{s: s, ctx: runCtx, gen: s.gen, done: done, last: s.current}
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.emit(Transition{AttemptID: r.last.ID, From: StateIdle, To: StateChecking, At: now}, subs)
	s.log.LogStateTransition(r.last.ID, string(StateIdle), string(StateChecking))
	s.metrics.RecordTransition(string(StateChecking))
	return r, nil
}

// transition moves the attempt of generation gen to state to. It is a no-op
// for superseded generations and for attempts that already terminated.
func (s *Submitter) transition(gen uint64, to State, mutate func(*Attempt)) (Attempt, bool) {
	s.mu.Lock()
	if gen != s.gen || s.current.State.Terminal() {
		s.mu.Unlock()
		return Attempt{}, false
	}
	from := s.current.State
	if mutate != nil {
		mutate(&s.current)
	}
	s.current.State = to
	s.current.UpdatedAt = s.now()
	snap := s.current
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.emit(Transition{AttemptID: snap.ID, From: from, To: to, Err: snap.Err, At: snap.UpdatedAt}, subs)
	s.log.LogStateTransition(snap.ID, string(from), string(to))
	s.metrics.RecordTransition(string(to))
	return snap, true
}

// release frees the attempt context once its run returns.
func (s *Submitter) release(gen uint64, done chan struct{}) {
	s.mu.Lock()
	if gen == s.gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	close(done)
}

func (s *Submitter) subscribersLocked() []chan Transition {
	subs := make([]chan Transition, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	return subs
}

func (s *Submitter) emit(t Transition, subs []chan Transition) {
	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (s *Submitter) validate(req Request, account wallet.Account) (common.Address, fixedpoint.TokenAmount, *payerr.Error) {
	raw := strings.TrimSpace(req.Recipient)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fixedpoint.TokenAmount{}, payerr.New(payerr.KindInvalidRecipient, "recipient %q is not an address", req.Recipient)
	}
	recipient := common.HexToAddress(raw)
	if recipient == (common.Address{}) {
		return common.Address{}, fixedpoint.TokenAmount{}, payerr.New(payerr.KindInvalidRecipient, "recipient is the zero address")
	}
	amount, err := fixedpoint.ParseTokenAmount(req.Amount, s.cfg.Decimals)
	if err != nil {
		return common.Address{}, fixedpoint.TokenAmount{}, payerr.Wrap(payerr.KindInvalidAmount, err)
	}
	if amount.IsZero() {
		return common.Address{}, fixedpoint.TokenAmount{}, payerr.New(payerr.KindInvalidAmount, "amount must be greater than zero")
	}
	if !account.Connected || account.Address == (common.Address{}) {
		return common.Address{}, fixedpoint.TokenAmount{}, payerr.New(payerr.KindWalletDisconnected, "wallet not connected")
	}
	if s.cfg.ChainID != 0 && account.ChainID != s.cfg.ChainID {
		return common.Address{}, fixedpoint.TokenAmount{}, payerr.New(payerr.KindWalletDisconnected,
			"wallet on chain %d, want %d", account.ChainID, s.cfg.ChainID)
	}
	return recipient, amount, nil
}

func asPayErr(err error) *payerr.Error {
	var classified *payerr.Error
	if errors.As(err, &classified) {
		return classified
	}
	return payerr.Wrap(payerr.KindOther, err)
}

// attemptRun carries one attempt through its steps.
type attemptRun struct {
	s    *Submitter
	ctx  context.Context
	gen  uint64
	done chan struct{}
	last Attempt
}

func (r *attemptRun) step(to State, mutate func(*Attempt)) bool {
	snap, ok := r.s.transition(r.gen, to, mutate)
	if ok {
		r.last = snap
	}
	return ok
}

func (r *attemptRun) abandoned() (Attempt, error) {
	return r.last, payerr.New(payerr.KindAttemptAbandoned, "attempt %s superseded", r.last.ID)
}

// fail terminates the attempt. A cancelled context turns any error into
// AttemptAbandoned.
func (r *attemptRun) fail(perr *payerr.Error) (Attempt, error) {
	if r.ctx.Err() != nil {
		perr = payerr.Wrap(payerr.KindAttemptAbandoned, r.ctx.Err())
	}
	failedIn := r.last.State
	if !r.step(StateFailed, func(a *Attempt) { a.Err = perr }) {
		return r.abandoned()
	}
	r.finish()
	if payerr.CategoryOf(perr.Kind) != payerr.CategoryInput {
		r.s.log.Warn("Payment attempt failed",
			zap.String("attempt_id", r.last.ID),
			zap.String("state", string(failedIn)),
			zap.String("kind", string(perr.Kind)),
			zap.Error(perr),
		)
	}
	return r.last, perr
}

// finish records a terminal attempt.
func (r *attemptRun) finish() {
	a := r.last
	outcome := "succeeded"
	if a.Err != nil {
		outcome = string(a.Err.Kind)
	}
	r.s.metrics.RecordAttempt(outcome, a.UpdatedAt.Sub(a.StartedAt))
	if a.Broadcast() {
		r.s.record(r.ctx, a)
	}
}

// record writes a broadcast attempt to the journal. The write outlives the
// attempt context.
func (s *Submitter) record(ctx context.Context, a Attempt) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.journal.Save(ctx, a); err != nil {
		s.log.Warn("Journal write failed", zap.String("attempt_id", a.ID), zap.Error(err))
	}
}

func (r *attemptRun) run(req Request) (Attempt, error) {
	s := r.s
	defer s.release(r.gen, r.done)

	account := s.wallet.Account()
	recipient, amount, perr := s.validate(req, account)
	if perr != nil {
		return r.fail(perr)
	}
	raw := amount.Raw()
	s.mu.Lock()
	if r.gen == s.gen {
		s.current.Payer = account.Address
		s.current.Recipient = recipient
		s.current.Amount = raw
		r.last = s.current
	}
	s.mu.Unlock()

	balance, err := s.balances.BalanceOf(r.ctx, s.cfg.Token, account.Address)
	if err != nil {
		return r.fail(payerr.Wrap(payerr.KindOther, fmt.Errorf("read balance: %w", err)))
	}
	if balance.Cmp(raw) < 0 {
		have, _ := fixedpoint.NewTokenAmount(balance, s.cfg.Decimals)
		return r.fail(payerr.New(payerr.KindInsufficientBalance, "have %s, need %s", have, amount))
	}

	needs, err := s.approver.NeedsApproval(r.ctx, account.Address, s.cfg.Token, s.cfg.Permit2, raw)
	if err != nil {
		return r.fail(payerr.Wrap(payerr.KindOther, err))
	}
	if needs {
		if !r.step(StateApproving, nil) {
			return r.abandoned()
		}
		res, err := s.approver.EnsureApproved(r.ctx, account.Address, s.cfg.Token, s.cfg.Permit2, raw)
		if err != nil {
			return r.fail(asPayErr(err))
		}
		r.last.Approved = res.Approved
		r.last.ApprovalTx = res.TxHash
	}

	nonce, err := s.nonces.Next()
	if err != nil {
		return r.fail(payerr.Wrap(payerr.KindOther, err))
	}
	deadline := permit.Deadline(s.now(), s.cfg.DeadlineTTL)
	approved, approvalTx := r.last.Approved, r.last.ApprovalTx
	if !r.step(StateSigning, func(a *Attempt) {
		a.Nonce = nonce
		a.Deadline = deadline
		a.Approved = approved
		a.ApprovalTx = approvalTx
	}) {
		return r.abandoned()
	}
	intent := permit.Intent{Payee: recipient, Token: s.cfg.Token, Amount: raw, Deadline: deadline, Nonce: nonce}
	signed, err := s.auth.Sign(r.ctx, s.wallet, intent, s.auth.BuildDomain(account.ChainID))
	if err != nil {
		return r.fail(asPayErr(err))
	}
	var warning string
	if signed.FormatErr != nil {
		warning = signed.FormatErr.Error()
		s.log.Warn("Unexpected signature format, forwarding to contract",
			zap.String("attempt_id", r.last.ID), zap.Error(signed.FormatErr))
	}

	data, err := chainevm.PackRequestPaymentWithPermit(recipient, raw, s.cfg.Token, deadline, signed.Signature, nonce)
	if err != nil {
		return r.fail(payerr.Wrap(payerr.KindOther, err))
	}
	if !r.step(StateSubmitting, func(a *Attempt) { a.Warning = warning }) {
		return r.abandoned()
	}
	hash, err := s.wallet.SendTransaction(r.ctx, s.cfg.Router, data)
	if err != nil {
		return r.fail(chainevm.ClassifySendError(err, payerr.KindUserRejectedSubmission))
	}
	s.log.LogTransaction("requestPaymentWithPermit", hash.Hex(),
		zap.String("attempt_id", r.last.ID), zap.String("nonce", nonce.String()))

	if !r.step(StateConfirming, func(a *Attempt) {
		a.TxHash = hash
		if s.explorer != nil {
			a.ExplorerURL = s.explorer(hash.Hex())
		}
	}) {
		return r.abandoned()
	}
	waitCtx, cancel := context.WithTimeout(r.ctx, s.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := s.confirmer.WaitMined(waitCtx, hash)
	if err != nil {
		if r.ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return r.fail(payerr.New(payerr.KindConfirmationTimeout,
				"%s not confirmed within %s; it may still land", hash.Hex(), s.cfg.ConfirmTimeout))
		}
		return r.fail(payerr.Wrap(payerr.KindOther, err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		reason, revertData := s.confirmer.RevertReason(r.ctx, receipt)
		return r.fail(payerr.ClassifyRevert(reason, revertData))
	}
	if !r.step(StateSucceeded, nil) {
		return r.abandoned()
	}
	r.finish()
	return r.last, nil
}
