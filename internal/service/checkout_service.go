package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"grocery-pos-terminal/internal/backend"
	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/repository"
	"grocery-pos-terminal/pkg/validator"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

var (
	ErrCartEmpty          = errors.New("cart is empty")
	ErrCheckoutInProgress = errors.New("another checkout is in progress")
	ErrSessionNotFound    = errors.New("checkout session not found or already closed")
	ErrWrongChannel       = errors.New("operation does not match the session channel")
	ErrInsufficientTender = errors.New("amount received is less than the total")
	ErrCheckoutBusy       = errors.New("checkout is waiting for the backend")
	ErrNoQR               = errors.New("no QR payment for this session")
)

// StockConflictError lists every line that no longer fits the catalog stock.
type StockConflictError struct {
	Violations []model.StockViolation
}

func (e *StockConflictError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s (in cart %d, in stock %d)", v.Name, v.Requested, v.Available))
	}
	return "Not enough stock: " + strings.Join(parts, "; ")
}

const (
	orderCodeBase  = 100000000
	orderCodeRange = 900000000
)

type CheckoutService interface {
	Begin(ctx context.Context, channel model.Channel) (model.CheckoutSession, error)
	SubmitCash(ctx context.Context, sessionID uuid.UUID, tender model.CashTender) (model.CheckoutSession, error)
	StartQR(ctx context.Context, sessionID uuid.UUID) (model.CheckoutSession, error)
	QRImage(sessionID uuid.UUID, size int) ([]byte, error)
	CancelQR(ctx context.Context, sessionID uuid.UUID) (model.CheckoutSession, error)
	SubmitDebit(ctx context.Context, sessionID uuid.UUID, req model.DebitRequest) (model.CheckoutSession, error)
	Abort(sessionID uuid.UUID) (model.CheckoutSession, error)
	HandlePaymentSuccess(ctx context.Context, ev model.PaymentSuccess) bool
	Current() (model.CheckoutSession, bool)
	Close()
}

type CheckoutOptions struct {
	QRTTL             time.Duration
	ReturnURL         string
	CancelURL         string
	TransactionPrefix string
	Now               func() time.Time
}

type attempt struct {
	session model.CheckoutSession
	qrTimer *time.Timer
	busy    bool
}

// view copies the session so callers never share its pointers.
func (a *attempt) view() model.CheckoutSession {
	return copySession(a.session)
}

func copySession(s model.CheckoutSession) model.CheckoutSession {
	out := s
	if s.QR != nil {
		qr := *s.QR
		out.QR = &qr
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

type checkoutService struct {
	cart      CartService
	catalog   CatalogService
	gateway   PaymentGateway
	pending   repository.SnapshotRepository[model.PendingQR]
	notifier  Notifier
	confirmer Confirmer
	opts      CheckoutOptions

	mu      sync.Mutex
	current *attempt
	last    *model.CheckoutSession
}

func NewCheckoutService(
	cart CartService,
	catalog CatalogService,
	gateway PaymentGateway,
	pending repository.SnapshotRepository[model.PendingQR],
	notifier Notifier,
	confirmer Confirmer,
	opts CheckoutOptions,
) CheckoutService {
	if opts.QRTTL <= 0 {
		opts.QRTTL = 300 * time.Second
	}
	if opts.TransactionPrefix == "" {
		opts.TransactionPrefix = "POS"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if confirmer == nil {
		confirmer = Always(false)
	}
	return &checkoutService{
		cart:      cart,
		catalog:   catalog,
		gateway:   gateway,
		pending:   pending,
		notifier:  notifier,
		confirmer: confirmer,
		opts:      opts,
	}
}

// Begin opens a settlement attempt. Only one attempt may be open at a time,
// and the cart stays on hold from here until the attempt is aborted or the
// committed sale has emptied it.
func (s *checkoutService) Begin(ctx context.Context, channel model.Channel) (model.CheckoutSession, error) {
	s.mu.Lock()
	if s.current != nil && s.current.session.Active() {
		s.mu.Unlock()
		return model.CheckoutSession{}, ErrCheckoutInProgress
	}

	lines, err := s.cart.Hold()
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, ErrCartEmpty) {
			s.notifier.Notify(model.LevelWarning, ErrCartEmpty.Error())
		}
		return model.CheckoutSession{}, err
	}

	a := &attempt{session: model.CheckoutSession{
		ID:        uuid.New(),
		Channel:   channel,
		State:     model.StateValidating,
		StartedAt: s.opts.Now(),
	}}
	s.current = a

	violations := s.validateStock(lines)
	if len(violations) > 0 {
		s.closeLocked(a, model.StateAborted)
		s.mu.Unlock()

		if err := s.catalog.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("catalog refresh after stock conflict")
		}
		conflict := &StockConflictError{Violations: violations}
		s.notifier.Notify(model.LevelError, conflict.Error())
		return model.CheckoutSession{}, conflict
	}

	a.session.Lines = lines
	a.session.Total = model.CartTotal(lines)
	a.session.State = model.StateAwaitingResult
	view := a.view()
	s.mu.Unlock()

	log.Info().Str("session", view.ID.String()).Str("channel", string(channel)).Str("total", view.Total.String()).Msg("checkout started")
	return view, nil
}

func (s *checkoutService) validateStock(lines []model.CartLine) []model.StockViolation {
	var violations []model.StockViolation
	for _, l := range lines {
		if l.IsManual {
			continue
		}
		available := 0
		if p, ok := s.catalog.Lookup(l.Barcode); ok {
			available = p.Stock
		}
		if available < l.Quantity {
			violations = append(violations, model.StockViolation{
				LineID:    l.ID,
				Barcode:   l.Barcode,
				Name:      l.Name,
				Requested: l.Quantity,
				Available: available,
			})
		}
	}
	return violations
}

// awaitingLocked finds the open attempt for id on the given channel.
func (s *checkoutService) awaitingLocked(id uuid.UUID, channel model.Channel) (*attempt, error) {
	a := s.current
	if a == nil || a.session.ID != id || a.session.State != model.StateAwaitingResult {
		return nil, ErrSessionNotFound
	}
	if a.session.Channel != channel {
		return nil, ErrWrongChannel
	}
	if a.busy {
		return nil, ErrCheckoutBusy
	}
	return a, nil
}

// release clears the busy flag of a.
func (s *checkoutService) release(a *attempt) {
	s.mu.Lock()
	a.busy = false
	s.mu.Unlock()
}

func (s *checkoutService) SubmitCash(ctx context.Context, sessionID uuid.UUID, tender model.CashTender) (model.CheckoutSession, error) {
	if errs := validator.ValidateStruct(tender); len(errs) > 0 {
		s.notifier.Notify(model.LevelWarning, "Enter the amount received")
		return model.CheckoutSession{}, fmt.Errorf("%w: %s", ErrInvalidInput, validator.Summary(errs))
	}

	s.mu.Lock()
	a, err := s.awaitingLocked(sessionID, model.ChannelCash)
	if err != nil {
		s.mu.Unlock()
		return model.CheckoutSession{}, err
	}
	total, lines := a.session.Total, a.session.Lines
	if tender.Received.LessThan(total) {
		view := a.view()
		s.mu.Unlock()
		s.notifier.Notify(model.LevelWarning, ErrInsufficientTender.Error())
		return view, ErrInsufficientTender
	}
	a.busy = true
	s.mu.Unlock()

	receipt, err := s.gateway.CashPayment(ctx, model.CashPaymentRequest{
		Amount:        total,
		Items:         model.SaleItemsFromLines(lines),
		PaymentMethod: string(model.ChannelCash),
		Note:          tender.Note,
	})
	s.release(a)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID.String()).Msg("cash payment failed")
		s.notifier.Notify(model.LevelError, backend.Message(err, "Payment failed, please try again"))
		return s.viewOf(sessionID), err
	}

	result := model.SettlementResult{
		Channel:     model.ChannelCash,
		Total:       total,
		Received:    tender.Received,
		Change:      tender.Received.Sub(total),
		Reference:   receipt.Code,
		CompletedAt: s.opts.Now(),
	}
	session, _ := s.commit(ctx, sessionID, result)
	return session, nil
}

// StartQR creates the transfer order, or resumes the persisted one when it
// still matches the amount. Calling it again returns the same order.
func (s *checkoutService) StartQR(ctx context.Context, sessionID uuid.UUID) (model.CheckoutSession, error) {
	s.mu.Lock()
	a, err := s.awaitingLocked(sessionID, model.ChannelQR)
	if err != nil {
		s.mu.Unlock()
		return model.CheckoutSession{}, err
	}
	if a.session.QR != nil {
		view := a.view()
		s.mu.Unlock()
		return view, nil
	}
	total, lines := a.session.Total, a.session.Lines
	a.busy = true
	s.mu.Unlock()

	now := s.opts.Now()
	qr, ok := s.resumePending(ctx, total, now)
	if !ok {
		orderCode := orderCodeBase + now.UnixMilli()%orderCodeRange
		txCode := fmt.Sprintf("%s%d%s", s.opts.TransactionPrefix, now.Unix(), strings.ToUpper(uuid.NewString()[:4]))

		items := make([]model.PaymentItem, 0, len(lines))
		for _, l := range lines {
			items = append(items, model.PaymentItem{Name: l.Name, Quantity: l.Quantity, Price: l.Price})
		}
		resp, err := s.gateway.CreatePayment(ctx, model.CreatePaymentRequest{
			Amount:      total,
			Description: txCode,
			OrderCode:   orderCode,
			CancelURL:   s.opts.CancelURL,
			ReturnURL:   s.opts.ReturnURL,
			Items:       items,
		})
		if err != nil {
			s.release(a)
			log.Error().Err(err).Int64("order_code", orderCode).Msg("create QR payment failed")
			s.notifier.Notify(model.LevelError, backend.Message(err, "Could not create the QR payment"))
			return s.viewOf(sessionID), err
		}
		if resp.OrderCode != 0 {
			orderCode = resp.OrderCode
		}

		qr = model.QRPayment{
			OrderCode:       orderCode,
			TransactionCode: txCode,
			QRCode:          resp.QRCode,
			ExpiresAt:       now.Add(s.opts.QRTTL),
		}
		if err := s.pending.Save(ctx, &model.PendingQR{
			OrderCode:       qr.OrderCode,
			TransactionCode: qr.TransactionCode,
			QRCode:          qr.QRCode,
			Amount:          total,
			ExpiresAt:       qr.ExpiresAt.UnixMilli(),
		}); err != nil {
			log.Warn().Err(err).Msg("persist pending QR")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a.busy = false
	if s.current != a || a.session.State != model.StateAwaitingResult {
		// closed while the backend call was in flight
		return copySession(s.sessionLocked(sessionID)), nil
	}
	a.session.QR = &qr
	a.qrTimer = time.AfterFunc(qr.ExpiresAt.Sub(now), func() { s.onQRExpired(sessionID) })
	log.Info().Int64("order_code", qr.OrderCode).Bool("resumed", qr.Resumed).Msg("QR payment pending")
	return a.view(), nil
}

// resumePending returns the persisted order when it is for the same amount and
// has not expired. Anything else is discarded.
func (s *checkoutService) resumePending(ctx context.Context, amount decimal.Decimal, now time.Time) (model.QRPayment, bool) {
	p, err := s.pending.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unreadable pending QR")
		_ = s.pending.Clear(ctx)
		return model.QRPayment{}, false
	}
	if p == nil {
		return model.QRPayment{}, false
	}
	expiresAt := time.UnixMilli(p.ExpiresAt)
	if !p.Amount.Equal(amount) || !now.Before(expiresAt) {
		_ = s.pending.Clear(ctx)
		return model.QRPayment{}, false
	}
	return model.QRPayment{
		OrderCode:       p.OrderCode,
		TransactionCode: p.TransactionCode,
		QRCode:          p.QRCode,
		ExpiresAt:       expiresAt,
		Resumed:         true,
	}, true
}

// onQRExpired asks the cashier whether to cancel the order. Declining leaves
// the session waiting for the transfer.
func (s *checkoutService) onQRExpired(sessionID uuid.UUID) {
	s.mu.Lock()
	a := s.current
	open := a != nil && a.session.ID == sessionID && a.session.State == model.StateAwaitingResult && a.session.QR != nil
	s.mu.Unlock()
	if !open {
		return
	}

	s.notifier.Notify(model.LevelWarning, "QR payment expired")
	ctx := context.Background()
	if !s.confirmer.Confirm(ctx, "The QR payment has expired. Cancel this order?") {
		log.Info().Str("session", sessionID.String()).Msg("expired QR kept open")
		return
	}
	if _, err := s.CancelQR(ctx, sessionID); err != nil {
		log.Warn().Err(err).Msg("cancel expired QR")
	}
}

// CancelQR invalidates the order on the backend, then aborts the session.
// When the backend refuses, the session stays open.
func (s *checkoutService) CancelQR(ctx context.Context, sessionID uuid.UUID) (model.CheckoutSession, error) {
	s.mu.Lock()
	a, err := s.awaitingLocked(sessionID, model.ChannelQR)
	if err != nil {
		s.mu.Unlock()
		return model.CheckoutSession{}, err
	}
	var orderCode int64
	if a.session.QR != nil {
		orderCode = a.session.QR.OrderCode
	}
	a.busy = true
	s.mu.Unlock()

	if orderCode != 0 {
		if err := s.gateway.CancelPayment(ctx, orderCode); err != nil {
			s.release(a)
			log.Error().Err(err).Int64("order_code", orderCode).Msg("cancel QR payment failed")
			s.notifier.Notify(model.LevelError, backend.Message(err, "Could not cancel the QR payment"))
			return s.viewOf(sessionID), err
		}
		if err := s.pending.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("clear pending QR")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a.busy = false
	if s.current != a || a.session.State != model.StateAwaitingResult {
		return copySession(s.sessionLocked(sessionID)), nil
	}
	s.closeLocked(a, model.StateAborted)
	s.notifier.Notify(model.LevelInfo, "QR payment cancelled")
	return copySession(*s.last), nil
}

func (s *checkoutService) QRImage(sessionID uuid.UUID, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	s.mu.Lock()
	session := s.sessionLocked(sessionID)
	s.mu.Unlock()

	if session.ID != sessionID {
		return nil, ErrSessionNotFound
	}
	if session.QR == nil || session.QR.QRCode == "" {
		return nil, ErrNoQR
	}
	return qrcode.Encode(session.QR.QRCode, qrcode.Medium, size)
}

// SubmitDebit records the sale on the customer's account. A failure at either
// step aborts the session with nothing recorded.
func (s *checkoutService) SubmitDebit(ctx context.Context, sessionID uuid.UUID, req model.DebitRequest) (model.CheckoutSession, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.Phone = strings.TrimSpace(req.Phone)
	if errs := validator.ValidateStruct(req); len(errs) > 0 {
		s.notifier.Notify(model.LevelWarning, "Enter the customer name and a valid phone number")
		return model.CheckoutSession{}, fmt.Errorf("%w: %s", ErrInvalidInput, validator.Summary(errs))
	}

	s.mu.Lock()
	a, err := s.awaitingLocked(sessionID, model.ChannelDebit)
	if err != nil {
		s.mu.Unlock()
		return model.CheckoutSession{}, err
	}
	total, lines := a.session.Total, a.session.Lines
	a.busy = true
	s.mu.Unlock()

	customer, err := s.gateway.CreateCustomer(ctx, model.CreateCustomerRequest{
		Name:        req.CustomerName,
		PhoneNumber: req.Phone,
		Address:     req.Address,
	})
	if err != nil {
		return s.failDebit(a, err, "Could not create the customer")
	}

	debit, err := s.gateway.CreateDebit(ctx, model.CreateDebitRequest{
		CustomerID: customer.ID,
		Amount:     total,
		Items:      model.SaleItemsFromLines(lines),
		Note:       req.Note,
	})
	if err != nil {
		return s.failDebit(a, err, "Could not record the debit")
	}
	s.release(a)

	result := model.SettlementResult{
		Channel:     model.ChannelDebit,
		Total:       total,
		Reference:   strconv.FormatInt(debit.ID, 10),
		CustomerID:  customer.ID,
		CompletedAt: s.opts.Now(),
	}
	session, _ := s.commit(ctx, sessionID, result)
	return session, nil
}

func (s *checkoutService) failDebit(a *attempt, err error, fallback string) (model.CheckoutSession, error) {
	log.Error().Err(err).Str("session", a.session.ID.String()).Msg("debit failed")
	s.notifier.Notify(model.LevelError, backend.Message(err, fallback))

	s.mu.Lock()
	defer s.mu.Unlock()
	a.busy = false
	if s.current == a && a.session.State == model.StateAwaitingResult {
		s.closeLocked(a, model.StateAborted)
	}
	return copySession(a.session), err
}

// Abort closes the dialog without a result. The cart is left untouched and a
// pending QR order stays persisted so reopening resumes it.
func (s *checkoutService) Abort(sessionID uuid.UUID) (model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.current
	if a == nil || a.session.ID != sessionID || !a.session.Active() {
		return model.CheckoutSession{}, ErrSessionNotFound
	}
	if a.busy {
		return a.view(), ErrCheckoutBusy
	}
	s.closeLocked(a, model.StateAborted)
	return copySession(*s.last), nil
}

// HandlePaymentSuccess commits the awaiting QR session whose order code the
// event carries. Events without an order code never commit. It reports
// whether this call committed a sale.
func (s *checkoutService) HandlePaymentSuccess(ctx context.Context, ev model.PaymentSuccess) bool {
	s.mu.Lock()
	a := s.current
	matched := ev.OrderCode != 0 && a != nil &&
		a.session.State == model.StateAwaitingResult &&
		a.session.Channel == model.ChannelQR &&
		a.session.QR != nil && a.session.QR.OrderCode == ev.OrderCode
	if !matched {
		duplicate := ev.OrderCode != 0 && s.last != nil && s.last.State == model.StateCommitted &&
			s.last.QR != nil && s.last.QR.OrderCode == ev.OrderCode
		s.mu.Unlock()
		if duplicate {
			log.Debug().Int64("order_code", ev.OrderCode).Msg("duplicate payment_success ignored")
		} else {
			log.Warn().Int64("order_code", ev.OrderCode).Msg("payment_success without an open QR checkout")
			s.notifier.Notify(model.LevelWarning, fmt.Sprintf("Transfer received for order %d with no open checkout", ev.OrderCode))
		}
		return false
	}
	sessionID, total := a.session.ID, a.session.Total
	s.mu.Unlock()

	received := ev.Amount
	if received.IsZero() {
		received = total
	}
	_, committed := s.commit(ctx, sessionID, model.SettlementResult{
		Channel:     model.ChannelQR,
		Total:       total,
		Received:    received,
		Reference:   ev.Reference,
		CompletedAt: s.opts.Now(),
	})
	return committed
}

// commit moves the session to Committed if it is still awaiting, then runs
// the post-sale steps once. The cart hold is released only after the cart
// has been emptied, so no new attempt can see the settled lines.
func (s *checkoutService) commit(ctx context.Context, sessionID uuid.UUID, result model.SettlementResult) (model.CheckoutSession, bool) {
	s.mu.Lock()
	a := s.current
	if a == nil || a.session.ID != sessionID || a.session.State != model.StateAwaitingResult {
		session := copySession(s.sessionLocked(sessionID))
		s.mu.Unlock()
		return session, false
	}
	a.session.Result = &result
	s.closeLocked(a, model.StateCommitted)
	session := copySession(*s.last)
	s.mu.Unlock()

	s.finishSale(context.WithoutCancel(ctx), session)
	return session, true
}

func (s *checkoutService) finishSale(ctx context.Context, session model.CheckoutSession) {
	if err := s.cart.WriteBackup(ctx, session.Lines); err != nil {
		log.Warn().Err(err).Msg("post-sale backup not written")
	}
	if err := s.cart.Reset(ctx); err != nil {
		log.Warn().Err(err).Msg("cart snapshot not cleared after sale")
	}
	s.cart.Release()
	if session.Channel == model.ChannelQR {
		if err := s.pending.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("clear pending QR after sale")
		}
	}
	if err := s.catalog.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("catalog refresh after sale")
	}

	log.Info().
		Str("session", session.ID.String()).
		Str("channel", string(session.Channel)).
		Str("total", session.Total.String()).
		Msg("sale completed")
	s.notifier.Notify(model.LevelSuccess, successMessage(session))
}

func successMessage(session model.CheckoutSession) string {
	switch session.Channel {
	case model.ChannelCash:
		if session.Result != nil && session.Result.Change.IsPositive() {
			return "Sale completed. Change due: " + session.Result.Change.String()
		}
		return "Sale completed"
	case model.ChannelQR:
		return "Transfer received. Sale completed"
	case model.ChannelDebit:
		return "Debit recorded. Sale completed"
	}
	return "Sale completed"
}

// closeLocked ends attempt a and remembers it as the last session. An aborted
// attempt hands the cart back; a committed one keeps it held for finishSale.
func (s *checkoutService) closeLocked(a *attempt, state model.CheckoutState) {
	if a.qrTimer != nil {
		a.qrTimer.Stop()
		a.qrTimer = nil
	}
	now := s.opts.Now()
	a.session.State = state
	a.session.ClosedAt = &now
	closed := a.session
	s.last = &closed
	if s.current == a {
		s.current = nil
	}
	if state != model.StateCommitted {
		s.cart.Release()
	}
}

// sessionLocked returns the open or last session with id, or a zero session.
func (s *checkoutService) sessionLocked(id uuid.UUID) model.CheckoutSession {
	if s.current != nil && s.current.session.ID == id {
		return s.current.session
	}
	if s.last != nil && s.last.ID == id {
		return *s.last
	}
	return model.CheckoutSession{}
}

func (s *checkoutService) viewOf(id uuid.UUID) model.CheckoutSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.sessionLocked(id))
}

// Current returns the open session, or the last closed one.
func (s *checkoutService) Current() (model.CheckoutSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return s.current.view(), true
	}
	if s.last != nil {
		return copySession(*s.last), true
	}
	return model.CheckoutSession{}, false
}

func (s *checkoutService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.qrTimer != nil {
		s.current.qrTimer.Stop()
		s.current.qrTimer = nil
	}
}
