package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/repository"
	"grocery-pos-terminal/pkg/validator"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotReady      = errors.New("cart is still restoring")
	ErrNoStock           = errors.New("not enough stock")
	ErrInvalidQuantity   = errors.New("quantity must be a whole number of at least 1")
	ErrLineNotFound      = errors.New("cart line not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrClearNotConfirmed = errors.New("clearing the cart was not confirmed")
	ErrNoBackup          = errors.New("no recent sale to recover")
	ErrCartNotEmpty      = errors.New("cart is not empty")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPersist           = errors.New("could not save the cart")
)

// StockError reports how many more units of a product may still be added.
type StockError struct {
	Name      string
	Remaining int
}

func (e *StockError) Error() string {
	if e.Remaining <= 0 {
		return fmt.Sprintf("%s is out of stock", e.Name)
	}
	return fmt.Sprintf("only %d more of %s in stock", e.Remaining, e.Name)
}

func (e *StockError) Unwrap() error { return ErrNoStock }

type CartService interface {
	Restore(ctx context.Context) error
	AddProduct(ctx context.Context, product model.Product) (model.CartLine, error)
	AddBarcode(ctx context.Context, barcode string) (model.CartLine, error)
	AddManualLine(ctx context.Context, draft model.ManualLineDraft) (model.CartLine, error)
	IncrementLine(ctx context.Context, lineID uuid.UUID) (model.CartLine, error)
	DecrementLine(ctx context.Context, lineID uuid.UUID) (*model.CartLine, error)
	SetLineQuantity(ctx context.Context, lineID uuid.UUID, raw string) (model.CartLine, error)
	RemoveLine(ctx context.Context, lineID uuid.UUID) error
	Clear(ctx context.Context, confirmer Confirmer) error
	Reset(ctx context.Context) error
	WriteBackup(ctx context.Context, lines []model.CartLine) error
	PendingBackup(ctx context.Context) (*model.PostSaleBackup, error)
	RecoverBackup(ctx context.Context) ([]model.CartLine, error)
	Hold() ([]model.CartLine, error)
	Release()
	Lines() []model.CartLine
	Total() decimal.Decimal
	ItemCount() int
	Close()
}

type CartOptions struct {
	// SnapshotTTL discards a restored cart older than this.
	SnapshotTTL time.Duration
	// BackupTTL is the grace window of the post-sale backup.
	BackupTTL time.Duration
	Now       func() time.Time
}

type cartService struct {
	catalog   CatalogService
	snapshots repository.SnapshotRepository[model.CartSnapshot]
	backups   repository.SnapshotRepository[model.PostSaleBackup]
	notifier  Notifier
	opts      CartOptions

	mu          sync.Mutex
	ready       bool
	held        bool
	lines       []model.CartLine
	purgeTimer  *time.Timer
	restoreOnce sync.Once
	restoreErr  error
}

func NewCartService(
	catalog CatalogService,
	snapshots repository.SnapshotRepository[model.CartSnapshot],
	backups repository.SnapshotRepository[model.PostSaleBackup],
	notifier Notifier,
	opts CartOptions,
) CartService {
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = time.Hour
	}
	if opts.BackupTTL <= 0 {
		opts.BackupTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &cartService{
		catalog:   catalog,
		snapshots: snapshots,
		backups:   backups,
		notifier:  notifier,
		opts:      opts,
		lines:     []model.CartLine{},
	}
}

// ParseQuantity accepts a base-10 integer of at least 1.
func ParseQuantity(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0, ErrInvalidQuantity
	}
	return n, nil
}

// Restore loads the persisted cart exactly once. A corrupt or stale snapshot
// is discarded and the cart starts empty.
func (s *cartService) Restore(ctx context.Context) error {
	s.restoreOnce.Do(func() {
		s.restoreErr = s.restore(ctx)
	})
	return s.restoreErr
}

func (s *cartService) restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The cart becomes usable even when storage cannot be read; it then starts empty.
	defer func() { s.ready = true }()

	now := s.opts.Now()
	var loadErr error
	snap, err := s.snapshots.Load(ctx)
	switch {
	case errors.Is(err, repository.ErrCorruptSnapshot):
		log.Warn().Err(err).Msg("discarding corrupt cart snapshot")
		if err := s.snapshots.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("clear corrupt cart snapshot")
		}
	case err != nil:
		log.Error().Err(err).Msg("read cart snapshot, starting empty")
		loadErr = fmt.Errorf("restore cart: %w", err)
	case snap == nil:
	case snap.Age(now) > s.opts.SnapshotTTL:
		log.Info().Dur("age", snap.Age(now)).Msg("discarding stale cart snapshot")
		if err := s.snapshots.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("clear stale cart snapshot")
		}
	default:
		s.lines = model.CloneLines(snap.Lines)
		log.Info().Int("lines", len(s.lines)).Msg("cart restored")
	}

	backup, err := s.backups.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unreadable post-sale backup")
		s.schedulePurgeLocked(0)
	} else if backup != nil {
		s.schedulePurgeLocked(s.opts.BackupTTL - backup.Age(now))
	}
	return loadErr
}

// commitLocked persists next and only then swaps it in, so a failed write
// leaves the cart exactly as it was.
func (s *cartService) commitLocked(ctx context.Context, next []model.CartLine) error {
	var err error
	if len(next) == 0 {
		err = s.snapshots.Clear(ctx)
	} else {
		err = s.snapshots.Save(ctx, &model.CartSnapshot{Lines: next, SavedAt: s.opts.Now().UnixMilli()})
	}
	if err != nil {
		log.Error().Err(err).Msg("persist cart snapshot")
		s.notifier.Notify(model.LevelError, "Could not save the cart, change was not applied")
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.lines = next
	return nil
}

// mutableLocked rejects changes before Restore and while a checkout holds
// the cart.
func (s *cartService) mutableLocked() error {
	if !s.ready {
		return ErrCartNotReady
	}
	if s.held {
		s.notifier.Notify(model.LevelWarning, "Finish or cancel the payment before changing the cart")
		return ErrCheckoutInProgress
	}
	return nil
}

func (s *cartService) indexOf(lineID uuid.UUID) int {
	for i, l := range s.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (s *cartService) indexOfBarcode(barcode string) int {
	for i, l := range s.lines {
		if !l.IsManual && l.Barcode == barcode {
			return i
		}
	}
	return -1
}

func (s *cartService) AddProduct(ctx context.Context, product model.Product) (model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return model.CartLine{}, err
	}

	next := model.CloneLines(s.lines)
	var line model.CartLine
	if i := s.indexOfBarcode(product.Barcode); i >= 0 {
		current := next[i].Quantity
		if current+1 > product.Stock {
			return model.CartLine{}, s.stockErrorLocked(product.Name, product.Stock-current)
		}
		next[i].Quantity++
		line = next[i]
	} else {
		if product.Stock < 1 {
			return model.CartLine{}, s.stockErrorLocked(product.Name, 0)
		}
		line = model.NewLineFromProduct(product)
		next = append(next, line)
	}

	if err := s.commitLocked(ctx, next); err != nil {
		return model.CartLine{}, err
	}
	s.notifier.Notify(model.LevelSuccess, "Added "+product.Name)
	return line, nil
}

func (s *cartService) AddBarcode(ctx context.Context, barcode string) (model.CartLine, error) {
	product, ok := s.catalog.Lookup(strings.TrimSpace(barcode))
	if !ok {
		s.notifier.Notify(model.LevelWarning, "No product with barcode "+barcode)
		return model.CartLine{}, ErrProductNotFound
	}
	return s.AddProduct(ctx, product)
}

func (s *cartService) AddManualLine(ctx context.Context, draft model.ManualLineDraft) (model.CartLine, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if errs := validator.ValidateStruct(draft); len(errs) > 0 {
		s.notifier.Notify(model.LevelWarning, "Check the name and price of the item")
		return model.CartLine{}, fmt.Errorf("%w: %s", ErrInvalidInput, validator.Summary(errs))
	}
	if draft.Quantity == 0 {
		draft.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return model.CartLine{}, err
	}

	id := uuid.New()
	line := model.CartLine{
		ID:       id,
		Barcode:  fmt.Sprintf("%s%d%s", model.ManualBarcodePrefix, s.opts.Now().UnixMilli(), strings.ToUpper(id.String()[:6])),
		Name:     draft.Name,
		Price:    draft.Price,
		Quantity: draft.Quantity,
		Unit:     draft.Unit,
		IsManual: true,
	}

	next := append(model.CloneLines(s.lines), line)
	if err := s.commitLocked(ctx, next); err != nil {
		return model.CartLine{}, err
	}
	s.notifier.Notify(model.LevelSuccess, "Added "+line.Name)
	return line, nil
}

func (s *cartService) IncrementLine(ctx context.Context, lineID uuid.UUID) (model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return model.CartLine{}, err
	}

	i := s.indexOf(lineID)
	if i < 0 {
		return model.CartLine{}, ErrLineNotFound
	}
	next := model.CloneLines(s.lines)
	line := next[i]

	if !line.IsManual {
		product, ok := s.catalog.Lookup(line.Barcode)
		if !ok {
			s.notifier.Notify(model.LevelWarning, line.Name+" is no longer in the catalog")
			return model.CartLine{}, ErrProductNotFound
		}
		if remaining := product.Stock - line.Quantity; remaining <= 0 {
			return model.CartLine{}, s.stockErrorLocked(line.Name, remaining)
		}
	}

	next[i].Quantity++
	if err := s.commitLocked(ctx, next); err != nil {
		return model.CartLine{}, err
	}
	return next[i], nil
}

// DecrementLine returns nil when the line was removed.
func (s *cartService) DecrementLine(ctx context.Context, lineID uuid.UUID) (*model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return nil, err
	}

	i := s.indexOf(lineID)
	if i < 0 {
		return nil, ErrLineNotFound
	}
	next := model.CloneLines(s.lines)
	if next[i].Quantity > 1 {
		next[i].Quantity--
		if err := s.commitLocked(ctx, next); err != nil {
			return nil, err
		}
		line := next[i]
		return &line, nil
	}

	next = append(next[:i], next[i+1:]...)
	if err := s.commitLocked(ctx, next); err != nil {
		return nil, err
	}
	return nil, nil
}

// SetLineQuantity applies a typed quantity. An increase beyond what is left
// in stock is clamped and reported with a warning.
func (s *cartService) SetLineQuantity(ctx context.Context, lineID uuid.UUID, raw string) (model.CartLine, error) {
	qty, err := ParseQuantity(raw)
	if err != nil {
		s.notifier.Notify(model.LevelWarning, err.Error())
		return model.CartLine{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return model.CartLine{}, err
	}

	i := s.indexOf(lineID)
	if i < 0 {
		return model.CartLine{}, ErrLineNotFound
	}
	next := model.CloneLines(s.lines)
	line := next[i]
	clamped := false

	if !line.IsManual && qty > line.Quantity {
		product, ok := s.catalog.Lookup(line.Barcode)
		if !ok {
			s.notifier.Notify(model.LevelWarning, line.Name+" is no longer in the catalog")
			return model.CartLine{}, ErrProductNotFound
		}
		used := 0
		for _, l := range s.lines {
			if !l.IsManual && l.Barcode == line.Barcode {
				used += l.Quantity
			}
		}
		available := product.Stock - used
		if available <= 0 {
			return model.CartLine{}, s.stockErrorLocked(line.Name, available)
		}
		if qty-line.Quantity > available {
			qty = line.Quantity + available
			clamped = true
		}
	}

	next[i].Quantity = qty
	if err := s.commitLocked(ctx, next); err != nil {
		return model.CartLine{}, err
	}
	if clamped {
		s.notifier.Notify(model.LevelWarning,
			fmt.Sprintf("Quantity of %s adjusted to %d, the stock on hand", line.Name, qty))
	}
	return next[i], nil
}

func (s *cartService) RemoveLine(ctx context.Context, lineID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return err
	}

	i := s.indexOf(lineID)
	if i < 0 {
		return ErrLineNotFound
	}
	next := model.CloneLines(s.lines)
	next = append(next[:i], next[i+1:]...)
	return s.commitLocked(ctx, next)
}

// Clear empties the cart after the cashier confirms.
func (s *cartService) Clear(ctx context.Context, confirmer Confirmer) error {
	s.mu.Lock()
	if err := s.mutableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	count := len(s.lines)
	s.mu.Unlock()
	if count == 0 {
		return nil
	}

	if confirmer == nil || !confirmer.Confirm(ctx, fmt.Sprintf("Remove all %d lines from the cart?", count)) {
		return ErrClearNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a checkout may have opened while the prompt was up
	if err := s.mutableLocked(); err != nil {
		return err
	}
	return s.commitLocked(ctx, []model.CartLine{})
}

// Reset empties the cart after a completed sale. No confirmation is asked and
// the in-memory cart is emptied even when the snapshot cannot be cleared.
func (s *cartService) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = []model.CartLine{}
	if err := s.snapshots.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("clear cart snapshot after sale")
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// WriteBackup keeps the lines of a finished sale for the grace window.
func (s *cartService) WriteBackup(ctx context.Context, lines []model.CartLine) error {
	backup := &model.PostSaleBackup{Lines: model.CloneLines(lines), SavedAt: s.opts.Now().UnixMilli()}
	if err := s.backups.Save(ctx, backup); err != nil {
		log.Error().Err(err).Msg("write post-sale backup")
		return err
	}

	s.mu.Lock()
	s.schedulePurgeLocked(s.opts.BackupTTL)
	s.mu.Unlock()
	return nil
}

func (s *cartService) PendingBackup(ctx context.Context) (*model.PostSaleBackup, error) {
	backup, err := s.backups.Load(ctx)
	if err != nil || backup == nil {
		return nil, err
	}
	if backup.Age(s.opts.Now()) >= s.opts.BackupTTL || len(backup.Lines) == 0 {
		return nil, nil
	}
	return backup, nil
}

// RecoverBackup puts the last sale back into an empty cart.
func (s *cartService) RecoverBackup(ctx context.Context) ([]model.CartLine, error) {
	backup, err := s.PendingBackup(ctx)
	if err != nil {
		return nil, err
	}
	if backup == nil {
		return nil, ErrNoBackup
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutableLocked(); err != nil {
		return nil, err
	}
	if len(s.lines) > 0 {
		return nil, ErrCartNotEmpty
	}

	next := model.CloneLines(backup.Lines)
	if err := s.commitLocked(ctx, next); err != nil {
		return nil, err
	}
	s.schedulePurgeLocked(0)
	s.notifier.Notify(model.LevelInfo, fmt.Sprintf("Recovered %d lines from the last sale", len(next)))
	return model.CloneLines(next), nil
}

func (s *cartService) schedulePurgeLocked(after time.Duration) {
	if s.purgeTimer != nil {
		s.purgeTimer.Stop()
	}
	purge := func() {
		if err := s.backups.Clear(context.Background()); err != nil {
			log.Warn().Err(err).Msg("purge post-sale backup")
		}
	}
	if after <= 0 {
		s.purgeTimer = nil
		purge()
		return
	}
	s.purgeTimer = time.AfterFunc(after, purge)
}

func (s *cartService) stockErrorLocked(name string, remaining int) error {
	if remaining < 0 {
		remaining = 0
	}
	err := &StockError{Name: name, Remaining: remaining}
	s.notifier.Notify(model.LevelWarning, err.Error())
	return err
}

// Hold freezes the cart for a checkout and returns the lines being settled.
// Only one hold exists at a time. Reset still works while held.
func (s *cartService) Hold() ([]model.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, ErrCartNotReady
	}
	if s.held {
		return nil, ErrCheckoutInProgress
	}
	if len(s.lines) == 0 {
		return nil, ErrCartEmpty
	}
	s.held = true
	return model.CloneLines(s.lines), nil
}

func (s *cartService) Release() {
	s.mu.Lock()
	s.held = false
	s.mu.Unlock()
}

func (s *cartService) Lines() []model.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneLines(s.lines)
}

func (s *cartService) Total() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CartTotal(s.lines)
}

func (s *cartService) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

func (s *cartService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeTimer != nil {
		s.purgeTimer.Stop()
		s.purgeTimer = nil
	}
}
