package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grocery-pos-terminal/internal/backend"
	"grocery-pos-terminal/internal/model"
	"grocery-pos-terminal/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ── Stubs ─────────────────────────────────────────────────────────────────────

type stubSource struct {
	mu       sync.Mutex
	products []model.Product
	err      error
	calls    int
}

func (s *stubSource) ListProducts(context.Context) ([]model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Product, len(s.products))
	copy(out, s.products)
	return out, nil
}

func (s *stubSource) set(products ...model.Product) {
	s.mu.Lock()
	s.products = products
	s.mu.Unlock()
}

func (s *stubSource) refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubGateway struct {
	mu sync.Mutex

	cashErr     error
	createErr   error
	cancelErr   error
	customerErr error
	debitErr    error

	cashRequests   []model.CashPaymentRequest
	createRequests []model.CreatePaymentRequest
	cancelled      []int64
	debits         []model.CreateDebitRequest
}

func (g *stubGateway) CashPayment(_ context.Context, req model.CashPaymentRequest) (*model.SaleReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cashErr != nil {
		return nil, g.cashErr
	}
	g.cashRequests = append(g.cashRequests, req)
	return &model.SaleReceipt{ID: 1, Code: "S-1", TotalAmount: req.Amount}, nil
}

func (g *stubGateway) CreatePayment(_ context.Context, req model.CreatePaymentRequest) (*model.CreatePaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.createRequests = append(g.createRequests, req)
	return &model.CreatePaymentResponse{QRCode: "00020101021238570010A000000727", OrderCode: req.OrderCode}, nil
}

func (g *stubGateway) CancelPayment(_ context.Context, orderCode int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.cancelled = append(g.cancelled, orderCode)
	return nil
}

func (g *stubGateway) CreateCustomer(_ context.Context, req model.CreateCustomerRequest) (*model.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.customerErr != nil {
		return nil, g.customerErr
	}
	return &model.Customer{ID: 42, Name: req.Name, PhoneNumber: req.PhoneNumber}, nil
}

func (g *stubGateway) CreateDebit(_ context.Context, req model.CreateDebitRequest) (*model.Debit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.debitErr != nil {
		return nil, g.debitErr
	}
	g.debits = append(g.debits, req)
	return &model.Debit{ID: 7, CustomerID: req.CustomerID, Amount: req.Amount}, nil
}

func (g *stubGateway) counts() (cash, created, cancelled, debits int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cashRequests), len(g.createRequests), len(g.cancelled), len(g.debits)
}

type note struct {
	Level   model.NotificationLevel
	Message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (n *recordingNotifier) Notify(level model.NotificationLevel, message string) {
	n.mu.Lock()
	n.notes = append(n.notes, note{level, message})
	n.mu.Unlock()
}

func (n *recordingNotifier) count(level model.NotificationLevel) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notes {
		if x.Level == level {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last() note {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notes) == 0 {
		return note{}
	}
	return n.notes[len(n.notes)-1]
}

// flakyKV fails writes while failing is set, and parks writes to a gated key
// until the test lets them through.
type flakyKV struct {
	repository.KVStore
	mu      sync.Mutex
	failing bool

	gateKey string
	entered chan struct{}
	proceed chan struct{}
}

var errDiskFull = errors.New("disk full")

func (f *flakyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	failing := f.failing
	gated := f.gateKey != "" && f.gateKey == key
	entered, proceed := f.entered, f.proceed
	f.mu.Unlock()
	if failing {
		return errDiskFull
	}
	if gated {
		entered <- struct{}{}
		<-proceed
	}
	return f.KVStore.Set(ctx, key, value, ttl)
}

func (f *flakyKV) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errDiskFull
	}
	return f.KVStore.Delete(ctx, key)
}

// gate parks the next writes to key. Receive from entered to know a write is
// parked; close proceed to let it finish.
func (f *flakyKV) gate(key string) (entered <-chan struct{}, proceed chan<- struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gateKey = key
	f.entered = make(chan struct{}, 1)
	f.proceed = make(chan struct{})
	return f.entered, f.proceed
}

func (f *flakyKV) fail(on bool) {
	f.mu.Lock()
	f.failing = on
	f.mu.Unlock()
}

// ── Fixture ───────────────────────────────────────────────────────────────────

var (
	noodles = model.Product{ID: 1, Name: "Instant noodles", SKU: "NDL", Barcode: "8934563138165", Price: decimal.NewFromInt(3500), Unit: "pack", Stock: 5}
	milk    = model.Product{ID: 2, Name: "Milk 1L", SKU: "MLK", Barcode: "8934673573352", Price: decimal.NewFromInt(32000), Unit: "box", Stock: 2}
)

type fixture struct {
	now      time.Time
	kv       *flakyKV
	source   *stubSource
	gateway  *stubGateway
	notifier *recordingNotifier
	catalog  CatalogService
	cart     CartService
	checkout CheckoutService
	pending  repository.SnapshotRepository[model.PendingQR]
	backups  repository.SnapshotRepository[model.PostSaleBackup]
	confirm  bool
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		kv:       &flakyKV{KVStore: repository.NewMemoryKV()},
		source:   &stubSource{products: []model.Product{noodles, milk}},
		gateway:  &stubGateway{},
		notifier: &recordingNotifier{},
	}
	f.catalog = NewCatalogService(f.source)
	require.NoError(t, f.catalog.Refresh(context.Background()))

	snapshots := repository.NewSnapshotRepo[model.CartSnapshot](f.kv, repository.TerminalKey("t1", repository.SlotCartSnapshot), time.Hour)
	f.backups = repository.NewSnapshotRepo[model.PostSaleBackup](f.kv, repository.TerminalKey("t1", repository.SlotPostSaleBackup), 0)
	f.pending = repository.NewSnapshotRepo[model.PendingQR](f.kv, repository.TerminalKey("t1", repository.SlotPendingQR), 0)

	f.cart = NewCartService(f.catalog, snapshots, f.backups, f.notifier, CartOptions{Now: f.clock})
	f.checkout = NewCheckoutService(f.cart, f.catalog, f.gateway, f.pending, f.notifier,
		ConfirmFunc(func(context.Context, string) bool { return f.confirm }),
		CheckoutOptions{QRTTL: time.Hour, Now: f.clock})

	require.NoError(t, f.cart.Restore(context.Background()))
	t.Cleanup(func() {
		f.checkout.Close()
		f.cart.Close()
	})
	return f
}

func apiError(msg string) error {
	return &backend.APIError{Status: 400, Message: msg}
}
