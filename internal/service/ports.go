package service

import (
	"context"

	"grocery-pos-terminal/internal/model"
)

// Notifier shows a transient message on the till screen.
type Notifier interface {
	Notify(level model.NotificationLevel, message string)
}

// Confirmer asks the cashier a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool {
	return f(ctx, prompt)
}

// Always answers every prompt with the same value.
func Always(answer bool) Confirmer {
	return ConfirmFunc(func(context.Context, string) bool { return answer })
}

type ProductSource interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// PaymentGateway is the part of the backend that settles a sale.
type PaymentGateway interface {
	CashPayment(ctx context.Context, req model.CashPaymentRequest) (*model.SaleReceipt, error)
	CreatePayment(ctx context.Context, req model.CreatePaymentRequest) (*model.CreatePaymentResponse, error)
	CancelPayment(ctx context.Context, orderCode int64) error
	CreateCustomer(ctx context.Context, req model.CreateCustomerRequest) (*model.Customer, error)
	CreateDebit(ctx context.Context, req model.CreateDebitRequest) (*model.Debit, error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(model.NotificationLevel, string) {}
