package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductID string

type Product struct {
	ID       ProductID
	Name     string
	Category string
	Price    decimal.Decimal
	Stock    int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DecreaseStock fails instead of letting the counter go negative.
func (p *Product) DecreaseStock(quantity int32) error {
	if quantity <= 0 {
		return ErrInvalidInput
	}
	if p.Stock < quantity {
		return &InsufficientStockError{ProductID: p.ID}
	}
	p.Stock -= quantity
	return nil
}
