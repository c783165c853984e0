package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

type ShippingPolicy interface {
	Fee(subtotal decimal.Decimal) decimal.Decimal
}

type DiscountPolicy interface {
	Discount(couponCode string) decimal.Decimal
}

var (
	freeShippingThreshold = decimal.RequireFromString("100.00")
	defaultShippingFee    = decimal.RequireFromString("5.00")
	saleDiscount          = decimal.RequireFromString("10.00")
)

const saleCouponPrefix = "SALE"

// ThresholdShipping: free above the threshold, flat fee below it.
type ThresholdShipping struct{}

func (ThresholdShipping) Fee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(freeShippingThreshold) {
		return decimal.Zero
	}
	return defaultShippingFee
}

// CouponDiscount grants a fixed discount for SALE-prefixed codes.
// An empty code is a valid "no discount" input, not an error.
type CouponDiscount struct{}

func (CouponDiscount) Discount(couponCode string) decimal.Decimal {
	if strings.HasPrefix(couponCode, saleCouponPrefix) {
		return saleDiscount
	}
	return decimal.Zero
}
