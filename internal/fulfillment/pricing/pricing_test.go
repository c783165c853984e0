package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestThresholdShipping(t *testing.T) {
	p := ThresholdShipping{}

	assert.True(t, p.Fee(decimal.RequireFromString("99.99")).Equal(decimal.RequireFromString("5.00")))
	assert.True(t, p.Fee(decimal.RequireFromString("100.00")).IsZero())
	assert.True(t, p.Fee(decimal.RequireFromString("150.00")).IsZero())
	assert.True(t, p.Fee(decimal.Zero).Equal(decimal.RequireFromString("5.00")))
}

func TestCouponDiscount(t *testing.T) {
	p := CouponDiscount{}

	assert.True(t, p.Discount("SALE10").Equal(decimal.RequireFromString("10.00")))
	assert.True(t, p.Discount("SALE").Equal(decimal.RequireFromString("10.00")))
	assert.True(t, p.Discount("").IsZero())
	assert.True(t, p.Discount("WELCOME").IsZero())
	assert.True(t, p.Discount("sale10").IsZero(), "prefix match is case sensitive")
}
