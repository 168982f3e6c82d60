package cart

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"Storefront/internal/wp"
)

// CouponError carries a message fit to show the shopper directly.
type CouponError struct {
	Code    string
	Message string
}

func (e *CouponError) Error() string { return e.Message }

var couponMessages = map[string]string{
	"woocommerce_rest_cart_coupon_does_not_exist":      "This coupon code does not exist.",
	"woocommerce_rest_cart_coupon_expired":             "This coupon has expired.",
	"woocommerce_rest_cart_coupon_usage_limit_reached": "This coupon has reached its usage limit.",
	"woocommerce_rest_cart_coupon_minimum_amount":      "Your cart does not meet the minimum spend for this coupon.",
	"woocommerce_rest_cart_coupon_maximum_amount":      "Your cart exceeds the maximum spend for this coupon.",
	"woocommerce_rest_cart_coupon_email_restriction":   "This coupon is not valid for your account.",
	"woocommerce_rest_cart_coupon_already_applied":     "This coupon is already applied to your cart.",
	"woocommerce_rest_cart_coupon_cannot_be_applied":   "This coupon cannot be applied to your cart.",
}

// couponError maps a Store API failure to a shopper-facing message.
// Unknown codes keep the raw server message.
func couponError(code string, err error) error {
	var apiErr *wp.StoreAPIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("coupon %q: %w", code, err)
	}
	msg, ok := couponMessages[apiErr.Code]
	if !ok {
		msg = apiErr.Message
	}
	return &CouponError{Code: apiErr.Code, Message: msg}
}

// minorToMajor converts an integer-minor-unit money string to major units.
// Empty or unparseable values read as zero.
func minorToMajor(s string, minorUnit int) float64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if minorUnit <= 0 {
		minorUnit = 2
	}
	return n / math.Pow10(minorUnit)
}

// discountTotal resolves the cart discount with a fallback chain, since
// different WooCommerce versions populate different fields: the top-level
// total_discount, then discount_total, then the sum of per-coupon discounts.
func discountTotal(resp wp.CartResponse) float64 {
	unit := resp.Totals.CurrencyMinorUnit
	if populated(resp.Totals.TotalDiscount) {
		return minorToMajor(resp.Totals.TotalDiscount, unit)
	}
	if populated(resp.Totals.DiscountTotal) {
		return minorToMajor(resp.Totals.DiscountTotal, unit)
	}
	var sum float64
	for _, c := range resp.Coupons {
		sum += minorToMajor(c.Totals.TotalDiscount, c.Totals.CurrencyMinorUnit)
	}
	return sum
}

func populated(s string) bool { return s != "" && s != "0" }
