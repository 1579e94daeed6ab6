package common

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd"
)

// EtherDecimals is the number of decimals of ether and of ERC-20 tokens
// such as LINK.
const EtherDecimals = 18

var decimalContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(100)
	c.Rounding = apd.RoundHalfUp
	return c
}()

// ToWei converts a decimal amount of ether (e.g. "0.0125") into wei.
// Amounts with more than 18 decimals are rejected.
func ToWei(ether string) (*big.Int, error) {
	d, _, err := apd.NewFromString(ether)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", ether, err)
	}
	if _, err = decimalContext.Mul(d, d, apd.New(1, EtherDecimals)); err != nil {
		return nil, fmt.Errorf("scaling amount %q: %w", ether, err)
	}
	var wei apd.Decimal
	cond, err := decimalContext.Quantize(&wei, d, 0)
	if err != nil {
		return nil, fmt.Errorf("quantizing amount %q: %w", ether, err)
	}
	if cond.Inexact() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", ether, EtherDecimals)
	}
	v := new(big.Int).Set(&wei.Coeff)
	if wei.Negative {
		v.Neg(v)
	}
	return v, nil
}

// MustToWei is ToWei for constants.
func MustToWei(ether string) *big.Int {
	v, err := ToWei(ether)
	if err != nil {
		panic(err)
	}
	return v
}

// FromWei renders a wei amount as ether, without trailing zeros.
func FromWei(wei *big.Int) string {
	d := apd.NewWithBigInt(new(big.Int).Set(wei), -EtherDecimals)
	d.Reduce(d)
	return d.Text('f')
}

// FromWeiFixed renders a wei amount as ether with exactly places decimals,
// rounding half up.
func FromWeiFixed(wei *big.Int, places int32) (string, error) {
	d := apd.NewWithBigInt(new(big.Int).Set(wei), -EtherDecimals)
	var out apd.Decimal
	if _, err := decimalContext.Quantize(&out, d, -places); err != nil {
		return "", fmt.Errorf("quantizing %s: %w", wei, err)
	}
	return out.Text('f'), nil
}
