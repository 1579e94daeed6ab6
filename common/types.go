package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Arbitrary-precision integer. Wrapper around big.Int to allow for
// custom JSON marshaling and for storage in NUMERIC columns.
type BigInt struct {
	big.Int
}

func NewBigInt(v int64) BigInt {
	return BigInt{*big.NewInt(v)}
}

// BigIntFromInt copies v. A nil v yields zero.
func BigIntFromInt(v *big.Int) BigInt {
	var b BigInt
	if v != nil {
		b.Int.Set(v)
	}
	return b
}

func (b BigInt) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *BigInt) UnmarshalText(text []byte) error {
	return b.Int.UnmarshalText(text)
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, b.String())), nil
}

func (b *BigInt) UnmarshalJSON(text []byte) error {
	v := strings.Trim(string(text), "\"")
	return b.Int.UnmarshalJSON([]byte(v))
}

// ScanNumeric implements pgtype.NumericScanner.
func (b *BigInt) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		return fmt.Errorf("NULL values can't be decoded. Scan into a **BigInt to handle NULLs")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("cannot convert %v to integer", n)
	}
	v, err := numericToBigInt(n)
	if err != nil {
		return err
	}
	b.Int.Set(v)
	return nil
}

// NumericValue implements pgtype.NumericValuer.
func (b BigInt) NumericValue() (pgtype.Numeric, error) {
	return pgtype.Numeric{Int: new(big.Int).Set(&b.Int), Exp: 0, Valid: true}, nil
}

func numericToBigInt(n pgtype.Numeric) (*big.Int, error) {
	bi := new(big.Int)
	if n.Int != nil {
		bi.Set(n.Int)
	}
	if n.Exp == 0 {
		return bi, nil
	}

	big10 := big.NewInt(10)
	if n.Exp > 0 {
		mul := new(big.Int).Exp(big10, big.NewInt(int64(n.Exp)), nil)
		return bi.Mul(bi, mul), nil
	}

	div := new(big.Int).Exp(big10, big.NewInt(int64(-n.Exp)), nil)
	remainder := new(big.Int)
	bi.QuoRem(bi, div, remainder)
	if remainder.Sign() != 0 {
		return nil, fmt.Errorf("cannot convert %v to integer", n)
	}
	return bi, nil
}

// Key used to set values in a web request context. API uses this to set
// values, handlers use this to retrieve values.
type ContextKey string

const (
	// RequestIDContextKey is used to set a request id for tracing
	// in a request context.
	RequestIDContextKey ContextKey = "request_id"
)
