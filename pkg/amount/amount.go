// Package amount implements the fixed-point credit unit used by the ledger.
//
// An Amount counts micro-credits, so every ledger operation is exact integer
// arithmetic and values are only formatted to display precision at the edges.
package amount

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Amount is a quantity of credits expressed in micro-credits.
type Amount int64

// Scale is the number of micro-credits in one credit.
const Scale = 1_000_000

const scaleDigits = 6

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrOverflow      = errors.New("amount_overflow")
)

// Zero is the empty amount.
const Zero Amount = 0

// FromCredits builds an Amount from whole credits.
func FromCredits(credits int64) Amount {
	return Amount(credits * Scale)
}

// FromFloat converts a float credit value, rounding half away from zero to the
// nearest micro-credit. It is meant for configuration values only.
func FromFloat(credits float64) Amount {
	return Amount(math.Round(credits * Scale))
}

// Parse reads a decimal string such as "12", "0.25" or "-3.000001".
func Parse(raw string) (Amount, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if strings.ContainsAny(whole, "+-") || strings.ContainsAny(frac, "+-") {
		return 0, ErrInvalidAmount
	}
	if len(frac) > scaleDigits {
		return 0, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, scaleDigits)
	}
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	var f int64
	if frac != "" {
		f, err = strconv.ParseInt(frac+strings.Repeat("0", scaleDigits-len(frac)), 10, 64)
		if err != nil || f < 0 {
			return 0, ErrInvalidAmount
		}
	}
	if w > (math.MaxInt64-f)/Scale {
		return 0, ErrOverflow
	}
	v := w*Scale + f
	if negative {
		v = -v
	}
	return Amount(v), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) Amount {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b, failing on overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// Sub returns a-b, failing on overflow.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b == math.MinInt64 {
		return 0, ErrOverflow
	}
	return a.Add(-b)
}

// MulDiv computes a*num/den rounded half up, without intermediate overflow for
// the token counts and rates this service handles.
func MulDiv(a Amount, num, den int64) Amount {
	if den == 0 {
		return 0
	}
	p := int64(a) * num
	q := p / den
	r := p % den
	if r*2 >= den {
		q++
	}
	return Amount(q)
}

func (a Amount) IsNegative() bool { return a < 0 }

func (a Amount) IsZero() bool { return a == 0 }

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// CeilCredits rounds up to the next whole credit.
func (a Amount) CeilCredits() Amount {
	if a%Scale == 0 {
		return a
	}
	if a > 0 {
		return (a/Scale + 1) * Scale
	}
	return (a / Scale) * Scale
}

// Float64 is for display and metrics only.
func (a Amount) Float64() float64 {
	return float64(a) / Scale
}

// String prints the exact value trimmed of trailing zeros.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / Scale
	frac := v % Scale
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}
	fs := fmt.Sprintf("%06d", frac)
	fs = strings.TrimRight(fs, "0")
	return sign + strconv.FormatInt(whole, 10) + "." + fs
}

// Format prints the value rounded half up to the given number of places.
func (a Amount) Format(places int) string {
	if places < 0 {
		places = 0
	}
	if places > scaleDigits {
		places = scaleDigits
	}
	step := int64(math.Pow10(scaleDigits - places))
	v := int64(a)
	neg := v < 0
	if neg {
		v = -v
	}
	v = (v + step/2) / step
	p := int64(math.Pow10(places))
	s := strconv.FormatInt(v/p, 10)
	if places > 0 {
		s += "." + fmt.Sprintf("%0*d", places, v%p)
	}
	if neg && v != 0 {
		s = "-" + s
	}
	return s
}

// MarshalJSON encodes the exact value as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
