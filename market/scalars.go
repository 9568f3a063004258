package market

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"
)

// FeeRateScale is the fixed-point scale of fee rates.
const FeeRateScale = 100_000_000

// jsonScalar returns the text of a JSON number or string.
func jsonScalar(b []byte) (string, error) {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if string(b) == "null" {
		return "", fmt.Errorf("unexpected null")
	}
	return string(b), nil
}

// Quantity is a non-negative integer that decodes from a JSON number or decimal string.
type Quantity int64

func (q *Quantity) UnmarshalJSON(b []byte) error {
	s, err := jsonScalar(b)
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("quantity %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("quantity %q is negative", s)
	}
	*q = Quantity(v)
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(q), 10))
}

// Amount is a non-negative integer of arbitrary size kept in decimal form,
// such as a price in the smallest coin unit.
type Amount string

// ParseAmount validates and normalizes a decimal amount.
func ParseAmount(s string) (Amount, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return "", fmt.Errorf("amount %q is not a decimal integer", s)
	}
	if n.Sign() < 0 {
		return "", fmt.Errorf("amount %q is negative", s)
	}
	return Amount(n.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s, err := jsonScalar(b)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

func (a Amount) String() string { return string(a) }

// Seconds is a Unix timestamp in seconds.
type Seconds int64

func (s Seconds) Time() time.Time { return time.Unix(int64(s), 0).UTC() }

func (s *Seconds) UnmarshalJSON(b []byte) error {
	v, err := unmarshalTimestamp(b)
	*s = Seconds(v)
	return err
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(s), 10))
}

// Micros is a Unix timestamp in microseconds.
type Micros int64

func (m Micros) Time() time.Time { return time.UnixMicro(int64(m)).UTC() }

func (m *Micros) UnmarshalJSON(b []byte) error {
	v, err := unmarshalTimestamp(b)
	*m = Micros(v)
	return err
}

func (m Micros) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(m), 10))
}

func unmarshalTimestamp(b []byte) (int64, error) {
	s, err := jsonScalar(b)
	if err != nil {
		return 0, fmt.Errorf("timestamp: %w", err)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return v, nil
}

// FeeRate converts numerator/denominator to a fixed-point integer scaled by
// FeeRateScale, rounding down: floor(1e8 * numerator / denominator).
func FeeRate(numerator, denominator Quantity) (Amount, error) {
	if denominator == 0 {
		return "", fmt.Errorf("fee rate %d/0: zero denominator", numerator)
	}
	n := new(big.Int).Mul(big.NewInt(FeeRateScale), big.NewInt(int64(numerator)))
	n.Quo(n, big.NewInt(int64(denominator)))
	return Amount(n.String()), nil
}
