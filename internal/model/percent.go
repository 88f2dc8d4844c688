package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Percent は小数点以下2桁の固定小数点パーセンテージを表す。
// 内部値は1/100単位の整数で、有効範囲は 0 (0.00) から 10000 (100.00)。
// DBではNUMERIC(5,2)列に文字列表現で保存する。
type Percent int32

const (
	// MinPercent は0.00%を表す。
	MinPercent Percent = 0
	// MaxPercent は100.00%を表す。
	MaxPercent Percent = 10000
)

// ParsePercent は "87.5" や "100.00" のような10進表記をPercentに変換する。
// 小数部が3桁以上ある値は丸めずにエラーとする。範囲外の値はパース自体は成功する。
func ParsePercent(s string) (Percent, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty percentage")
	}

	sign, digits := "", s
	switch s[0] {
	case '-':
		sign, digits = "-", s[1:]
	case '+':
		digits = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(digits, ".")
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("invalid percentage: %q", s)
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return 0, fmt.Errorf("invalid percentage: %q", s)
	}
	if len(fracPart) > 2 {
		return 0, fmt.Errorf("percentage %q has more than 2 fractional digits", s)
	}
	if intPart == "" {
		intPart = "0"
	}
	normalized := sign + intPart
	if fracPart != "" {
		normalized += "." + fracPart
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	if d.Abs().GreaterThan(maxRepresentable) {
		return 0, fmt.Errorf("percentage %q out of representable range", s)
	}
	return Percent(d.Shift(2).IntPart()), nil
}

// maxRepresentable はPercentに格納できる絶対値の上限。
var maxRepresentable = decimal.NewFromInt(1 << 20)

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// MustPercent はParsePercentのpanic版。テストや定数定義用。
func MustPercent(s string) Percent {
	p, err := ParsePercent(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Valid は値が [0.00, 100.00] の範囲内かを返す。
func (p Percent) Valid() bool {
	return p >= MinPercent && p <= MaxPercent
}

// String は常に小数点以下2桁の表記を返す（例: "87.50"）。
func (p Percent) String() string {
	return p.Decimal().StringFixed(2)
}

// Decimal はパーセンテージをdecimal.Decimalとして返す。
func (p Percent) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -2)
}

// MarshalJSON はJSON数値として小数点以下2桁で出力する。
func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalJSON はJSON数値または数値文字列を受け付ける。
func (p *Percent) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("percentage must not be null")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	if strings.ContainsAny(raw, "eE") {
		return fmt.Errorf("percentage %q must not use exponent notation", raw)
	}
	v, err := ParsePercent(raw)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Value はdatabase/sqlのdriver.Valuerを実装する。
func (p Percent) Value() (driver.Value, error) {
	return p.String(), nil
}

// Scan はdatabase/sqlのScannerを実装する。lib/pqはNUMERICを[]byteで返す。
func (p *Percent) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		parsed, err := ParsePercent(string(v))
		if err != nil {
			return err
		}
		*p = parsed
	case string:
		parsed, err := ParsePercent(v)
		if err != nil {
			return err
		}
		*p = parsed
	case int64:
		*p = Percent(decimal.NewFromInt(v).Shift(2).IntPart())
	case nil:
		return fmt.Errorf("cannot scan NULL into Percent")
	default:
		return fmt.Errorf("cannot scan %T into Percent", src)
	}
	return nil
}
