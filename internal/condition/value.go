package condition

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the type of an expression value.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	return "undefined"
}

// Value is a runtime expression value.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

func Undefined() Value       { return Value{Kind: KindUndefined} }
func Null() Value            { return Value{Kind: KindNull} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }

// Truthy follows the usual scripting rules: false, 0, NaN, "", null and
// undefined are falsy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num != 0 && !math.IsNaN(v.Num)
	case KindString:
		return v.Str != ""
	}
	return false
}

// ToNumber converts for arithmetic and relational operators. NaN is
// returned for values with no numeric reading.
func (v Value) ToNumber() float64 {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		if v.Bool {
			return 1
		}
		return 0
	case KindNull:
		return 0
	case KindString:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return 0
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return n
	}
	return math.NaN()
}

// ToString converts for string concatenation.
func (v Value) ToString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return formatNumber(v.Num)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNull:
		return "null"
	}
	return "undefined"
}

// Literal renders the value as expression source.
func (v Value) Literal() string {
	if v.Kind == KindString {
		return quote(v.Str)
	}
	return v.ToString()
}

// StrictEquals is ===: same kind and same value. NaN equals nothing.
func (v Value) StrictEquals(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindBool:
		return v.Bool == o.Bool
	case KindNumber:
		return v.Num == o.Num
	case KindString:
		return v.Str == o.Str
	}
	return true
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
