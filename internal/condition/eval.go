package condition

import (
	"fmt"
	"math"

	flowerrors "github.com/meow-stack/storyflow/internal/errors"
)

// Eval evaluates an AST.
func Eval(n Node) (Value, error) {
	switch node := n.(type) {
	case *Lit:
		return node.Value, nil
	case *Unary:
		x, err := Eval(node.X)
		if err != nil {
			return Value{}, err
		}
		switch node.Op {
		case "!":
			return Bool(!x.Truthy()), nil
		case "-":
			return Number(-x.ToNumber()), nil
		case "+":
			return Number(x.ToNumber()), nil
		}
	case *Binary:
		return evalBinary(node)
	}
	return Value{}, flowerrors.Newf(flowerrors.CodeConditionEval, "unsupported expression node %T", n)
}

func evalBinary(n *Binary) (Value, error) {
	l, err := Eval(n.L)
	if err != nil {
		return Value{}, err
	}

	// Short-circuit operators yield an operand, not a coerced boolean.
	switch n.Op {
	case "&&":
		if !l.Truthy() {
			return l, nil
		}
		return Eval(n.R)
	case "||":
		if l.Truthy() {
			return l, nil
		}
		return Eval(n.R)
	}

	r, err := Eval(n.R)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case "===":
		return Bool(l.StrictEquals(r)), nil
	case "!==":
		return Bool(!l.StrictEquals(r)), nil
	case "<", ">", "<=", ">=":
		return compare(n.Op, l, r), nil
	case "+":
		if l.Kind == KindString || r.Kind == KindString {
			return String(l.ToString() + r.ToString()), nil
		}
		return Number(l.ToNumber() + r.ToNumber()), nil
	case "-":
		return Number(l.ToNumber() - r.ToNumber()), nil
	case "*":
		return Number(l.ToNumber() * r.ToNumber()), nil
	case "/":
		return Number(l.ToNumber() / r.ToNumber()), nil
	case "%":
		return Number(math.Mod(l.ToNumber(), r.ToNumber())), nil
	}
	return Value{}, flowerrors.Newf(flowerrors.CodeConditionEval, "unsupported operator %q", n.Op).
		WithDetail("offset", n.Offset)
}

// compare orders two strings lexically and anything else numerically.
// Comparisons involving NaN, including undefined operands, are false.
func compare(op string, l, r Value) Value {
	if l.Kind == KindString && r.Kind == KindString {
		switch op {
		case "<":
			return Bool(l.Str < r.Str)
		case ">":
			return Bool(l.Str > r.Str)
		case "<=":
			return Bool(l.Str <= r.Str)
		default:
			return Bool(l.Str >= r.Str)
		}
	}
	a, b := l.ToNumber(), r.ToNumber()
	if math.IsNaN(a) || math.IsNaN(b) {
		return Bool(false)
	}
	switch op {
	case "<":
		return Bool(a < b)
	case ">":
		return Bool(a > b)
	case "<=":
		return Bool(a <= b)
	default:
		return Bool(a >= b)
	}
}

// EvalBool evaluates an AST and requires a boolean result.
func EvalBool(expr string, n Node) (bool, error) {
	v, err := Eval(n)
	if err != nil {
		return false, err
	}
	if v.Kind != KindBool {
		return false, flowerrors.ConditionNotBoolean(expr, fmt.Sprintf("%s (%s)", v.Kind, v.Literal()))
	}
	return v.Bool, nil
}
