// Package expr implements the restricted state-expression language used by
// "#@state=" directives. Expressions are compiled to an AST by a
// recursive-descent parser and evaluated by an explicit tree-walking
// interpreter. There is no host-language escape hatch: the only names an
// expression can reach are the fixed scope literals and player properties
// resolved through a caller-supplied resolver.
//
// Grammar (precedence low to high):
//
//	or    := and { "||" and }
//	and   := eq { "&&" eq }
//	eq    := cmp { ("==" | "!=") cmp }
//	cmp   := add { ("<" | "<=" | ">" | ">=") add }
//	add   := mul { ("+" | "-") mul }
//	mul   := unary { ("*" | "/") unary }
//	unary := [ "!" | "-" ] primary
//	primary := number | string | ident | "(" or ")"
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the result of an evaluation: nil, bool, float64, or string.
type Value = any

// Resolver maps a property name to its current value. Returning nil means
// the property is absent.
type Resolver func(name string) Value

// fixedScope holds identifiers resolved before any property lookup.
var fixedScope = map[string]Value{
	"true":  true,
	"false": false,
	"yes":   true,
	"no":    false,
	"nil":   nil,
}

// node is an AST node.
type node interface {
	eval(res Resolver) (Value, error)
}

type literal struct{ value Value }

func (n literal) eval(Resolver) (Value, error) { return n.value, nil }

type ident struct{ name string }

func (n ident) eval(res Resolver) (Value, error) {
	if v, ok := fixedScope[n.name]; ok {
		return v, nil
	}
	// Identifiers with underscores name hyphenated properties.
	return res(strings.ReplaceAll(n.name, "_", "-")), nil
}

type unary struct {
	op    string
	right node
}

func (n unary) eval(res Resolver) (Value, error) {
	v, err := n.right.eval(res)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "!":
		return !Truthy(v), nil
	case "-":
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T value", v)
		}
		return -f, nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

type binary struct {
	op          string
	left, right node
}

func (n binary) eval(res Resolver) (Value, error) {
	// Short-circuit logic evaluates the right side lazily so conditional
	// property reads only register the dependencies actually taken.
	switch n.op {
	case "||":
		left, err := n.left.eval(res)
		if err != nil {
			return nil, err
		}
		if Truthy(left) {
			return left, nil
		}
		return n.right.eval(res)
	case "&&":
		left, err := n.left.eval(res)
		if err != nil {
			return nil, err
		}
		if !Truthy(left) {
			return left, nil
		}
		return n.right.eval(res)
	}

	left, err := n.left.eval(res)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(res)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return equal(left, right), nil
	case "!=":
		return !equal(left, right), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, left, right)
	case "+", "-", "*", "/":
		return arithmetic(n.op, left, right)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

// Program is a compiled expression.
type Program struct {
	src  string
	root node
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.src }

// Eval evaluates the expression against a resolver.
func (p *Program) Eval(res Resolver) (Value, error) {
	return p.root.eval(res)
}

// Compile parses an expression into a Program.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q", p.peek().text)
	}

	return &Program{src: src, root: root}, nil
}

// Truthy converts a value to its boolean interpretation. Player properties
// surface as strings more often than not, so "no"/"false"/"" count as false.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "no" && t != "false"
	default:
		f, ok := toFloat(v)
		if ok {
			return f != 0
		}
		return true
	}
}

// Flags maps an evaluation result to the canonical set of state flags:
// boolean true yields {checked}, false and nil yield the empty set, and a
// non-boolean-ish string is split on commas into discrete flag names.
func Flags(v Value) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		if t {
			return []string{"checked"}
		}
		return nil
	case string:
		// Boolean-ish property values map through truthiness rather than
		// being taken as literal flag names.
		switch t {
		case "yes", "true":
			return []string{"checked"}
		case "", "no", "false":
			return nil
		}
		var flags []string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				flags = append(flags, part)
			}
		}
		return flags
	default:
		if Truthy(v) {
			return []string{"checked"}
		}
		return nil
	}
}

func toFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func equal(a, b Value) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if ab, ok := a.(bool); ok {
		return ab == Truthy(b)
	}
	if bb, ok := b.(bool); ok {
		return Truthy(a) == bb
	}
	return a == b
}

func compare(op string, a, b Value) (Value, error) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return orderResult(op, strings.Compare(as, bs)), nil
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot compare %T with %T", a, b)
	}

	switch {
	case af < bf:
		return orderResult(op, -1), nil
	case af > bf:
		return orderResult(op, 1), nil
	default:
		return orderResult(op, 0), nil
	}
}

func orderResult(op string, cmp int) bool {
	switch op {
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	default:
		return cmp >= 0
	}
}

func arithmetic(op string, a, b Value) (Value, error) {
	if op == "+" {
		if as, ok := a.(string); ok {
			if bs, ok := b.(string); ok {
				return as + bs, nil
			}
		}
	}

	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, fmt.Errorf("cannot apply %q to %T and %T", op, a, b)
	}

	switch op {
	case "+":
		return af + bf, nil
	case "-":
		return af - bf, nil
	case "*":
		return af * bf, nil
	default:
		if bf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return af / bf, nil
	}
}
