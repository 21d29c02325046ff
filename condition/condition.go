// Package condition implements the small comparison and boolean language
// used by branching nodes. Expressions are compiled once and evaluated
// against an execution's recorded answers through a Resolver.
//
// Grammar: quoted string literals, unquoted identifiers of the form
// "ref.field", comparison operators == != < <= > >=, and logical && ||.
// Ordering operators coerce both operands to float64; equality compares raw
// resolved values; logical operators test operand truthiness directly.
package condition

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Resolver resolves an identifier "ref.field" to a recorded value. The
// second return reports whether the ref was found at all.
type Resolver interface {
	Resolve(ref, field string) (any, bool)
}

// Missing marks an identifier that resolved to nothing. It is deliberately
// not an evaluation failure: equality against it is simply false, and it is
// falsy. Ordering comparisons against it fail, as with any non-numeric
// operand.
type Missing struct{}

func (Missing) String() string { return "<missing>" }

// Program is a compiled expression.
type Program struct {
	src  string
	root node
}

// Compile parses an expression into an evaluable Program.
func Compile(_ context.Context, src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("compile %q: unexpected token %q", src, p.peek().text)
	}
	return &Program{src: src, root: root}, nil
}

// Evaluate runs the program and returns the truthiness of its result.
func (p *Program) Evaluate(r Resolver) (bool, error) {
	v, err := p.root.eval(r)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.src, err)
	}
	return truthy(v), nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.src }

type node interface {
	eval(r Resolver) (any, error)
}

type logicalNode struct {
	op          string // "&&" or "||"
	left, right node
}

func (n *logicalNode) eval(r Resolver) (any, error) {
	lv, err := n.left.eval(r)
	if err != nil {
		return nil, err
	}
	lt := truthy(lv)
	if n.op == "&&" && !lt {
		return false, nil
	}
	if n.op == "||" && lt {
		return true, nil
	}
	rv, err := n.right.eval(r)
	if err != nil {
		return nil, err
	}
	return truthy(rv), nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(r Resolver) (any, error) {
	lv, err := n.left.eval(r)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "==":
		return rawEqual(lv, rv), nil
	case "!=":
		return !rawEqual(lv, rv), nil
	}
	lf, err := toFloat(lv)
	if err != nil {
		return nil, fmt.Errorf("left operand of %q: %w", n.op, err)
	}
	rf, err := toFloat(rv)
	if err != nil {
		return nil, fmt.Errorf("right operand of %q: %w", n.op, err)
	}
	switch n.op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

type stringNode struct{ value string }

func (n *stringNode) eval(Resolver) (any, error) { return n.value, nil }

type identNode struct{ ref, field string }

func (n *identNode) eval(r Resolver) (any, error) {
	v, ok := r.Resolve(n.ref, n.field)
	if !ok {
		return Missing{}, nil
	}
	return v, nil
}

// rawEqual compares resolved values without coercion. Values of different
// dynamic types are unequal. Recorded answers may be non-comparable types
// (lists from multi-valued inputs), so plain interface equality is not safe
// here.
func rawEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", x)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("non-numeric value %v", v)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil, Missing:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		return true
	}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, src[i+1 : j]})
			i = j + 1
		case strings.HasPrefix(src[i:], "&&"), strings.HasPrefix(src[i:], "||"),
			strings.HasPrefix(src[i:], "=="), strings.HasPrefix(src[i:], "!="),
			strings.HasPrefix(src[i:], "<="), strings.HasPrefix(src[i:], ">="):
			toks = append(toks, token{tokOp, src[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			toks = append(toks, token{tokOp, string(c)})
			i++
		case isIdentChar(c):
			j := i
			for j < len(src) && (isIdentChar(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.pos++
		return &stringNode{value: t.text}, nil
	case tokIdent:
		p.pos++
		ref, field, ok := strings.Cut(t.text, ".")
		if !ok || ref == "" || field == "" {
			return nil, fmt.Errorf("identifier %q is not of the form ref.field", t.text)
		}
		return &identNode{ref: ref, field: field}, nil
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}
