package expr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Variable names available to claim creation equations.
const (
	Quantity          = "quantity"
	ValuePerUnit      = "valuePerUnit"
	PricePerUnit      = "pricePerUnit"
	ValuePerUnitOfUse = "valuePerUnitOfUse"
	Value             = "value"
)

// Variables is the fixed variable set.
var Variables = []string{Quantity, ValuePerUnit, PricePerUnit, ValuePerUnitOfUse, Value}

// Vars binds variable names to values for one evaluation.
type Vars map[string]decimal.Decimal

// Expression is a compiled equation. It is immutable and safe for concurrent use.
type Expression struct {
	source string
	root   node
	used   []string
}

// Compile parses src against the fixed variable set.
func Compile(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(Variables))
	for _, v := range Variables {
		allowed[v] = true
	}
	p := &parser{tokens: tokens, allowed: allowed, used: make(map[string]bool)}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t)}
	}

	used := make([]string, 0, len(p.used))
	for name := range p.used {
		used = append(used, name)
	}
	slices.Sort(used)
	return &Expression{source: src, root: root, used: used}, nil
}

// MustCompile is like Compile but panics on error. Use it for equations
// fixed at build time.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether src compiles.
func Validate(src string) error {
	_, err := Compile(src)
	return err
}

// Eval evaluates the expression. Missing variables are zero.
func (e *Expression) Eval(vars Vars) (decimal.Decimal, error) {
	return e.root.eval(vars)
}

// Source returns the text the expression was compiled from.
func (e *Expression) Source() string {
	return e.source
}

// Uses returns the sorted variable names the expression references.
func (e *Expression) Uses() []string {
	return slices.Clone(e.used)
}

// String returns the fully parenthesized form of the expression.
func (e *Expression) String() string {
	return e.root.String()
}

// evaluate compiles and evaluates src in one step.
func evaluate(src string, vars Vars) (decimal.Decimal, error) {
	e, err := Compile(src)
	if err != nil {
		return decimal.Zero, err
	}
	return e.Eval(vars)
}

// SyntaxError reports a malformed expression.
type SyntaxError struct {
	Pos int
	Msg string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

// UnknownVariableError reports an identifier outside the fixed variable set.
type UnknownVariableError struct {
	Name string
	Pos  int
}

// Error implements the error interface.
func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q at %d (allowed: %s)", e.Name, e.Pos, strings.Join(Variables, ", "))
}
