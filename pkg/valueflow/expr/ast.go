package expr

import (
	"fmt"

	"github.com/shopspring/decimal"

	vferrors "github.com/django-rea/nrp-sub003/pkg/valueflow/errors"
)

// node is an arithmetic AST node.
type node interface {
	eval(vars Vars) (decimal.Decimal, error)
	String() string
}

type numberNode struct {
	value decimal.Decimal
}

func (n numberNode) eval(Vars) (decimal.Decimal, error) { return n.value, nil }
func (n numberNode) String() string                     { return n.value.String() }

type variableNode struct {
	name string
}

func (n variableNode) eval(vars Vars) (decimal.Decimal, error) {
	return vars[n.name], nil
}
func (n variableNode) String() string { return n.name }

type negateNode struct {
	operand node
}

func (n negateNode) eval(vars Vars) (decimal.Decimal, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}
func (n negateNode) String() string { return "(-" + n.operand.String() + ")" }

type binaryNode struct {
	op          tokenKind
	left, right node
}

func (n binaryNode) eval(vars Vars) (decimal.Decimal, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case tokPlus:
		return l.Add(r), nil
	case tokMinus:
		return l.Sub(r), nil
	case tokStar:
		return l.Mul(r), nil
	case tokSlash:
		if r.IsZero() {
			return decimal.Zero, fmt.Errorf("%s: %w", n.String(), vferrors.ErrDivisionByZero)
		}
		return l.Div(r), nil
	default:
		return decimal.Zero, fmt.Errorf("unknown operator %d", n.op)
	}
}

func (n binaryNode) String() string {
	op := map[tokenKind]string{tokPlus: "+", tokMinus: "-", tokStar: "*", tokSlash: "/"}[n.op]
	return "(" + n.left.String() + " " + op + " " + n.right.String() + ")"
}
