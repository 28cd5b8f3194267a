/*
Package expr evaluates claim creation equations.

# Overview

A claim creation equation turns an event's attributes into the value of the
claim created from it. Equations are parsed into a small arithmetic AST and
evaluated over decimals. Nothing is executed dynamically.

# Expression Syntax

	<expr>   := <term> (('+' | '-') <term>)*
	<term>   := <unary> (('*' | '/') <unary>)*
	<unary>  := '-' <unary> | <atom>
	<atom>   := number | identifier | '(' <expr> ')'

Numbers are decimal literals (42, 0.25). Identifiers must come from the fixed
variable set:

	quantity            event quantity
	valuePerUnit        value per unit of the event's resource or type
	pricePerUnit        price per unit recorded on the event
	valuePerUnitOfUse   value per unit of use of the resource
	value               event value

Any other identifier is an UnknownVariableError at compile time.

# Examples

	e, err := expr.Compile("quantity * valuePerUnit * 1.5")
	if err != nil {
	    return err
	}
	v, err := e.Eval(expr.Vars{
	    expr.Quantity:     decimal.NewFromInt(10),
	    expr.ValuePerUnit: decimal.NewFromInt(20),
	}) // 300

Variables that are allowed but not supplied evaluate to zero. Division by zero
returns an error wrapping errors.ErrDivisionByZero; callers treat it as a zero
contribution.
*/
package expr
