// Package formula implements the RPN expression language that turns one or
// more telemetry channel values into a single numeric output. Expressions
// are parsed once, validated against a fixed operator arity table, and
// evaluated strictly left to right over a float stack.
package formula

// TokenKind discriminates the closed set of token variants.
type TokenKind int

const (
	// TokenLiteral is a literal number.
	TokenLiteral TokenKind = iota
	// TokenChannelRef references a telemetry channel by dotted/slashed path,
	// written {$some/channel/path$} in the source expression.
	TokenChannelRef
	// TokenOperator is one of the fixed operator symbols.
	TokenOperator
)

// Operator identifies an operator symbol.
type Operator string

// Supported operators.
const (
	OpAdd   Operator = "+"
	OpSub   Operator = "-"
	OpMul   Operator = "*"
	OpDiv   Operator = "/"
	OpMod   Operator = "%"
	OpFloor Operator = "floor"
	OpCeil  Operator = "ceil"
	OpRound Operator = "round"
	OpAbs   Operator = "abs"
	OpEq    Operator = "eq"
	OpNot   Operator = "not"
)

// arity maps each operator to the number of operands it pops. Parsing
// validates expressions against this table so malformed formulas are
// rejected at catalog load time, not at evaluation time.
var arity = map[Operator]int{
	OpAdd:   2,
	OpSub:   2,
	OpMul:   2,
	OpDiv:   2,
	OpMod:   2,
	OpFloor: 1,
	OpCeil:  1,
	OpRound: 2, // value, then rounding factor on top
	OpAbs:   1,
	OpEq:    2,
	OpNot:   1,
}

// Token is one element of a parsed expression.
type Token struct {
	Kind    TokenKind
	Literal float64  // valid when Kind == TokenLiteral
	Channel string   // valid when Kind == TokenChannelRef
	Op      Operator // valid when Kind == TokenOperator
}
