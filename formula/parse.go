package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/airdeck/skybridge/errors"
)

// Formula is an immutable parsed expression. It is safe for concurrent use.
type Formula struct {
	text   string
	tokens []Token
	refs   []string
}

// Parse tokenizes and validates an RPN expression. Tokens are separated by
// single spaces; channel references are written {$path$}. Validation
// simulates stack depth against the operator arity table: an operator with
// insufficient operands, an unrecognized token, or a final stack depth other
// than one all fail with a malformed-formula error.
func Parse(text string) (*Formula, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: empty expression", errors.ErrInvalidFormula),
			"formula", "Parse", "tokenize")
	}

	tokens := make([]Token, 0, len(fields))
	var refs []string
	seen := make(map[string]bool)
	depth := 0

	for _, field := range fields {
		switch {
		case strings.HasPrefix(field, "{$") && strings.HasSuffix(field, "$}"):
			path := field[2 : len(field)-2]
			if path == "" {
				return nil, errors.WrapCatalog(
					fmt.Errorf("%w: empty channel reference", errors.ErrInvalidFormula),
					"formula", "Parse", "channel reference")
			}
			tokens = append(tokens, Token{Kind: TokenChannelRef, Channel: path})
			if !seen[path] {
				seen[path] = true
				refs = append(refs, path)
			}
			depth++

		case isOperator(field):
			op := Operator(field)
			need := arity[op]
			if depth < need {
				return nil, errors.WrapCatalog(
					fmt.Errorf("%w: operator %q needs %d operands, stack has %d",
						errors.ErrStackUnderflow, field, need, depth),
					"formula", "Parse", "arity check")
			}
			tokens = append(tokens, Token{Kind: TokenOperator, Op: op})
			depth = depth - need + 1

		default:
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.WrapCatalog(
					fmt.Errorf("%w: %q", errors.ErrUnknownToken, field),
					"formula", "Parse", "tokenize")
			}
			tokens = append(tokens, Token{Kind: TokenLiteral, Literal: v})
			depth++
		}
	}

	if depth != 1 {
		return nil, errors.WrapCatalog(
			fmt.Errorf("%w: expression leaves %d values on the stack", errors.ErrInvalidFormula, depth),
			"formula", "Parse", "depth check")
	}

	return &Formula{text: text, tokens: tokens, refs: refs}, nil
}

func isOperator(s string) bool {
	_, ok := arity[Operator(s)]
	return ok
}

// String returns the source expression.
func (f *Formula) String() string { return f.text }

// Refs returns the referenced channel paths in order of first appearance.
// The returned slice is shared; callers must not mutate it.
func (f *Formula) Refs() []string { return f.refs }
