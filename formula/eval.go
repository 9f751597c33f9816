package formula

import (
	"fmt"
	"math"

	"github.com/airdeck/skybridge/errors"
)

// Eval evaluates the formula against the supplied channel values. Evaluation
// is pure: identical inputs always yield identical output. Channels absent
// from vars substitute 0.0, matching the behavior the UI boundary expects
// before a first sample arrives.
func (f *Formula) Eval(vars map[string]float64) (float64, error) {
	stack := make([]float64, 0, len(f.tokens))

	push := func(v float64) { stack = append(stack, v) }
	pop := func() float64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for _, tok := range f.tokens {
		switch tok.Kind {
		case TokenLiteral:
			push(tok.Literal)

		case TokenChannelRef:
			push(vars[tok.Channel])

		case TokenOperator:
			// Arity was validated at parse time; pops cannot underflow here.
			switch tok.Op {
			case OpAdd:
				b, a := pop(), pop()
				push(a + b)
			case OpSub:
				b, a := pop(), pop()
				push(a - b)
			case OpMul:
				b, a := pop(), pop()
				push(a * b)
			case OpDiv:
				b, a := pop(), pop()
				if b == 0 {
					return 0, errors.WrapEvaluation(
						fmt.Errorf("%w: %v / 0", errors.ErrDivisionByZero, a),
						"formula", "Eval", "divide")
				}
				push(a / b)
			case OpMod:
				b, a := pop(), pop()
				if b == 0 {
					return 0, errors.WrapEvaluation(
						fmt.Errorf("%w: %v %% 0", errors.ErrDivisionByZero, a),
						"formula", "Eval", "modulo")
				}
				push(math.Mod(a, b))
			case OpFloor:
				push(math.Floor(pop()))
			case OpCeil:
				push(math.Ceil(pop()))
			case OpAbs:
				push(math.Abs(pop()))
			case OpRound:
				factor, v := pop(), pop()
				push(RoundTo(v, int(factor)))
			case OpEq:
				b, a := pop(), pop()
				if a == b {
					push(1.0)
				} else {
					push(0.0)
				}
			case OpNot:
				if pop() == 0.0 {
					push(1.0)
				} else {
					push(0.0)
				}
			default:
				return 0, errors.WrapEvaluation(
					fmt.Errorf("%w: %q", errors.ErrUnknownToken, tok.Op),
					"formula", "Eval", "operator dispatch")
			}
		}
	}

	return stack[len(stack)-1], nil
}

// RoundTo rounds v to the given number of decimal digits using round-half-even
// (banker's rounding). Negative digit counts clamp to zero. The same mode is
// used by the dataref registry's debounce so the two layers agree on what a
// change is.
func RoundTo(v float64, digits int) float64 {
	if digits < 0 {
		digits = 0
	}
	scale := math.Pow(10, float64(digits))
	return math.RoundToEven(v*scale) / scale
}
