package tool

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

// Calculation is the calculator's output.
type Calculation struct {
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit,omitempty"`
}

// Calculator evaluates arithmetic expressions and unit conversions. It is
// pure and deterministic, so its results cache essentially forever.
type Calculator struct{}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator { return &Calculator{} }

// Spec implements Tool.
func (c *Calculator) Spec() Spec {
	return Spec{
		Name:       NameCalculator,
		Cacheable:  true,
		CacheTTL:   24 * 365 * time.Hour,
		Idempotent: true,
		// The expression may also arrive as raw query text.
		InputSchema: InputSchema{Args: map[string]ArgSpec{"expression": {Type: "string"}}},
	}
}

// Execute implements Tool. The expression comes from Args["expression"]
// when the planner extracted one, otherwise the raw query is used.
func (c *Calculator) Execute(_ context.Context, in Input) (any, error) {
	expr := in.Query
	if v, ok := in.Args["expression"].(string); ok && v != "" {
		expr = v
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("calculator: empty expression")
	}

	if calc, ok, err := convertUnits(expr); ok {
		return calc, err
	}

	value, err := evalExpr(expr)
	if err != nil {
		return nil, fmt.Errorf("calculator: %w", err)
	}
	return &Calculation{Expression: expr, Value: value}, nil
}

var convertPattern = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*([A-Za-z°]+)\s+(?:to|in)\s+([A-Za-z°]+)$`)

// toMeters and toKilograms hold factors into the base unit of each family.
var toMeters = map[string]float64{
	"mm": 0.001, "cm": 0.01, "m": 1, "km": 1000,
	"in": 0.0254, "ft": 0.3048, "yd": 0.9144, "mi": 1609.344,
}

var toKilograms = map[string]float64{
	"g": 0.001, "kg": 1, "oz": 0.028349523125, "lb": 0.45359237,
}

func convertUnits(expr string) (*Calculation, bool, error) {
	m := convertPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, false, nil
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, true, fmt.Errorf("calculator: bad number %q", m[1])
	}
	from, to := strings.ToLower(m[2]), strings.ToLower(m[3])

	if out, ok := convertVia(toMeters, value, from, to); ok {
		return &Calculation{Expression: expr, Value: out, Unit: to}, true, nil
	}
	if out, ok := convertVia(toKilograms, value, from, to); ok {
		return &Calculation{Expression: expr, Value: out, Unit: to}, true, nil
	}
	if out, ok := convertTemperature(value, from, to); ok {
		return &Calculation{Expression: expr, Value: out, Unit: to}, true, nil
	}
	return nil, true, fmt.Errorf("calculator: cannot convert %s to %s: %w", from, to, domain.ErrParse)
}

func convertVia(factors map[string]float64, value float64, from, to string) (float64, bool) {
	ff, okF := factors[from]
	tf, okT := factors[to]
	if !okF || !okT {
		return 0, false
	}
	return value * ff / tf, true
}

func convertTemperature(value float64, from, to string) (float64, bool) {
	norm := func(u string) string {
		return strings.TrimPrefix(strings.TrimPrefix(u, "°"), "deg")
	}
	from, to = norm(from), norm(to)

	var celsius float64
	switch from {
	case "c":
		celsius = value
	case "f":
		celsius = (value - 32) * 5 / 9
	case "k":
		celsius = value - 273.15
	default:
		return 0, false
	}
	switch to {
	case "c":
		return celsius, true
	case "f":
		return celsius*9/5 + 32, true
	case "k":
		return celsius + 273.15, true
	}
	return 0, false
}

// evalExpr evaluates an infix arithmetic expression with + - * / ^, unary
// minus, and parentheses, via shunting-yard into an RPN stack.
func evalExpr(expr string) (float64, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty expression")
	}

	var output []token
	var ops []token
	for _, t := range tokens {
		switch t.kind {
		case tokNum:
			output = append(output, t)
		case tokOp:
			for len(ops) > 0 && ops[len(ops)-1].kind == tokOp && yields(ops[len(ops)-1].op, t.op) {
				output = append(output, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			ops = append(ops, t)
		case tokLParen:
			ops = append(ops, t)
		case tokRParen:
			for {
				if len(ops) == 0 {
					return 0, fmt.Errorf("unbalanced parenthesis")
				}
				top := ops[len(ops)-1]
				ops = ops[:len(ops)-1]
				if top.kind == tokLParen {
					break
				}
				output = append(output, top)
			}
		}
	}
	for len(ops) > 0 {
		top := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if top.kind == tokLParen {
			return 0, fmt.Errorf("unbalanced parenthesis")
		}
		output = append(output, top)
	}

	var stack []float64
	for _, t := range output {
		if t.kind == tokNum {
			stack = append(stack, t.num)
			continue
		}
		if t.op == opNeg {
			if len(stack) < 1 {
				return 0, fmt.Errorf("malformed expression")
			}
			stack[len(stack)-1] = -stack[len(stack)-1]
			continue
		}
		if len(stack) < 2 {
			return 0, fmt.Errorf("malformed expression")
		}
		b, a := stack[len(stack)-1], stack[len(stack)-2]
		stack = stack[:len(stack)-2]
		var v float64
		switch t.op {
		case '+':
			v = a + b
		case '-':
			v = a - b
		case '*':
			v = a * b
		case '/':
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v = a / b
		case '^':
			v = math.Pow(a, b)
		}
		stack = append(stack, v)
	}
	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	if math.IsInf(stack[0], 0) || math.IsNaN(stack[0]) {
		return 0, fmt.Errorf("result out of range")
	}
	return stack[0], nil
}

type tokenKind int

const (
	tokNum tokenKind = iota
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	num  float64
	op   byte
}

// opNeg marks unary negation, which binds tighter than any binary operator.
const opNeg byte = 'u'

func precedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/':
		return 2
	case '^':
		return 3
	case opNeg:
		return 4
	}
	return 0
}

// yields reports whether the operator on the stack should be popped before
// pushing next. Exponentiation and negation are right-associative.
func yields(stacked, next byte) bool {
	if next == '^' || next == opNeg {
		return precedence(stacked) > precedence(next)
	}
	return precedence(stacked) >= precedence(next)
}

func tokenize(expr string) ([]token, error) {
	var out []token
	i := 0
	for i < len(expr) {
		ch := expr[i]
		switch {
		case ch == ' ' || ch == '\t':
			i++
		case ch >= '0' && ch <= '9' || ch == '.':
			j := i
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			num, err := strconv.ParseFloat(expr[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", expr[i:j])
			}
			out = append(out, token{kind: tokNum, num: num})
			i = j
		case ch == '(':
			out = append(out, token{kind: tokLParen})
			i++
		case ch == ')':
			out = append(out, token{kind: tokRParen})
			i++
		case ch == '+' || ch == '*' || ch == '/' || ch == '^':
			out = append(out, token{kind: tokOp, op: ch})
			i++
		case ch == '-':
			// Unary when at the start or after an operator/open paren.
			if len(out) == 0 || out[len(out)-1].kind == tokOp || out[len(out)-1].kind == tokLParen {
				out = append(out, token{kind: tokOp, op: opNeg})
			} else {
				out = append(out, token{kind: tokOp, op: '-'})
			}
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", ch)
		}
	}
	return out, nil
}
