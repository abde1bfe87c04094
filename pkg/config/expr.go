package config

import (
	"fmt"
	"strconv"

	"go.starlark.net/syntax"

	"github.com/cellxform/cellxform/pkg/model"
)

// exprFunctions maps call names to Apply operators. Names not listed are
// passed through unchanged.
var exprFunctions = map[string]string{
	"pow": "^",
	"log": "ln",
}

// ParseExpr parses right-hand-side text into an expression tree.
//
// The grammar is the Starlark expression grammar restricted to arithmetic:
// + - * / and ^ (power), unary minus, parentheses, numbers, names and calls.
// A dotted name such as membrane.V is a qualified reference "membrane,V".
// units(value, "name") is a literal with units.
func ParseExpr(src string) (model.Expr, error) {
	return parseExpr("rhs", src)
}

func parseExpr(filename, src string) (model.Expr, error) {
	node, err := syntax.ParseExpr(filename, src, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", src, err)
	}
	expr, err := convertExpr(node)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	return expr, nil
}

func convertExpr(node syntax.Expr) (model.Expr, error) {
	switch n := node.(type) {
	case *syntax.ParenExpr:
		return convertExpr(n.X)

	case *syntax.Ident:
		return model.Ref(n.Name), nil

	case *syntax.DotExpr:
		ns, ok := n.X.(*syntax.Ident)
		if !ok {
			return nil, fmt.Errorf("qualified names take the form namespace.name")
		}
		return model.Ref(model.VarRef{Namespace: ns.Name, Name: n.Name.Name}.String()), nil

	case *syntax.Literal:
		value, err := literalValue(n)
		if err != nil {
			return nil, err
		}
		return model.Num(value, ""), nil

	case *syntax.UnaryExpr:
		x, err := convertExpr(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case syntax.MINUS:
			if lit, ok := x.(*model.Literal); ok {
				return model.Num(-lit.Value, lit.Units), nil
			}
			return model.Op("-", x), nil
		case syntax.PLUS:
			return x, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %s", n.Op)

	case *syntax.BinaryExpr:
		op, ok := binaryOperators[n.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %s", n.Op)
		}
		x, err := convertExpr(n.X)
		if err != nil {
			return nil, err
		}
		y, err := convertExpr(n.Y)
		if err != nil {
			return nil, err
		}
		return model.Op(op, x, y), nil

	case *syntax.CallExpr:
		return convertCall(n)
	}
	return nil, fmt.Errorf("unsupported expression %T", node)
}

var binaryOperators = map[syntax.Token]string{
	syntax.PLUS:       "+",
	syntax.MINUS:      "-",
	syntax.STAR:       "*",
	syntax.SLASH:      "/",
	syntax.CIRCUMFLEX: "^",
}

func convertCall(call *syntax.CallExpr) (model.Expr, error) {
	fn, ok := call.Fn.(*syntax.Ident)
	if !ok {
		return nil, fmt.Errorf("only plain function names can be called")
	}
	for _, arg := range call.Args {
		if bin, ok := arg.(*syntax.BinaryExpr); ok && bin.Op == syntax.EQ {
			return nil, fmt.Errorf("%s: keyword arguments are not supported", fn.Name)
		}
	}

	if fn.Name == "units" {
		return unitsLiteral(call)
	}

	operands := make([]model.Expr, len(call.Args))
	for i, arg := range call.Args {
		x, err := convertExpr(arg)
		if err != nil {
			return nil, err
		}
		operands[i] = x
	}
	name := fn.Name
	if mapped, ok := exprFunctions[name]; ok {
		name = mapped
	}
	if name == "^" && len(operands) != 2 {
		return nil, fmt.Errorf("pow takes 2 arguments, got %d", len(operands))
	}
	return model.Op(name, operands...), nil
}

func unitsLiteral(call *syntax.CallExpr) (model.Expr, error) {
	if len(call.Args) != 2 {
		return nil, fmt.Errorf("units takes a number and a units name")
	}
	num, err := convertExpr(call.Args[0])
	if err != nil {
		return nil, err
	}
	lit, ok := num.(*model.Literal)
	if !ok {
		return nil, fmt.Errorf("units applies to numeric literals only")
	}
	name, ok := call.Args[1].(*syntax.Literal)
	if !ok || name.Token != syntax.STRING {
		return nil, fmt.Errorf("units name must be a string")
	}
	return model.Num(lit.Value, name.Value.(string)), nil
}

func literalValue(lit *syntax.Literal) (float64, error) {
	switch lit.Token {
	case syntax.INT:
		if v, ok := lit.Value.(int64); ok {
			return float64(v), nil
		}
		// Big integers keep their raw text.
		return strconv.ParseFloat(lit.Raw, 64)
	case syntax.FLOAT:
		return lit.Value.(float64), nil
	}
	return 0, fmt.Errorf("unexpected %s literal", lit.Token)
}
