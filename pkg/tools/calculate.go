package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"

	"github.com/agentkernel/gateway/pkg/policy"
)

type calculateArgs struct {
	Expression string `json:"expression"`
}

// CalculateTool evaluates a constant arithmetic expression. It has no
// file/network/shell surface, so PolicyRequest returns nil — the task
// router treats a nil Request as "no policy gate applies" and goes
// straight to the approval rule.
type CalculateTool struct{}

func (CalculateTool) Definition() Definition {
	return Definition{ID: "builtin:calculate", Description: "Evaluate an arithmetic expression", Category: "compute", RequiresConfirmation: false}
}

func (CalculateTool) PolicyRequest(json.RawMessage) (policy.Request, error) {
	return nil, nil
}

func (CalculateTool) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	var a calculateArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	expr, err := parser.ParseExpr(a.Expression)
	if err != nil {
		return nil, fmt.Errorf("builtin:calculate: %w", err)
	}
	val, err := evalConst(expr)
	if err != nil {
		return nil, fmt.Errorf("builtin:calculate: %w", err)
	}
	switch val.Kind() {
	case constant.Int:
		n, _ := constant.Int64Val(val)
		return map[string]any{"result": n}, nil
	default:
		f, _ := constant.Float64Val(val)
		return map[string]any{"result": f}, nil
	}
}

// evalConst folds a go/parser expression tree of literals, parens, and
// +-*/ operators into a single constant.Value using go/constant's own
// arithmetic (exact integers where possible, promoting to float otherwise).
func evalConst(expr ast.Expr) (constant.Value, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.INT && e.Kind != token.FLOAT {
			return nil, fmt.Errorf("unsupported literal %q", e.Value)
		}
		v := constant.MakeFromLiteral(e.Value, e.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, fmt.Errorf("invalid literal %q", e.Value)
		}
		return v, nil
	case *ast.ParenExpr:
		return evalConst(e.X)
	case *ast.UnaryExpr:
		x, err := evalConst(e.X)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.SUB:
			return constant.UnaryOp(token.SUB, x, 0), nil
		case token.ADD:
			return x, nil
		default:
			return nil, fmt.Errorf("unsupported unary operator %s", e.Op)
		}
	case *ast.BinaryExpr:
		x, err := evalConst(e.X)
		if err != nil {
			return nil, err
		}
		y, err := evalConst(e.Y)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case token.ADD, token.SUB, token.MUL, token.QUO, token.REM:
			return constant.BinaryOp(x, e.Op, y), nil
		default:
			return nil, fmt.Errorf("unsupported binary operator %s", e.Op)
		}
	default:
		return nil, fmt.Errorf("unsupported expression")
	}
}
