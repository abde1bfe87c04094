package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator runs protocol scripts. A script builds its batch by
// calling the predeclared functions:
//
//	variable(name, units="", initial=None, public="", private="", tag="")
//	equation(target, rhs, bvar="")
//	units(name, definition)
//	output(name, ...)
//
// The params dict holds caller-supplied values. A global name, if set to a
// string, names the protocol.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate executes a protocol script and returns the batch it declared.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, params map[string]interface{}) (*ProtocolFile, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	logger := zerolog.Ctx(ctx)
	thread := &starlark.Thread{
		Name: "cellxform",
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Str("script", filename).Msg(msg)
		},
	}

	resultCh := make(chan *ProtocolFile, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := se.evaluateSync(thread, filename, script, params)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		if errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
		}
		return nil, evalCtx.Err()
	case err := <-errCh:
		return nil, err
	case result := <-resultCh:
		return result, nil
	}
}

func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, params map[string]interface{}) (*ProtocolFile, error) {
	b := &protocolBuilder{}

	paramsVal, err := toStarlarkValue(params)
	if err != nil {
		return nil, fmt.Errorf("failed to convert params: %w", err)
	}
	if paramsVal == starlark.None {
		paramsVal = starlark.NewDict(0)
	}

	predeclared := starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"params":   paramsVal,
		"variable": starlark.NewBuiltin("variable", b.variable),
		"equation": starlark.NewBuiltin("equation", b.equation),
		"units":    starlark.NewBuiltin("units", b.units),
		"output":   starlark.NewBuiltin("output", b.output),
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("starlark execution failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	if name, ok := globals["name"].(starlark.String); ok {
		b.file.Name = string(name)
	}
	return &b.file, nil
}

// protocolBuilder collects the batch declared by a script.
type protocolBuilder struct {
	file ProtocolFile
}

func (b *protocolBuilder) variable(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		decl    DeclSpec
		initial starlark.Value = starlark.None
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &decl.Name,
		"units?", &decl.Units,
		"initial?", &initial,
		"public?", &decl.Public,
		"private?", &decl.Private,
		"tag?", &decl.Tag,
	); err != nil {
		return nil, err
	}
	if initial != starlark.None {
		f, ok := starlark.AsFloat(initial)
		if !ok {
			return nil, fmt.Errorf("%s: initial must be a number, got %s", fn.Name(), initial.Type())
		}
		decl.Initial = &f
	}
	b.file.Inputs = append(b.file.Inputs, InputSpec{Variable: &decl})
	return starlark.None, nil
}

func (b *protocolBuilder) equation(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var eq ProtocolEquationSpec
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"target", &eq.Target,
		"rhs", &eq.RHS,
		"bvar?", &eq.BoundVar,
	); err != nil {
		return nil, err
	}
	// Parse now so errors carry the script position.
	if _, err := ParseExpr(eq.RHS); err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	b.file.Inputs = append(b.file.Inputs, InputSpec{Equation: &eq})
	return starlark.None, nil
}

func (b *protocolBuilder) units(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var u UnitsSpec
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &u.Name, "definition", &u.Definition); err != nil {
		return nil, err
	}
	b.file.Inputs = append(b.file.Inputs, InputSpec{Units: &u})
	return starlark.None, nil
}

func (b *protocolBuilder) output(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", fn.Name())
	}
	for i, arg := range args {
		name, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d must be a string, got %s", fn.Name(), i+1, arg.Type())
		}
		b.file.Outputs = append(b.file.Outputs, name)
	}
	return starlark.None, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		if val == nil {
			return starlark.None, nil
		}
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
