package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark scoring hooks with a bounded runtime.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult carries the outcome of a hook evaluation.
type StarlarkResult struct {
	Output        map[string]interface{}
	Error         string
	ExecutionTime time.Duration
}

// NewStarlarkEvaluator creates an evaluator with the given per-script timeout.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate runs a Starlark script with the provided inputs available as
// globals. The script's exported globals become the result output.
func (e *StarlarkEvaluator) Evaluate(ctx context.Context, script string, inputs map[string]interface{}) (*StarlarkResult, error) {
	start := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resultCh := make(chan *StarlarkResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := e.evaluateSync(script, inputs)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case <-evalCtx.Done():
		return &StarlarkResult{
			Error:         "evaluation timeout exceeded",
			ExecutionTime: time.Since(start),
		}, fmt.Errorf("starlark evaluation timed out after %v", e.timeout)
	case err := <-errCh:
		return &StarlarkResult{
			Error:         err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(start)
		return result, nil
	}
}

// ScoreHook evaluates a probability hook for a method. The script sees the
// method name, the base probability, and the target capabilities, and must
// assign a numeric `probability` global. Results outside [0, 1] are clamped.
func (e *StarlarkEvaluator) ScoreHook(ctx context.Context, script, method string, base float64, capabilities map[string]string) (float64, error) {
	caps := make(map[string]interface{}, len(capabilities))
	for k, v := range capabilities {
		caps[k] = v
	}
	inputs := map[string]interface{}{
		"method":       method,
		"base":         base,
		"capabilities": caps,
	}

	result, err := e.Evaluate(ctx, script, inputs)
	if err != nil {
		return base, err
	}

	raw, ok := result.Output["probability"]
	if !ok {
		return base, fmt.Errorf("scoring hook did not assign probability")
	}

	var p float64
	switch v := raw.(type) {
	case float64:
		p = v
	case int64:
		p = float64(v)
	default:
		return base, fmt.Errorf("scoring hook probability has type %T, want number", raw)
	}

	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p, nil
}

func (e *StarlarkEvaluator) evaluateSync(script string, inputs map[string]interface{}) (*StarlarkResult, error) {
	thread := &starlark.Thread{
		Name: "openmend",
	}

	predeclared := starlark.StringDict{
		"struct":    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
	}

	for key, value := range inputs {
		starValue, err := toStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starValue
	}

	globals, err := starlark.ExecFile(thread, "hook.star", script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, value := range globals {
		goValue, err := fromStarlarkValue(value)
		if err != nil {
			continue
		}
		output[name] = goValue
	}

	return &StarlarkResult{Output: output}, nil
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
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
		elems := make([]starlark.Value, len(val))
		for i, elem := range val {
			sv, err := toStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, elem := range val {
			sv, err := toStarlarkValue(elem)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		out := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			gv, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{})
		for _, key := range val.Keys() {
			str, ok := starlark.AsString(key)
			if !ok {
				return nil, fmt.Errorf("non-string dict key %s", key)
			}
			item, _, err := val.Get(key)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			out[str] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s", v.Type())
	}
}

func builtinRange(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop, step int
	step = 1

	switch len(args) {
	case 1:
		if err := starlark.UnpackArgs("range", args, kwargs, "stop", &stop); err != nil {
			return nil, err
		}
	case 2:
		if err := starlark.UnpackArgs("range", args, kwargs, "start", &start, "stop", &stop); err != nil {
			return nil, err
		}
	case 3:
		if err := starlark.UnpackArgs("range", args, kwargs, "start", &start, "stop", &stop, "step", &step); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("range: got %d arguments, want 1 to 3", len(args))
	}

	if step == 0 {
		return nil, fmt.Errorf("range: step must not be zero")
	}

	var elems []starlark.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			elems = append(elems, starlark.MakeInt(i))
		}
	} else {
		for i := start; i > stop; i += step {
			elems = append(elems, starlark.MakeInt(i))
		}
	}
	return starlark.NewList(elems), nil
}

func builtinEnumerate(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	if err := starlark.UnpackArgs("enumerate", args, kwargs, "iterable", &iterable); err != nil {
		return nil, err
	}

	var elems []starlark.Value
	iter := iterable.Iterate()
	defer iter.Done()

	var x starlark.Value
	for i := 0; iter.Next(&x); i++ {
		pair := starlark.Tuple{starlark.MakeInt(i), x}
		elems = append(elems, pair)
	}
	return starlark.NewList(elems), nil
}

func builtinZip(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return starlark.NewList(nil), nil
	}

	iters := make([]starlark.Iterator, len(args))
	for i, arg := range args {
		iterable, ok := arg.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("zip: argument %d is not iterable", i+1)
		}
		iters[i] = iterable.Iterate()
		defer iters[i].Done()
	}

	var elems []starlark.Value
	for {
		tuple := make(starlark.Tuple, len(iters))
		done := false
		for i, iter := range iters {
			var x starlark.Value
			if !iter.Next(&x) {
				done = true
				break
			}
			tuple[i] = x
		}
		if done {
			break
		}
		elems = append(elems, tuple)
	}
	return starlark.NewList(elems), nil
}
