package invoker

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// signature is the reflected shape of a test method or constructor.
type signature struct {
	target   string
	fn       reflect.Value
	receiver bool // first parameter receives the instance
	takesCtx bool // context.Context follows the receiver
	offset   int  // index of the first user parameter
}

func newSignature(target string, fn any, receiver bool) (*signature, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%s: %T is not a function", target, fn)
	}
	t := v.Type()

	s := &signature{target: target, fn: v, receiver: receiver}
	if receiver {
		if t.NumIn() == 0 {
			return nil, fmt.Errorf("%s: instance method has no receiver parameter", target)
		}
		s.offset = 1
	}
	if t.NumIn() > s.offset && t.In(s.offset) == contextType {
		s.takesCtx = true
		s.offset++
	}
	return s, nil
}

// arity is the number of user-supplied arguments the function declares.
func (s *signature) arity() int {
	return s.fn.Type().NumIn() - s.offset
}

// returnsNothing reports whether the function declares no results.
func (s *signature) returnsNothing() bool {
	return s.fn.Type().NumOut() == 0
}

// call checks arity, converts the arguments and calls the function.
// A panic inside the function is returned as a *PanicError.
func (s *signature) call(ctx context.Context, instance any, args []any) (out []reflect.Value, err error) {
	if s.arity() != len(args) {
		return nil, &ArityError{Target: s.target, Expected: s.arity(), Actual: len(args)}
	}

	t := s.fn.Type()
	in := make([]reflect.Value, 0, t.NumIn())
	if s.receiver {
		rv, err := receiverValue(instance, t.In(0))
		if err != nil {
			return nil, fmt.Errorf("%s: receiver: %w", s.target, err)
		}
		in = append(in, rv)
	}
	if s.takesCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}
	for i, arg := range args {
		v, err := convertArg(arg, t.In(s.offset+i))
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", s.target, i, err)
		}
		in = append(in, v)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, newPanicError(r)
		}
	}()
	if t.IsVariadic() {
		return s.fn.CallSlice(in), nil
	}
	return s.fn.Call(in), nil
}

// receiverValue adapts the instance to the method expression's receiver.
// Factories return pointers, so a value receiver gets the pointee.
func receiverValue(instance any, want reflect.Type) (reflect.Value, error) {
	if instance != nil {
		v := reflect.ValueOf(instance)
		if v.Kind() == reflect.Pointer && !v.IsNil() && !v.Type().AssignableTo(want) && v.Elem().Type().AssignableTo(want) {
			return v.Elem(), nil
		}
	}
	return convertArg(instance, want)
}

// convertArg turns an opaque argument into a value of type want.
// Untyped numbers decoded from plan files (int, float64) convert to any
// numeric parameter type that holds them exactly; a fractional, negative
// or out-of-range value for the parameter type is an error.
func convertArg(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", want)
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	if isNumeric(v.Kind()) && isNumeric(want.Kind()) && v.Type().ConvertibleTo(want) {
		out, ok := convertNumber(v, want)
		if !ok {
			return reflect.Value{}, fmt.Errorf("cannot use %v as %s", arg, want)
		}
		return out, nil
	}
	if want.Kind() == reflect.Slice && v.Kind() == reflect.Slice {
		out := reflect.MakeSlice(want, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			ev, err := convertArg(v.Index(i).Interface(), want.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", arg, want)
}

// convertNumber converts v to want and reports whether the value survived.
// Float to float conversions only need to stay in range; every other
// conversion must round-trip exactly.
func convertNumber(v reflect.Value, want reflect.Type) (reflect.Value, bool) {
	if isFloat(v.Kind()) && isFloat(want.Kind()) {
		if reflect.Zero(want).OverflowFloat(v.Float()) {
			return reflect.Value{}, false
		}
		return v.Convert(want), true
	}
	if isFloat(v.Kind()) && !isFloat(want.Kind()) {
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return reflect.Value{}, false
		}
	}
	if isSigned(v.Kind()) && isUnsigned(want.Kind()) && v.Int() < 0 {
		return reflect.Value{}, false
	}
	out := v.Convert(want)
	if out.Convert(v.Type()).Interface() != v.Interface() {
		return reflect.Value{}, false
	}
	if isUnsigned(v.Kind()) && isSigned(want.Kind()) && out.Int() < 0 {
		return reflect.Value{}, false
	}
	return out, true
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// trailingError returns the last result when it is a non-nil error.
func trailingError(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.Type() != errorType || last.IsNil() {
		return nil
	}
	return last.Interface().(error)
}

func isNilValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return !v.IsValid()
}
