package vm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/chazu/ilvm/metadata"
)

// ErrBadArgument reports a command-line argument that does not parse as
// the parameter type.
var ErrBadArgument = errors.New("vm: bad argument")

// ParseArgs converts textual arguments to values for a static method's
// parameters. Strings are allocated on t.
func ParseArgs(t *Thread, m *metadata.Method, args []string) ([]Value, error) {
	params := m.Signature.Params
	if !m.IsStatic() {
		return nil, fmt.Errorf("%w: %s is an instance method", ErrBadArgument, m.FullName())
	}
	if len(args) != len(params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArgument, m.FullName(), len(params), len(args))
	}
	out := make([]Value, len(args))
	for i, s := range args {
		v, err := parseArg(t, params[i], s)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d %q as %s: %v", ErrBadArgument, i, s, params[i], err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(t *Thread, typ *metadata.Type, s string) (Value, error) {
	switch typ.Kind {
	case metadata.ElemBoolean:
		b, err := strconv.ParseBool(s)
		return BoolValue(b), err
	case metadata.ElemChar:
		r := []rune(s)
		if len(r) != 1 || r[0] > 0xFFFF {
			return Value{}, errors.New("want one UTF-16 character")
		}
		return Int32Value(int32(r[0])), nil
	case metadata.ElemI1, metadata.ElemI2, metadata.ElemI4:
		n, err := strconv.ParseInt(s, 0, typ.Kind.Size()*8)
		return Int32Value(int32(n)), err
	case metadata.ElemU1, metadata.ElemU2, metadata.ElemU4:
		n, err := strconv.ParseUint(s, 0, typ.Kind.Size()*8)
		return Int32Value(int32(n)), err
	case metadata.ElemI8:
		n, err := strconv.ParseInt(s, 0, 64)
		return Int64Value(n), err
	case metadata.ElemU8:
		n, err := strconv.ParseUint(s, 0, 64)
		return Int64Value(int64(n)), err
	case metadata.ElemI:
		n, err := strconv.ParseInt(s, 0, 64)
		return NativeValue(n), err
	case metadata.ElemU:
		n, err := strconv.ParseUint(s, 0, 64)
		return NativeValue(int64(n)), err
	case metadata.ElemR4:
		f, err := strconv.ParseFloat(s, 32)
		return FloatValue(f), err
	case metadata.ElemR8:
		f, err := strconv.ParseFloat(s, 64)
		return FloatValue(f), err
	case metadata.ElemString, metadata.ElemObject:
		if s == "null" {
			return NullValue(), nil
		}
		obj := t.NewString(s)
		if obj == nil {
			return Value{}, errors.New("out of memory")
		}
		return ObjectValue(obj), nil
	}
	return Value{}, errors.New("unsupported parameter type")
}

// Outcome is the verification result of one method of a module.
type Outcome struct {
	Method *metadata.Method
	Result *Verified
	Err    error
}

// VerifyModule verifies every method of mod that has a body, in
// declaration order.
func (p *Process) VerifyModule(mod *metadata.Module) []Outcome {
	var out []Outcome
	for _, c := range mod.Classes {
		for _, m := range c.Methods {
			if m.Body == nil {
				continue
			}
			res, err := p.Verify(m)
			out = append(out, Outcome{Method: m, Result: res, Err: err})
		}
	}
	return out
}
