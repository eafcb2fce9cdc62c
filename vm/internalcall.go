package vm

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Internal-call registry
// ---------------------------------------------------------------------------

// InternalFunc implements a method marked InternalCall. args holds this
// first for instance methods. It reports false with an exception pending
// on failure.
type InternalFunc func(t *Thread, args []Value) (Value, bool)

// InternalRegistry maps method full names to their implementations.
type InternalRegistry struct {
	mu    sync.RWMutex
	funcs map[string]InternalFunc
}

func newInternalRegistry(c *metadata.Corlib) *InternalRegistry {
	r := &InternalRegistry{funcs: make(map[string]InternalFunc)}
	r.registerCorlib(c)
	return r
}

// Register binds fn to the method named "Namespace.Class::Name(params)".
func (r *InternalRegistry) Register(name string, fn InternalFunc) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

// RegisterMethod binds fn to m.
func (r *InternalRegistry) RegisterMethod(m *metadata.Method, fn InternalFunc) {
	r.Register(m.FullName(), fn)
}

// Lookup returns the implementation of m, or nil.
func (r *InternalRegistry) Lookup(m *metadata.Method) InternalFunc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[m.FullName()]
}

// Names lists the registered methods in order.
func (r *InternalRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Corlib built-ins
// ---------------------------------------------------------------------------

func noop(*Thread, []Value) (Value, bool) { return Value{}, true }

// receiver returns this, raising NullReferenceException for null.
func receiver(t *Thread, args []Value) (*Object, bool) {
	obj := args[0].Object()
	if obj == nil {
		t.ThrowNullReference()
		return nil, false
	}
	return obj, true
}

func (r *InternalRegistry) registerCorlib(c *metadata.Corlib) {
	for _, m := range c.Object.Methods {
		switch m.Name {
		case ".ctor", "Finalize":
			r.RegisterMethod(m, noop)
		case "GetHashCode":
			r.RegisterMethod(m, objectHashCode)
		case "ToString":
			r.RegisterMethod(m, objectToString)
		case "Equals":
			r.RegisterMethod(m, objectEquals)
		}
	}
	for _, m := range c.String.Methods {
		switch m.Name {
		case "get_Length":
			r.RegisterMethod(m, stringLength)
		case "Concat":
			r.RegisterMethod(m, stringConcat)
		case "Intern":
			r.RegisterMethod(m, stringIntern)
		case "IsInterned":
			r.RegisterMethod(m, stringIsInterned)
		}
	}
	for _, m := range c.Exception.Methods {
		switch {
		case m.IsConstructor() && len(m.Signature.Params) == 0:
			r.RegisterMethod(m, noop)
		case m.IsConstructor():
			r.RegisterMethod(m, exceptionCtor)
		case m.Name == "get_Message":
			r.RegisterMethod(m, exceptionMessage)
		case m.Name == "get_InnerException":
			r.RegisterMethod(m, exceptionInner)
		}
	}
	for _, m := range c.Console.Methods {
		if m.Name == "WriteLine" {
			var param *metadata.Type
			if len(m.Signature.Params) == 1 {
				param = m.Signature.Params[0]
			}
			r.RegisterMethod(m, consoleWriteLine(param))
		}
	}
	for _, m := range c.Math.Methods {
		switch {
		case m.Name == "Sqrt":
			r.RegisterMethod(m, mathSqrt)
		case m.Name == "Abs" && m.Signature.Params[0].Kind == metadata.ElemR8:
			r.RegisterMethod(m, mathAbsFloat)
		case m.Name == "Abs":
			r.RegisterMethod(m, mathAbsInt)
		case m.Name == "Max":
			r.RegisterMethod(m, mathMax)
		}
	}
	for _, m := range c.Monitor.Methods {
		switch m.Name {
		case "Enter":
			r.RegisterMethod(m, monitorEnter)
		case "Exit":
			r.RegisterMethod(m, monitorExit)
		case "TryEnter":
			r.RegisterMethod(m, monitorTryEnter)
		}
	}
}

func objectHashCode(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	return Int32Value(obj.HashCode()), true
}

func objectToString(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	if obj.IsString() {
		return ObjectValue(obj), true
	}
	s := t.NewString(t.process.format(obj))
	if s == nil {
		return Value{}, false
	}
	return ObjectValue(s), true
}

func objectEquals(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	other := args[1].Object()
	if obj.IsString() && other != nil && other.IsString() {
		return BoolValue(obj.GoString() == other.GoString()), true
	}
	return BoolValue(obj == other), true
}

func stringLength(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	return Int32Value(int32(obj.StringLength())), true
}

func stringConcat(t *Thread, args []Value) (Value, bool) {
	var a, b string
	if obj := args[0].Object(); obj != nil {
		a = obj.GoString()
	}
	if obj := args[1].Object(); obj != nil {
		b = obj.GoString()
	}
	s := t.NewString(a + b)
	if s == nil {
		return Value{}, false
	}
	return ObjectValue(s), true
}

// stringIntern returns the pooled object with the same text, adding the
// argument itself when there is none.
func stringIntern(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	return ObjectValue(t.process.interned.intern(obj.GoString(), func() *Object { return obj })), true
}

// stringIsInterned returns the pooled object or null.
func stringIsInterned(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	pooled, _ := t.process.interned.lookup(obj.GoString())
	return ObjectValue(pooled), true
}

func exceptionCtor(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	t.setField(obj, t.process.corlib.MessageField, args[1])
	return Value{}, true
}

func exceptionMessage(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	v, _ := obj.FieldValue(t.process.corlib.MessageField)
	return v, true
}

func exceptionInner(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	v, _ := obj.FieldValue(t.process.corlib.InnerField)
	return v, true
}

// consoleWriteLine returns the overload of Console.WriteLine taking
// param, or no argument when param is nil.
func consoleWriteLine(param *metadata.Type) InternalFunc {
	return func(t *Thread, args []Value) (Value, bool) {
		p := t.process
		line := ""
		switch {
		case param == nil:
		case param.Kind == metadata.ElemBoolean:
			line = "False"
			if args[0].Bool() {
				line = "True"
			}
		default:
			line = p.formatValue(args[0])
		}
		if _, err := fmt.Fprintln(p, line); err != nil {
			p.log.Errorf("console: %v", err)
		}
		return Value{}, true
	}
}

func mathSqrt(t *Thread, args []Value) (Value, bool) {
	return FloatValue(math.Sqrt(args[0].Float())), true
}

func mathAbsFloat(t *Thread, args []Value) (Value, bool) {
	return FloatValue(math.Abs(args[0].Float())), true
}

func mathAbsInt(t *Thread, args []Value) (Value, bool) {
	v := args[0].Int32()
	if v == math.MinInt32 {
		t.ThrowSystem("System.OverflowException", ResAbsMinValue)
		return Value{}, false
	}
	if v < 0 {
		v = -v
	}
	return Int32Value(v), true
}

func mathMax(t *Thread, args []Value) (Value, bool) {
	return Int32Value(max(args[0].Int32(), args[1].Int32())), true
}

func monitorEnter(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	if !t.process.monitors.enter(t, obj) {
		t.ThrowAbort()
		return Value{}, false
	}
	return Value{}, true
}

func monitorTryEnter(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	return BoolValue(t.process.monitors.tryEnter(t, obj)), true
}

func monitorExit(t *Thread, args []Value) (Value, bool) {
	obj, ok := receiver(t, args)
	if !ok {
		return Value{}, false
	}
	if !t.process.monitors.exit(t, obj) {
		t.ThrowSystem("System.Threading.SynchronizationLockException", ResSynchronization)
		return Value{}, false
	}
	return Value{}, true
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// formatValue renders a stack value the way Console.WriteLine prints it.
func (p *Process) formatValue(v Value) string {
	switch v.Tag {
	case TagInt32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case TagInt64, TagNative:
		return strconv.FormatInt(v.Int64(), 10)
	case TagFloat:
		return formatFloat(v.Float())
	case TagObject:
		if v.IsNull() {
			return ""
		}
		return p.format(v.Object())
	}
	return v.String()
}

// format renders an object: strings as their text, boxed primitives as
// their value, anything else as its class name.
func (p *Process) format(obj *Object) string {
	if obj.IsString() {
		return obj.GoString()
	}
	class := obj.class.Class
	if class.Primitive != metadata.ElemVoid && obj.data != nil {
		v := loadRaw(obj.data, class.Primitive)
		switch class.Primitive {
		case metadata.ElemBoolean:
			if v.Bool() {
				return "True"
			}
			return "False"
		case metadata.ElemChar:
			return string(rune(v.Int32()))
		case metadata.ElemU4:
			return strconv.FormatUint(uint64(uint32(v.Int32())), 10)
		case metadata.ElemU8, metadata.ElemU:
			return strconv.FormatUint(v.Uint64(), 10)
		}
		return p.formatValue(v)
	}
	return class.FullName()
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
