package vm

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/chazu/ilvm/metadata"
)

// ---------------------------------------------------------------------------
// Exception messages
// ---------------------------------------------------------------------------

// Resource keys for system exception messages.
const (
	ResDivideByZero       = "Arithmetic_DivideByZero"
	ResOverflow           = "Arithmetic_Overflow"
	ResNonFinite          = "Arithmetic_NonFinite"
	ResArithmetic         = "Arithmetic_Generic"
	ResNullReference      = "NullReference"
	ResInvalidCast        = "InvalidCast_FromTo"
	ResArrayTypeMismatch  = "ArrayTypeMismatch"
	ResIndexOutOfRange    = "IndexOutOfRange"
	ResOutOfMemory        = "OutOfMemory"
	ResTypeInitialization = "TypeInitialization_Type"
	ResThreadAbort        = "Thread_Aborted"
	ResNegativeArrayLen   = "Arg_NegativeArrayLength"
	ResVerification       = "Verification_Failed"
	ResMissingMethod      = "MissingMethod_Name"
	ResMissingField       = "MissingField_Name"
	ResInvalidProgram     = "InvalidProgram_Default"
	ResSecurity           = "Security_Generic"
	ResNotSupported       = "NotSupported_Generic"
	ResStackOverflow      = "StackOverflow"
	ResSynchronization    = "Arg_SynchronizationLock"
	ResAccessViolation    = "AccessViolation"
	ResAbsMinValue        = "Overflow_NegateTwosCompNum"
)

var englishMessages = map[string]string{
	ResDivideByZero:       "Attempted to divide by zero.",
	ResOverflow:           "Arithmetic operation resulted in an overflow.",
	ResNonFinite:          "Number is not a finite value.",
	ResArithmetic:         "Overflow or underflow in the arithmetic operation.",
	ResNullReference:      "Object reference not set to an instance of an object.",
	ResInvalidCast:        "Unable to cast object of type '%s' to type '%s'.",
	ResArrayTypeMismatch:  "Attempted to store an element of the wrong type into an array.",
	ResIndexOutOfRange:    "Index was outside the bounds of the array.",
	ResOutOfMemory:        "Insufficient memory to continue the execution of the program.",
	ResTypeInitialization: "The type initializer for '%s' threw an exception.",
	ResThreadAbort:        "Thread was being aborted.",
	ResNegativeArrayLen:   "Arrays must not have a negative length.",
	ResVerification:       "Operation could destabilize the runtime: %s",
	ResMissingMethod:      "Method not found: '%s'.",
	ResMissingField:       "Field not found: '%s'.",
	ResInvalidProgram:     "Common Language Runtime detected an invalid program: %s",
	ResSecurity:           "Request for the permission failed: %s",
	ResNotSupported:       "Specified method is not supported.",
	ResStackOverflow:      "Operation caused a stack overflow.",
	ResSynchronization:    "Object synchronization method was called from an unsynchronized block of code.",
	ResAccessViolation:    "Attempted to read or write protected memory.",
	ResAbsMinValue:        "Negating the minimum value of a twos complement number is invalid.",
}

// newMessagePrinter builds the resource lookup used by ThrowSystem.
func newMessagePrinter(tag language.Tag) *message.Printer {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range englishMessages {
		if err := b.SetString(language.English, key, msg); err != nil {
			panic(fmt.Sprintf("vm: message %s: %v", key, err))
		}
	}
	return message.NewPrinter(tag, message.Catalog(b))
}

// ---------------------------------------------------------------------------
// Pending exceptions
// ---------------------------------------------------------------------------

// Throw makes obj the pending exception.
func (t *Thread) Throw(obj *Object) { t.thrown = obj }

// Exception returns the pending exception, or nil.
func (t *Thread) Exception() *Object { return t.thrown }

// ClearException discards the pending exception.
func (t *Thread) ClearException() { t.thrown = nil }

// HasException reports whether an exception is pending.
func (t *Thread) HasException() bool { return t.thrown != nil }

// ThrowSystem constructs a corlib exception by class name with a message
// looked up by resource key, and makes it pending. When the exception
// itself cannot be allocated, the preallocated OutOfMemoryException is
// pending instead.
func (t *Thread) ThrowSystem(className, resourceKey string, args ...any) {
	p := t.process
	class := p.corlib.FindClass(className)
	if class == nil {
		panic(fmt.Sprintf("vm: unknown system exception %s", className))
	}
	obj := t.newException(class, p.printer.Sprintf(resourceKey, args...))
	if obj == nil {
		t.ThrowOutOfMemory()
		return
	}
	t.thrown = obj
}

// newException allocates an exception with its message and stack trace
// filled in, without disturbing a pending exception.
func (t *Thread) newException(class *metadata.Class, msg string) *Object {
	saved := t.thrown
	t.thrown = nil
	defer func() { t.thrown = saved }()
	obj := t.AllocObject(class)
	if obj == nil {
		return nil
	}
	c := t.process.corlib
	if s := t.NewString(msg); s != nil {
		t.setField(obj, c.MessageField, ObjectValue(s))
	}
	if s := t.NewString(t.StackTrace()); s != nil {
		t.setField(obj, c.StackTraceField, ObjectValue(s))
	}
	return obj
}

func (t *Thread) setField(obj *Object, f *metadata.Field, v Value) {
	if slot, ok := obj.class.fieldSlot(f); ok {
		obj.SetField(slot, v)
	}
}

func (t *Thread) stringField(obj *Object, f *metadata.Field) string {
	v, ok := obj.FieldValue(f)
	if !ok || v.IsNull() {
		return ""
	}
	return v.Object().GoString()
}

// ThrowOutOfMemory makes the preallocated OutOfMemoryException pending.
func (t *Thread) ThrowOutOfMemory() { t.thrown = t.process.oom }

func (t *Thread) ThrowNullReference() {
	t.ThrowSystem("System.NullReferenceException", ResNullReference)
}

func (t *Thread) ThrowArithmetic() {
	t.ThrowSystem("System.ArithmeticException", ResArithmetic)
}

func (t *Thread) ThrowOverflow() {
	t.ThrowSystem("System.OverflowException", ResOverflow)
}

func (t *Thread) ThrowDivideByZero() {
	t.ThrowSystem("System.DivideByZeroException", ResDivideByZero)
}

func (t *Thread) ThrowIndexOutOfRange() {
	t.ThrowSystem("System.IndexOutOfRangeException", ResIndexOutOfRange)
}

func (t *Thread) ThrowArrayTypeMismatch() {
	t.ThrowSystem("System.ArrayTypeMismatchException", ResArrayTypeMismatch)
}

// ThrowInvalidCast reports a failed cast of an instance of from.
func (t *Thread) ThrowInvalidCast(from *metadata.Class, to *metadata.Type) {
	t.ThrowSystem("System.InvalidCastException", ResInvalidCast, from.FullName(), to.String())
}

// ThrowAbort raises ThreadAbortException at a safe point.
func (t *Thread) ThrowAbort() {
	t.ThrowSystem("System.Threading.ThreadAbortException", ResThreadAbort)
}

// ThrowTypeInitialization wraps the pending exception, which a static
// constructor of class raised, in a TypeInitializationException.
func (t *Thread) ThrowTypeInitialization(class *metadata.Class) {
	inner := t.thrown
	c := t.process.corlib
	obj := t.newException(c.TypeInitializationException, t.process.printer.Sprintf(ResTypeInitialization, class.FullName()))
	if obj == nil {
		t.ThrowOutOfMemory()
		return
	}
	if inner != nil {
		t.setField(obj, c.InnerField, ObjectValue(inner))
	}
	t.thrown = obj
}

// ---------------------------------------------------------------------------
// Host-side errors
// ---------------------------------------------------------------------------

// ManagedError carries a managed exception across the host API boundary.
type ManagedError struct {
	Class      string
	Message    string
	StackTrace string
	Inner      *ManagedError
	Object     *Object
}

func (e *ManagedError) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

func (e *ManagedError) Unwrap() error {
	if e.Inner == nil {
		return nil
	}
	return e.Inner
}

// Is matches another ManagedError by exception class name.
func (e *ManagedError) Is(target error) bool {
	other, ok := target.(*ManagedError)
	return ok && other.Object == nil && other.Class == e.Class
}

// managedError converts an exception object, following inner causes.
func (t *Thread) managedError(obj *Object) *ManagedError {
	if obj == nil {
		return nil
	}
	c := t.process.corlib
	err := &ManagedError{
		Class:      obj.class.Class.FullName(),
		Message:    t.stringField(obj, c.MessageField),
		StackTrace: t.stringField(obj, c.StackTraceField),
		Object:     obj,
	}
	if v, ok := obj.FieldValue(c.InnerField); ok && !v.IsNull() && v.Object() != obj {
		err.Inner = t.managedError(v.Object())
	}
	return err
}

// describe renders an exception and its causes on one line.
func (e *ManagedError) describe() string {
	var b strings.Builder
	for cur := e; cur != nil; cur = cur.Inner {
		if cur != e {
			b.WriteString(" ---> ")
		}
		b.WriteString(cur.Error())
	}
	return b.String()
}
