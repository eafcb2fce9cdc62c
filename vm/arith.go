package vm

import (
	"math"
	"math/bits"

	"fortio.org/safecast"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Arithmetic faults
// ---------------------------------------------------------------------------

// arithFault is the exception an arithmetic instruction raises.
type arithFault uint8

const (
	faultNone arithFault = iota
	faultDivideByZero
	faultArithmetic
	faultOverflow
	faultNonFinite
)

func (f arithFault) String() string {
	switch f {
	case faultDivideByZero:
		return "System.DivideByZeroException"
	case faultArithmetic, faultNonFinite:
		return "System.ArithmeticException"
	case faultOverflow:
		return "System.OverflowException"
	}
	return "none"
}

// raise makes the exception for f pending. It reports whether f was a
// fault at all.
func (t *Thread) raise(f arithFault) bool {
	switch f {
	case faultNone:
		return false
	case faultDivideByZero:
		t.ThrowDivideByZero()
	case faultArithmetic:
		t.ThrowArithmetic()
	case faultOverflow:
		t.ThrowOverflow()
	case faultNonFinite:
		t.ThrowSystem("System.ArithmeticException", ResNonFinite)
	}
	return true
}

// ---------------------------------------------------------------------------
// Binary operations
// ---------------------------------------------------------------------------

// isPointer reports whether v holds a managed or transient pointer.
func isPointer(v Value) bool { return v.Tag == TagManaged || v.Tag == TagTransient }

// widen returns an integer operand sign-extended to 64 bits.
func widen(v Value) int64 {
	if v.Tag == TagInt32 {
		return int64(v.Int32())
	}
	return v.Int64()
}

// resultTag picks the stack type of an integer operation on a and b:
// int32 only with int32, int64 only with int64, native otherwise.
func resultTag(a, b Value) Tag {
	switch {
	case a.Tag == TagInt32 && b.Tag == TagInt32:
		return TagInt32
	case a.Tag == TagInt64 || b.Tag == TagInt64:
		return TagInt64
	}
	return TagNative
}

func intValue(tag Tag, v int64) Value {
	switch tag {
	case TagInt32:
		return Int32Value(int32(v))
	case TagInt64:
		return Int64Value(v)
	}
	return NativeValue(v)
}

// binaryOp evaluates add, sub, mul, div, rem, the bitwise operations
// and their overflow-checked and unsigned forms.
func binaryOp(op cil.Opcode, a, b Value) (Value, arithFault) {
	if isPointer(a) || isPointer(b) {
		return pointerOp(op, a, b)
	}
	if a.Tag == TagFloat {
		return floatOp(op, a.Float(), b.Float())
	}
	tag := resultTag(a, b)
	if tag == TagInt32 {
		r, f := int32Op(op, a.Int32(), b.Int32())
		return Int32Value(r), f
	}
	r, f := int64Op(op, widen(a), widen(b))
	return intValue(tag, r), f
}

// pointerOp handles pointer plus or minus an offset and the distance
// between two pointers.
func pointerOp(op cil.Opcode, a, b Value) (Value, arithFault) {
	switch {
	case isPointer(a) && isPointer(b):
		return NativeValue(a.Address().distance(b.Address())), faultNone
	case isPointer(a):
		n := widen(b)
		if op == cil.Sub || op == cil.SubOvf || op == cil.SubOvfUn {
			n = -n
		}
		return Value{Tag: a.Tag, addr: a.Address().Offset(n)}, faultNone
	}
	return Value{Tag: b.Tag, addr: b.Address().Offset(widen(a))}, faultNone
}

func floatOp(op cil.Opcode, x, y float64) (Value, arithFault) {
	switch op {
	case cil.Add:
		return FloatValue(x + y), faultNone
	case cil.Sub:
		return FloatValue(x - y), faultNone
	case cil.Mul:
		return FloatValue(x * y), faultNone
	case cil.Div:
		return FloatValue(x / y), faultNone
	case cil.Rem:
		return FloatValue(math.Mod(x, y)), faultNone
	}
	return Value{}, faultArithmetic
}

func int32Op(op cil.Opcode, x, y int32) (int32, arithFault) {
	switch op {
	case cil.Add:
		return x + y, faultNone
	case cil.Sub:
		return x - y, faultNone
	case cil.Mul:
		return x * y, faultNone
	case cil.And:
		return x & y, faultNone
	case cil.Or:
		return x | y, faultNone
	case cil.Xor:
		return x ^ y, faultNone
	case cil.Div, cil.Rem:
		if y == 0 {
			return 0, faultDivideByZero
		}
		if x == math.MinInt32 && y == -1 {
			return 0, faultArithmetic
		}
		if op == cil.Div {
			return x / y, faultNone
		}
		return x % y, faultNone
	case cil.DivUn, cil.RemUn:
		if y == 0 {
			return 0, faultDivideByZero
		}
		if op == cil.DivUn {
			return int32(uint32(x) / uint32(y)), faultNone
		}
		return int32(uint32(x) % uint32(y)), faultNone
	case cil.AddOvf, cil.SubOvf, cil.MulOvf:
		var r int64
		switch op {
		case cil.AddOvf:
			r = int64(x) + int64(y)
		case cil.SubOvf:
			r = int64(x) - int64(y)
		default:
			r = int64(x) * int64(y)
		}
		if r < math.MinInt32 || r > math.MaxInt32 {
			return 0, faultOverflow
		}
		return int32(r), faultNone
	case cil.AddOvfUn, cil.SubOvfUn, cil.MulOvfUn:
		ux, uy := uint64(uint32(x)), uint64(uint32(y))
		var r uint64
		switch op {
		case cil.AddOvfUn:
			r = ux + uy
		case cil.SubOvfUn:
			if ux < uy {
				return 0, faultOverflow
			}
			r = ux - uy
		default:
			r = ux * uy
		}
		if r > math.MaxUint32 {
			return 0, faultOverflow
		}
		return int32(uint32(r)), faultNone
	}
	return 0, faultArithmetic
}

func int64Op(op cil.Opcode, x, y int64) (int64, arithFault) {
	switch op {
	case cil.Add:
		return x + y, faultNone
	case cil.Sub:
		return x - y, faultNone
	case cil.Mul:
		return x * y, faultNone
	case cil.And:
		return x & y, faultNone
	case cil.Or:
		return x | y, faultNone
	case cil.Xor:
		return x ^ y, faultNone
	case cil.Div, cil.Rem:
		if y == 0 {
			return 0, faultDivideByZero
		}
		if x == math.MinInt64 && y == -1 {
			return 0, faultArithmetic
		}
		if op == cil.Div {
			return x / y, faultNone
		}
		return x % y, faultNone
	case cil.DivUn, cil.RemUn:
		if y == 0 {
			return 0, faultDivideByZero
		}
		if op == cil.DivUn {
			return int64(uint64(x) / uint64(y)), faultNone
		}
		return int64(uint64(x) % uint64(y)), faultNone
	case cil.AddOvf:
		r := x + y
		if (x > 0 && y > 0 && r < 0) || (x < 0 && y < 0 && r >= 0) {
			return 0, faultOverflow
		}
		return r, faultNone
	case cil.SubOvf:
		r := x - y
		if (x^y)&(x^r) < 0 {
			return 0, faultOverflow
		}
		return r, faultNone
	case cil.MulOvf:
		if x == 0 || y == 0 {
			return 0, faultNone
		}
		r := x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return 0, faultOverflow
		}
		return r, faultNone
	case cil.AddOvfUn:
		r, carry := bits.Add64(uint64(x), uint64(y), 0)
		if carry != 0 {
			return 0, faultOverflow
		}
		return int64(r), faultNone
	case cil.SubOvfUn:
		r, borrow := bits.Sub64(uint64(x), uint64(y), 0)
		if borrow != 0 {
			return 0, faultOverflow
		}
		return int64(r), faultNone
	case cil.MulOvfUn:
		hi, lo := bits.Mul64(uint64(x), uint64(y))
		if hi != 0 {
			return 0, faultOverflow
		}
		return int64(lo), faultNone
	}
	return 0, faultArithmetic
}

// shiftOp shifts value by amount. The count is masked to the operand
// width.
func shiftOp(op cil.Opcode, value, amount Value) Value {
	n := uint(widen(amount))
	if value.Tag == TagInt32 {
		x := value.Int32()
		n &= 31
		switch op {
		case cil.Shl:
			return Int32Value(x << n)
		case cil.Shr:
			return Int32Value(x >> n)
		}
		return Int32Value(int32(uint32(x) >> n))
	}
	x := value.Int64()
	n &= 63
	switch op {
	case cil.Shl:
		x <<= n
	case cil.Shr:
		x >>= n
	default:
		x = int64(uint64(x) >> n)
	}
	return intValue(value.Tag, x)
}

// unaryOp evaluates neg, not and ckfinite.
func unaryOp(op cil.Opcode, v Value) (Value, arithFault) {
	switch op {
	case cil.Neg:
		switch v.Tag {
		case TagFloat:
			return FloatValue(-v.Float()), faultNone
		case TagInt32:
			return Int32Value(-v.Int32()), faultNone
		}
		return intValue(v.Tag, -v.Int64()), faultNone
	case cil.Not:
		if v.Tag == TagInt32 {
			return Int32Value(^v.Int32()), faultNone
		}
		return intValue(v.Tag, ^v.Int64()), faultNone
	case cil.Ckfinite:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, faultNonFinite
		}
		return v, faultNone
	}
	return Value{}, faultArithmetic
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// compareValues orders a against b. Unsigned compares integers as
// unsigned; unordered is set when either float is NaN. References and
// pointers compare equal or greater only.
func compareValues(a, b Value, unsigned bool) (c int, unordered bool) {
	switch {
	case a.Tag == TagFloat:
		x, y := a.Float(), b.Float()
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			return 0, true
		case x < y:
			return -1, false
		case x > y:
			return 1, false
		}
		return 0, false
	case a.Tag == TagObject:
		if a.Object() == b.Object() {
			return 0, false
		}
		return 1, false
	case isPointer(a) && isPointer(b):
		if a.Address().Same(b.Address()) {
			return 0, false
		}
		if a.Address() == nil || b.Address() == nil {
			return 1, false
		}
		return sign(a.Address().distance(b.Address())), false
	}
	if a.Tag == TagInt32 && b.Tag == TagInt32 && unsigned {
		x, y := uint32(a.Int32()), uint32(b.Int32())
		return cmpOrdered(x, y), false
	}
	x, y := widen(a), widen(b)
	if unsigned {
		return cmpOrdered(uint64(x), uint64(y)), false
	}
	return cmpOrdered(x, y), false
}

func cmpOrdered[T int64 | uint64 | uint32](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func sign(n int64) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// condition evaluates a comparison opcode: the long branch forms and
// ceq, cgt, cgt.un, clt and clt.un.
func condition(op cil.Opcode, a, b Value) bool {
	unsigned := false
	switch op {
	case cil.BneUn, cil.BgeUn, cil.BgtUn, cil.BleUn, cil.BltUn, cil.CgtUn, cil.CltUn:
		unsigned = true
	}
	c, unordered := compareValues(a, b, unsigned)
	switch op {
	case cil.Beq, cil.Ceq:
		return !unordered && c == 0
	case cil.BneUn:
		return unordered || c != 0
	case cil.Bge:
		return !unordered && c >= 0
	case cil.BgeUn:
		return unordered || c >= 0
	case cil.Bgt, cil.Cgt:
		return !unordered && c > 0
	case cil.BgtUn, cil.CgtUn:
		return unordered || c > 0
	case cil.Ble:
		return !unordered && c <= 0
	case cil.BleUn:
		return unordered || c <= 0
	case cil.Blt, cil.Clt:
		return !unordered && c < 0
	case cil.BltUn, cil.CltUn:
		return unordered || c < 0
	}
	return false
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// convTarget is the location type each conversion produces.
var convTarget = map[cil.Opcode]*metadata.Type{
	cil.ConvI1: metadata.Int8, cil.ConvU1: metadata.UInt8,
	cil.ConvI2: metadata.Int16, cil.ConvU2: metadata.UInt16,
	cil.ConvI4: metadata.Int32, cil.ConvU4: metadata.UInt32,
	cil.ConvI8: metadata.Int64, cil.ConvU8: metadata.UInt64,
	cil.ConvI: metadata.IntPtr, cil.ConvU: metadata.UIntPtr,
	cil.ConvR4: metadata.Float32, cil.ConvR8: metadata.Float64, cil.ConvRUn: metadata.Float64,

	cil.ConvOvfI1: metadata.Int8, cil.ConvOvfU1: metadata.UInt8,
	cil.ConvOvfI2: metadata.Int16, cil.ConvOvfU2: metadata.UInt16,
	cil.ConvOvfI4: metadata.Int32, cil.ConvOvfU4: metadata.UInt32,
	cil.ConvOvfI8: metadata.Int64, cil.ConvOvfU8: metadata.UInt64,
	cil.ConvOvfI: metadata.IntPtr, cil.ConvOvfU: metadata.UIntPtr,

	cil.ConvOvfI1Un: metadata.Int8, cil.ConvOvfU1Un: metadata.UInt8,
	cil.ConvOvfI2Un: metadata.Int16, cil.ConvOvfU2Un: metadata.UInt16,
	cil.ConvOvfI4Un: metadata.Int32, cil.ConvOvfU4Un: metadata.UInt32,
	cil.ConvOvfI8Un: metadata.Int64, cil.ConvOvfU8Un: metadata.UInt64,
	cil.ConvOvfIUn: metadata.IntPtr, cil.ConvOvfUUn: metadata.UIntPtr,
}

func isOverflowConv(op cil.Opcode) bool {
	return (op >= cil.ConvOvfI1Un && op <= cil.ConvOvfUUn) ||
		(op >= cil.ConvOvfI1 && op <= cil.ConvOvfU8) ||
		op == cil.ConvOvfI || op == cil.ConvOvfU
}

func isUnsignedSource(op cil.Opcode) bool {
	return (op >= cil.ConvOvfI1Un && op <= cil.ConvOvfUUn) || op == cil.ConvRUn
}

// convertOp evaluates a conv, conv.ovf or conv.ovf.un instruction.
func convertOp(op cil.Opcode, v Value) (Value, arithFault) {
	target := convTarget[op]
	if target == nil {
		return Value{}, faultArithmetic
	}
	if isPointer(v) {
		return v, faultNone
	}
	switch target.Kind {
	case metadata.ElemR4, metadata.ElemR8:
		var f float64
		switch {
		case v.Tag == TagFloat:
			f = v.Float()
		case isUnsignedSource(op) && v.Tag == TagInt32:
			f = float64(uint32(v.Int32()))
		case isUnsignedSource(op):
			f = float64(uint64(widen(v)))
		default:
			f = float64(widen(v))
		}
		return normalize(FloatValue(f), target), faultNone
	}
	if isOverflowConv(op) {
		return convertChecked(target, v, isUnsignedSource(op))
	}
	if v.Tag == TagFloat {
		return normalize(intValue(TagInt64, truncFloat(v.Float(), target)), target), faultNone
	}
	n := widen(v)
	if v.Tag == TagInt32 {
		switch target.Kind {
		case metadata.ElemU8, metadata.ElemU:
			n = int64(uint32(v.Int32()))
		}
	}
	return normalize(intValue(TagInt64, n), target), faultNone
}

// truncFloat converts f toward zero for an unchecked integer conversion.
func truncFloat(f float64, target *metadata.Type) int64 {
	if (target.Kind == metadata.ElemU8 || target.Kind == metadata.ElemU) && f >= math.MaxInt64 {
		return int64(uint64(f))
	}
	return int64(f)
}

// convertChecked range checks v against target.
func convertChecked(target *metadata.Type, v Value, unsignedSource bool) (Value, arithFault) {
	if v.Tag == TagFloat {
		return convertCheckedFloat(target, v.Float())
	}
	var err error
	var n int64
	if unsignedSource {
		u := uint64(widen(v))
		if v.Tag == TagInt32 {
			u = uint64(uint32(v.Int32()))
		}
		n, err = narrowInt(target.Kind, u)
	} else {
		n, err = narrowInt(target.Kind, widen(v))
	}
	if err != nil {
		return Value{}, faultOverflow
	}
	return normalize(intValue(TagInt64, n), target), faultNone
}

// narrowInt checks that x fits kind and returns its bits.
func narrowInt[T int64 | uint64](kind metadata.ElementType, x T) (int64, error) {
	switch kind {
	case metadata.ElemI1:
		r, err := safecast.Convert[int8](x)
		return int64(r), err
	case metadata.ElemU1:
		r, err := safecast.Convert[uint8](x)
		return int64(r), err
	case metadata.ElemI2:
		r, err := safecast.Convert[int16](x)
		return int64(r), err
	case metadata.ElemU2:
		r, err := safecast.Convert[uint16](x)
		return int64(r), err
	case metadata.ElemI4:
		r, err := safecast.Convert[int32](x)
		return int64(r), err
	case metadata.ElemU4:
		r, err := safecast.Convert[uint32](x)
		return int64(r), err
	case metadata.ElemI8, metadata.ElemI:
		return safecast.Convert[int64](x)
	}
	r, err := safecast.Convert[uint64](x)
	return int64(r), err
}

// floatRanges holds the exclusive bounds a truncated float must fall
// strictly between to fit each integer type.
var floatRanges = map[metadata.ElementType][2]float64{
	metadata.ElemI1: {math.MinInt8 - 1, math.MaxInt8 + 1},
	metadata.ElemU1: {-1, math.MaxUint8 + 1},
	metadata.ElemI2: {math.MinInt16 - 1, math.MaxInt16 + 1},
	metadata.ElemU2: {-1, math.MaxUint16 + 1},
	metadata.ElemI4: {math.MinInt32 - 1, math.MaxInt32 + 1},
	metadata.ElemU4: {-1, math.MaxUint32 + 1},
	metadata.ElemI8: {-9223372036854777856, 9223372036854775808},
	metadata.ElemI:  {-9223372036854777856, 9223372036854775808},
	metadata.ElemU8: {-1, 18446744073709551616},
	metadata.ElemU:  {-1, 18446744073709551616},
}

func convertCheckedFloat(target *metadata.Type, f float64) (Value, arithFault) {
	bounds := floatRanges[target.Kind]
	t := math.Trunc(f)
	if math.IsNaN(f) || t <= bounds[0] || t >= bounds[1] {
		return Value{}, faultOverflow
	}
	var n int64
	if t >= math.MaxInt64 {
		n = int64(uint64(t))
	} else {
		n = int64(t)
	}
	return normalize(intValue(TagInt64, n), target), faultNone
}
