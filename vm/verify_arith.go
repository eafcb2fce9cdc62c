package vm

import "github.com/chazu/ilvm/pkg/cil"

func isBinaryOp(op cil.Opcode) bool {
	switch op {
	case cil.Add, cil.Sub, cil.Mul, cil.Div, cil.DivUn, cil.Rem, cil.RemUn,
		cil.And, cil.Or, cil.Xor,
		cil.AddOvf, cil.AddOvfUn, cil.SubOvf, cil.SubOvfUn, cil.MulOvf, cil.MulOvfUn:
		return true
	}
	return false
}

// binaryMatrix picks the inference table for a binary operator.
func binaryMatrix(op cil.Opcode) *matrix {
	switch op {
	case cil.Add, cil.Sub, cil.Mul, cil.Div, cil.Rem:
		return &numericMatrix
	}
	return &integerMatrix
}

func (vs *verification) binary(op cil.Opcode) {
	b := vs.pop()
	a := vs.pop()
	if vs.v.Unsafe && (a.Engine.IsPointer() || b.Engine.IsPointer()) {
		var m *matrix
		switch op {
		case cil.Add, cil.AddOvfUn:
			m = &unsafeAddMatrix
		case cil.Sub, cil.SubOvfUn:
			m = &unsafeSubMatrix
		default:
			vs.fail(ErrType, "%s cannot take pointer operands", op)
		}
		result := m.lookup(a.Engine, b.Engine)
		if result == EngineInvalid {
			vs.fail(ErrType, "invalid operands %s and %s", a, b)
		}
		item := StackItem{Engine: result}
		if result.IsPointer() {
			item.Type = a.Type
			if !a.Engine.IsPointer() {
				item.Type = b.Type
			}
		}
		vs.push(item)
		vs.coder.BinaryPtr(op, a.Engine, b.Engine)
		return
	}
	result := binaryMatrix(op).lookup(a.Engine, b.Engine)
	if result == EngineInvalid {
		vs.fail(ErrType, "invalid operands %s and %s", a, b)
	}
	vs.pushEngine(result)
	vs.coder.Binary(op, a.Engine, b.Engine)
}

func (vs *verification) shift(op cil.Opcode) {
	amount := vs.pop()
	value := vs.pop()
	result := shiftMatrix.lookup(value.Engine, amount.Engine)
	if result == EngineInvalid {
		vs.fail(ErrType, "cannot shift %s by %s", value, amount)
	}
	vs.pushEngine(result)
	vs.coder.Shift(op, value.Engine, amount.Engine)
}

func (vs *verification) unary(op cil.Opcode) {
	item := vs.pop()
	var ok bool
	if item.Engine < numEngineTypes {
		switch op {
		case cil.Neg:
			ok = negateTypes[item.Engine]
		case cil.Not:
			ok = notTypes[item.Engine]
		case cil.Ckfinite:
			ok = item.Engine == EngineF
		}
	}
	if !ok {
		vs.fail(ErrType, "%s cannot take %s", op, item)
	}
	vs.pushEngine(item.Engine)
	vs.coder.Unary(op, item.Engine)
}

// comparisonMatrix picks the table for a comparison or a conditional
// branch. Equality and the unsigned greater-than forms admit object
// references.
func (vs *verification) comparisonMatrix(op cil.Opcode) *matrix {
	if vs.v.Unsafe {
		return &unsafeCompareMatrix
	}
	switch op {
	case cil.Ceq, cil.CgtUn, cil.Beq, cil.BeqS, cil.BneUn, cil.BneUnS, cil.BgtUn, cil.BgtUnS:
		return &equalityMatrix
	}
	return &compareMatrix
}

func (vs *verification) compare(op cil.Opcode) {
	b := vs.pop()
	a := vs.pop()
	if vs.comparisonMatrix(op).lookup(a.Engine, b.Engine) == EngineInvalid {
		vs.fail(ErrType, "cannot compare %s with %s", a, b)
	}
	vs.pushEngine(EngineI4)
	vs.coder.Compare(op, a.Engine, b.Engine)
}

// convResult is the category each conversion produces, or EngineInvalid
// when op is not a conversion.
func convResult(op cil.Opcode) EngineType {
	switch op {
	case cil.ConvI1, cil.ConvI2, cil.ConvI4, cil.ConvU1, cil.ConvU2, cil.ConvU4,
		cil.ConvOvfI1, cil.ConvOvfI2, cil.ConvOvfI4, cil.ConvOvfU1, cil.ConvOvfU2, cil.ConvOvfU4,
		cil.ConvOvfI1Un, cil.ConvOvfI2Un, cil.ConvOvfI4Un, cil.ConvOvfU1Un, cil.ConvOvfU2Un, cil.ConvOvfU4Un:
		return EngineI4
	case cil.ConvI8, cil.ConvU8, cil.ConvOvfI8, cil.ConvOvfU8, cil.ConvOvfI8Un, cil.ConvOvfU8Un:
		return EngineI8
	case cil.ConvI, cil.ConvU, cil.ConvOvfI, cil.ConvOvfU, cil.ConvOvfIUn, cil.ConvOvfUUn:
		return EngineI
	case cil.ConvR4, cil.ConvR8, cil.ConvRUn:
		return EngineF
	}
	return EngineInvalid
}

func (vs *verification) conv(op cil.Opcode) {
	item := vs.pop()
	result := convResult(op)
	switch item.Engine {
	case EngineI4, EngineI8, EngineI, EngineF:
	case EngineM, EngineT:
		if !vs.v.Unsafe || (result != EngineI && result != EngineI8) {
			vs.fail(ErrType, "cannot convert %s with %s", item, op)
		}
	default:
		vs.fail(ErrType, "cannot convert %s with %s", item, op)
	}
	vs.pushEngine(result)
	vs.coder.Conv(op, item.Engine)
}
