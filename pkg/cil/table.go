package cil

const vary = Variable

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	Nop:   {"nop", OperandNone, 0, 0, FlowNext},
	Break: {"break", OperandNone, 0, 0, FlowNext},

	Ldarg0:  {"ldarg.0", OperandNone, 0, 1, FlowNext},
	Ldarg1:  {"ldarg.1", OperandNone, 0, 1, FlowNext},
	Ldarg2:  {"ldarg.2", OperandNone, 0, 1, FlowNext},
	Ldarg3:  {"ldarg.3", OperandNone, 0, 1, FlowNext},
	Ldloc0:  {"ldloc.0", OperandNone, 0, 1, FlowNext},
	Ldloc1:  {"ldloc.1", OperandNone, 0, 1, FlowNext},
	Ldloc2:  {"ldloc.2", OperandNone, 0, 1, FlowNext},
	Ldloc3:  {"ldloc.3", OperandNone, 0, 1, FlowNext},
	Stloc0:  {"stloc.0", OperandNone, 1, 0, FlowNext},
	Stloc1:  {"stloc.1", OperandNone, 1, 0, FlowNext},
	Stloc2:  {"stloc.2", OperandNone, 1, 0, FlowNext},
	Stloc3:  {"stloc.3", OperandNone, 1, 0, FlowNext},
	LdargS:  {"ldarg.s", OperandVar8, 0, 1, FlowNext},
	LdargaS: {"ldarga.s", OperandVar8, 0, 1, FlowNext},
	StargS:  {"starg.s", OperandVar8, 1, 0, FlowNext},
	LdlocS:  {"ldloc.s", OperandVar8, 0, 1, FlowNext},
	LdlocaS: {"ldloca.s", OperandVar8, 0, 1, FlowNext},
	StlocS:  {"stloc.s", OperandVar8, 1, 0, FlowNext},
	Ldarg:   {"ldarg", OperandVar16, 0, 1, FlowNext},
	Ldarga:  {"ldarga", OperandVar16, 0, 1, FlowNext},
	Starg:   {"starg", OperandVar16, 1, 0, FlowNext},
	Ldloc:   {"ldloc", OperandVar16, 0, 1, FlowNext},
	Ldloca:  {"ldloca", OperandVar16, 0, 1, FlowNext},
	Stloc:   {"stloc", OperandVar16, 1, 0, FlowNext},

	Ldnull:  {"ldnull", OperandNone, 0, 1, FlowNext},
	LdcI4M1: {"ldc.i4.m1", OperandNone, 0, 1, FlowNext},
	LdcI40:  {"ldc.i4.0", OperandNone, 0, 1, FlowNext},
	LdcI41:  {"ldc.i4.1", OperandNone, 0, 1, FlowNext},
	LdcI42:  {"ldc.i4.2", OperandNone, 0, 1, FlowNext},
	LdcI43:  {"ldc.i4.3", OperandNone, 0, 1, FlowNext},
	LdcI44:  {"ldc.i4.4", OperandNone, 0, 1, FlowNext},
	LdcI45:  {"ldc.i4.5", OperandNone, 0, 1, FlowNext},
	LdcI46:  {"ldc.i4.6", OperandNone, 0, 1, FlowNext},
	LdcI47:  {"ldc.i4.7", OperandNone, 0, 1, FlowNext},
	LdcI48:  {"ldc.i4.8", OperandNone, 0, 1, FlowNext},
	LdcI4S:  {"ldc.i4.s", OperandInt8, 0, 1, FlowNext},
	LdcI4:   {"ldc.i4", OperandInt32, 0, 1, FlowNext},
	LdcI8:   {"ldc.i8", OperandInt64, 0, 1, FlowNext},
	LdcR4:   {"ldc.r4", OperandFloat32, 0, 1, FlowNext},
	LdcR8:   {"ldc.r8", OperandFloat64, 0, 1, FlowNext},
	Ldstr:   {"ldstr", OperandToken, 0, 1, FlowNext},

	Dup: {"dup", OperandNone, 1, 2, FlowNext},
	Pop: {"pop", OperandNone, 1, 0, FlowNext},

	Jmp:      {"jmp", OperandToken, 0, 0, FlowReturn},
	Call:     {"call", OperandToken, vary, vary, FlowCall},
	Calli:    {"calli", OperandToken, vary, vary, FlowCall},
	Callvirt: {"callvirt", OperandToken, vary, vary, FlowCall},
	Newobj:   {"newobj", OperandToken, vary, 1, FlowCall},
	Ret:      {"ret", OperandNone, vary, 0, FlowReturn},

	BrS:      {"br.s", OperandBranch8, 0, 0, FlowBranch},
	BrfalseS: {"brfalse.s", OperandBranch8, 1, 0, FlowCond},
	BrtrueS:  {"brtrue.s", OperandBranch8, 1, 0, FlowCond},
	BeqS:     {"beq.s", OperandBranch8, 2, 0, FlowCond},
	BgeS:     {"bge.s", OperandBranch8, 2, 0, FlowCond},
	BgtS:     {"bgt.s", OperandBranch8, 2, 0, FlowCond},
	BleS:     {"ble.s", OperandBranch8, 2, 0, FlowCond},
	BltS:     {"blt.s", OperandBranch8, 2, 0, FlowCond},
	BneUnS:   {"bne.un.s", OperandBranch8, 2, 0, FlowCond},
	BgeUnS:   {"bge.un.s", OperandBranch8, 2, 0, FlowCond},
	BgtUnS:   {"bgt.un.s", OperandBranch8, 2, 0, FlowCond},
	BleUnS:   {"ble.un.s", OperandBranch8, 2, 0, FlowCond},
	BltUnS:   {"blt.un.s", OperandBranch8, 2, 0, FlowCond},
	Br:       {"br", OperandBranch32, 0, 0, FlowBranch},
	Brfalse:  {"brfalse", OperandBranch32, 1, 0, FlowCond},
	Brtrue:   {"brtrue", OperandBranch32, 1, 0, FlowCond},
	Beq:      {"beq", OperandBranch32, 2, 0, FlowCond},
	Bge:      {"bge", OperandBranch32, 2, 0, FlowCond},
	Bgt:      {"bgt", OperandBranch32, 2, 0, FlowCond},
	Ble:      {"ble", OperandBranch32, 2, 0, FlowCond},
	Blt:      {"blt", OperandBranch32, 2, 0, FlowCond},
	BneUn:    {"bne.un", OperandBranch32, 2, 0, FlowCond},
	BgeUn:    {"bge.un", OperandBranch32, 2, 0, FlowCond},
	BgtUn:    {"bgt.un", OperandBranch32, 2, 0, FlowCond},
	BleUn:    {"ble.un", OperandBranch32, 2, 0, FlowCond},
	BltUn:    {"blt.un", OperandBranch32, 2, 0, FlowCond},
	Switch:   {"switch", OperandSwitch, 1, 0, FlowCond},

	LdindI1:  {"ldind.i1", OperandNone, 1, 1, FlowNext},
	LdindU1:  {"ldind.u1", OperandNone, 1, 1, FlowNext},
	LdindI2:  {"ldind.i2", OperandNone, 1, 1, FlowNext},
	LdindU2:  {"ldind.u2", OperandNone, 1, 1, FlowNext},
	LdindI4:  {"ldind.i4", OperandNone, 1, 1, FlowNext},
	LdindU4:  {"ldind.u4", OperandNone, 1, 1, FlowNext},
	LdindI8:  {"ldind.i8", OperandNone, 1, 1, FlowNext},
	LdindI:   {"ldind.i", OperandNone, 1, 1, FlowNext},
	LdindR4:  {"ldind.r4", OperandNone, 1, 1, FlowNext},
	LdindR8:  {"ldind.r8", OperandNone, 1, 1, FlowNext},
	LdindRef: {"ldind.ref", OperandNone, 1, 1, FlowNext},
	StindRef: {"stind.ref", OperandNone, 2, 0, FlowNext},
	StindI1:  {"stind.i1", OperandNone, 2, 0, FlowNext},
	StindI2:  {"stind.i2", OperandNone, 2, 0, FlowNext},
	StindI4:  {"stind.i4", OperandNone, 2, 0, FlowNext},
	StindI8:  {"stind.i8", OperandNone, 2, 0, FlowNext},
	StindR4:  {"stind.r4", OperandNone, 2, 0, FlowNext},
	StindR8:  {"stind.r8", OperandNone, 2, 0, FlowNext},
	StindI:   {"stind.i", OperandNone, 2, 0, FlowNext},

	Add:      {"add", OperandNone, 2, 1, FlowNext},
	Sub:      {"sub", OperandNone, 2, 1, FlowNext},
	Mul:      {"mul", OperandNone, 2, 1, FlowNext},
	Div:      {"div", OperandNone, 2, 1, FlowNext},
	DivUn:    {"div.un", OperandNone, 2, 1, FlowNext},
	Rem:      {"rem", OperandNone, 2, 1, FlowNext},
	RemUn:    {"rem.un", OperandNone, 2, 1, FlowNext},
	And:      {"and", OperandNone, 2, 1, FlowNext},
	Or:       {"or", OperandNone, 2, 1, FlowNext},
	Xor:      {"xor", OperandNone, 2, 1, FlowNext},
	Shl:      {"shl", OperandNone, 2, 1, FlowNext},
	Shr:      {"shr", OperandNone, 2, 1, FlowNext},
	ShrUn:    {"shr.un", OperandNone, 2, 1, FlowNext},
	Neg:      {"neg", OperandNone, 1, 1, FlowNext},
	Not:      {"not", OperandNone, 1, 1, FlowNext},
	AddOvf:   {"add.ovf", OperandNone, 2, 1, FlowNext},
	AddOvfUn: {"add.ovf.un", OperandNone, 2, 1, FlowNext},
	MulOvf:   {"mul.ovf", OperandNone, 2, 1, FlowNext},
	MulOvfUn: {"mul.ovf.un", OperandNone, 2, 1, FlowNext},
	SubOvf:   {"sub.ovf", OperandNone, 2, 1, FlowNext},
	SubOvfUn: {"sub.ovf.un", OperandNone, 2, 1, FlowNext},
	Ckfinite: {"ckfinite", OperandNone, 1, 1, FlowNext},

	ConvI1:  {"conv.i1", OperandNone, 1, 1, FlowNext},
	ConvI2:  {"conv.i2", OperandNone, 1, 1, FlowNext},
	ConvI4:  {"conv.i4", OperandNone, 1, 1, FlowNext},
	ConvI8:  {"conv.i8", OperandNone, 1, 1, FlowNext},
	ConvR4:  {"conv.r4", OperandNone, 1, 1, FlowNext},
	ConvR8:  {"conv.r8", OperandNone, 1, 1, FlowNext},
	ConvU4:  {"conv.u4", OperandNone, 1, 1, FlowNext},
	ConvU8:  {"conv.u8", OperandNone, 1, 1, FlowNext},
	ConvRUn: {"conv.r.un", OperandNone, 1, 1, FlowNext},
	ConvU2:  {"conv.u2", OperandNone, 1, 1, FlowNext},
	ConvU1:  {"conv.u1", OperandNone, 1, 1, FlowNext},
	ConvI:   {"conv.i", OperandNone, 1, 1, FlowNext},
	ConvU:   {"conv.u", OperandNone, 1, 1, FlowNext},

	ConvOvfI1Un: {"conv.ovf.i1.un", OperandNone, 1, 1, FlowNext},
	ConvOvfI2Un: {"conv.ovf.i2.un", OperandNone, 1, 1, FlowNext},
	ConvOvfI4Un: {"conv.ovf.i4.un", OperandNone, 1, 1, FlowNext},
	ConvOvfI8Un: {"conv.ovf.i8.un", OperandNone, 1, 1, FlowNext},
	ConvOvfU1Un: {"conv.ovf.u1.un", OperandNone, 1, 1, FlowNext},
	ConvOvfU2Un: {"conv.ovf.u2.un", OperandNone, 1, 1, FlowNext},
	ConvOvfU4Un: {"conv.ovf.u4.un", OperandNone, 1, 1, FlowNext},
	ConvOvfU8Un: {"conv.ovf.u8.un", OperandNone, 1, 1, FlowNext},
	ConvOvfIUn:  {"conv.ovf.i.un", OperandNone, 1, 1, FlowNext},
	ConvOvfUUn:  {"conv.ovf.u.un", OperandNone, 1, 1, FlowNext},
	ConvOvfI1:   {"conv.ovf.i1", OperandNone, 1, 1, FlowNext},
	ConvOvfU1:   {"conv.ovf.u1", OperandNone, 1, 1, FlowNext},
	ConvOvfI2:   {"conv.ovf.i2", OperandNone, 1, 1, FlowNext},
	ConvOvfU2:   {"conv.ovf.u2", OperandNone, 1, 1, FlowNext},
	ConvOvfI4:   {"conv.ovf.i4", OperandNone, 1, 1, FlowNext},
	ConvOvfU4:   {"conv.ovf.u4", OperandNone, 1, 1, FlowNext},
	ConvOvfI8:   {"conv.ovf.i8", OperandNone, 1, 1, FlowNext},
	ConvOvfU8:   {"conv.ovf.u8", OperandNone, 1, 1, FlowNext},
	ConvOvfI:    {"conv.ovf.i", OperandNone, 1, 1, FlowNext},
	ConvOvfU:    {"conv.ovf.u", OperandNone, 1, 1, FlowNext},

	Cpobj:     {"cpobj", OperandToken, 2, 0, FlowNext},
	Ldobj:     {"ldobj", OperandToken, 1, 1, FlowNext},
	Stobj:     {"stobj", OperandToken, 2, 0, FlowNext},
	Castclass: {"castclass", OperandToken, 1, 1, FlowNext},
	Isinst:    {"isinst", OperandToken, 1, 1, FlowNext},
	Unbox:     {"unbox", OperandToken, 1, 1, FlowNext},
	UnboxAny:  {"unbox.any", OperandToken, 1, 1, FlowNext},
	Box:       {"box", OperandToken, 1, 1, FlowNext},
	Throw:     {"throw", OperandNone, 1, 0, FlowThrow},
	Ldfld:     {"ldfld", OperandToken, 1, 1, FlowNext},
	Ldflda:    {"ldflda", OperandToken, 1, 1, FlowNext},
	Stfld:     {"stfld", OperandToken, 2, 0, FlowNext},
	Ldsfld:    {"ldsfld", OperandToken, 0, 1, FlowNext},
	Ldsflda:   {"ldsflda", OperandToken, 0, 1, FlowNext},
	Stsfld:    {"stsfld", OperandToken, 1, 0, FlowNext},

	Newarr:    {"newarr", OperandToken, 1, 1, FlowNext},
	Ldlen:     {"ldlen", OperandNone, 1, 1, FlowNext},
	Ldelema:   {"ldelema", OperandToken, 2, 1, FlowNext},
	LdelemI1:  {"ldelem.i1", OperandNone, 2, 1, FlowNext},
	LdelemU1:  {"ldelem.u1", OperandNone, 2, 1, FlowNext},
	LdelemI2:  {"ldelem.i2", OperandNone, 2, 1, FlowNext},
	LdelemU2:  {"ldelem.u2", OperandNone, 2, 1, FlowNext},
	LdelemI4:  {"ldelem.i4", OperandNone, 2, 1, FlowNext},
	LdelemU4:  {"ldelem.u4", OperandNone, 2, 1, FlowNext},
	LdelemI8:  {"ldelem.i8", OperandNone, 2, 1, FlowNext},
	LdelemI:   {"ldelem.i", OperandNone, 2, 1, FlowNext},
	LdelemR4:  {"ldelem.r4", OperandNone, 2, 1, FlowNext},
	LdelemR8:  {"ldelem.r8", OperandNone, 2, 1, FlowNext},
	LdelemRef: {"ldelem.ref", OperandNone, 2, 1, FlowNext},
	StelemI:   {"stelem.i", OperandNone, 3, 0, FlowNext},
	StelemI1:  {"stelem.i1", OperandNone, 3, 0, FlowNext},
	StelemI2:  {"stelem.i2", OperandNone, 3, 0, FlowNext},
	StelemI4:  {"stelem.i4", OperandNone, 3, 0, FlowNext},
	StelemI8:  {"stelem.i8", OperandNone, 3, 0, FlowNext},
	StelemR4:  {"stelem.r4", OperandNone, 3, 0, FlowNext},
	StelemR8:  {"stelem.r8", OperandNone, 3, 0, FlowNext},
	StelemRef: {"stelem.ref", OperandNone, 3, 0, FlowNext},
	Ldelem:    {"ldelem", OperandToken, 2, 1, FlowNext},
	Stelem:    {"stelem", OperandToken, 3, 0, FlowNext},

	Refanyval: {"refanyval", OperandToken, 1, 1, FlowNext},
	Mkrefany:  {"mkrefany", OperandToken, 1, 1, FlowNext},
	Ldtoken:   {"ldtoken", OperandToken, 0, 1, FlowNext},

	Endfinally: {"endfinally", OperandNone, 0, 0, FlowLeave},
	Leave:      {"leave", OperandBranch32, 0, 0, FlowLeave},
	LeaveS:     {"leave.s", OperandBranch8, 0, 0, FlowLeave},

	Arglist:    {"arglist", OperandNone, 0, 1, FlowNext},
	Ceq:        {"ceq", OperandNone, 2, 1, FlowNext},
	Cgt:        {"cgt", OperandNone, 2, 1, FlowNext},
	CgtUn:      {"cgt.un", OperandNone, 2, 1, FlowNext},
	Clt:        {"clt", OperandNone, 2, 1, FlowNext},
	CltUn:      {"clt.un", OperandNone, 2, 1, FlowNext},
	Ldftn:      {"ldftn", OperandToken, 0, 1, FlowNext},
	Ldvirtftn:  {"ldvirtftn", OperandToken, 1, 1, FlowNext},
	Localloc:   {"localloc", OperandNone, 1, 1, FlowNext},
	Endfilter:  {"endfilter", OperandNone, 1, 0, FlowLeave},
	Unaligned:  {"unaligned.", OperandInt8, 0, 0, FlowMeta},
	Volatile:   {"volatile.", OperandNone, 0, 0, FlowMeta},
	Tail:       {"tail.", OperandNone, 0, 0, FlowMeta},
	Initobj:    {"initobj", OperandToken, 1, 0, FlowNext},
	Cpblk:      {"cpblk", OperandNone, 3, 0, FlowNext},
	Initblk:    {"initblk", OperandNone, 3, 0, FlowNext},
	Rethrow:    {"rethrow", OperandNone, 0, 0, FlowThrow},
	Sizeof:     {"sizeof", OperandToken, 0, 1, FlowNext},
	Refanytype: {"refanytype", OperandNone, 1, 1, FlowNext},
}
