package vm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tliron/commonlog"

	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/pkg/cil"
)

// ---------------------------------------------------------------------------
// Verification errors
// ---------------------------------------------------------------------------

// Verification failure kinds. A *VerifyError unwraps to one of these.
var (
	ErrTruncated     = errors.New("truncated instruction")
	ErrBranch        = errors.New("invalid branch target")
	ErrInsn          = errors.New("invalid instruction")
	ErrStack         = errors.New("stack shape error")
	ErrType          = errors.New("type error")
	ErrMissingMethod = errors.New("missing method")
	ErrMissingField  = errors.New("missing field")
	ErrMissingType   = errors.New("missing type")
	ErrSecurity      = errors.New("member access denied")
	ErrUnsupported   = errors.New("unsupported instruction")
)

// VerifyError reports why a method failed verification.
type VerifyError struct {
	Kind   error
	Method *metadata.Method
	Offset int
	Op     cil.Opcode
	Detail string
}

func (e *VerifyError) Error() string {
	name := "<method>"
	if e.Method != nil {
		name = e.Method.FullName()
	}
	if e.Detail == "" {
		return fmt.Sprintf("verify %s: IL_%04x %s: %v", name, e.Offset, e.Op, e.Kind)
	}
	return fmt.Sprintf("verify %s: IL_%04x %s: %v: %s", name, e.Offset, e.Op, e.Kind, e.Detail)
}

func (e *VerifyError) Unwrap() error { return e.Kind }

// ---------------------------------------------------------------------------
// Verifier
// ---------------------------------------------------------------------------

// JumpTarget is the stack shape recorded for a branch destination.
type JumpTarget struct {
	Offset int
	Stack  []StackItem
}

// Verified is the outcome of a successful verification.
type Verified struct {
	Method   *metadata.Method
	Targets  []JumpTarget // sorted by offset
	Restarts int
}

// Verifier proves methods type safe while driving a Coder.
type Verifier struct {
	Corlib *metadata.Corlib
	// Unsafe admits pointer arithmetic and pointer/integer comparisons.
	Unsafe bool
	Log    commonlog.Logger
}

// NewVerifier creates a verifier for methods that resolve against corlib.
func NewVerifier(corlib *metadata.Corlib, unsafeAllowed bool) *Verifier {
	return &Verifier{Corlib: corlib, Unsafe: unsafeAllowed, Log: commonlog.GetLogger("ilvm.verify")}
}

const (
	maskInsnStart  uint8 = 1
	maskJumpTarget uint8 = 2
)

// verification is the state of one pass over one method.
type verification struct {
	v      *Verifier
	coder  Coder
	method *metadata.Method
	body   *metadata.MethodBody
	code   []byte

	insns   []cil.Instruction
	mask    []uint8
	targets map[int][]StackItem

	stack       []StackItem
	in          cil.Instruction
	lastWasJump bool
}

// Verify checks method and feeds it to coder. When the coder reports
// cache exhaustion and agrees to restart, the whole method is verified
// again from the scan pass.
func (v *Verifier) Verify(coder Coder, method *metadata.Method) (*Verified, error) {
	body := method.Body
	if body == nil {
		return nil, &VerifyError{Kind: ErrMissingMethod, Method: method, Detail: "method has no body"}
	}
	restarts := 0
	for {
		if err := coder.Setup(method, body); err != nil {
			return nil, fmt.Errorf("vm: coder setup for %s: %w", method.FullName(), err)
		}
		vs := &verification{
			v:       v,
			coder:   coder,
			method:  method,
			body:    body,
			code:    body.Code,
			targets: make(map[int][]StackItem),
		}
		if err := vs.run(); err != nil {
			if v.Log != nil {
				v.Log.Warningf("%v", err)
			}
			return nil, err
		}
		finishErr := coder.Finish()
		if coder.Restart() {
			restarts++
			if v.Log != nil {
				v.Log.Infof("restarting %s after coder cache exhaustion", method.FullName())
			}
			continue
		}
		if finishErr != nil {
			return nil, fmt.Errorf("vm: coder finish for %s: %w", method.FullName(), finishErr)
		}
		return &Verified{Method: method, Targets: vs.sortedTargets(), Restarts: restarts}, nil
	}
}

func (vs *verification) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			ve, ok := r.(*VerifyError)
			if !ok {
				panic(r)
			}
			err = ve
		}
	}()
	vs.scan()
	vs.seedHandlers()
	vs.verifyCode()
	return nil
}

// fail aborts the pass with a verification error at the current
// instruction.
func (vs *verification) fail(kind error, format string, args ...any) {
	panic(&VerifyError{
		Kind:   kind,
		Method: vs.method,
		Offset: vs.in.Offset,
		Op:     vs.in.Op,
		Detail: fmt.Sprintf(format, args...),
	})
}

// ---------------------------------------------------------------------------
// Scan pass
// ---------------------------------------------------------------------------

func (vs *verification) scan() {
	n := len(vs.code)
	vs.mask = make([]uint8, n+1)
	for pc := 0; pc < n; {
		in, err := cil.Decode(vs.code, pc)
		if err != nil {
			vs.in = cil.Instruction{Offset: pc}
			switch {
			case errors.Is(err, cil.ErrTruncated), errors.Is(err, cil.ErrSwitchSize):
				vs.fail(ErrTruncated, "%v", err)
			default:
				vs.fail(ErrInsn, "%v", err)
			}
		}
		vs.in = in
		vs.mask[pc] |= maskInsnStart
		for _, t := range in.Targets {
			if t < 0 || t >= n {
				vs.fail(ErrBranch, "target %d outside code of length %d", t, n)
			}
			vs.mask[t] |= maskJumpTarget
		}
		vs.insns = append(vs.insns, in)
		pc = in.Next()
	}
	vs.in = cil.Instruction{}
	for i := range vs.body.Handlers {
		h := &vs.body.Handlers[i]
		if h.TryOffset < 0 || h.TryLength <= 0 || h.TryOffset+h.TryLength > n ||
			h.HandlerOffset < 0 || h.HandlerLength <= 0 || h.HandlerOffset+h.HandlerLength > n {
			vs.fail(ErrBranch, "exception clause %d out of range", i)
		}
		if h.Kind == metadata.ClauseCatch && h.Class == nil {
			vs.fail(ErrMissingType, "catch clause %d has no class", i)
		}
		vs.mask[h.TryOffset] |= maskJumpTarget
		vs.mask[h.HandlerOffset] |= maskJumpTarget
	}
	for off := 0; off < n; off++ {
		if vs.mask[off]&maskJumpTarget != 0 && vs.mask[off]&maskInsnStart == 0 {
			vs.in = cil.Instruction{Offset: off}
			vs.fail(ErrBranch, "target %d is inside an instruction", off)
		}
	}
}

// seedHandlers records the fixed entry shapes of protected regions and
// handlers before the linear walk reaches them.
func (vs *verification) seedHandlers() {
	for _, h := range vs.body.Handlers {
		vs.record(h.TryOffset, nil)
		if h.Kind == metadata.ClauseCatch {
			vs.record(h.HandlerOffset, []StackItem{{Engine: EngineO, Type: boxedType(h.Class)}})
		} else {
			vs.record(h.HandlerOffset, nil)
		}
	}
}

// record stores or checks the shape at a target offset.
func (vs *verification) record(offset int, shape []StackItem) {
	if prev, ok := vs.targets[offset]; ok {
		vs.compareShape(offset, prev, shape)
		return
	}
	vs.targets[offset] = append([]StackItem(nil), shape...)
}

func (vs *verification) compareShape(offset int, want, got []StackItem) {
	if len(want) != len(got) {
		vs.fail(ErrStack, "stack height %d at IL_%04x, previously %d", len(got), offset, len(want))
	}
	for i := range want {
		if !want[i].Same(got[i]) {
			vs.fail(ErrType, "slot %d is %s at IL_%04x, previously %s", i, got[i], offset, want[i])
		}
	}
}

func (vs *verification) sortedTargets() []JumpTarget {
	out := make([]JumpTarget, 0, len(vs.targets))
	for off, shape := range vs.targets {
		out = append(out, JumpTarget{Offset: off, Stack: shape})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// ---------------------------------------------------------------------------
// Verification pass
// ---------------------------------------------------------------------------

func (vs *verification) verifyCode() {
	maxStack := vs.body.MaxStack
	vs.stack = make([]StackItem, 0, maxStack)
	for _, in := range vs.insns {
		vs.in = in
		pc := in.Offset
		if vs.mask[pc]&maskJumpTarget != 0 {
			vs.enterTarget(pc)
			vs.coder.Label(pc)
			for _, item := range vs.stack {
				vs.coder.StackItem(item)
			}
		} else if vs.lastWasJump {
			vs.stack = vs.stack[:0]
		}

		info := in.Op.Info()
		if info.Popped != cil.Variable {
			if len(vs.stack) < info.Popped {
				vs.fail(ErrStack, "needs %d operands, stack has %d", info.Popped, len(vs.stack))
			}
			if info.Pushed != cil.Variable && len(vs.stack)-info.Popped+info.Pushed > maxStack {
				vs.fail(ErrStack, "exceeds max stack %d", maxStack)
			}
		}
		vs.lastWasJump = false
		vs.instruction(in)
	}
	if !vs.lastWasJump {
		vs.in = cil.Instruction{Offset: len(vs.code)}
		vs.fail(ErrInsn, "control falls off the end of the method")
	}
}

// enterTarget merges the fall-through stack into a target. After an
// unconditional transfer there is no fall-through, so the recorded shape
// is adopted, or the stack is empty if nothing was recorded yet.
func (vs *verification) enterTarget(pc int) {
	prev, ok := vs.targets[pc]
	if vs.lastWasJump {
		if ok {
			vs.stack = append(vs.stack[:0], prev...)
			return
		}
		vs.stack = vs.stack[:0]
		vs.targets[pc] = nil
		return
	}
	vs.record(pc, vs.stack)
}

// branchTo merges the current stack into a branch destination.
func (vs *verification) branchTo(dest int) {
	vs.record(dest, vs.stack)
}

// ---------------------------------------------------------------------------
// Stack helpers
// ---------------------------------------------------------------------------

func (vs *verification) push(item StackItem) {
	if len(vs.stack) >= vs.body.MaxStack {
		vs.fail(ErrStack, "exceeds max stack %d", vs.body.MaxStack)
	}
	vs.stack = append(vs.stack, item)
}

func (vs *verification) pushEngine(e EngineType) {
	vs.push(StackItem{Engine: e})
}

func (vs *verification) pop() StackItem {
	n := len(vs.stack)
	if n == 0 {
		vs.fail(ErrStack, "stack underflow")
	}
	item := vs.stack[n-1]
	vs.stack = vs.stack[:n-1]
	return item
}

func (vs *verification) top() StackItem {
	if len(vs.stack) == 0 {
		vs.fail(ErrStack, "stack underflow")
	}
	return vs.stack[len(vs.stack)-1]
}

// boxedType is the static type of a reference to a boxed or ordinary
// instance of c.
func boxedType(c *metadata.Class) *metadata.Type {
	return &metadata.Type{Kind: metadata.ElemClass, Class: c}
}
