// Package image reads and writes module images (.ilm files).
//
// An image is a single CBOR document holding a module's class
// definitions, method bodies and the four token tables instruction
// operands index. Classes are referenced by full name; names that the
// module does not define are resolved against the reference modules
// given to Unmarshal, normally the process corlib.
package image

import (
	"errors"
	"fmt"
	"os"

	"github.com/chazu/ilvm/metadata"
	"github.com/fxamacker/cbor/v2"
)

// Magic identifies an ilvm image.
const Magic = "ILVM"

// Version is the image format version.
// v1: initial format
// v2: exception clauses carry the catch class by name
const Version = 2

// Errors reported while decoding.
var (
	ErrNotImage     = errors.New("image: not an ilvm image")
	ErrVersion      = errors.New("image: unsupported version")
	ErrUnresolved   = errors.New("image: unresolved reference")
	ErrMalformed    = errors.New("image: malformed")
	ErrDuplicateDef = errors.New("image: duplicate definition")
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// ---------------------------------------------------------------------------
// Wire records
// ---------------------------------------------------------------------------

type file struct {
	Magic   string      `cbor:"1,keyasint"`
	Version int         `cbor:"2,keyasint"`
	Name    string      `cbor:"3,keyasint"`
	Classes []classRec  `cbor:"4,keyasint,omitempty"`
	Methods []memberRef `cbor:"5,keyasint,omitempty"`
	Fields  []memberRef `cbor:"6,keyasint,omitempty"`
	Types   []typeRec   `cbor:"7,keyasint,omitempty"`
	Strings []string    `cbor:"8,keyasint,omitempty"`
}

type classRec struct {
	Namespace  string      `cbor:"1,keyasint"`
	Name       string      `cbor:"2,keyasint"`
	Parent     string      `cbor:"3,keyasint,omitempty"`
	Interfaces []string    `cbor:"4,keyasint,omitempty"`
	Attrs      uint32      `cbor:"5,keyasint"`
	Fields     []fieldRec  `cbor:"6,keyasint,omitempty"`
	Methods    []methodRec `cbor:"7,keyasint,omitempty"`
}

type fieldRec struct {
	Name   string  `cbor:"1,keyasint"`
	Type   typeRec `cbor:"2,keyasint"`
	Attrs  uint32  `cbor:"3,keyasint"`
	Access uint8   `cbor:"4,keyasint"`
}

type methodRec struct {
	Name      string   `cbor:"1,keyasint"`
	Attrs     uint32   `cbor:"2,keyasint"`
	Access    uint8    `cbor:"3,keyasint"`
	Signature sigRec   `cbor:"4,keyasint"`
	Body      *bodyRec `cbor:"5,keyasint,omitempty"`
}

type bodyRec struct {
	MaxStack   int         `cbor:"1,keyasint"`
	Locals     []typeRec   `cbor:"2,keyasint,omitempty"`
	Code       []byte      `cbor:"3,keyasint"`
	Handlers   []clauseRec `cbor:"4,keyasint,omitempty"`
	InitLocals bool        `cbor:"5,keyasint"`
}

type clauseRec struct {
	Kind          uint8  `cbor:"1,keyasint"`
	TryOffset     int    `cbor:"2,keyasint"`
	TryLength     int    `cbor:"3,keyasint"`
	HandlerOffset int    `cbor:"4,keyasint"`
	HandlerLength int    `cbor:"5,keyasint"`
	Class         string `cbor:"6,keyasint,omitempty"`
}

type sigRec struct {
	HasThis bool      `cbor:"1,keyasint"`
	Return  typeRec   `cbor:"2,keyasint"`
	Params  []typeRec `cbor:"3,keyasint,omitempty"`
}

type typeRec struct {
	Kind  uint8    `cbor:"1,keyasint"`
	Class string   `cbor:"2,keyasint,omitempty"`
	Elem  *typeRec `cbor:"3,keyasint,omitempty"`
}

// memberRef names a method (with its signature) or a field of any module.
type memberRef struct {
	Owner     string  `cbor:"1,keyasint"`
	Name      string  `cbor:"2,keyasint"`
	Signature *sigRec `cbor:"3,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Marshal serializes m.
func Marshal(m *metadata.Module) ([]byte, error) {
	f := file{Magic: Magic, Version: Version, Name: m.Name}
	for _, c := range m.Classes {
		f.Classes = append(f.Classes, encodeClass(c))
	}
	for _, meth := range m.Methods() {
		sig := encodeSig(meth.Signature)
		f.Methods = append(f.Methods, memberRef{Owner: meth.Owner.FullName(), Name: meth.Name, Signature: &sig})
	}
	for _, fld := range m.Fields() {
		f.Fields = append(f.Fields, memberRef{Owner: fld.Owner.FullName(), Name: fld.Name})
	}
	for _, t := range m.Types() {
		f.Types = append(f.Types, encodeType(t))
	}
	f.Strings = m.Strings()

	data, err := encMode.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("image: encode %s: %w", m.Name, err)
	}
	return data, nil
}

// WriteFile writes m to path.
func WriteFile(path string, m *metadata.Module) error {
	data, err := Marshal(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	return nil
}

func encodeClass(c *metadata.Class) classRec {
	rec := classRec{Namespace: c.Namespace, Name: c.Name, Attrs: uint32(c.Attrs)}
	if c.Parent != nil {
		rec.Parent = c.Parent.FullName()
	}
	for _, i := range c.Interfaces {
		rec.Interfaces = append(rec.Interfaces, i.FullName())
	}
	for _, f := range c.Fields {
		rec.Fields = append(rec.Fields, fieldRec{
			Name: f.Name, Type: encodeType(f.Type), Attrs: uint32(f.Attrs), Access: uint8(f.Access),
		})
	}
	for _, m := range c.Methods {
		mr := methodRec{Name: m.Name, Attrs: uint32(m.Attrs), Access: uint8(m.Access), Signature: encodeSig(m.Signature)}
		if m.Body != nil {
			mr.Body = encodeBody(m.Body)
		}
		rec.Methods = append(rec.Methods, mr)
	}
	return rec
}

func encodeBody(b *metadata.MethodBody) *bodyRec {
	rec := &bodyRec{MaxStack: b.MaxStack, Code: b.Code, InitLocals: b.InitLocals}
	for _, l := range b.Locals {
		rec.Locals = append(rec.Locals, encodeType(l))
	}
	for _, h := range b.Handlers {
		cr := clauseRec{
			Kind:          uint8(h.Kind),
			TryOffset:     h.TryOffset,
			TryLength:     h.TryLength,
			HandlerOffset: h.HandlerOffset,
			HandlerLength: h.HandlerLength,
		}
		if h.Class != nil {
			cr.Class = h.Class.FullName()
		}
		rec.Handlers = append(rec.Handlers, cr)
	}
	return rec
}

func encodeSig(s *metadata.Signature) sigRec {
	rec := sigRec{HasThis: s.HasThis, Return: encodeType(s.Return)}
	for _, p := range s.Params {
		rec.Params = append(rec.Params, encodeType(p))
	}
	return rec
}

func encodeType(t *metadata.Type) typeRec {
	rec := typeRec{Kind: uint8(t.Kind)}
	if t.Class != nil {
		rec.Class = t.Class.FullName()
	}
	if t.Elem != nil {
		elem := encodeType(t.Elem)
		rec.Elem = &elem
	}
	return rec
}
