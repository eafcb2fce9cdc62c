package image

import (
	"fmt"
	"os"

	"github.com/chazu/ilvm/metadata"
	"github.com/fxamacker/cbor/v2"
)

// Unmarshal decodes an image. Class names the image does not define are
// looked up in refs, in order.
func Unmarshal(data []byte, refs ...*metadata.Module) (*metadata.Module, error) {
	var f file
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if f.Magic != Magic {
		return nil, ErrNotImage
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}

	d := &decoder{mod: metadata.NewModule(f.Name), classes: make(map[string]*metadata.Class)}
	for _, r := range refs {
		for _, c := range r.Classes {
			if _, ok := d.classes[c.FullName()]; !ok {
				d.classes[c.FullName()] = c
			}
		}
	}
	if err := d.decode(&f); err != nil {
		return nil, fmt.Errorf("image %s: %w", f.Name, err)
	}
	return d.mod, nil
}

// ReadFile decodes the image at path.
func ReadFile(path string, refs ...*metadata.Module) (*metadata.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return Unmarshal(data, refs...)
}

type decoder struct {
	mod     *metadata.Module
	classes map[string]*metadata.Class
}

func (d *decoder) decode(f *file) error {
	// Class shells first so members can refer to any class by name.
	own := make(map[string]bool, len(f.Classes))
	defs := make([]*metadata.Class, len(f.Classes))
	for i, rec := range f.Classes {
		c := &metadata.Class{Namespace: rec.Namespace, Name: rec.Name, Attrs: metadata.ClassAttrs(rec.Attrs)}
		name := c.FullName()
		if own[name] {
			return fmt.Errorf("%w: class %s", ErrDuplicateDef, name)
		}
		own[name] = true
		d.classes[name] = c
		d.mod.AddClass(c)
		defs[i] = c
	}

	for i, rec := range f.Classes {
		if err := d.fillClass(defs[i], &rec); err != nil {
			return err
		}
	}

	for i, ref := range f.Methods {
		m, err := d.method(ref)
		if err != nil {
			return err
		}
		if tok := d.mod.MethodToken(m); int(tok&0xFFFFFF) != i+1 {
			return fmt.Errorf("%w: method %s listed twice", ErrMalformed, m)
		}
	}
	for i, ref := range f.Fields {
		fld, err := d.field(ref)
		if err != nil {
			return err
		}
		if tok := d.mod.FieldToken(fld); int(tok&0xFFFFFF) != i+1 {
			return fmt.Errorf("%w: field %s listed twice", ErrMalformed, fld)
		}
	}
	for i, rec := range f.Types {
		t, err := d.typ(&rec)
		if err != nil {
			return err
		}
		if tok := d.mod.TypeToken(t); int(tok&0xFFFFFF) != i+1 {
			return fmt.Errorf("%w: type %s listed twice", ErrMalformed, t)
		}
	}
	for i, s := range f.Strings {
		if tok := d.mod.StringToken(s); int(tok&0xFFFFFF) != i+1 {
			return fmt.Errorf("%w: string %q listed twice", ErrMalformed, s)
		}
	}
	return nil
}

func (d *decoder) class(name string) (*metadata.Class, error) {
	c, ok := d.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: class %s", ErrUnresolved, name)
	}
	return c, nil
}

func (d *decoder) fillClass(c *metadata.Class, rec *classRec) error {
	var err error
	if rec.Parent != "" {
		if c.Parent, err = d.class(rec.Parent); err != nil {
			return err
		}
	}
	for _, name := range rec.Interfaces {
		iface, err := d.class(name)
		if err != nil {
			return err
		}
		c.Interfaces = append(c.Interfaces, iface)
	}
	for _, fr := range rec.Fields {
		t, err := d.typ(&fr.Type)
		if err != nil {
			return fmt.Errorf("field %s::%s: %w", c, fr.Name, err)
		}
		c.Fields = append(c.Fields, &metadata.Field{
			Name: fr.Name, Owner: c, Type: t,
			Attrs: metadata.FieldAttrs(fr.Attrs), Access: metadata.Access(fr.Access),
		})
	}
	for _, mr := range rec.Methods {
		sig, err := d.sig(&mr.Signature)
		if err != nil {
			return fmt.Errorf("method %s::%s: %w", c, mr.Name, err)
		}
		m := &metadata.Method{
			Name: mr.Name, Owner: c, Signature: sig,
			Attrs: metadata.MethodAttrs(mr.Attrs), Access: metadata.Access(mr.Access),
		}
		if mr.Body != nil {
			if m.Body, err = d.body(mr.Body); err != nil {
				return fmt.Errorf("method %s: %w", m, err)
			}
		}
		c.Methods = append(c.Methods, m)
	}
	return nil
}

func (d *decoder) body(rec *bodyRec) (*metadata.MethodBody, error) {
	b := &metadata.MethodBody{MaxStack: rec.MaxStack, Code: rec.Code, InitLocals: rec.InitLocals}
	for i := range rec.Locals {
		t, err := d.typ(&rec.Locals[i])
		if err != nil {
			return nil, err
		}
		b.Locals = append(b.Locals, t)
	}
	for _, h := range rec.Handlers {
		clause := metadata.ExceptionClause{
			Kind:          metadata.ClauseKind(h.Kind),
			TryOffset:     h.TryOffset,
			TryLength:     h.TryLength,
			HandlerOffset: h.HandlerOffset,
			HandlerLength: h.HandlerLength,
		}
		if h.Class != "" {
			c, err := d.class(h.Class)
			if err != nil {
				return nil, err
			}
			clause.Class = c
		}
		b.Handlers = append(b.Handlers, clause)
	}
	return b, nil
}

func (d *decoder) sig(rec *sigRec) (*metadata.Signature, error) {
	ret, err := d.typ(&rec.Return)
	if err != nil {
		return nil, err
	}
	s := &metadata.Signature{HasThis: rec.HasThis, Return: ret}
	for i := range rec.Params {
		p, err := d.typ(&rec.Params[i])
		if err != nil {
			return nil, err
		}
		s.Params = append(s.Params, p)
	}
	return s, nil
}

func (d *decoder) typ(rec *typeRec) (*metadata.Type, error) {
	kind := metadata.ElementType(rec.Kind)
	switch kind {
	case metadata.ElemClass, metadata.ElemValueType:
		c, err := d.class(rec.Class)
		if err != nil {
			return nil, err
		}
		return &metadata.Type{Kind: kind, Class: c}, nil
	case metadata.ElemSZArray, metadata.ElemPtr, metadata.ElemByRef:
		if rec.Elem == nil {
			return nil, fmt.Errorf("%w: %s without element type", ErrMalformed, kind)
		}
		elem, err := d.typ(rec.Elem)
		if err != nil {
			return nil, err
		}
		return &metadata.Type{Kind: kind, Elem: elem}, nil
	}
	if t := metadata.PrimitiveType(kind); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: element type %d", ErrMalformed, rec.Kind)
}

func (d *decoder) method(ref memberRef) (*metadata.Method, error) {
	owner, err := d.class(ref.Owner)
	if err != nil {
		return nil, err
	}
	var sig *metadata.Signature
	if ref.Signature != nil {
		if sig, err = d.sig(ref.Signature); err != nil {
			return nil, err
		}
	}
	if m := owner.LookupMethod(ref.Name, sig); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%w: method %s::%s", ErrUnresolved, ref.Owner, ref.Name)
}

func (d *decoder) field(ref memberRef) (*metadata.Field, error) {
	owner, err := d.class(ref.Owner)
	if err != nil {
		return nil, err
	}
	for _, f := range owner.Fields {
		if f.Name == ref.Name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: field %s::%s", ErrUnresolved, ref.Owner, ref.Name)
}

// Loader is the part of a process that images load into.
type Loader interface {
	Modules() []*metadata.Module
	LoadModule(*metadata.Module) error
}

// Load decodes data against the modules l already holds and loads the
// result into l.
func Load(l Loader, data []byte) (*metadata.Module, error) {
	mod, err := Unmarshal(data, l.Modules()...)
	if err != nil {
		return nil, err
	}
	if err := l.LoadModule(mod); err != nil {
		return nil, fmt.Errorf("image %s: %w", mod.Name, err)
	}
	return mod, nil
}

// LoadFile reads path and loads it into l.
func LoadFile(l Loader, path string) (*metadata.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	return Load(l, data)
}
