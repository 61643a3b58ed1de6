package machine

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/kiln/ir"
)

// Binary encoding. A module is a little-endian stream of 32-bit words: a
// header followed by records. Each record starts with a word holding its
// length in words (including itself) in the upper 16 bits and its opcode in
// the lower 16.
//
//	header:      Magic Version FunctionCount name...
//	function:    ret closure name...
//	param:       type id name...
//	label:       name...
//	instruction: type result pred|flags<<8 align
//	             nargs args... nimm (lo hi)... ntargets targets... name...
//	end
const (
	Magic   = 0x4e4c494b // "KILN"
	Version = 1 << 16
)

// ErrBadEncoding is wrapped by every Decode failure.
var ErrBadEncoding = errors.New("bad module encoding")

type words struct {
	w []uint32
}

func (b *words) word(x uint32) { b.w = append(b.w, x) }

// str appends a NUL-terminated string padded to a word boundary.
func (b *words) str(s string) {
	bytes := append([]byte(s), 0)
	for len(bytes)%4 != 0 {
		bytes = append(bytes, 0)
	}
	for i := 0; i < len(bytes); i += 4 {
		b.word(binary.LittleEndian.Uint32(bytes[i:]))
	}
}

func typeWord(t ir.Type) uint32 {
	if t.IsVoid() {
		return 0
	}
	return uint32(t.Code)<<24 | uint32(t.Bits)<<16 | uint32(t.Lanes)
}

func wordType(w uint32) ir.Type {
	if w == 0 {
		return ir.Void
	}
	return ir.Type{Code: ir.TypeCode(w >> 24), Bits: int(w >> 16 & 0xff), Lanes: int(w & 0xffff)}
}

// record encodes one record with opcode op.
func record(op Opcode, fill func(b *words)) []uint32 {
	b := &words{w: []uint32{0}}
	fill(b)
	b.w[0] = uint32(len(b.w))<<16 | uint32(op)
	return b.w
}

// Encode serialises m.
func (m *Module) Encode() []byte {
	var out []uint32
	head := &words{}
	head.word(Magic)
	head.word(Version)
	head.word(uint32(len(m.Functions)))
	head.str(m.Name)
	out = append(out, head.w...)

	for _, f := range m.Functions {
		out = append(out, record(OpFunction, func(b *words) {
			b.word(typeWord(f.Ret))
			closure := uint32(0)
			if f.Closure {
				closure = 1
			}
			b.word(closure)
			b.str(f.Name)
		})...)
		for _, p := range f.Params {
			out = append(out, record(OpParam, func(b *words) {
				b.word(typeWord(p.T))
				b.word(p.ID)
				b.str(p.Name)
			})...)
		}
		for _, blk := range f.Blocks {
			out = append(out, record(OpLabel, func(b *words) { b.str(blk.Name) })...)
			for i := range blk.Insts {
				out = append(out, encodeInst(&blk.Insts[i])...)
			}
		}
		out = append(out, record(OpFunctionEnd, func(*words) {})...)
	}

	buf := make([]byte, 4*len(out))
	for i, w := range out {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func encodeInst(in *Instruction) []uint32 {
	return record(in.Op, func(b *words) {
		b.word(typeWord(in.T))
		b.word(in.Result)
		b.word(uint32(in.Pred) | uint32(in.Flags)<<8)
		b.word(uint32(in.Align))
		b.word(uint32(len(in.Args)))
		for _, a := range in.Args {
			b.word(a)
		}
		b.word(uint32(len(in.Imm)))
		for _, x := range in.Imm {
			b.word(uint32(x))
			b.word(uint32(x >> 32))
		}
		b.word(uint32(len(in.Targets)))
		for _, t := range in.Targets {
			b.word(uint32(t))
		}
		b.str(in.Name)
	})
}

type reader struct {
	w   []uint32
	pos int
}

func (r *reader) word() (uint32, error) {
	if r.pos >= len(r.w) {
		return 0, fmt.Errorf("unexpected end at word %d: %w", r.pos, ErrBadEncoding)
	}
	r.pos++
	return r.w[r.pos-1], nil
}

func (r *reader) str() (string, error) {
	var bytes []byte
	for {
		w, err := r.word()
		if err != nil {
			return "", err
		}
		for k := 0; k < 4; k++ {
			c := byte(w >> (8 * k))
			if c == 0 {
				return string(bytes), nil
			}
			bytes = append(bytes, c)
		}
	}
}

func (r *reader) count(limit int) (int, error) {
	w, err := r.word()
	if err != nil {
		return 0, err
	}
	if int(w) > limit {
		return 0, fmt.Errorf("count %d exceeds record length: %w", w, ErrBadEncoding)
	}
	return int(w), nil
}

// Decode parses a module produced by Encode.
func Decode(data []byte) (*Module, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 4: %w", len(data), ErrBadEncoding)
	}
	r := &reader{w: make([]uint32, len(data)/4)}
	for i := range r.w {
		r.w[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	if magic, err := r.word(); err != nil || magic != Magic {
		return nil, fmt.Errorf("missing magic number: %w", ErrBadEncoding)
	}
	if v, err := r.word(); err != nil || v != Version {
		return nil, fmt.Errorf("unsupported version %#x: %w", v, ErrBadEncoding)
	}
	nfuncs, err := r.count(len(r.w))
	if err != nil {
		return nil, err
	}
	m := &Module{}
	if m.Name, err = r.str(); err != nil {
		return nil, err
	}

	var f *Function
	var blk *Block
	for r.pos < len(r.w) {
		head := r.w[r.pos]
		n, op := int(head>>16), Opcode(head&0xffff)
		if n == 0 || r.pos+n > len(r.w) {
			return nil, fmt.Errorf("record at word %d has length %d: %w", r.pos, n, ErrBadEncoding)
		}
		rec := &reader{w: r.w[r.pos+1 : r.pos+n]}
		r.pos += n

		switch {
		case op == OpFunction:
			if f != nil {
				return nil, fmt.Errorf("function %s is not ended: %w", f.Name, ErrBadEncoding)
			}
			f = &Function{}
			f.define(0, ir.Void)
			err = decodeFunction(rec, f)
		case f == nil:
			return nil, fmt.Errorf("%s record outside a function: %w", op, ErrBadEncoding)
		case op == OpParam:
			var p Param
			var tw uint32
			if tw, err = rec.word(); err == nil {
				p.T = wordType(tw)
				if p.ID, err = rec.word(); err == nil {
					p.Name, err = rec.str()
				}
			}
			f.Params = append(f.Params, p)
			f.define(p.ID, p.T)
		case op == OpLabel:
			blk = &Block{}
			blk.Name, err = rec.str()
			f.Blocks = append(f.Blocks, blk)
		case op == OpFunctionEnd:
			m.Functions = append(m.Functions, f)
			f, blk = nil, nil
		case blk == nil:
			return nil, fmt.Errorf("%s instruction outside a block: %w", op, ErrBadEncoding)
		default:
			var in Instruction
			in, err = decodeInst(rec, op)
			if in.Result != 0 {
				f.define(in.Result, in.T)
			}
			blk.Insts = append(blk.Insts, in)
		}
		if err != nil {
			return nil, err
		}
	}
	if f != nil {
		return nil, fmt.Errorf("function %s is not ended: %w", f.Name, ErrBadEncoding)
	}
	if len(m.Functions) != nfuncs {
		return nil, fmt.Errorf("header declares %d functions, found %d: %w", nfuncs, len(m.Functions), ErrBadEncoding)
	}
	return m, nil
}

func decodeFunction(r *reader, f *Function) error {
	ret, err := r.word()
	if err != nil {
		return err
	}
	closure, err := r.word()
	if err != nil {
		return err
	}
	f.Ret, f.Closure = wordType(ret), closure != 0
	f.Name, err = r.str()
	return err
}

func decodeInst(r *reader, op Opcode) (Instruction, error) {
	in := Instruction{Op: op}
	var fixed [4]uint32
	for i := range fixed {
		w, err := r.word()
		if err != nil {
			return in, err
		}
		fixed[i] = w
	}
	in.T = wordType(fixed[0])
	in.Result = fixed[1]
	in.Pred, in.Flags = Pred(fixed[2]), Flags(fixed[2]>>8)
	in.Align = int(fixed[3])

	n, err := r.count(len(r.w))
	if err != nil {
		return in, err
	}
	for i := 0; i < n; i++ {
		a, err := r.word()
		if err != nil {
			return in, err
		}
		in.Args = append(in.Args, a)
	}
	if n, err = r.count(len(r.w)); err != nil {
		return in, err
	}
	for i := 0; i < n; i++ {
		lo, err := r.word()
		if err != nil {
			return in, err
		}
		hi, err := r.word()
		if err != nil {
			return in, err
		}
		in.Imm = append(in.Imm, uint64(hi)<<32|uint64(lo))
	}
	if n, err = r.count(len(r.w)); err != nil {
		return in, err
	}
	for i := 0; i < n; i++ {
		t, err := r.word()
		if err != nil {
			return in, err
		}
		in.Targets = append(in.Targets, int(t))
	}
	in.Name, err = r.str()
	return in, err
}
