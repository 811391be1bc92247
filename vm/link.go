package vm

import (
	"encoding/binary"
	"sort"
)

// ---------------------------------------------------------------------------
// Unit linking
// ---------------------------------------------------------------------------

// Link merges independently compiled units into one runnable unit:
// instruction streams are concatenated with jump targets and constant
// indices rebased, constant pools are appended, and export tables are
// merged. A duplicate exported name across inputs is a fatal LinkError
// and no unit is produced.
//
// Link is a pure function of its inputs: identical units in identical
// order always yield a byte-identical result, which the wire cache
// relies on.
func Link(units ...*Unit) (*Unit, error) {
	if len(units) == 0 {
		return nil, &LinkError{Msg: "no input units"}
	}

	out := &Unit{Exports: make(map[Hash]Export)}

	for _, u := range units {
		instrBase := uint32(len(out.Code))
		constBase := uint32(len(out.Constants))

		rebased, err := rebase(u.Code, instrBase, constBase)
		if err != nil {
			return nil, err
		}
		out.Code = append(out.Code, rebased...)
		out.Constants = append(out.Constants, u.Constants...)

		// Walk exports in hash order so a duplicate is always reported
		// against the same symbol.
		hashes := make([]Hash, 0, len(u.Exports))
		for h := range u.Exports {
			hashes = append(hashes, h)
		}
		sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
		for _, h := range hashes {
			exp := u.Exports[h]
			if prev, exists := out.Exports[h]; exists {
				return nil, &LinkError{Name: prev.Name, Hash: h, Msg: "duplicate export"}
			}
			exp.Offset += instrBase
			out.Exports[h] = exp
		}

		for _, d := range u.Debug {
			d.Offset += instrBase
			out.Debug = append(out.Debug, d)
		}
	}

	return out, nil
}

// rebase copies one instruction stream, shifting absolute jump targets
// and constant-pool indices. An undecodable opcode is a LinkError: a
// stream that cannot be walked cannot be safely rebased.
func rebase(code []byte, instrBase, constBase uint32) ([]byte, error) {
	out := make([]byte, len(code))
	copy(out, code)

	r := &instrReader{code: code}
	for r.hasMore() {
		op := r.readOpcode()
		info, known := opcodeTable[op]
		if !known {
			return nil, &LinkError{Msg: "cannot rebase unknown opcode " + op.String()}
		}
		switch op {
		case OpJump, OpJumpIf, OpJumpIfNot, OpIterNext:
			pos := r.pos
			target := r.readUint32()
			if !r.truncated {
				binary.LittleEndian.PutUint32(out[pos:], target+instrBase)
			}
		case OpPushConst:
			pos := r.pos
			idx := r.readUint32()
			if !r.truncated {
				binary.LittleEndian.PutUint32(out[pos:], idx+constBase)
			}
		default:
			r.skip(info.OperandBytes)
		}
	}
	if r.truncated {
		return nil, &LinkError{Msg: "truncated instruction stream"}
	}
	return out, nil
}

// VerifyLinked walks a linked unit and reports the first CALL or
// CLOSURE hash that resolves neither in the unit's export table nor in
// the given context. The check is optional: unresolved hashes also
// surface at runtime as MissingFunction faults, but linking hosts can
// reject a broken program before constructing any Execution.
func VerifyLinked(u *Unit, ctx *Context) error {
	r := &instrReader{code: u.Code}
	for r.hasMore() {
		op := r.readOpcode()
		info, known := opcodeTable[op]
		if !known {
			return &LinkError{Msg: "unknown opcode " + op.String()}
		}
		switch op {
		case OpCall, OpClosure:
			hash := Hash(r.readUint64())
			r.skip(1)
			if r.truncated {
				continue
			}
			if _, ok := u.Lookup(hash); ok {
				continue
			}
			if ctx != nil {
				if _, ok := ctx.Lookup(hash); ok {
					continue
				}
			}
			return &LinkError{Hash: hash, Msg: "unresolved reference"}
		default:
			r.skip(info.OperandBytes)
		}
	}
	if r.truncated {
		return &LinkError{Msg: "truncated instruction stream"}
	}
	return nil
}
