// Package wasmtest builds real WebAssembly game modules for tests.
//
// The modules are encoded section by section at test time. Each exported game
// function is a thin wrapper that forwards its arguments to an imported host
// function from the "wasmtest" namespace, where a Go Game implementation does
// the work against the calling module's linear memory. This keeps the binary
// trivially small while every byte crossing the boundary still goes through
// real wasm memory, calls and traps.
package wasmtest

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10

	typeFunc = 0x60
	valI32   = 0x7f

	extFunc   = 0x00
	extMemory = 0x02

	opLocalGet = 0x20
	opCall     = 0x10
	opEnd      = 0x0b
)

// Magic is the binary-module header every valid module starts with.
var Magic = []byte{0x00, 0x61, 0x73, 0x6d}

type funcType struct {
	params  int
	results int
}

type importEntry struct {
	module  string
	name    string
	typeIdx int
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

// module is a minimal encoder for i32-only modules.
type module struct {
	types   []funcType
	imports []importEntry
	funcs   []int
	exports []exportEntry
	codes   [][]byte
	memMin  uint32
	noMem   bool
}

func (m *module) typeIdx(params, results int) int {
	for i, t := range m.types {
		if t.params == params && t.results == results {
			return i
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return len(m.types) - 1
}

func (m *module) addImport(mod, name string, params, results int) int {
	m.imports = append(m.imports, importEntry{module: mod, name: name, typeIdx: m.typeIdx(params, results)})
	return len(m.imports) - 1
}

// addFunc defines a function and returns its index. Must be called after all
// imports are added.
func (m *module) addFunc(params, results int, body []byte) uint32 {
	m.funcs = append(m.funcs, m.typeIdx(params, results))
	m.codes = append(m.codes, encodeFuncBody(body))
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// addForwarder defines a function that passes every param to import idx.
func (m *module) addForwarder(importIdx, params, results int) uint32 {
	var body []byte
	for i := 0; i < params; i++ {
		body = append(body, opLocalGet)
		body = appendULEB128(body, uint32(i))
	}
	body = append(body, opCall)
	body = appendULEB128(body, uint32(importIdx))
	return m.addFunc(params, results, body)
}

func (m *module) addExport(name string, kind byte, idx uint32) {
	m.exports = append(m.exports, exportEntry{name: name, kind: kind, idx: idx})
}

func (m *module) encode() []byte {
	out := append([]byte{}, Magic...)
	out = append(out, 0x01, 0x00, 0x00, 0x00) // version 1

	if len(m.types) > 0 {
		out = encodeSection(out, secType, m.encodeTypes())
	}
	if len(m.imports) > 0 {
		out = encodeSection(out, secImport, m.encodeImports())
	}
	if len(m.funcs) > 0 {
		out = encodeSection(out, secFunction, m.encodeFuncs())
	}
	if !m.noMem {
		var mem []byte
		mem = appendULEB128(mem, 1)
		mem = append(mem, 0x00) // no max
		mem = appendULEB128(mem, m.memMin)
		out = encodeSection(out, secMemory, mem)
	}
	if len(m.exports) > 0 {
		out = encodeSection(out, secExport, m.encodeExports())
	}
	if len(m.codes) > 0 {
		out = encodeSection(out, secCode, m.encodeCodes())
	}
	return out
}

func encodeSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = appendULEB128(out, uint32(len(payload)))
	return append(out, payload...)
}

func (m *module) encodeTypes() []byte {
	buf := appendULEB128(nil, uint32(len(m.types)))
	for _, t := range m.types {
		buf = append(buf, typeFunc)
		buf = appendULEB128(buf, uint32(t.params))
		for i := 0; i < t.params; i++ {
			buf = append(buf, valI32)
		}
		buf = appendULEB128(buf, uint32(t.results))
		for i := 0; i < t.results; i++ {
			buf = append(buf, valI32)
		}
	}
	return buf
}

func (m *module) encodeImports() []byte {
	buf := appendULEB128(nil, uint32(len(m.imports)))
	for _, imp := range m.imports {
		buf = appendName(buf, imp.module)
		buf = appendName(buf, imp.name)
		buf = append(buf, extFunc)
		buf = appendULEB128(buf, uint32(imp.typeIdx))
	}
	return buf
}

func (m *module) encodeFuncs() []byte {
	buf := appendULEB128(nil, uint32(len(m.funcs)))
	for _, tidx := range m.funcs {
		buf = appendULEB128(buf, uint32(tidx))
	}
	return buf
}

func (m *module) encodeExports() []byte {
	buf := appendULEB128(nil, uint32(len(m.exports)))
	for _, exp := range m.exports {
		buf = appendName(buf, exp.name)
		buf = append(buf, exp.kind)
		buf = appendULEB128(buf, exp.idx)
	}
	return buf
}

func (m *module) encodeCodes() []byte {
	buf := appendULEB128(nil, uint32(len(m.codes)))
	for _, body := range m.codes {
		buf = appendULEB128(buf, uint32(len(body)))
		buf = append(buf, body...)
	}
	return buf
}

func encodeFuncBody(body []byte) []byte {
	buf := appendULEB128(nil, 0) // no locals
	buf = append(buf, body...)
	return append(buf, opEnd)
}

func appendName(buf []byte, s string) []byte {
	buf = appendULEB128(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendULEB128(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}
