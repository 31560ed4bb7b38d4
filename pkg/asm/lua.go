package asm

import (
	"fmt"

	"github.com/cpcsdk/cpcasm/pkg/ast"
	"github.com/cpcsdk/cpcasm/pkg/symbols"
	lua "github.com/yuin/gopher-lua"
)

// visitLua runs a LUA ... ENDLUA block. The script sees an `asm` table
// whose emission functions append bytes at the block's position, the way
// sjasmplus exposes its assembler to embedded Lua.
func (e *Env) visitLua(tok *ast.Token) error {
	L := lua.NewState()
	defer L.Close()

	var emitted []byte
	var scriptErr error

	module := L.NewTable()
	L.SetGlobal("asm", module)

	L.SetField(module, "byte", L.NewFunction(func(L *lua.LState) int {
		for i := 1; i <= L.GetTop(); i++ {
			emitted = append(emitted, byte(L.CheckInt(i)))
		}
		return 0
	}))

	L.SetField(module, "word", L.NewFunction(func(L *lua.LState) int {
		for i := 1; i <= L.GetTop(); i++ {
			v := L.CheckInt(i)
			emitted = append(emitted, byte(v), byte(v>>8))
		}
		return 0
	}))

	L.SetField(module, "pc", L.NewFunction(func(L *lua.LState) int {
		pc := e.codeAdr
		if pc < 0 {
			pc = 0
		}
		L.Push(lua.LNumber(pc + len(emitted)))
		return 1
	}))

	L.SetField(module, "org", L.NewFunction(func(L *lua.LState) int {
		adr := L.CheckInt(1)
		if len(emitted) > 0 {
			scriptErr = fmt.Errorf("asm.org after asm.byte is not supported")
			return 0
		}
		e.codeAdr = adr
		e.outputAdr = adr
		if e.cur.start < 0 {
			e.cur.start = adr
			e.cur.end = adr
		}
		return 0
	}))

	L.SetField(module, "label", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		adr := e.codeAdr
		if adr < 0 {
			adr = 0
		}
		e.table.Set(name, symbols.AddressValue(0, int64(adr+len(emitted))))
		return 0
	}))

	L.SetField(module, "symbol", L.NewFunction(func(L *lua.LState) int {
		v, err := e.table.Get(L.CheckString(1))
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		i, err := v.AsInt()
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(i))
		return 1
	}))

	L.SetField(module, "print", L.NewFunction(func(L *lua.LState) int {
		e.prints = append(e.prints, L.CheckString(1))
		return 0
	}))

	if err := L.DoString(tok.Str); err != nil {
		return e.spanErr(tok, fmt.Errorf("lua: %w", err))
	}
	if scriptErr != nil {
		return e.spanErr(tok, scriptErr)
	}
	return e.emit(tok, emitted)
}
