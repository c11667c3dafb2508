package modetrack

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaPolicy runs a user-supplied Lua script as a mode policy hook.
//
// The script defines a global function:
//
//	function on_mode_change(document_id, from, to) ... end
//
// which is invoked after every mode switch. Script errors are returned to
// the tracker, which logs them; they never abort the switch.
type LuaPolicy struct {
	mu sync.Mutex
	L  *lua.LState
}

// NewLuaPolicy loads the script at path into a fresh Lua state.
func NewLuaPolicy(path string) (*LuaPolicy, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading mode policy script: %w", err)
	}
	return &LuaPolicy{L: L}, nil
}

// NewLuaPolicyFromString loads an inline script. Used by tests and
// embedded configuration.
func NewLuaPolicyFromString(script string) (*LuaPolicy, error) {
	L := lua.NewState()
	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("loading mode policy script: %w", err)
	}
	return &LuaPolicy{L: L}, nil
}

// Close releases the Lua state.
func (p *LuaPolicy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.L.Close()
}

// Policy returns the hook to register with the tracker.
func (p *LuaPolicy) Policy() Policy {
	return func(ev SwitchEvent) error {
		p.mu.Lock()
		defer p.mu.Unlock()

		fn := p.L.GetGlobal("on_mode_change")
		if fn == lua.LNil {
			return nil
		}

		return p.L.CallByParam(lua.P{
			Fn:      fn,
			NRet:    0,
			Protect: true,
		}, lua.LString(ev.ID), lua.LString(ev.From), lua.LString(ev.To))
	}
}
