package sandbox

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// renderValue produces the display string for a script result. Each value
// shape has exactly one rendering arm.
func renderValue(v lua.LValue) string {
	switch val := v.(type) {
	case *lua.LNilType:
		return "nil"
	case lua.LBool:
		if val {
			return "true"
		}
		return "false"
	case lua.LNumber:
		return val.String()
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToString(val)
	case *lua.LFunction:
		return "<function>"
	case *lua.LUserData:
		return "<userdata>"
	case *lua.LState:
		return "<thread>"
	default:
		return v.String()
	}
}

func tableToString(t *lua.LTable) string {
	var items []string
	t.ForEach(func(k, v lua.LValue) {
		items = append(items, fmt.Sprintf("%s: %s", renderValue(k), renderValue(v)))
	})
	return "{" + strings.Join(items, ", ") + "}"
}

// tableToGo converts a Lua table to a JSON-marshalable map. Nested tables
// recurse; values without a JSON shape fall back to their display string.
func tableToGo(t *lua.LTable) map[string]any {
	out := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		out[k.String()] = valueToGo(v)
	})
	return out
}

func valueToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return renderValue(v)
	}
}
