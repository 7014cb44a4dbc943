package sandbox

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// preludeSource is loaded into every interpreter, including previews and
// post-reset sessions. It provides the small helpers scripts lean on.
const preludeSource = `
function repr(value)
  local t = type(value)
  if t == "table" then
    local parts = {}
    for k, v in pairs(value) do
      parts[#parts + 1] = tostring(k) .. " = " .. repr(v)
    end
    return "{" .. table.concat(parts, ", ") .. "}"
  elseif t == "string" then
    return string.format("%q", value)
  else
    return tostring(value)
  end
end

function map(list, fn)
  local out = {}
  for i, v in ipairs(list) do
    out[i] = fn(v)
  end
  return out
end

function filter(list, fn)
  local out = {}
  for _, v in ipairs(list) do
    if fn(v) then
      out[#out + 1] = v
    end
  end
  return out
end
`

func loadPrelude(L *lua.LState) error {
	if err := L.DoString(preludeSource); err != nil {
		return fmt.Errorf("sandbox: loading prelude: %w", err)
	}
	return nil
}
