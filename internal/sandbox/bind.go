package sandbox

import (
	"encoding/json"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ModuleName is the only module the restricted loader exposes.
const ModuleName = "host"

// install registers the capability table as global `host`, captures
// print/warn into the output buffers, and replaces require with a loader
// that knows only the host module. sink, when non-nil, receives each
// set_context payload as JSON.
func install(L *lua.LState, h Host, b *buffers, ref *ctxRef, sink func(string)) error {
	tbl := L.NewTable()

	L.SetField(tbl, "read_file", L.NewFunction(func(L *lua.LState) int {
		data, err := h.ReadFile(L.CheckString(1))
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(lua.LString(data))
		return 1
	}))

	L.SetField(tbl, "list_dir", L.NewFunction(func(L *lua.LState) int {
		entries, err := h.ListDir(L.CheckString(1))
		if err != nil {
			L.RaiseError("%v", err)
		}
		list := L.NewTable()
		for i, e := range entries {
			row := L.NewTable()
			L.SetField(row, "name", lua.LString(e.Name))
			L.SetField(row, "is_dir", lua.LBool(e.IsDir))
			list.RawSetInt(i+1, row)
		}
		L.Push(list)
		return 1
	}))

	L.SetField(tbl, "write_file", L.NewFunction(func(L *lua.LState) int {
		if err := h.WriteFile(L.CheckString(1), L.CheckString(2)); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))

	L.SetField(tbl, "patch_file", L.NewFunction(func(L *lua.LState) int {
		if err := h.PatchFile(L.CheckString(1), L.CheckString(2)); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))

	L.SetField(tbl, "run_command", L.NewFunction(func(L *lua.LState) int {
		cmd := L.CheckString(1)
		var args []string
		if L.GetTop() >= 2 {
			argTbl := L.CheckTable(2)
			for i := 1; i <= argTbl.Len(); i++ {
				args = append(args, lua.LVAsString(argTbl.RawGetInt(i)))
			}
		}
		res, err := h.RunCommand(ref.ctx, cmd, args)
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(commandResultTable(L, res, true))
		return 1
	}))

	L.SetField(tbl, "http_request", L.NewFunction(func(L *lua.LState) int {
		opts := L.CheckTable(1)
		req := HTTPRequest{
			URL:    lua.LVAsString(opts.RawGetString("url")),
			Method: lua.LVAsString(opts.RawGetString("method")),
			Body:   lua.LVAsString(opts.RawGetString("body")),
		}
		if headers, ok := opts.RawGetString("headers").(*lua.LTable); ok {
			req.Headers = make(map[string]string)
			headers.ForEach(func(k, v lua.LValue) {
				req.Headers[k.String()] = v.String()
			})
		}
		resp, err := h.HTTPRequest(ref.ctx, req)
		if err != nil {
			L.RaiseError("%v", err)
		}
		result := L.NewTable()
		L.SetField(result, "status", lua.LNumber(resp.Status))
		L.SetField(result, "body", lua.LString(resp.Body))
		headerTbl := L.NewTable()
		for name, value := range resp.Headers {
			L.SetField(headerTbl, name, lua.LString(value))
		}
		L.SetField(result, "headers", headerTbl)
		L.Push(result)
		return 1
	}))

	L.SetField(tbl, "search", L.NewFunction(func(L *lua.LState) int {
		pattern := L.CheckString(1)
		dir := L.OptString(2, "")
		res, err := h.Search(pattern, dir)
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(commandResultTable(L, res, true))
		return 1
	}))

	L.SetField(tbl, "git_status", L.NewFunction(func(L *lua.LState) int {
		res, err := h.GitStatus(ref.ctx)
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(commandResultTable(L, res, false))
		return 1
	}))

	L.SetField(tbl, "log", L.NewFunction(func(L *lua.LState) int {
		level, message := "info", ""
		switch payload := L.CheckAny(1).(type) {
		case lua.LString:
			message = string(payload)
		case *lua.LTable:
			if lv, ok := payload.RawGetString("level").(lua.LString); ok {
				level = string(lv)
			}
			msg := payload.RawGetString("message")
			if msg == lua.LNil {
				L.RaiseError("log expects `message` field")
			}
			message = msg.String()
		case *lua.LNilType:
			message = "<nil>"
		default:
			L.RaiseError("log expects string or table, got %s", payload.Type().String())
		}
		b.logs = append(b.logs, "["+strings.ToLower(level)+"] "+message)
		return 0
	}))

	L.SetField(tbl, "env", L.NewFunction(func(L *lua.LState) int {
		value, ok := os.LookupEnv(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
		} else {
			L.Push(lua.LString(value))
		}
		return 1
	}))

	L.SetField(tbl, "set_context", L.NewFunction(func(L *lua.LState) int {
		payload, err := json.Marshal(tableToGo(L.CheckTable(1)))
		if err != nil {
			L.RaiseError("serialization error: %v", err)
		}
		b.updates = append(b.updates, string(payload))
		if sink != nil {
			sink(string(payload))
		}
		return 0
	}))

	L.SetField(tbl, "get_quote", L.NewFunction(func(L *lua.LState) int {
		q, err := h.Quote(ref.ctx, L.CheckString(1))
		if err != nil {
			L.RaiseError("%v", err)
		}
		result := L.NewTable()
		L.SetField(result, "price", lua.LNumber(q.Price))
		L.SetField(result, "high", lua.LNumber(q.High))
		L.SetField(result, "low", lua.LNumber(q.Low))
		L.SetField(result, "volume", lua.LNumber(q.Volume))
		L.SetField(result, "timestamp", lua.LNumber(q.Timestamp))
		L.Push(result)
		return 1
	}))

	L.SetField(tbl, "eprint", L.NewFunction(func(L *lua.LState) int {
		payload := L.CheckTable(1)
		msg := payload.RawGetString("message")
		if msg == lua.LNil {
			L.RaiseError("eprint expects table with 'message' field")
		}
		b.stderr = append(b.stderr, msg.String())
		return 0
	}))

	L.SetField(tbl, "mcp", mcpTable(L, h))

	L.SetGlobal(ModuleName, tbl)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		b.stdout = append(b.stdout, renderArgs(L))
		return 0
	}))
	L.SetGlobal("warn", L.NewFunction(func(L *lua.LState) int {
		b.stderr = append(b.stderr, renderArgs(L))
		return 0
	}))

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if name != ModuleName {
			L.RaiseError("module '%s' not available (only '%s')", name, ModuleName)
		}
		L.Push(L.GetGlobal(ModuleName))
		return 1
	}))

	return nil
}

// mcpTable exposes the workspace tool catalog under servers/. The reads go
// through the real host even in preview runs: listing and loading tool
// definitions never mutates anything.
func mcpTable(L *lua.LState, h Host) *lua.LTable {
	tbl := L.NewTable()

	L.SetField(tbl, "list_servers", L.NewFunction(func(L *lua.LState) int {
		names, err := h.ListServers()
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(stringListTable(L, names))
		return 1
	}))

	L.SetField(tbl, "list_tools", L.NewFunction(func(L *lua.LState) int {
		names, err := h.ListTools(L.CheckString(1))
		if err != nil {
			L.RaiseError("%v", err)
		}
		L.Push(stringListTable(L, names))
		return 1
	}))

	L.SetField(tbl, "load_tool", L.NewFunction(func(L *lua.LState) int {
		tf, err := h.LoadTool(L.CheckString(1), L.CheckString(2))
		if err != nil {
			L.RaiseError("%v", err)
		}
		result := L.NewTable()
		L.SetField(result, "path", lua.LString(tf.Path))
		L.SetField(result, "content", lua.LString(tf.Content))
		L.Push(result)
		return 1
	}))

	return tbl
}

func stringListTable(L *lua.LState, items []string) *lua.LTable {
	list := L.NewTable()
	for i, item := range items {
		list.RawSetInt(i+1, lua.LString(item))
	}
	return list
}

func commandResultTable(L *lua.LState, res CommandResult, withStderr bool) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "status", lua.LNumber(res.Status))
	L.SetField(tbl, "stdout", lua.LString(res.Stdout))
	if withStderr {
		L.SetField(tbl, "stderr", lua.LString(res.Stderr))
	}
	return tbl
}

func renderArgs(L *lua.LState) string {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, renderValue(L.Get(i)))
	}
	return strings.Join(parts, "\t")
}
