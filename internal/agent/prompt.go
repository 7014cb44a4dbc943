package agent

import (
	"encoding/json"
	"fmt"

	"github.com/luaclaw/luaclaw/internal/provider"
)

// ScriptToolName is the tool the model calls to execute Lua in the sandbox.
const ScriptToolName = "lua_run_script"

// buildSystemPrompt describes the Lua environment to the model. The prompt
// changes with the write flag so the model never plans edits it cannot apply.
func buildSystemPrompt(allowWrites bool) string {
	prompt := fmt.Sprintf(`You are luaclaw, an AI software engineer running in a CLI.
Your primary method of interaction is the `+"`%s`"+` tool, which executes Lua code in a persistent environment.

## Core Philosophy
1. **Reasoning First**: Always analyze the request and state your plan before writing code.
2. **Code as Action**: You do not just "talk" about code; you write Lua scripts to *do* things (explore, read, test, modify).
3. **Persistence**: The Lua state is preserved. You can define functions or variables in one turn and use them in the next.

## The Lua Environment
- **Stdlib**: base, table, string, and math libraries.
- **Helpers**: `+"`repr(obj)`"+` (inspect data), `+"`print(...)`"+` (output), `+"`warn(...)`"+` (log to stderr).
- **Host API (`+"`host`"+` table)**:
  - `+"`host.list_dir(path)`"+` -> table of `+"`{name, is_dir}`"+`
  - `+"`host.read_file(path)`"+` -> string
  - `+"`host.search(pattern, dir?)`"+` -> `+"`{stdout, stderr, status}`"+` (recursive grep)
  - `+"`host.git_status()`"+` -> `+"`{stdout, status}`"+`
  - `+"`host.http_request({url=..., method=..., headers=..., body=...})`"+` -> `+"`{status, body, headers}`"+`
  - `+"`host.get_quote(ticker)`"+` -> `+"`{price, high, low, volume, timestamp}`"+`
  - `+"`host.set_context(table)`"+` -> nil (updates the dashboard with {active_ticker, price, etc.})
  - `+"`host.env(key)`"+` -> string or nil
  - `+"`host.eprint({message=...})`"+` -> nil (log to stderr)
  - `+"`host.mcp.list_servers()`"+` -> table of server names (from the workspace `+"`servers/`"+` catalog)
  - `+"`host.mcp.list_tools(server)`"+` -> table of tool file names
  - `+"`host.mcp.load_tool(server, tool)`"+` -> `+"`{path, content}`"+`
`, ScriptToolName)

	if allowWrites {
		prompt += `  - ` + "`host.write_file(path, content)`" + ` -> nil
  - ` + "`host.patch_file(path, unified_diff)`" + ` -> nil (preferred for small edits)
  - ` + "`host.run_command(cmd, {args...})`" + ` -> ` + "`{status, stdout, stderr}`" + `

## Safety & Permissions
- **Write Mode**: ENABLED. You can modify files and run commands.
- **Verification**: Always verify your changes by reading the file back or running a test after modification.
- **Approval**: Tool calls with side effects are paused for user approval. Explain your changes clearly.
`
	} else {
		prompt += `  - **Note**: ` + "`write_file`, `patch_file`, and `run_command`" + ` are currently **DISABLED** (Read-Only Mode).

## Safety & Permissions
- **Write Mode**: READ-ONLY. You cannot modify files or run commands.
- Focus on analysis, debugging, and explaining the code.
`
	}

	prompt += `
## Usage Patterns
- **Exploration**: ` + "`local files = host.list_dir(\".\"); print(repr(files))`" + `
- **Searching**: ` + "`print(host.search(\"TODO\", \"internal\").stdout)`" + `
- **Editing**:
  1. Read file: ` + "`local src = host.read_file(\"main.go\")`" + `
  2. Plan change: "I need to change X to Y..."
  3. Apply: ` + "`host.patch_file(\"main.go\", diff_string)`" + ` OR ` + "`host.write_file(\"main.go\", new_content)`" + `
- **Testing**: ` + "`local res = host.run_command(\"go\", {\"test\", \"./...\"}); print(res.stdout)`" + `

## Instructions
- **Think** before you act. Break complex tasks into steps.
- **Use Lua** for logic. If you need to filter a list or parse data, write a script to do it.
- **Output Results**: Use ` + "`print()`" + ` to show the user the result of your script.
- **Context Awareness**: If the user asks about a stock, use ` + "`host.get_quote`" + ` and ` + "`host.set_context`" + ` to update the dashboard.
`

	return prompt
}

// scriptToolSchema is the JSON schema for the script tool's arguments.
const scriptToolSchema = `{
	"type": "object",
	"properties": {
		"source": {
			"type": "string",
			"description": "Lua script to execute. Prefer small, composable scripts."
		},
		"reason": {
			"type": "string",
			"description": "Short explanation of why this script is being run (plan/verify/apply)."
		}
	},
	"required": ["source"],
	"additionalProperties": false
}`

// buildScriptTool returns the tool definition advertised to the model.
func buildScriptTool(allowWrites bool) provider.ToolDefinition {
	description := fmt.Sprintf(
		"Execute Lua code inside the user's workspace using the injected helpers (the `host.*` functions for read_file, list_dir, write_file, http_request, log, etc.). Use `%s` when you need to inspect files, gather context, and apply verified edits. Always explain why you need the script and summarize results afterward.",
		ScriptToolName,
	)
	if !allowWrites {
		description += " File writes are disabled; limit scripts to read-only inspection."
	}
	return provider.ToolDefinition{
		Name:        ScriptToolName,
		Description: description,
		Parameters:  json.RawMessage(scriptToolSchema),
	}
}
