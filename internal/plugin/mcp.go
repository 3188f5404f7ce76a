package plugin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MountMCP exposes execute_plugin_command over MCP: one tool per
// registered plugin, named "<plugin_id>.<method>" is too wide a surface
// to pre-enumerate (handle_request's method set is plugin-defined), so
// a single generic tool takes plugin_id/method/params and forwards to
// ExecutePluginCommand — giving out-of-process MCP clients the same
// request surface in-process callers get.
func MountMCP(s *server.MCPServer, rt *Runtime) {
	tool := mcp.NewTool("execute_plugin_command",
		mcp.WithDescription("Invoke a registered plugin's handle_request method"),
		mcp.WithString("plugin_id", mcp.Required(), mcp.Description("Target plugin's stable id")),
		mcp.WithString("method", mcp.Required(), mcp.Description("Plugin-defined method name")),
		mcp.WithString("params", mcp.Description("JSON-encoded parameters, defaults to {}")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pluginID, err := req.RequireString("plugin_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		method, err := req.RequireString("method")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		paramsStr := req.GetString("params", "{}")

		result, err := rt.ExecutePluginCommand(pluginID, method, json.RawMessage(paramsStr))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(result)), nil
	})

	listTool := mcp.NewTool("list_plugins",
		mcp.WithDescription("List registered plugins and their metadata"),
	)
	s.AddTool(listTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		data, err := json.Marshal(rt.List())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal plugin list: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}
