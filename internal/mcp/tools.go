package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	toolScenarioList = "scenario_list"
	toolScenarioRun  = "scenario_run"
	toolRunHistory   = "run_history"
)

// ToolDefinitions returns the MCP tools served by the runner.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolScenarioList,
			Description: "List the Textile UI scenarios this runner can execute, with their step counts, assertions and tags. Optionally filter by tag (e.g. \"smoke\"). Use the returned names with scenario_run.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tag": map[string]any{
						"type":        "string",
						"description": "Only list scenarios carrying this tag",
					},
				},
			},
		},
		{
			Name:        toolScenarioRun,
			Description: "Run one scenario against one or more browser kinds (chrome, firefox, webkit) and return one outcome per browser: state, error code, failed step, observed values and screenshot links. A failed scenario is a normal result, not a tool error. Runs are recorded in history when history is enabled.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Scenario name from scenario_list",
					},
					"browsers": map[string]any{
						"type":        "array",
						"description": "Browser kinds to run against. Defaults to the configured matrix.",
						"items":       map[string]any{"type": "string", "enum": []string{"chrome", "firefox", "webkit"}},
					},
				},
				"required": []string{"name"},
			},
		},
		{
			Name:        toolRunHistory,
			Description: "Return recorded runs, newest first. Pass scenario to restrict to one scenario. limit defaults to 20 (max 500).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"scenario": map[string]any{
						"type":        "string",
						"description": "Scenario name; omit for all scenarios",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of runs to return",
						"minimum":     1,
						"maximum":     500,
					},
				},
			},
		},
	}
}
