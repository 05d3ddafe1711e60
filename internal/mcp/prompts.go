package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const triagePromptName = "triage_failures"

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, triagePrompt)
	}
}

// PromptDefinitions returns the MCP prompts served by the runner.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        triagePromptName,
			Title:       "Triage Textile UI failures",
			Description: "Run the scenarios, compare with history and explain what broke.",
		},
	}
}

func triagePrompt(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Run the scenarios, compare with history and explain what broke.",
		Messages: []*mcp.PromptMessage{
			{
				Role:    mcp.Role("user"),
				Content: &mcp.TextContent{Text: triagePromptText},
			},
		},
	}, nil
}

const triagePromptText = "Call scenario_list, then scenario_run for each smoke scenario. For every failed outcome, " +
	"call run_history for that scenario to see whether it failed before on the same step. Report the failing step, " +
	"expected and observed values, and whether the failure is new or recurring. Link screenshots when present."
