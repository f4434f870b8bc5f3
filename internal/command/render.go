package command

import (
	"fmt"
	"strings"

	"github.com/liaison-ai/liaison/internal/mcp"
)

func renderServers(statuses []mcp.ServerStatus) string {
	if len(statuses) == 0 {
		return "No MCP servers configured."
	}

	var sb strings.Builder
	sb.WriteString("| Server | Transport | State | Tools |\n")
	sb.WriteString("| --- | --- | --- | --- |\n")
	for _, st := range statuses {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n",
			st.Name, st.Transport, st.State, st.ToolCount))
	}
	return sb.String()
}

func renderTools(server string, tools []mcp.ToolDefinition) string {
	if len(tools) == 0 {
		return fmt.Sprintf("Server `%s` exposes no tools.", server)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Tools on `%s`:**\n\n", server))
	sb.WriteString("| Tool | Description |\n")
	sb.WriteString("| --- | --- |\n")
	for _, tool := range tools {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", tool.Name, tableCell(tool.Description)))
	}
	return sb.String()
}

func renderResources(server string, resources []mcp.ResourceDefinition) string {
	if len(resources) == 0 {
		return fmt.Sprintf("Server `%s` exposes no resources.", server)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Resources on `%s`:**\n\n", server))
	sb.WriteString("| URI | Name | Description |\n")
	sb.WriteString("| --- | --- | --- |\n")
	for _, res := range resources {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n",
			res.URI, tableCell(res.Name), tableCell(res.Description)))
	}
	return sb.String()
}

func renderPrompts(server string, prompts []mcp.PromptDefinition) string {
	if len(prompts) == 0 {
		return fmt.Sprintf("Server `%s` exposes no prompts.", server)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Prompts on `%s`:**\n\n", server))
	sb.WriteString("| Prompt | Description |\n")
	sb.WriteString("| --- | --- |\n")
	for _, prompt := range prompts {
		sb.WriteString(fmt.Sprintf("| %s | %s |\n", prompt.Name, tableCell(prompt.Description)))
	}
	return sb.String()
}

func renderToolOutput(server, tool, result string) string {
	result = strings.TrimSpace(result)
	if result == "" {
		result = "(no output)"
	}
	return fmt.Sprintf("**`%s` on `%s`:**\n```\n%s\n```", tool, server, result)
}

// tableCell keeps multi-line descriptions from breaking the markdown table.
func tableCell(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	text = strings.ReplaceAll(text, "|", "\\|")
	if text == "" {
		return "-"
	}
	return text
}
