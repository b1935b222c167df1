package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kpilens/kpilens/internal/audit"
	"github.com/kpilens/kpilens/internal/config"
	"github.com/kpilens/kpilens/internal/nl2sql"
)

const (
	askToolName      = "ask_kpi"
	describeToolName = "describe_kpi_schema"
)

type askToolInput struct {
	Question string `json:"question"`
}

type describeToolInput struct{}

// NewMCPServer exposes the translator as MCP tools. Tool failures are
// reported in the result with IsError set, never as protocol errors.
func NewMCPServer(cfg config.Config, deps Dependencies) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: cfg.Service.Name, Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:  askToolName,
		Title: "Ask KPI",
		Description: "Answer a natural-language question (Korean or English) about the daily campaign KPI mart. " +
			"Returns the generated read-only SQL, the outcome and the result rows as JSON.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input askToolInput) (*mcp.CallToolResult, any, error) {
		return handleAskTool(ctx, deps, input.Question)
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        describeToolName,
		Title:       "Describe KPI schema",
		Description: "Describe the single queryable KPI table and its columns.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ describeToolInput) (*mcp.CallToolResult, any, error) {
		return textResult(deps.Translator.Schema().Describe(), false), nil, nil
	})

	return server
}

func NewMCPHandler(cfg config.Config, deps Dependencies) http.Handler {
	server := NewMCPServer(cfg, deps)
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}

func handleAskTool(ctx context.Context, deps Dependencies, raw string) (*mcp.CallToolResult, any, error) {
	question := strings.TrimSpace(raw)
	if question == "" {
		return textResult("question is required", true), nil, nil
	}
	if len([]rune(question)) > maxQuestionRunes {
		return textResult("question is too long", true), nil, nil
	}

	result := deps.Translator.Ask(ctx, question)
	recordAudit(ctx, deps, audit.OperationMCPAsk, result)

	body, err := json.Marshal(newAskResponse(ctx, result))
	if err != nil {
		return textResult("encode result: "+err.Error(), true), nil, nil
	}
	return textResult(string(body), result.Kind != nl2sql.OutcomeSuccess), nil, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
