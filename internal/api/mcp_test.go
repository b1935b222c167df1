package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpilens/kpilens/internal/audit"
	"github.com/kpilens/kpilens/internal/nl2sql"
	"github.com/kpilens/kpilens/internal/schema"
)

func connectMCP(t *testing.T, deps Dependencies) *mcp.ClientSession {
	t.Helper()
	httpServer := httptest.NewServer(NewHandler(testConfig(t), deps))
	t.Cleanup(httpServer.Close)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: httpServer.URL + "/mcp"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestMCPAskTool(t *testing.T) {
	translator := &fakeTranslator{result: successResult()}
	store := &memoryAudit{}
	session := connectMCP(t, Dependencies{Translator: translator, Audit: store})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      askToolName,
		Arguments: map[string]any{"question": "캠페인별 매출 보여줘"},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok)

	var body askResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &body))
	assert.Equal(t, nl2sql.OutcomeSuccess, body.Outcome)
	assert.Equal(t, 1, body.RowCount)
	assert.Equal(t, []string{"캠페인별 매출 보여줘"}, translator.asked)

	require.Len(t, store.entries, 1)
	assert.Equal(t, audit.OperationMCPAsk, store.entries[0].Operation)
}

func TestMCPAskToolReportsFailureOutcome(t *testing.T) {
	translator := &fakeTranslator{result: nl2sql.Result{Kind: nl2sql.OutcomeValidationRejected, Query: "drop table x", Reason: "FORBIDDEN_KEYWORD"}}
	session := connectMCP(t, Dependencies{Translator: translator})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      askToolName,
		Arguments: map[string]any{"question": "지워줘"},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	text := result.Content[0].(*mcp.TextContent)
	assert.Contains(t, text.Text, string(nl2sql.OutcomeValidationRejected))
}

func TestMCPAskToolRequiresQuestion(t *testing.T) {
	translator := &fakeTranslator{result: successResult()}
	result, _, err := handleAskTool(context.Background(), Dependencies{Translator: translator}, "  ")
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, translator.asked)
}

func TestMCPDescribeSchemaTool(t *testing.T) {
	session := connectMCP(t, Dependencies{Translator: &fakeTranslator{}})

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: describeToolName, Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := result.Content[0].(*mcp.TextContent)
	assert.True(t, strings.Contains(text.Text, schema.DefaultTableName))
}

func TestMCPListsBothTools(t *testing.T) {
	session := connectMCP(t, Dependencies{Translator: &fakeTranslator{}})

	tools, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{askToolName, describeToolName}, names)
}
