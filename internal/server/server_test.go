package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeboard/remote-mcp/internal/registry"
	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

func frame(body string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
}

func emptySchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
}

// runServer feeds the framed input through a server built over the given
// registry and returns every response written, in arrival order.
func runServer(t *testing.T, reg *registry.Registry, input string) []mcp.Response {
	t.Helper()

	var out bytes.Buffer
	transport := mcp.NewTransport(strings.NewReader(input), &out)
	s := New(transport, reg, nil)
	require.NoError(t, s.Run(context.Background()))

	var framer mcp.Framer
	framer.Feed(out.Bytes())
	var responses []mcp.Response
	for {
		body, ok := framer.Next()
		if !ok {
			break
		}
		var resp mcp.Response
		require.NoError(t, json.Unmarshal(body, &resp))
		responses = append(responses, resp)
	}
	return responses
}

func findResponse(t *testing.T, responses []mcp.Response, id float64) mcp.Response {
	t.Helper()
	for _, r := range responses {
		if got, ok := r.ID.(float64); ok && got == id {
			return r
		}
	}
	t.Fatalf("no response with id %v in %d responses", id, len(responses))
	return mcp.Response{}
}

func toolResult(t *testing.T, resp mcp.Response) mcp.CallToolResult {
	t.Helper()
	require.Nil(t, resp.Error)
	var result mcp.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

func echoRegistry() *registry.Registry {
	return registry.Merge([]registry.Entry{
		{
			Definition: mcp.Tool{Name: "echo", Description: "Echo.", InputSchema: json.RawMessage(`{"type":"object"}`)},
			Handler: func(_ context.Context, args map[string]any) (any, error) {
				return args, nil
			},
		},
		{
			Definition: mcp.Tool{Name: "fail", Description: "Always fails.", InputSchema: emptySchema()},
			Handler: func(_ context.Context, _ map[string]any) (any, error) {
				return nil, fmt.Errorf("remote says no")
			},
		},
	}, nil)
}

func TestInitializeHandshake(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)+
			frame(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)+
			frame(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))

	require.Len(t, responses, 2)

	init := findResponse(t, responses, 1)
	var result mcp.InitializeResult
	require.NoError(t, json.Unmarshal(init.Result, &result))
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)
	assert.Equal(t, "vibeboard", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Tools)

	ping := findResponse(t, responses, 2)
	assert.Equal(t, "{}", string(ping.Result))
}

func TestListToolsSortedByName(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	var result mcp.ListToolsResult
	require.NoError(t, json.Unmarshal(findResponse(t, responses, 1).Result, &result))
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "echo", result.Tools[0].Name)
	assert.Equal(t, "fail", result.Tools[1].Name)
}

func TestCallToolSuccessIsJSONText(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.JSONEq(t, `{"msg":"hi"}`, result.Content[0].Text)
}

func TestCallToolHandlerErrorIsToolLevel(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fail","arguments":{}}}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "remote says no")
}

func TestCallUnknownToolSuggestsNearest(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"eco"}}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "unknown tool: eco")
	assert.Contains(t, result.Content[0].Text, "did you mean echo?")
}

func TestCallToolEmptyName(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"arguments":{}}}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "tool name is required")
}

func TestCallToolMissingParams(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call"}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "tool name is required")
}

func TestCallToolNonStringName(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":42}}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "tool name is required")
}

func TestCallToolSchemaViolation(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fail","arguments":{"bogus":1}}}`))

	result := toolResult(t, findResponse(t, responses, 1))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "invalid arguments for fail")
}

func TestUnknownMethodWithID(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`))

	resp := findResponse(t, responses, 1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.MethodNotFound, resp.Error.Code)
}

func TestUnknownNotificationIsDropped(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{"jsonrpc":"2.0","method":"notifications/cancelled"}`)+
			frame(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))

	require.Len(t, responses, 1)
	assert.Equal(t, float64(1), responses[0].ID)
}

func TestParseErrorDoesNotStopTheLoop(t *testing.T) {
	responses := runServer(t, echoRegistry(),
		frame(`{not json`)+
			frame(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))

	require.Len(t, responses, 2)

	var parseErr *mcp.Response
	for i := range responses {
		if responses[i].Error != nil {
			parseErr = &responses[i]
		}
	}
	require.NotNil(t, parseErr)
	assert.Equal(t, mcp.ParseError, parseErr.Error.Code)
	assert.Nil(t, parseErr.ID)

	ping := findResponse(t, responses, 7)
	assert.Nil(t, ping.Error)
}

func TestConcurrentDispatch(t *testing.T) {
	release := make(chan struct{})
	reg := registry.Merge([]registry.Entry{
		{
			Definition: mcp.Tool{Name: "block", Description: "Blocks until released.", InputSchema: emptySchema()},
			Handler: func(_ context.Context, _ map[string]any) (any, error) {
				<-release
				return map[string]any{"blocked": true}, nil
			},
		},
		{
			Definition: mcp.Tool{Name: "release", Description: "Releases the blocked call.", InputSchema: emptySchema()},
			Handler: func(_ context.Context, _ map[string]any) (any, error) {
				close(release)
				return map[string]any{"released": true}, nil
			},
		},
	}, nil)

	// Serial dispatch would deadlock: the first call only finishes once the
	// second one runs.
	responses := runServer(t, reg,
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"block","arguments":{}}}`)+
			frame(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"release","arguments":{}}}`))

	require.Len(t, responses, 2)
	assert.False(t, toolResult(t, findResponse(t, responses, 1)).IsError)
	assert.False(t, toolResult(t, findResponse(t, responses, 2)).IsError)
}

func TestPanicInHandlerBecomesInternalError(t *testing.T) {
	reg := registry.Merge([]registry.Entry{
		{
			Definition: mcp.Tool{Name: "boom", Description: "Panics.", InputSchema: emptySchema()},
			Handler: func(_ context.Context, _ map[string]any) (any, error) {
				panic("kaboom")
			},
		},
	}, nil)

	responses := runServer(t, reg,
		frame(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"boom","arguments":{}}}`))

	resp := findResponse(t, responses, 1)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.InternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "kaboom")
}
