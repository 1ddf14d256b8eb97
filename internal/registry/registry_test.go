package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

func entry(name string) Entry {
	return Entry{
		Definition: mcp.Tool{Name: name, InputSchema: json.RawMessage(`{"type":"object"}`)},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return name, nil
		},
	}
}

func TestMergeManualWinsOnCollision(t *testing.T) {
	gen := entry("create_issue")
	man := entry("create_issue")
	man.Handler = func(ctx context.Context, args map[string]any) (any, error) {
		return "manual", nil
	}

	r := Merge([]Entry{gen, entry("list_projects")}, []Entry{man})

	require.Equal(t, 2, r.Len())
	got, ok := r.Get("create_issue")
	require.True(t, ok)
	assert.Equal(t, Manual, got.Source)

	result, err := got.Handler(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "manual", result)

	generated, ok := r.Get("list_projects")
	require.True(t, ok)
	assert.Equal(t, Generated, generated.Source)
}

func TestDefinitionsSorted(t *testing.T) {
	r := Merge([]Entry{entry("update_issue"), entry("create_issue"), entry("list_issues")}, nil)

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "create_issue", defs[0].Name)
	assert.Equal(t, "list_issues", defs[1].Name)
	assert.Equal(t, "update_issue", defs[2].Name)
}

func TestNearestSuggestsCloseName(t *testing.T) {
	r := Merge([]Entry{entry("list_projects"), entry("create_issue")}, nil)

	assert.Equal(t, "list_projects", r.Nearest("list_project"))
	assert.Equal(t, "create_issue", r.Nearest("create_isue"))
	assert.Equal(t, "", r.Nearest("zzzzzz"))
}

func TestValidateArgs(t *testing.T) {
	e := Entry{
		Definition: mcp.Tool{
			Name: "get_issue",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"issue_id": {"type": "string"}},
				"required": ["issue_id"],
				"additionalProperties": false
			}`),
		},
	}
	r := Merge([]Entry{e}, nil)

	require.NoError(t, r.ValidateArgs(e, map[string]any{"issue_id": "abc"}))

	err := r.ValidateArgs(e, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get_issue")

	err = r.ValidateArgs(e, map[string]any{"issue_id": "abc", "extra": true})
	require.Error(t, err)
}
