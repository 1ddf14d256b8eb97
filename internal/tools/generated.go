package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/vibeboard/remote-mcp/internal/manifest"
	"github.com/vibeboard/remote-mcp/internal/registry"
	"github.com/vibeboard/remote-mcp/internal/remote"
	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

// RemoteClient is the slice of the remote API client the tool handlers use.
type RemoteClient interface {
	Request(ctx context.Context, path string, opts remote.RequestOptions) (any, error)
}

// Generated synthesizes the five CRUD tools for every table in the manifest:
// list_<table>, get/create/update/delete_<singular>.
func Generated(m *manifest.Manifest, client RemoteClient) []registry.Entry {
	var entries []registry.Entry
	for _, e := range m.Entries {
		entries = append(entries,
			listTool(m, e, client),
			getTool(e, client),
			createTool(e, client),
			updateTool(e, client),
			deleteTool(e, client),
		)
	}
	return entries
}

func listTool(m *manifest.Manifest, e manifest.Entry, client RemoteClient) registry.Entry {
	shape, hasShape := m.CanonicalShape(e.Table)
	readURL := e.URL
	var filters []string
	if hasShape {
		readURL = shape.URL
		filters = shape.Params
	}

	props := map[string]any{
		"limit": map[string]any{
			"type":        "number",
			"description": "Maximum number of rows to return (default: all)",
		},
	}
	for _, p := range filters {
		props[p] = map[string]any{
			"type":        "string",
			"description": fmt.Sprintf("Filter %s by %s", e.Table, p),
		}
	}

	def := mcp.Tool{
		Name:        "list_" + e.Table,
		Description: fmt.Sprintf("List %s rows from the remote API.", e.Table),
		InputSchema: objectSchema(props, filters),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		query := url.Values{}
		for _, p := range filters {
			v, err := stringArg(args, p)
			if err != nil {
				return nil, err
			}
			query.Set(p, v)
		}
		limit, hasLimit, err := numberArg(args, "limit")
		if err != nil {
			return nil, err
		}

		payload, err := client.Request(ctx, readURL, remote.RequestOptions{Query: query})
		if err != nil {
			return nil, err
		}

		rows := rowsUnder(payload, e.Table)
		total := len(rows)
		if hasLimit && limit >= 0 && limit < total {
			rows = rows[:limit]
		}
		return map[string]any{e.Table: rows, "total_count": total}, nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func getTool(e manifest.Entry, client RemoteClient) registry.Entry {
	def := mcp.Tool{
		Name:        "get_" + e.Singular,
		Description: fmt.Sprintf("Get a single %s by id.", e.DisplayName),
		InputSchema: objectSchema(map[string]any{
			e.IDField: idProperty(e),
		}, []string{e.IDField}),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, e.IDField)
		if err != nil {
			return nil, err
		}
		payload, err := client.Request(ctx, e.URL+"/"+id, remote.RequestOptions{})
		if err != nil {
			return nil, err
		}
		return map[string]any{e.Singular: payload}, nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func createTool(e manifest.Entry, client RemoteClient) registry.Entry {
	def := mcp.Tool{
		Name:        "create_" + e.Singular,
		Description: fmt.Sprintf("Create a %s. Pass the row fields under `data`.", e.DisplayName),
		InputSchema: objectSchema(map[string]any{
			"data": map[string]any{
				"type":        "object",
				"description": fmt.Sprintf("Fields of the %s to create", e.DisplayName),
			},
		}, []string{"data"}),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		data, err := objectArg(args, "data")
		if err != nil {
			return nil, err
		}
		payload, err := client.Request(ctx, e.URL, remote.RequestOptions{
			Method: "POST",
			Body:   data,
		})
		if err != nil {
			return nil, err
		}
		return unwrapMutation(payload, e.Singular), nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func updateTool(e manifest.Entry, client RemoteClient) registry.Entry {
	def := mcp.Tool{
		Name:        "update_" + e.Singular,
		Description: fmt.Sprintf("Update a %s. Pass the changed fields under `data`.", e.DisplayName),
		InputSchema: objectSchema(map[string]any{
			e.IDField: idProperty(e),
			"data": map[string]any{
				"type":        "object",
				"description": fmt.Sprintf("Fields of the %s to change", e.DisplayName),
			},
		}, []string{e.IDField, "data"}),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, e.IDField)
		if err != nil {
			return nil, err
		}
		data, err := objectArg(args, "data")
		if err != nil {
			return nil, err
		}
		payload, err := client.Request(ctx, e.URL+"/"+id, remote.RequestOptions{
			Method: "PATCH",
			Body:   data,
		})
		if err != nil {
			return nil, err
		}
		return unwrapMutation(payload, e.Singular), nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func deleteTool(e manifest.Entry, client RemoteClient) registry.Entry {
	def := mcp.Tool{
		Name:        "delete_" + e.Singular,
		Description: fmt.Sprintf("Delete a %s by id.", e.DisplayName),
		InputSchema: objectSchema(map[string]any{
			e.IDField: idProperty(e),
		}, []string{e.IDField}),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, e.IDField)
		if err != nil {
			return nil, err
		}
		payload, err := client.Request(ctx, e.URL+"/"+id, remote.RequestOptions{
			Method: "DELETE",
		})
		if err != nil {
			return nil, err
		}
		result := map[string]any{"deleted_id": id}
		if obj, ok := payload.(map[string]any); ok {
			if txid, ok := obj["txid"]; ok {
				result["txid"] = txid
			}
		}
		return result, nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func idProperty(e manifest.Entry) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": fmt.Sprintf("The id of the %s", e.DisplayName),
	}
}

func objectSchema(props map[string]any, required []string) json.RawMessage {
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		// Schemas are built from static maps; this cannot fail at runtime.
		panic(err)
	}
	return data
}

// rowsUnder pulls the row array out of a list response body.
func rowsUnder(payload any, table string) []any {
	if obj, ok := payload.(map[string]any); ok {
		if rows, ok := obj[table].([]any); ok {
			return rows
		}
	}
	if rows, ok := payload.([]any); ok {
		return rows
	}
	return nil
}

// unwrapMutation surfaces the row and transaction id from a { data, txid }
// envelope; anything else is passed through unchanged.
func unwrapMutation(payload any, singular string) any {
	obj, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	row, hasRow := obj["data"]
	txid, hasTxid := obj["txid"]
	if !hasRow || !hasTxid {
		return payload
	}
	return map[string]any{singular: row, "txid": txid}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func objectArg(args map[string]any, key string) (map[string]any, error) {
	v, ok := args[key]
	if !ok {
		return nil, fmt.Errorf("missing required parameter %q", key)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an object", key)
	}
	return obj, nil
}

func numberArg(args map[string]any, key string) (int, bool, error) {
	v, ok := args[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), true, nil
	case int:
		return n, true, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("parameter %q must be a number", key)
		}
		return int(i), true, nil
	default:
		return 0, false, fmt.Errorf("parameter %q must be a number", key)
	}
}
