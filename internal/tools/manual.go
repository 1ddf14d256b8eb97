package tools

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vibeboard/remote-mcp/internal/manifest"
	"github.com/vibeboard/remote-mcp/internal/registry"
	"github.com/vibeboard/remote-mcp/internal/remote"
	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

const (
	issuesURL   = "/v1/issues"
	statusesURL = "/v1/project_statuses"
)

// Manual returns the hand-authored tools. They take precedence over
// generated tools with the same name when merged into the registry.
func Manual(m *manifest.Manifest, client RemoteClient) []registry.Entry {
	return []registry.Entry{
		listOrganizationsTool(m, client),
		createIssueTool(client),
		updateIssueTool(client),
	}
}

func listOrganizationsTool(m *manifest.Manifest, client RemoteClient) registry.Entry {
	def := mcp.Tool{
		Name:        "list_organizations",
		Description: "List the organizations the authenticated user belongs to.",
		InputSchema: objectSchema(map[string]any{}, nil),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		payload, err := client.Request(ctx, m.OrganizationsEndpoint, remote.RequestOptions{})
		if err != nil {
			return nil, err
		}
		orgs := rowsUnder(payload, "organizations")
		if orgs == nil {
			orgs = []any{}
		}
		return map[string]any{"organizations": orgs}, nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func createIssueTool(client RemoteClient) registry.Entry {
	def := mcp.Tool{
		Name:        "create_issue",
		Description: "Create an issue in a project. The status name is resolved against the project's statuses; omit it to use the project's default status.",
		InputSchema: objectSchema(map[string]any{
			"project_id":  map[string]any{"type": "string", "description": "The id of the project to create the issue in"},
			"title":       map[string]any{"type": "string", "description": "Issue title"},
			"description": map[string]any{"type": "string", "description": "Issue description"},
			"priority":    map[string]any{"type": "number", "description": "Issue priority"},
			"start_date":  map[string]any{"type": "string", "description": "Start date (ISO 8601)"},
			"target_date": map[string]any{"type": "string", "description": "Target date (ISO 8601)"},
			"status":      map[string]any{"type": "string", "description": "Status name, matched case-insensitively against the project's statuses"},
			"status_id":   map[string]any{"type": "string", "description": "Explicit status id; skips status-name resolution"},
		}, []string{"project_id", "title"}),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		projectID, err := uuidArg(args, "project_id")
		if err != nil {
			return nil, err
		}
		title, err := stringArg(args, "title")
		if err != nil {
			return nil, err
		}

		var statusID string
		if id, ok := args["status_id"].(string); ok && id != "" {
			statusID, err = uuidArg(args, "status_id")
			if err != nil {
				return nil, err
			}
		} else {
			statuses, err := fetchStatuses(ctx, client, projectID)
			if err != nil {
				return nil, err
			}
			if name, ok := args["status"].(string); ok && name != "" {
				status, err := matchStatus(statuses, name)
				if err != nil {
					return nil, err
				}
				statusID = status.ID
			} else {
				status, err := defaultStatus(statuses, projectID)
				if err != nil {
					return nil, err
				}
				statusID = status.ID
			}
		}

		body := map[string]any{
			"project_id": projectID,
			"title":      title,
			"status_id":  statusID,
		}
		copyOptional(args, body, "description", "priority", "start_date", "target_date")

		payload, err := client.Request(ctx, issuesURL, remote.RequestOptions{
			Method: "POST",
			Body:   body,
		})
		if err != nil {
			return nil, err
		}
		return unwrapMutation(payload, "issue"), nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

func updateIssueTool(client RemoteClient) registry.Entry {
	mutable := []string{"title", "description", "priority", "start_date", "target_date", "status", "status_id"}

	def := mcp.Tool{
		Name:        "update_issue",
		Description: "Update an issue. At least one field to change must be provided; a status name is resolved against the issue's project.",
		InputSchema: objectSchema(map[string]any{
			"issue_id":    map[string]any{"type": "string", "description": "The id of the issue to update"},
			"title":       map[string]any{"type": "string", "description": "New title"},
			"description": map[string]any{"type": "string", "description": "New description"},
			"priority":    map[string]any{"type": "number", "description": "New priority"},
			"start_date":  map[string]any{"type": "string", "description": "New start date (ISO 8601)"},
			"target_date": map[string]any{"type": "string", "description": "New target date (ISO 8601)"},
			"status":      map[string]any{"type": "string", "description": "Status name, matched case-insensitively against the project's statuses"},
			"status_id":   map[string]any{"type": "string", "description": "Explicit status id; skips status-name resolution"},
		}, []string{"issue_id"}),
	}

	handler := func(ctx context.Context, args map[string]any) (any, error) {
		issueID, err := uuidArg(args, "issue_id")
		if err != nil {
			return nil, err
		}

		changed := false
		for _, f := range mutable {
			v, ok := args[f]
			if !ok {
				continue
			}
			// An empty status selector resolves to nothing and would
			// produce a no-op PATCH, so it does not count as a change.
			if s, isStr := v.(string); isStr && s == "" && strings.HasPrefix(f, "status") {
				continue
			}
			changed = true
			break
		}
		if !changed {
			return nil, fmt.Errorf("nothing to update: provide at least one of %s", strings.Join(mutable, ", "))
		}

		body := map[string]any{}
		copyOptional(args, body, "title", "description", "priority", "start_date", "target_date")

		if id, ok := args["status_id"].(string); ok && id != "" {
			statusID, err := uuidArg(args, "status_id")
			if err != nil {
				return nil, err
			}
			body["status_id"] = statusID
		} else if name, ok := args["status"].(string); ok && name != "" {
			projectID, err := issueProjectID(ctx, client, issueID)
			if err != nil {
				return nil, err
			}
			statuses, err := fetchStatuses(ctx, client, projectID)
			if err != nil {
				return nil, err
			}
			status, err := matchStatus(statuses, name)
			if err != nil {
				return nil, err
			}
			body["status_id"] = status.ID
		}

		payload, err := client.Request(ctx, issuesURL+"/"+issueID, remote.RequestOptions{
			Method: "PATCH",
			Body:   body,
		})
		if err != nil {
			return nil, err
		}
		return unwrapMutation(payload, "issue"), nil
	}

	return registry.Entry{Definition: def, Handler: handler}
}

type projectStatus struct {
	ID        string
	Name      string
	SortOrder float64
	Hidden    bool
}

// fetchStatuses returns the project's statuses ordered by sort_order.
func fetchStatuses(ctx context.Context, client RemoteClient, projectID string) ([]projectStatus, error) {
	query := url.Values{}
	query.Set("project_id", projectID)
	payload, err := client.Request(ctx, statusesURL, remote.RequestOptions{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to load statuses for project %s: %w", projectID, err)
	}

	var statuses []projectStatus
	for _, row := range rowsUnder(payload, "project_statuses") {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		s := projectStatus{}
		s.ID, _ = obj["id"].(string)
		s.Name, _ = obj["name"].(string)
		s.SortOrder, _ = obj["sort_order"].(float64)
		s.Hidden, _ = obj["hidden"].(bool)
		if s.ID != "" {
			statuses = append(statuses, s)
		}
	}
	sort.SliceStable(statuses, func(i, j int) bool {
		return statuses[i].SortOrder < statuses[j].SortOrder
	})
	return statuses, nil
}

func matchStatus(statuses []projectStatus, name string) (projectStatus, error) {
	for _, s := range statuses {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, s.Name)
	}
	return projectStatus{}, fmt.Errorf("unknown status %q; valid statuses are: %s", name, strings.Join(names, ", "))
}

// defaultStatus is the first non-hidden status, or the first status when all
// are hidden.
func defaultStatus(statuses []projectStatus, projectID string) (projectStatus, error) {
	if len(statuses) == 0 {
		return projectStatus{}, fmt.Errorf("project %s has no statuses", projectID)
	}
	for _, s := range statuses {
		if !s.Hidden {
			return s, nil
		}
	}
	return statuses[0], nil
}

func issueProjectID(ctx context.Context, client RemoteClient, issueID string) (string, error) {
	payload, err := client.Request(ctx, issuesURL+"/"+issueID, remote.RequestOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to load issue %s: %w", issueID, err)
	}
	if obj, ok := payload.(map[string]any); ok {
		if id, ok := obj["project_id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("issue %s has no project_id in the remote response", issueID)
}

func uuidArg(args map[string]any, key string) (string, error) {
	s, err := stringArg(args, key)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("parameter %q must be a UUID: %v", key, err)
	}
	return s, nil
}

func copyOptional(args, body map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := args[k]; ok {
			body[k] = v
		}
	}
}
