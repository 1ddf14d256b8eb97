package registry

import (
	"context"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/vibeboard/remote-mcp/pkg/mcp"
)

// Source tags where a registry entry came from. Manual entries take
// precedence over generated ones when names collide.
type Source int

const (
	Generated Source = iota
	Manual
)

// Handler executes a tool call. Returned values are JSON-marshaled into the
// tool result; returned errors become tool-level error results.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Entry pairs a tool definition with its handler.
type Entry struct {
	Definition mcp.Tool
	Handler    Handler
	Source     Source
}

// Registry is the immutable name->entry catalog the dispatcher consults.
// Build it once via Merge at process start.
type Registry struct {
	entries map[string]Entry
}

// Merge resolves generated and manual entries into one registry. Precedence
// is explicit: a manual entry always replaces a generated entry with the
// same name, regardless of argument order.
func Merge(generated, manual []Entry) *Registry {
	entries := make(map[string]Entry, len(generated)+len(manual))
	for _, e := range generated {
		e.Source = Generated
		entries[e.Definition.Name] = e
	}
	for _, e := range manual {
		e.Source = Manual
		entries[e.Definition.Name] = e
	}
	return &Registry{entries: entries}
}

// Get returns the entry registered under name.
func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Definitions returns all tool definitions sorted by name, ready for
// tools/list.
func (r *Registry) Definitions() []mcp.Tool {
	defs := make([]mcp.Tool, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Nearest suggests the closest registered tool name for a name that did not
// match, or "" when nothing is close enough to help.
func (r *Registry) Nearest(name string) string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)

	best := ""
	bestRank := -1
	for _, candidate := range names {
		rank := fuzzy.RankMatchFold(name, candidate)
		if rank < 0 {
			continue
		}
		if bestRank < 0 || rank < bestRank {
			best = candidate
			bestRank = rank
		}
	}
	if best != "" {
		return best
	}

	// Same-verb fallback for typos past the fuzzy net.
	verb := verbOf(name)
	if verb == "" {
		return ""
	}
	for _, candidate := range names {
		if strings.HasPrefix(candidate, verb) {
			return candidate
		}
	}
	return ""
}

func verbOf(name string) string {
	if i := strings.IndexByte(name, '_'); i > 0 {
		return name[:i+1]
	}
	return ""
}
