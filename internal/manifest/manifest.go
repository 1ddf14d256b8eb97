package manifest

import (
	"os"
	"sort"
	"strings"
)

// OrganizationsEndpoint is fixed and never derived from parsing.
const OrganizationsEndpoint = "/v1/organizations"

// Entry is the per-table descriptor derived from a mutation definition. The
// IDField name doubles as the tool input key and the path segment identifier.
type Entry struct {
	Table       string
	RowType     string
	DisplayName string
	URL         string
	Singular    string
	IDField     string
}

// Manifest is the parsed-or-fallback catalog of shapes and mutations that
// drives tool generation. Built once at process start and read-only after.
type Manifest struct {
	OrganizationsEndpoint string
	Entries               []Entry
	ShapesByTable         map[string][]ShapeDefinition
}

// Load reads the generated declarations file and builds a manifest from it.
// A missing file, like a file that yields no mutations, selects the fallback
// manifest; the server must always expose at least a minimal tool surface.
func Load(path string) *Manifest {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logf("reading %s: %v; using fallback manifest", path, err)
		}
		return Fallback()
	}
	return Build(Parse(string(data)))
}

// Build assembles a manifest from parsed definitions. Zero mutations mean
// the source was unusable, so the fallback manifest is returned wholesale.
func Build(shapes []ShapeDefinition, mutations []MutationDefinition) *Manifest {
	if len(mutations) == 0 {
		return Fallback()
	}

	byTable := make(map[string][]ShapeDefinition)
	for _, s := range shapes {
		byTable[s.Table] = append(byTable[s.Table], s)
	}
	for table := range byTable {
		group := byTable[table]
		sort.SliceStable(group, func(i, j int) bool {
			return shapePriority(group[i]) < shapePriority(group[j])
		})
		byTable[table] = group
	}

	entries := make([]Entry, 0, len(mutations))
	for _, m := range mutations {
		singular := Singularize(m.Table)
		entries = append(entries, Entry{
			Table:       m.Table,
			RowType:     m.RowType,
			DisplayName: m.DisplayName,
			URL:         m.URL,
			Singular:    singular,
			IDField:     singular + "_id",
		})
	}

	return &Manifest{
		OrganizationsEndpoint: OrganizationsEndpoint,
		Entries:               entries,
		ShapesByTable:         byTable,
	}
}

// CanonicalShape returns the best-fit list shape for a table, when any shape
// for it was declared.
func (m *Manifest) CanonicalShape(table string) (ShapeDefinition, bool) {
	shapes := m.ShapesByTable[table]
	if len(shapes) == 0 {
		return ShapeDefinition{}, false
	}
	return shapes[0], true
}

// shapePriority ranks a table's shapes: project-scoped reads beat
// organization-scoped ones, which beat issue-scoped ones; anything else is
// ranked by how many filters it demands.
func shapePriority(s ShapeDefinition) int {
	for _, p := range s.Params {
		if p == "project_id" {
			return 0
		}
	}
	for _, p := range s.Params {
		if p == "organization_id" {
			return 1
		}
	}
	for _, p := range s.Params {
		if p == "issue_id" {
			return 2
		}
	}
	return 10 + len(s.Params)
}

// Singularize applies the morphological rules used for tool naming and id
// fields: "ies" -> "y", "ses"/"xes" -> drop "es", trailing "s" (but not
// "ss") -> drop "s", otherwise unchanged.
func Singularize(table string) string {
	switch {
	case strings.HasSuffix(table, "ies"):
		return strings.TrimSuffix(table, "ies") + "y"
	case strings.HasSuffix(table, "ses"), strings.HasSuffix(table, "xes"):
		return strings.TrimSuffix(table, "es")
	case strings.HasSuffix(table, "s") && !strings.HasSuffix(table, "ss"):
		return strings.TrimSuffix(table, "s")
	default:
		return table
	}
}

// Fallback returns the minimal hardcoded manifest used when the declarations
// source is unreadable or yields nothing usable. project_statuses is included
// so issue status resolution keeps working against a bare manifest.
func Fallback() *Manifest {
	mutations := []MutationDefinition{
		{RowType: "Project", DisplayName: "Project", URL: "/v1/projects", Table: "projects"},
		{RowType: "Issue", DisplayName: "Issue", URL: "/v1/issues", Table: "issues"},
		{RowType: "ProjectStatus", DisplayName: "Project Status", URL: "/v1/project_statuses", Table: "project_statuses"},
	}
	shapes := []ShapeDefinition{
		{RowType: "Project", Table: "projects", Params: []string{"organization_id"}, URL: "/v1/projects"},
		{RowType: "Issue", Table: "issues", Params: []string{"project_id"}, URL: "/v1/issues"},
		{RowType: "ProjectStatus", Table: "project_statuses", Params: []string{"project_id"}, URL: "/v1/project_statuses"},
	}

	byTable := make(map[string][]ShapeDefinition, len(shapes))
	for _, s := range shapes {
		byTable[s.Table] = append(byTable[s.Table], s)
	}

	entries := make([]Entry, 0, len(mutations))
	for _, m := range mutations {
		singular := Singularize(m.Table)
		entries = append(entries, Entry{
			Table:       m.Table,
			RowType:     m.RowType,
			DisplayName: m.DisplayName,
			URL:         m.URL,
			Singular:    singular,
			IDField:     singular + "_id",
		})
	}

	return &Manifest{
		OrganizationsEndpoint: OrganizationsEndpoint,
		Entries:               entries,
		ShapesByTable:         byTable,
	}
}
