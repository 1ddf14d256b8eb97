package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// ShapeDefinition is one way to read rows of a table, parameterized by the
// query filters the remote API requires for that read.
type ShapeDefinition struct {
	ConstName string
	RowType   string
	Table     string
	Params    []string
	URL       string
}

// MutationDefinition is a table's single write endpoint. The table name is
// inferred from the URL, not declared.
type MutationDefinition struct {
	ConstName   string
	RowType     string
	DisplayName string
	URL         string
	Table       string
}

var (
	shapeRe = regexp.MustCompile(
		`(?s)(?:export\s+)?const\s+(\w+)\s*=\s*defineShape<\s*(\w+)\s*>\(\s*'([^']+)'\s*,\s*\[([^\]]*)\]\s*as\s+const\s*,\s*'([^']+)'\s*\)`)
	mutationRe = regexp.MustCompile(
		`(?s)(?:export\s+)?const\s+(\w+_MUTATION)\s*=\s*defineMutation<\s*(\w+)[^>]*>\(\s*'([^']+)'\s*,\s*'([^']+)'\s*\)`)
	paramRe = regexp.MustCompile(`'([^']*)'`)
)

// Parse extracts shape and mutation declarations from the generated
// TypeScript source, in source order, without evaluating it. Mutations whose
// URL is not exactly /v1/<table> are skipped; that is a compatibility
// relaxation, not an error, but each skip is reported on stderr so migrations
// surface unexpected URL shapes.
func Parse(src string) ([]ShapeDefinition, []MutationDefinition) {
	var shapes []ShapeDefinition
	for _, m := range shapeRe.FindAllStringSubmatch(src, -1) {
		var params []string
		for _, p := range paramRe.FindAllStringSubmatch(m[4], -1) {
			params = append(params, p[1])
		}
		shapes = append(shapes, ShapeDefinition{
			ConstName: m[1],
			RowType:   m[2],
			Table:     m[3],
			Params:    params,
			URL:       m[5],
		})
	}

	var mutations []MutationDefinition
	for _, m := range mutationRe.FindAllStringSubmatch(src, -1) {
		table, ok := tableFromURL(m[4])
		if !ok {
			logf("skipping mutation %s: url %q is not /v1/<table>", m[1], m[4])
			continue
		}
		mutations = append(mutations, MutationDefinition{
			ConstName:   m[1],
			RowType:     m[2],
			DisplayName: m[3],
			URL:         m[4],
			Table:       table,
		})
	}

	return shapes, mutations
}

// tableFromURL accepts only URLs with exactly two non-empty path segments
// where the first is the literal "v1"; the second is the table name.
func tableFromURL(url string) (string, bool) {
	var segments []string
	for _, s := range strings.Split(url, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) != 2 || segments[0] != "v1" {
		return "", false
	}
	return segments[1], true
}

func logf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[remote-mcp] "+format+"\n", args...)
}
