package memorydb

import (
	"fmt"
	"strings"

	"github.com/connexus-ai/kernel-memory/internal/model"
)

// compileFilters turns a DNF list of tag-filter groups into a SQL WHERE
// fragment over a jsonb tags column, OR-ing each group's AND-clauses
// (§4.5). An empty filter list matches everything and compiles to "true".
// argStart is the first placeholder index to use ($N).
func compileFilters(groups []model.TagFilterGroup, argStart int) (string, []any) {
	if len(groups) == 0 {
		return "true", nil
	}

	var orClauses []string
	var args []any
	n := argStart

	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		var andClauses []string
		keys := sortedKeys(g)
		for _, k := range keys {
			andClauses = append(andClauses, fmt.Sprintf("tags -> $%d @> $%d::jsonb", n, n+1))
			args = append(args, k, fmt.Sprintf("%q", g[k]))
			n += 2
		}
		if len(andClauses) > 0 {
			orClauses = append(orClauses, "("+strings.Join(andClauses, " AND ")+")")
		}
	}

	if len(orClauses) == 0 {
		return "true", nil
	}
	return "(" + strings.Join(orClauses, " OR ") + ")", args
}

func sortedKeys(g model.TagFilterGroup) []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
