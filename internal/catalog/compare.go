package catalog

import (
	"fmt"
	"strings"
)

type Comparison struct {
	Tools []Tool
	// Differences holds one line per attribute whose values disagree.
	Differences []string
}

// Compare lines up the given tools in order. Duplicate ids collapse.
func (c *Catalog) Compare(ids []string) (Comparison, error) {
	seen := map[string]bool{}
	var tools []Tool
	for _, id := range ids {
		t, ok := c.Lookup(id)
		if !ok {
			return Comparison{}, fmt.Errorf("%w: %s", ErrUnknownTool, id)
		}
		key := strings.ToLower(t.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		tools = append(tools, t)
	}
	if len(tools) > MaxCompare {
		return Comparison{}, ErrTooManyTools
	}
	return Comparison{Tools: tools, Differences: differences(tools)}, nil
}

// CompareFavorites compares the catalog tools among favoriteIDs, keeping
// the first MaxCompare matches. Ids the catalog does not know are skipped.
func (c *Catalog) CompareFavorites(favoriteIDs []string) Comparison {
	tools := c.Resolve(favoriteIDs, MaxCompare)
	return Comparison{Tools: tools, Differences: differences(tools)}
}

func differences(tools []Tool) []string {
	if len(tools) < 2 {
		return nil
	}
	var lines []string
	if vals := distinct(tools, func(t Tool) string { return t.Price }); len(vals) > 1 {
		lines = append(lines, "Pricing differs: "+strings.Join(vals, ", "))
	}
	if vals := distinct(tools, func(t Tool) string { return t.Level }); len(vals) > 1 {
		lines = append(lines, "Levels differ: "+strings.Join(vals, ", "))
	}
	if vals := distinct(tools, func(t Tool) string { return t.Category }); len(vals) > 1 {
		lines = append(lines, "Categories differ: "+strings.Join(vals, ", "))
	}
	return lines
}

func distinct(tools []Tool, attr func(Tool) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tools {
		v := attr(t)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
