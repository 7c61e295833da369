// Package catalog holds the read-only table of developer tools served as
// data/tools.json.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
)

// MaxCompare is how many tools the comparison view holds at once.
const MaxCompare = 6

var (
	ErrTooManyTools = fmt.Errorf("you can compare up to %d tools", MaxCompare)
	ErrUnknownTool  = errors.New("unknown tool")
)

type Tool struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Blurb    string `json:"blurb,omitempty"`
	Provider string `json:"provider,omitempty"`
	Category string `json:"category,omitempty"`
	Level    string `json:"level,omitempty"`
	Price    string `json:"price,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Catalog is immutable once parsed and safe for concurrent use.
type Catalog struct {
	tools []Tool
	byID  map[string]int
}

// Parse reads a JSON array of tools. Entries without an id are skipped and
// the first entry wins when ids collide case-insensitively.
func Parse(data []byte) (*Catalog, error) {
	var raw []Tool
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tools: %w", err)
	}

	c := &Catalog{byID: make(map[string]int, len(raw))}
	for _, t := range raw {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			continue
		}
		key := strings.ToLower(t.ID)
		if _, dup := c.byID[key]; dup {
			continue
		}
		c.byID[key] = 0
		c.tools = append(c.tools, t)
	}

	sort.SliceStable(c.tools, func(i, j int) bool {
		return strings.ToLower(c.tools[i].Title) < strings.ToLower(c.tools[j].Title)
	})
	for i, t := range c.tools {
		c.byID[strings.ToLower(t.ID)] = i
	}
	return c, nil
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Fetch downloads the catalog once from url.
func Fetch(ctx context.Context, client *http.Client, url string) (*Catalog, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Empty is used when the catalog could not be loaded.
func Empty() *Catalog {
	return &Catalog{byID: map[string]int{}}
}

func (c *Catalog) Len() int { return len(c.tools) }

// Lookup matches ids case-insensitively.
func (c *Catalog) Lookup(id string) (Tool, bool) {
	i, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Tool{}, false
	}
	return c.tools[i], true
}

// All returns every tool ordered by title.
func (c *Catalog) All() []Tool {
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Resolve maps ids to tools, dropping unknown ids, and stops after limit
// matches when limit is positive.
func (c *Catalog) Resolve(ids []string, limit int) []Tool {
	var out []Tool
	for _, id := range ids {
		if t, ok := c.Lookup(id); ok {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// Filter narrows the tools listing. Empty fields match everything.
type Filter struct {
	Category string
	Level    string
	Price    string
	Query    string
	// OnlyIDs restricts the result to these ids when non-nil.
	OnlyIDs map[string]bool
}

func (c *Catalog) Filter(f Filter) []Tool {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.Level != "" && t.Level != f.Level {
			continue
		}
		if f.Price != "" && t.Price != f.Price {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(t.Title+" "+t.Blurb+" "+t.Provider+" "+t.Category), q) {
			continue
		}
		if f.OnlyIDs != nil && !f.OnlyIDs[strings.ToLower(t.ID)] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Search is the comparison picker's looser match, which also covers level
// and price.
func (c *Catalog) Search(query string) []Tool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.All()
	}
	var out []Tool
	for _, t := range c.tools {
		blob := strings.ToLower(strings.Join([]string{t.Title, t.Category, t.Level, t.Price, t.Provider, t.Blurb}, " "))
		if strings.Contains(blob, q) {
			out = append(out, t)
		}
	}
	return out
}

// Categories lists the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range c.tools {
		if t.Category != "" && !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	sort.Strings(out)
	return out
}
