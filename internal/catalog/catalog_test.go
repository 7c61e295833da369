package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[
	{"id": "tool_git", "title": "Git", "category": "DevOps", "level": "Beginner", "price": "Free", "provider": "Git Project", "blurb": "Version control"},
	{"id": "tool_Postman", "title": "Postman", "category": "Testing", "level": "Intermediate", "price": "Freemium", "provider": "Postman"},
	{"id": "", "title": "No id"},
	{"id": "TOOL_GIT", "title": "Duplicate"},
	{"id": "tool_aws", "title": "Amazon Web Services", "category": "Cloud", "level": "Advanced", "price": "Paid"}
]`

func mustParse(t *testing.T) *Catalog {
	t.Helper()
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	return c
}

func titles(tools []Tool) []string {
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Title)
	}
	return out
}

func TestParse(t *testing.T) {
	c := mustParse(t)

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"Amazon Web Services", "Git", "Postman"}, titles(c.All()))

	tool, ok := c.Lookup("tool_postman")
	require.True(t, ok)
	assert.Equal(t, "tool_Postman", tool.ID)

	tool, ok = c.Lookup("tool_git")
	require.True(t, ok)
	assert.Equal(t, "Git", tool.Title, "first entry wins on duplicate ids")

	_, ok = c.Lookup("tool_missing")
	assert.False(t, ok)

	_, err := Parse([]byte(`{"not": "an array"}`))
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	c := mustParse(t)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter", Filter{}, []string{"Amazon Web Services", "Git", "Postman"}},
		{"category", Filter{Category: "Testing"}, []string{"Postman"}},
		{"level", Filter{Level: "Beginner"}, []string{"Git"}},
		{"price", Filter{Price: "Paid"}, []string{"Amazon Web Services"}},
		{"query over blurb", Filter{Query: "  VERSION "}, []string{"Git"}},
		{"query over provider", Filter{Query: "postman"}, []string{"Postman"}},
		{"query ignores level", Filter{Query: "beginner"}, []string{}},
		{"only ids", Filter{OnlyIDs: map[string]bool{"tool_aws": true, "tool_postman": true}}, []string{"Amazon Web Services", "Postman"}},
		{"empty only ids", Filter{OnlyIDs: map[string]bool{}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(c.Filter(tt.filter)))
		})
	}
}

func TestSearchCoversLevelAndPrice(t *testing.T) {
	c := mustParse(t)
	assert.Equal(t, []string{"Git"}, titles(c.Search("beginner")))
	assert.Equal(t, []string{"Postman"}, titles(c.Search("freemium")))
	assert.Len(t, c.Search(""), 3)
}

func TestResolve(t *testing.T) {
	c := mustParse(t)
	got := c.Resolve([]string{"tool_aws", "nope", "tool_git", "tool_postman"}, 2)
	assert.Equal(t, []string{"Amazon Web Services", "Git"}, titles(got))
}

func TestCompare(t *testing.T) {
	c := mustParse(t)

	cmp, err := c.Compare([]string{"tool_git", "tool_postman", "TOOL_GIT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Git", "Postman"}, titles(cmp.Tools))
	assert.Equal(t, []string{
		"Pricing differs: Free, Freemium",
		"Levels differ: Beginner, Intermediate",
		"Categories differ: DevOps, Testing",
	}, cmp.Differences)

	single, err := c.Compare([]string{"tool_aws"})
	require.NoError(t, err)
	assert.Empty(t, single.Differences)

	_, err = c.Compare([]string{"tool_git", "tool_nope"})
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestCompareLimit(t *testing.T) {
	data := `[`
	for i := 0; i < MaxCompare+1; i++ {
		if i > 0 {
			data += ","
		}
		data += `{"id":"t` + string(rune('a'+i)) + `","title":"T` + string(rune('a'+i)) + `"}`
	}
	data += `]`
	c, err := Parse([]byte(data))
	require.NoError(t, err)

	ids := make([]string, 0, c.Len())
	for _, tool := range c.All() {
		ids = append(ids, tool.ID)
	}
	_, err = c.Compare(ids)
	assert.ErrorIs(t, err, ErrTooManyTools)

	cmp := c.CompareFavorites(append([]string{"unknown"}, ids...))
	assert.Len(t, cmp.Tools, MaxCompare)
}

func TestLoadFileAndFetch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/tools.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(sample))
	}))
	defer srv.Close()

	c, err = Fetch(context.Background(), srv.Client(), srv.URL+"/data/tools.json")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	_, err = Fetch(context.Background(), srv.Client(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestBundledCatalogCoversLearnLinks(t *testing.T) {
	c, err := LoadFile(filepath.Join("..", "..", "data", "tools.json"))
	require.NoError(t, err)
	for _, id := range []string{"tool_freecodecamp", "tool_github_actions", "tool_prometheus", "tool_vercel"} {
		_, ok := c.Lookup(id)
		assert.True(t, ok, id)
	}
}
