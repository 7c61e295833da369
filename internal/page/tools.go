package page

import (
	"strings"

	"devtoolkit/internal/catalog"
)

// ToolQuery is a catalog filter plus the favorites-only switch.
type ToolQuery struct {
	catalog.Filter
	FavoritesOnly bool
}

type ToolView struct {
	catalog.Tool
	Favorited bool
}

// Tools is the catalog listing and the comparison page.
type Tools struct {
	env       Env
	favorites *Favorites
}

// NewTools reads favorite state from favorites, which may be nil.
func NewTools(env Env, favorites *Favorites) *Tools {
	return &Tools{env: env.withDefaults(), favorites: favorites}
}

func (t *Tools) favoriteIDs() []string {
	if t.favorites == nil {
		return nil
	}
	return t.favorites.Snapshot().IDs()
}

// List filters the catalog. FavoritesOnly needs a signed-in user.
func (t *Tools) List(q ToolQuery) ([]ToolView, error) {
	favs := map[string]bool{}
	for _, id := range t.favoriteIDs() {
		favs[strings.ToLower(id)] = true
	}

	f := q.Filter
	if q.FavoritesOnly {
		if _, err := t.env.currentUser(); err != nil {
			return nil, err
		}
		f.OnlyIDs = favs
	}

	tools := t.env.Catalog.Filter(f)
	out := make([]ToolView, len(tools))
	for i, tool := range tools {
		out[i] = ToolView{Tool: tool, Favorited: favs[strings.ToLower(tool.ID)]}
	}
	return out, nil
}

func (t *Tools) Categories() []string {
	return t.env.Catalog.Categories()
}

// Picker lists the tools matching query for the comparison picker.
func (t *Tools) Picker(query string) []catalog.Tool {
	return t.env.Catalog.Search(query)
}

func (t *Tools) Compare(ids []string) (catalog.Comparison, error) {
	return t.env.Catalog.Compare(ids)
}

// CompareFavorites compares the signed-in user's favorited tools.
func (t *Tools) CompareFavorites() (catalog.Comparison, error) {
	if _, err := t.env.currentUser(); err != nil {
		return catalog.Comparison{}, err
	}
	return t.env.Catalog.CompareFavorites(t.favoriteIDs()), nil
}
