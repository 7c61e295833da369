package handler

import (
	"net/http"

	"devtoolkit/internal/catalog"
	"devtoolkit/pkg/response"
)

// CatalogHandler serves the tool table as a bare JSON array, the shape
// clients fetch from data/tools.json.
type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(c *catalog.Catalog) *CatalogHandler {
	if c == nil {
		c = catalog.Empty()
	}
	return &CatalogHandler{catalog: c}
}

func (h *CatalogHandler) Tools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	response.Raw(w, http.StatusOK, h.catalog.All())
}
