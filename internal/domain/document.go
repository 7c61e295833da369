package domain

import "time"

// Collections users may write to under users/{userId}/.
var AllowedCollections = map[string]bool{
	"favorites":   true,
	"learn":       true,
	"contacts":    true,
	"suggestions": true,
}

type Document struct {
	UserID     string                 `json:"user_id"`
	Collection string                 `json:"collection"`
	DocID      string                 `json:"doc_id"`
	Fields     map[string]interface{} `json:"fields"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

type SetDocumentRequest struct {
	Fields map[string]interface{} `json:"fields" validate:"required"`
}

// DocumentResponse is the wire shape clients decode documents from.
type DocumentResponse struct {
	ID        string                 `json:"id"`
	Fields    map[string]interface{} `json:"fields"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

func (d *Document) Response() DocumentResponse {
	fields := d.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return DocumentResponse{ID: d.DocID, Fields: fields, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}
