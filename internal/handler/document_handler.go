package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"devtoolkit/internal/domain"
	"devtoolkit/internal/middleware"
	"devtoolkit/internal/service"
	"devtoolkit/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxDocumentBody = 1 << 20

// DocumentHandler serves users/{userId}/{collection}[/{docId}].
type DocumentHandler struct {
	docService *service.DocumentService
	validator  *validator.Validate
	logger     *zap.Logger
}

func NewDocumentHandler(docService *service.DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		docService: docService,
		validator:  validator.New(),
		logger:     logger,
	}
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	docs, err := h.docService.List(r.Context(), middleware.GetUserID(r), vars["userId"], vars["collection"])
	if err != nil {
		writeDocumentError(w, h.logger, err)
		return
	}

	out := make([]domain.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Response())
	}
	response.Success(w, out)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	doc, err := h.docService.Get(r.Context(), middleware.GetUserID(r), vars["userId"], vars["collection"], vars["docId"])
	if err != nil {
		writeDocumentError(w, h.logger, err)
		return
	}

	response.Success(w, doc.Response())
}

// Set writes a document. ?merge=true keeps existing fields and
// ?stamp_created=true sets the creation time on first write.
func (h *DocumentHandler) Set(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req domain.SetDocumentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBody)).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeValidationError(w, err)
		return
	}

	opts := service.SetOptions{
		Merge:        queryBool(r, "merge"),
		StampCreated: queryBool(r, "stamp_created"),
	}

	doc, err := h.docService.Set(r.Context(), middleware.GetUserID(r), vars["userId"], vars["collection"], vars["docId"], req.Fields, opts)
	if err != nil {
		writeDocumentError(w, h.logger, err)
		return
	}

	response.Success(w, doc.Response())
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := h.docService.Delete(r.Context(), middleware.GetUserID(r), vars["userId"], vars["collection"], vars["docId"]); err != nil {
		writeDocumentError(w, h.logger, err)
		return
	}

	response.Message(w, "Document deleted")
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
