package handlers

import (
	"net/http"
	"time"

	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/utils"
	"go.uber.org/zap"
)

// modelEntry is one row of the OpenAI list-models shape.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// ModelsHandler serves the public model listing.
type ModelsHandler struct {
	store  *sqlite.Store
	logger *zap.Logger
}

// NewModelsHandler creates a ModelsHandler.
func NewModelsHandler(store *sqlite.Store, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{store: store, logger: logger}
}

// HandleListModels handles GET /v1/models: enabled models only,
// ordered by location then quality descending.
func (h *ModelsHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	enabled, err := h.store.Models.ListEnabled(r.Context())
	if err != nil {
		h.logger.Error("failed to list models", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	created := time.Now().Unix()
	out := modelList{Object: "list", Data: make([]modelEntry, 0, len(enabled))}
	for _, m := range enabled {
		out.Data = append(out.Data, modelEntry{
			ID:      m.ID,
			Object:  "model",
			Created: created,
			OwnedBy: m.Provider,
		})
	}

	_ = utils.WriteJSON(w, http.StatusOK, out)
}
