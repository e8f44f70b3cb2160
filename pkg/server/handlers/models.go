package handlers

import (
	"net/http"
	"time"

	"github.com/osaurus-ai/osaurus/pkg/services"
	"github.com/osaurus-ai/osaurus/pkg/stream"
	"github.com/osaurus-ai/osaurus/pkg/types"
)

// ModelsHandler serves GET /models.
type ModelsHandler struct {
	deps Deps
}

func NewModelsHandler(deps Deps) *ModelsHandler {
	return &ModelsHandler{deps: deps}
}

// List returns the installed models plus the foundation sentinel when the
// system-default service is available, so clients can discover it.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	installed := h.deps.Router.Installed()
	data := make([]types.ModelInfo, 0, len(installed)+1)
	for _, m := range installed {
		data = append(data, types.ModelInfo{
			ID:      m.Name,
			Object:  "model",
			Created: m.ModifiedAt.Unix(),
			OwnedBy: "osaurus",
		})
	}
	if h.deps.Router.FoundationAvailable() {
		data = append(data, types.ModelInfo{
			ID:      services.FoundationModel,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "system",
		})
	}
	_ = stream.WriteJSON(w, http.StatusOK, types.ModelList{Object: "list", Data: data})
}
