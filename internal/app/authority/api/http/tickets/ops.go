package tickets

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) snapshotOp() huma.Operation {
	return huma.Operation{
		OperationID: "tickets-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/v1/tickets",
		Summary:     "Билеты на операционную дату",
		Description: "Билет считается использованным, если у него есть каноническая валидация.",
		Tags:        []string{"tickets"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
