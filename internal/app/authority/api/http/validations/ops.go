package validations

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) batchOp() huma.Operation {
	return huma.Operation{
		OperationID: "validations-batch",
		Method:      http.MethodPost,
		Path:        "/api/v1/validations/batch",
		Summary:     "Отправка пакета валидаций устройства",
		Description: "Возвращает вердикт по каждой записи в порядке запроса. Повторная отправка записи возвращает прежний вердикт.",
		Tags:        []string{"validations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) changesOp() huma.Operation {
	return huma.Operation{
		OperationID: "validations-changes",
		Method:      http.MethodGet,
		Path:        "/api/v1/validations/changes",
		Summary:     "Изменения вердиктов по записям устройства",
		Tags:        []string{"validations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) conflictsOp() huma.Operation {
	return huma.Operation{
		OperationID: "validations-conflicts",
		Method:      http.MethodGet,
		Path:        "/api/v1/validations/conflicts",
		Summary:     "Журнал конфликтов",
		Tags:        []string{"validations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
