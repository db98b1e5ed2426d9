package agent

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) op(id, method, path, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      method,
		Path:        path,
		Summary:     summary,
		Tags:        []string{"gate"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) healthOp() huma.Operation {
	return h.op("gate-health", http.MethodGet, "/api/v1/health", "Состояние агента")
}

func (h *Handler) validateOp() huma.Operation {
	op := h.op("gate-validate", http.MethodPost, "/api/v1/validate", "Проверка билета на проходе")
	op.Description = "Решение принимается по локальному снимку без обращения к сети. Отказ возвращается с accepted=false."
	return op
}

func (h *Handler) searchOp() huma.Operation {
	return h.op("gate-search", http.MethodGet, "/api/v1/tickets/search", "Поиск билета по владельцу")
}

func (h *Handler) statusOp() huma.Operation {
	return h.op("gate-status", http.MethodGet, "/api/v1/status", "Связь, очередь и курсор синхронизации")
}

func (h *Handler) syncOp() huma.Operation {
	return h.op("gate-sync", http.MethodPost, "/api/v1/sync", "Синхронизация сейчас")
}

func (h *Handler) refreshOp() huma.Operation {
	return h.op("gate-refresh", http.MethodPost, "/api/v1/refresh", "Обновление снимка билетов")
}

func (h *Handler) recordsOp() huma.Operation {
	return h.op("gate-records", http.MethodGet, "/api/v1/validations", "Локальная история валидаций")
}

func (h *Handler) reviewOp() huma.Operation {
	op := h.op("gate-review", http.MethodPost, "/api/v1/validations/{id}/review", "Отметить конфликт как разобранный")
	op.DefaultStatus = http.StatusNoContent
	return op
}

func (h *Handler) connectivityOp() huma.Operation {
	return h.op("gate-connectivity", http.MethodPut, "/api/v1/connectivity", "Сигнал платформы о состоянии сети")
}
