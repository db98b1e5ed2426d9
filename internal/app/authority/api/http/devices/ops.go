package devices

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) registerOp() huma.Operation {
	return huma.Operation{
		OperationID:   "devices-register",
		Method:        http.MethodPost,
		Path:          "/api/v1/devices/register",
		Summary:       "Регистрация устройства контролера",
		Description:   "Требует ключ подключения, выданный администратором.",
		Tags:          []string{"devices"},
		DefaultStatus: http.StatusCreated,
		Middlewares:   h.public,
	}
}

func (h *Handler) loginOp() huma.Operation {
	return huma.Operation{
		OperationID: "devices-login",
		Method:      http.MethodPost,
		Path:        "/api/v1/devices/login",
		Summary:     "Выдача токена устройству",
		Tags:        []string{"devices"},
		Middlewares: h.public,
	}
}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "devices-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/devices",
		Summary:     "Список устройств с временем последней синхронизации",
		Tags:        []string{"devices"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
