package devices

import "ticketgate/internal/domain/device"

type registerInput struct {
	Body device.RegisterRequest
}

type registerOutput struct {
	Body registerResponse
}

type registerResponse struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

type loginInput struct {
	Body device.LoginRequest
}

type loginOutput struct {
	Body LoginResponse
}

type LoginResponse struct {
	Token     string `json:"token"`
	DeviceID  string `json:"device_id"`
	ExpiresIn int64  `json:"expires_in" doc:"Token lifetime in seconds"`
}

type listOutput struct {
	Body listResponse
}

type listResponse struct {
	Devices []device.Info `json:"devices"`
}
