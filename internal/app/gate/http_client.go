package gate

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"ticketgate/internal/app/gate/config"
	"ticketgate/internal/domain/device"
	"ticketgate/internal/domain/ticket"
	"ticketgate/internal/domain/validation"
)

// Authority — API авторитета, которым пользуется устройство.
type Authority interface {
	HealthCheck(ctx context.Context) error
	FetchTickets(ctx context.Context, date string) (*ticket.Snapshot, error)
	SubmitBatch(ctx context.Context, records []validation.Record) ([]validation.Result, error)
	Changes(ctx context.Context, since int64, limit int) (*validation.ChangeFeed, error)
}

type httpClient struct {
	client    *http.Client
	log       *slog.Logger
	baseURL   string
	userAgent string

	mu    sync.RWMutex
	token string
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) (*httpClient, error) {
	transport := &http.Transport{
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 4,
	}

	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", cfg.CACertPath)
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &httpClient{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		log:       log.With("component", "authority_client"),
		baseURL:   baseURL(cfg.AuthorityAddress, cfg.EnableTLS),
		userAgent: "ticketgate-gate/1.0 (" + cfg.DeviceID + ")",
	}, nil
}

// baseURL допускает адрес со схемой; без схемы она выбирается по EnableTLS.
func baseURL(address string, enableTLS bool) string {
	address = strings.TrimRight(address, "/")
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	if enableTLS {
		return "https://" + address
	}
	return "http://" + address
}

func (h *httpClient) SetToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

func (h *httpClient) HasToken() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token != ""
}

// HealthCheck — проба связности.
func (h *httpClient) HealthCheck(ctx context.Context) error {
	resp, err := h.doRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

func (h *httpClient) FetchTickets(ctx context.Context, date string) (*ticket.Snapshot, error) {
	resp, err := h.doRequest(ctx, http.MethodGet, "/api/v1/tickets?date="+url.QueryEscape(date), nil)
	if err != nil {
		return nil, err
	}

	var snap ticket.Snapshot
	if err := h.parseResponse(resp, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (h *httpClient) SubmitBatch(ctx context.Context, records []validation.Record) ([]validation.Result, error) {
	req := validation.BatchRequest{Records: make([]validation.Submission, 0, len(records))}
	for _, r := range records {
		req.Records = append(req.Records, r.Submission())
	}

	resp, err := h.doRequest(ctx, http.MethodPost, "/api/v1/validations/batch", req)
	if err != nil {
		return nil, err
	}

	var out validation.BatchResponse
	if err := h.parseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (h *httpClient) Changes(ctx context.Context, since int64, limit int) (*validation.ChangeFeed, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	resp, err := h.doRequest(ctx, http.MethodGet, "/api/v1/validations/changes?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var feed validation.ChangeFeed
	if err := h.parseResponse(resp, &feed); err != nil {
		return nil, err
	}
	return &feed, nil
}

func (h *httpClient) Register(ctx context.Context, req device.RegisterRequest) error {
	resp, err := h.doRequest(ctx, http.MethodPost, "/api/v1/devices/register", req)
	if err != nil {
		return err
	}
	return h.parseResponse(resp, nil)
}

func (h *httpClient) Login(ctx context.Context, deviceID, secret string) (string, error) {
	resp, err := h.doRequest(ctx, http.MethodPost, "/api/v1/devices/login", device.LoginRequest{
		DeviceID: deviceID,
		Secret:   secret,
	})
	if err != nil {
		return "", err
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := h.parseResponse(resp, &loginResp); err != nil {
		return "", err
	}
	if loginResp.Token == "" {
		return "", errors.New("authority returned an empty token")
	}
	return loginResp.Token, nil
}

func (h *httpClient) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", h.userAgent)
	h.mu.RLock()
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	h.mu.RUnlock()

	h.log.Debug("authority request", "method", method, "path", path)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", validation.ErrTransport, method, path, err)
	}
	return resp, nil
}

// parseResponse разбирает ответ. 5xx, 429 и обрыв чтения считаются транспортной ошибкой:
// запись остается Pending и отправляется повторно.
func (h *httpClient) parseResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", validation.ErrTransport, err)
	}

	h.log.Debug("authority response", "status", resp.StatusCode, "bytes", len(body))

	if resp.StatusCode >= 400 {
		msg := errorMessage(body, resp.StatusCode)
		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", validation.ErrTransport, msg)
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case resp.StatusCode == http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %s", validation.ErrBatchTooLarge, msg)
		default:
			return fmt.Errorf("authority error: %s", msg)
		}
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage достает текст из problem+json (detail/title) или поля error.
func errorMessage(body []byte, status int) string {
	var problem struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &problem); err == nil {
		switch {
		case problem.Detail != "":
			return problem.Detail
		case problem.Error != "":
			return problem.Error
		case problem.Title != "":
			return problem.Title
		}
	}
	return fmt.Sprintf("status %d", status)
}
