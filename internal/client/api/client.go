package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/causaltree/internal/models"
	"github.com/iudanet/causaltree/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// ClientAPI операции сервера, которыми пользуется клиент
type ClientAPI interface {
	Health(ctx context.Context) (*api.HealthResponse, error)
	ListChannels(ctx context.Context, token string) (*api.ChannelsResponse, error)
	Sync(ctx context.Context, token string, info models.ChannelInfo, req api.SyncRequest) (*api.SyncResponse, error)
	State(ctx context.Context, token string, info models.ChannelInfo) (*api.StateResponse, error)
	Stream(ctx context.Context, token string, info models.ChannelInfo) (*websocket.Conn, error)
}

// Error ответ сервера с кодом ошибки
type Error struct {
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// IsStatus сообщает, является ли err ответом сервера с кодом status
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовок Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// ListChannels возвращает каналы, видимые устройству
func (c *Client) ListChannels(ctx context.Context, token string) (*api.ChannelsResponse, error) {
	var resp api.ChannelsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/channels", token, nil, &resp); err != nil {
		return nil, fmt.Errorf("list channels request failed: %w", err)
	}
	return &resp, nil
}

// Sync отправляет атомы реплики и получает недостающие
func (c *Client) Sync(ctx context.Context, token string, info models.ChannelInfo, req api.SyncRequest) (*api.SyncResponse, error) {
	var resp api.SyncResponse
	if err := c.doRequest(ctx, http.MethodPost, channelPath(info, "sync"), token, req, &resp); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	return &resp, nil
}

// State возвращает проекцию канала на сервере
func (c *Client) State(ctx context.Context, token string, info models.ChannelInfo) (*api.StateResponse, error) {
	var resp api.StateResponse
	if err := c.doRequest(ctx, http.MethodGet, channelPath(info, "state"), token, nil, &resp); err != nil {
		return nil, fmt.Errorf("state request failed: %w", err)
	}
	return &resp, nil
}

// Stream открывает потоковую сессию канала по WebSocket.
// Отказ в доступе приходит обычным HTTP ответом и возвращается как *Error.
func (c *Client) Stream(ctx context.Context, token string, info models.ChannelInfo) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + channelPath(info, "stream"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer func() {
				_ = resp.Body.Close()
			}()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("stream handshake failed: %w", responseError(resp.StatusCode, body))
		}
		return nil, fmt.Errorf("stream dial failed: %w", err)
	}

	return conn, nil
}

func channelPath(info models.ChannelInfo, action string) string {
	return fmt.Sprintf("/api/v1/channels/%s/%s/%s",
		url.PathEscape(info.Type), url.PathEscape(info.ID), action)
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, token string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp.StatusCode, respBody)
	}

	// Декодируем успешный ответ
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func responseError(status int, body []byte) error {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &Error{StatusCode: status, Message: errResp.Message}
	}
	return &Error{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
