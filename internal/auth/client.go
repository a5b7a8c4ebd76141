package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/identity"
)

const defaultTimeout = 10 * time.Second

// Mode — режим формы входа.
type Mode string

const (
	ModeLogin  Mode = "login"
	ModeSignup Mode = "signup"
)

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent задаёт заголовок User-Agent исходящих запросов.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client — HTTP-клиент сервиса аутентификации.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *log.Entry
	userAgent  string
}

// NewClient создаёт клиент с базовым адресом baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if baseURL == "" || err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("auth: invalid base url %q", baseURL)
	}

	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.WithField("component", "auth-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ValidateCredentials проверяет обязательные поля формы: username и password всегда, email при регистрации.
func ValidateCredentials(mode Mode, creds domain.Credentials) error {
	if creds.Username == "" || creds.Password == "" || (mode == ModeSignup && creds.Email == "") {
		return domain.ErrCredentialsRequired
	}
	return nil
}

// Login выполняет POST {base}/login.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.UserRecord, error) {
	if err := ValidateCredentials(ModeLogin, creds); err != nil {
		return domain.UserRecord{}, err
	}
	return c.submit(ctx, ModeLogin, map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
}

// Signup выполняет POST {base}/signup.
func (c *Client) Signup(ctx context.Context, creds domain.Credentials) (domain.UserRecord, error) {
	if err := ValidateCredentials(ModeSignup, creds); err != nil {
		return domain.UserRecord{}, err
	}
	return c.submit(ctx, ModeSignup, map[string]string{
		"username": creds.Username,
		"email":    creds.Email,
		"password": creds.Password,
	})
}

type authResponse struct {
	User  json.RawMessage `json:"user"`
	Error string          `json:"error"`
}

func (c *Client) submit(ctx context.Context, mode Mode, payload map[string]string) (domain.UserRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(string(mode)).String(), bytes.NewReader(body))
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("auth: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("%w: %s: %w", domain.ErrAuthFailed, mode, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("%w: %s: read body: %w", domain.ErrAuthFailed, mode, err)
	}

	var parsed authResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := strings.TrimSpace(parsed.Error)
		if decodeErr != nil || message == "" {
			message = fmt.Sprintf("%s failed", mode)
		}
		c.logger.WithFields(log.Fields{
			"mode":   mode,
			"status": resp.StatusCode,
		}).Info("auth request rejected")
		return domain.UserRecord{}, &RejectedError{Mode: mode, Status: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return domain.UserRecord{}, fmt.Errorf("%w: %s: decode response: %w", domain.ErrAuthFailed, mode, decodeErr)
	}

	return DecodeUser(parsed.User)
}

// RejectedError — отказ сервиса аутентификации; Message берётся из поля error ответа.
type RejectedError struct {
	Mode    Mode
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

func (e *RejectedError) Unwrap() error {
	return domain.ErrAuthFailed
}

// DecodeUser разбирает JSON пользователя. Raw сохраняется как есть.
func DecodeUser(raw json.RawMessage) (domain.UserRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.UserRecord{}, domain.ErrUserRecordInvalid
	}
	id, ok := identity.ParseUserRecord(raw)
	if !ok {
		return domain.UserRecord{}, domain.ErrUserRecordInvalid
	}

	var fields struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	_ = json.Unmarshal(raw, &fields)

	return domain.UserRecord{
		ID:       id,
		Username: fields.Username,
		Email:    fields.Email,
		Raw:      append(json.RawMessage(nil), raw...),
	}, nil
}

var _ domain.AuthService = (*Client)(nil)
