package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/billoapp/tabz-payments/internal"
	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	oauthPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	defaultTokenLifetime = 3599 * time.Second
)

// Client is the HTTPS wrapper around the provider's OAuth and push-payment
// endpoints. It classifies failures and never retries; retry policy belongs
// to the retry package.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	pushTimeout time.Duration
	authTimeout time.Duration
	logger      *slog.Logger
}

type ClientConfig struct {
	Environment string
	PushTimeout time.Duration
	AuthTimeout time.Duration
	// BaseURL overrides environment routing, for tests.
	BaseURL string
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Environment == "production" {
			baseURL = productionBaseURL
		} else {
			baseURL = sandboxBaseURL
		}
	}

	pushTimeout := cfg.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = 30 * time.Second
	}
	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = 10 * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: pushTimeout},
		baseURL:     baseURL,
		pushTimeout: pushTimeout,
		authTimeout: authTimeout,
		logger:      logger,
	}
}

// Authenticate fetches an OAuth access token using the credential's consumer
// key and secret over basic auth.
func (c *Client) Authenticate(ctx context.Context, cred *credentialmodel.Decrypted) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+oauthPath, nil)
	if err != nil {
		return "", 0, apperrors.NewInternalError("failed to build oauth request", err)
	}
	req.SetBasicAuth(cred.ConsumerKey, cred.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("oauth request failed", "error", err, "environment", cred.Environment)
		return "", 0, apperrors.NewNetworkError("payment provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, apperrors.NewNetworkError("failed to read oauth response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.logger.Error("oauth rejected provider credentials",
			"status", resp.StatusCode,
			"environment", cred.Environment)
		return "", 0, apperrors.NewAuthenticationError("payment service configuration error",
			fmt.Errorf("oauth returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, c.classifyStatus(resp.StatusCode, body, "oauth")
	}

	var oauth oauthResponse
	if err := json.Unmarshal(body, &oauth); err != nil {
		return "", 0, apperrors.NewNetworkError("malformed oauth response", err)
	}
	if oauth.AccessToken == "" {
		return "", 0, apperrors.NewAuthenticationError("payment service configuration error",
			fmt.Errorf("oauth response missing access token"))
	}

	lifetime := defaultTokenLifetime
	if secs, err := strconv.Atoi(oauth.ExpiresIn); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}

	return oauth.AccessToken, lifetime, nil
}

// STKPush submits the push-payment request with a bearer token.
func (c *Client) STKPush(ctx context.Context, accessToken string, push *STKPushRequest) (*STKPushResponse, error) {
	payload, err := json.Marshal(push)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to marshal push request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+stkPushPath, bytes.NewBuffer(payload))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	c.logger.Info("submitting push payment",
		"shortcode", push.BusinessShortCode,
		"amount", push.Amount,
		"account_reference", push.AccountReference)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("push request failed", "error", err)
		return nil, apperrors.NewNetworkError("payment provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError("failed to read push response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperrors.NewAuthenticationError("payment service configuration error",
			fmt.Errorf("push returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp.StatusCode, body, "stkpush")
	}

	var pushResp STKPushResponse
	if err := json.Unmarshal(body, &pushResp); err != nil {
		return nil, apperrors.NewNetworkError("malformed push response", err)
	}

	if pushResp.ResponseCode != "0" {
		c.logger.Error("provider rejected push request",
			"response_code", pushResp.ResponseCode,
			"description", pushResp.ResponseDescription)
		return nil, apperrors.NewValidationError("payment request rejected by provider", apperrors.ErrCodeProviderRejected)
	}

	return &pushResp, nil
}

// classifyStatus maps non-success provider statuses onto the error taxonomy:
// 4xx is a validation problem that must not retry, everything else is
// treated as transient.
func (c *Client) classifyStatus(status int, body []byte, op string) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	c.logger.Error("provider returned error",
		"operation", op,
		"status", status,
		"error_code", apiErr.ErrorCode)

	if status >= 400 && status < 500 {
		return apperrors.NewValidationError("payment request rejected by provider", apperrors.ErrCodeProviderRejected).
			WithCause(fmt.Errorf("%s returned status %d code %s", op, status, apiErr.ErrorCode))
	}
	return apperrors.NewNetworkError("payment provider error",
		fmt.Errorf("%s returned status %d", op, status))
}
