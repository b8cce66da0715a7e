package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// ProcessorClient is the outbound boundary to the external payment
// processor. Only the intent/confirmation contract is modeled; the card
// capture UI is the processor's own.
type ProcessorClient interface {
	CreateIntent(ctx context.Context, req ProcessorIntentRequest) (*ProcessorIntent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// ProcessorIntentRequest carries the merchant reference as the
// idempotency key: a retried create after a network failure cannot
// double-charge.
type ProcessorIntentRequest struct {
	Reference string            `json:"reference"`
	Amount    int64             `json:"amount"`
	Fee       int64             `json:"fee"`
	Currency  string            `json:"currency"`
	Metadata  map[string]string `json:"metadata"`
}

type ProcessorIntent struct {
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
}

const processorTimeout = 10 * time.Second

// HTTPProcessorClient talks to the processor's REST API with bounded
// timeouts.
type HTTPProcessorClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPProcessorClient() *HTTPProcessorClient {
	return &HTTPProcessorClient{
		baseURL: os.Getenv("PAYMENT_API_URL"),
		apiKey:  os.Getenv("PAYMENT_API_KEY"),
		client:  &http.Client{Timeout: processorTimeout},
	}
}

// NewProcessorClientWith is the test seam: point the client at a stub
// server.
func NewProcessorClientWith(baseURL, apiKey string) *HTTPProcessorClient {
	return &HTTPProcessorClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: processorTimeout},
	}
}

func (c *HTTPProcessorClient) CreateIntent(ctx context.Context, req ProcessorIntentRequest) (*ProcessorIntent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, processorTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProcessorUnavailable, res.StatusCode, string(raw))
	}

	var intent ProcessorIntent
	if err := json.NewDecoder(res.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrProcessorUnavailable, err)
	}
	if intent.IntentID == "" {
		return nil, fmt.Errorf("%w: response missing intent id", ErrProcessorUnavailable)
	}
	return &intent, nil
}

func (c *HTTPProcessorClient) CancelIntent(ctx context.Context, intentID string) error {
	ctx, cancel := context.WithTimeout(ctx, processorTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payment_intents/"+intentID+"/cancel", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrProcessorUnavailable, res.StatusCode)
	}
	return nil
}

// VerifyWebhookSignature checks that a completion callback genuinely
// originates from the processor. The processor sends an HS256 JWT whose
// sha256 claim is the hex digest of the raw request body.
func VerifyWebhookSignature(payload []byte, signature, secret string) error {
	token, err := jwt.Parse(signature, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("invalid webhook signature token")
	}

	want, _ := claims["sha256"].(string)
	sum := sha256.Sum256(payload)
	if want == "" || want != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("webhook payload digest mismatch")
	}
	return nil
}
