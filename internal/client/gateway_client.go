package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/foliodesk/be-folio-core/internal/errors"
)

// GatewayClient sends outbound messages through the chat gateway's REST API.
// It satisfies the MessageSender collaborator of the notification engine.
type GatewayClient struct {
	baseURL string
	token   string
	from    string
	http    *http.Client
	log     zerolog.Logger
}

// NewGatewayClient creates a gateway client. from is the sender identity the
// gateway expects, in canonical phone form.
func NewGatewayClient(baseURL, token, from string, timeout time.Duration, log zerolog.Logger) *GatewayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayClient{
		baseURL: baseURL,
		token:   token,
		from:    from,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type outboundMessage struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// Send delivers one message. A non-2xx gateway response is returned as an
// internal error; the caller decides whether to record it as a failed
// delivery.
func (c *GatewayClient) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(outboundMessage{To: to, From: c.from, Body: body})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to encode message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "gateway request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("to", to).
			Msg("gateway rejected message")
		return errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, string(detail)))
	}
	return nil
}
