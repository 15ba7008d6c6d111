// Package assistant provides HTTP clients for the remote assistant and
// emotion-classification services. Both are fixed-shape POST endpoints; the
// client does no retries — a failed call is the caller's to resolve.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/insight"
)

const maxErrorBodyBytes = 4096

type Client struct {
	chatURL    string
	emotionURL string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithAPIKey sets a bearer token attached to every request.
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

// New builds a client against a service base URL serving POST /v1/chat and
// POST /v1/analyze-emotion.
func New(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c := &Client{
		chatURL:    base + "/v1/chat",
		emotionURL: base + "/v1/analyze-emotion",
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        32,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Message string `json:"message"`
	History string `json:"history"`
}

type chatResponse struct {
	Response        string `json:"response"`
	EndConversation bool   `json:"endConversation"`
}

// Chat sends one utterance plus joined history to the assistant service.
func (c *Client) Chat(ctx context.Context, message, history string) (conversation.AssistantReply, error) {
	var out chatResponse
	if err := c.post(ctx, c.chatURL, chatRequest{Message: message, History: history}, &out); err != nil {
		return conversation.AssistantReply{}, fmt.Errorf("assistant chat: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return conversation.AssistantReply{}, fmt.Errorf("assistant chat: empty response")
	}
	return conversation.AssistantReply{Text: out.Response, EndConversation: out.EndConversation}, nil
}

type emotionRequest struct {
	Transcript string `json:"transcript"`
}

type emotionResponse struct {
	Mood string `json:"mood"`
}

// AnalyzeEmotion classifies the overall mood of a full transcript.
func (c *Client) AnalyzeEmotion(ctx context.Context, transcript string) (insight.Mood, error) {
	var out emotionResponse
	if err := c.post(ctx, c.emotionURL, emotionRequest{Transcript: transcript}, &out); err != nil {
		return "", fmt.Errorf("analyze emotion: %w", err)
	}
	mood, err := insight.ParseMood(out.Mood)
	if err != nil {
		return "", fmt.Errorf("analyze emotion: %w", err)
	}
	return mood, nil
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
