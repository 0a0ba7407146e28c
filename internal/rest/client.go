package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/havenhomes/chat-client/internal/model"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrServer       = errors.New("server error")
)

type Config struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	RetryMaxElapsed time.Duration
	SendPerSecond   float64
	SendBurst       int
	Logger          *zap.SugaredLogger
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryMaxElapsed == 0 {
		c.RetryMaxElapsed = 20 * time.Second
	}
	if c.SendPerSecond == 0 {
		c.SendPerSecond = 2
	}
	if c.SendBurst == 0 {
		c.SendBurst = 5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

// Client talks to the conversation REST service. Transient failures are
// retried with exponential backoff; sustained failures trip a circuit
// breaker so a dead backend degrades to stale cached data instead of
// hammering the network. Sends are throttled client-side.
type Client struct {
	http      *http.Client
	conf      Config
	breaker   *gobreaker.CircuitBreaker
	sendLimit *rate.Limiter
	log       *zap.SugaredLogger
}

func NewClient(conf Config) *Client {
	conf.defaults()
	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "conversation-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		http:      &http.Client{Transport: tr, Timeout: conf.Timeout},
		conf:      conf,
		breaker:   cb,
		sendLimit: rate.NewLimiter(rate.Limit(conf.SendPerSecond), conf.SendBurst),
		log:       conf.Logger,
	}
}

// ListConversations fetches the conversation list with the counterpart
// presence snapshot embedded.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// GetMessages fetches one history page for a conversation. Pages start at 1;
// page 0 means the first page.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page int) ([]model.Message, error) {
	if page < 1 {
		page = 1
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages?page=%d", conversationID, page)
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage posts a new message and returns the server-confirmed record
// carrying the authoritative id.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*model.Message, error) {
	if err := c.sendLimit.Wait(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/api/v1/conversations/%s/messages", conversationID)
	body := map[string]string{"content": content}
	var out model.Message
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	operation := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			var rdr io.Reader
			if payload != nil {
				rdr = bytes.NewReader(payload)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.conf.BaseURL+path, rdr)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")
			if payload != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			if c.conf.Token != "" {
				req.Header.Set("Authorization", "Bearer "+c.conf.Token)
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				io.Copy(io.Discard, resp.Body)
				return nil, backoff.Permanent(statusError(resp.StatusCode))
			}
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
				}
			}
			return nil, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.conf.RetryMaxElapsed
	return backoff.Retry(operation, backoff.WithContext(bo, ctx))
}

func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, code)
	case http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	default:
		return fmt.Errorf("%w: status %d", ErrBadRequest, code)
	}
}
