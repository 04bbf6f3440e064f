package webhook

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

	"golang.org/x/time/rate"
)

const DefaultTimeout = 5 * time.Second

// Outcome classifies one dispatch attempt. Response holds the decoded webhook
// body when one was received; Error holds the cause on failure.
type Outcome struct {
	OK       bool
	Response map[string]any
	Error    string
}

type Config struct {
	URL     string
	Key     string
	Timeout time.Duration
	// PerMinute caps outgoing messages; zero disables the limit.
	PerMinute int
}

type textBody struct {
	Content             string   `json:"content"`
	MentionedMobileList []string `json:"mentioned_mobile_list"`
}

type Request struct {
	MsgType string   `json:"msgtype"`
	Text    textBody `json:"text"`
}

type Response struct {
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Client posts text messages to a group-chat webhook.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook URL is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook URL: %w", err)
	}
	if cfg.Key != "" {
		q := u.Query()
		q.Set("key", cfg.Key)
		u.RawQuery = q.Encode()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	burst := 1
	if cfg.PerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.PerMinute))
		burst = cfg.PerMinute
	}
	return &Client{
		endpoint: u.String(),
		timeout:  cfg.Timeout,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, burst),
	}, nil
}

// Dispatch sends message once, mentioning recipients. It never returns an
// error: every failure is folded into the Outcome.
func (c *Client) Dispatch(ctx context.Context, message string, recipients []string) Outcome {
	if recipients == nil {
		recipients = []string{}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{Error: fmt.Sprintf("rate limit: %v", err)}
	}

	body, err := json.Marshal(Request{
		MsgType: "text",
		Text:    textBody{Content: message, MentionedMobileList: recipients},
	})
	if err != nil {
		return Outcome{Error: fmt.Sprintf("encode request: %v", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Error: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Outcome{Error: transportError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Outcome{Error: fmt.Sprintf("read response: %v", err)}
	}

	var parsed Response
	var fields map[string]any
	decodeErr := json.Unmarshal(raw, &parsed)
	if decodeErr == nil {
		decodeErr = json.Unmarshal(raw, &fields)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil && parsed.ErrMsg != "" {
			return Outcome{Response: fields, Error: parsed.ErrMsg}
		}
		return Outcome{Error: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	if decodeErr != nil {
		return Outcome{Error: fmt.Sprintf("malformed response: %v", decodeErr)}
	}
	if parsed.ErrCode == nil {
		return Outcome{Response: fields, Error: "malformed response: missing errcode"}
	}
	if *parsed.ErrCode != 0 {
		cause := parsed.ErrMsg
		if cause == "" {
			cause = fmt.Sprintf("errcode %d", *parsed.ErrCode)
		}
		return Outcome{Response: fields, Error: cause}
	}
	return Outcome{OK: true, Response: fields}
}

func transportError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return "request timed out"
	}
	return err.Error()
}
