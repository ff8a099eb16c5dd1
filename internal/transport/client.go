// Package transport sends one queued call to the collector.
package transport

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/tidwall/gjson"

	"github.com/kon-rad/webtrack/internal/call"
)

const (
	DefaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
	validStatus      = "ok"
)

// SessionSource supplies the current session id for calls built without one.
type SessionSource interface {
	SessionID(ctx context.Context) string
}

type Client struct {
	log        *slog.Logger
	endpoint   string
	secret     string
	clock      quartz.Clock
	sessions   SessionSource
	httpClient *http.Client
}

// New returns a client posting to endpoint, the collector base URL that call
// endpoints are appended to.
func New(log *slog.Logger, endpoint, secret string, clock quartz.Clock, sessions SessionSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &Client{
		log:        log,
		endpoint:   endpoint,
		secret:     secret,
		clock:      clock,
		sessions:   sessions,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetTestOptions(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// Send delivers c once. It reports true only for an HTTP 200 whose JSON body
// has status "ok"; every other outcome, including timeouts, is false.
func (c *Client) Send(ctx context.Context, cl call.Call) bool {
	req, err := c.newRequest(ctx, cl)
	if err != nil {
		c.log.Warn("build delivery request failed", "tag", string(cl.Tag()), "error", err)
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("delivery failed", "tag", string(cl.Tag()), "error", err)
		return false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.log.Debug("read delivery response failed", "tag", string(cl.Tag()), "error", err)
		return false
	}
	ok := resp.StatusCode == http.StatusOK &&
		gjson.ValidBytes(body) &&
		gjson.GetBytes(body, "status").String() == validStatus
	if !ok {
		c.log.Debug("delivery rejected", "tag", string(cl.Tag()), "status", resp.StatusCode)
	}
	return ok
}

func (c *Client) newRequest(ctx context.Context, cl call.Call) (*http.Request, error) {
	rec := cl.Base()
	params := maps.Clone(rec.Params)
	if params == nil {
		params = map[string]any{}
	}
	if len(rec.Extra) > 0 {
		extra, err := json.Marshal(rec.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode extra: %w", err)
		}
		params[call.ParamExtra] = string(extra)
	}
	if formatValue(params[call.ParamSessionID]) == "" {
		if id := c.sessions.SessionID(ctx); id != "" {
			params[call.ParamSessionID] = id
		}
	}
	lag := float64(c.clock.Now().UnixMilli()-rec.CreatedAt) / 1000
	params[call.ParamLag] = strconv.FormatFloat(lag, 'f', 3, 64)

	body := map[string]string{}
	for _, key := range call.BodyParams {
		if v := formatValue(params[key]); v != "" {
			body[key] = v
			delete(params, key)
		}
	}

	method := http.MethodGet
	var reqBody io.Reader
	if len(body) > 0 {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		signed, err := json.Marshal(map[string]string{
			"payload":   string(payload),
			"signature": c.sign(string(payload)),
		})
		if err != nil {
			return nil, err
		}
		method = http.MethodPost
		reqBody = bytes.NewReader(signed)
	}

	query := c.signedQuery(params)
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+rec.Endpoint+query, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// signedQuery encodes params in key order and appends the h signature
// computed over the encoded string.
func (c *Client) signedQuery(params map[string]any) string {
	var b strings.Builder
	b.WriteByte('?')
	for _, key := range slices.Sorted(maps.Keys(params)) {
		v := formatValue(params[key])
		if v == "" {
			continue
		}
		if b.Len() > 1 {
			b.WriteByte('&')
		}
		b.WriteString(escape(key))
		b.WriteByte('=')
		b.WriteString(escape(v))
	}
	qs := b.String()
	return qs + "&" + call.ParamSignature + "=" + c.sign(qs)
}

func (c *Client) sign(data string) string {
	sum := sha1.Sum([]byte(c.secret + data))
	return hex.EncodeToString(sum[:])
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	}
}
