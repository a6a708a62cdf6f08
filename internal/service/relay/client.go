package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mpc_session/internal/model"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// MessageIDHeader scopes messages to one of several concurrent keysign ceremonies
	// sharing a session.
	MessageIDHeader = "message_id"
	// MessageID2Header is the secondary scope used by setup messages.
	MessageID2Header = "message-id"
)

type (
	// Client talks to the relay's HTTP contract. It holds no session state.
	Client struct {
		serverURL  string
		httpClient *http.Client
	}

	// HTTPError is returned for any non-2xx relay response.
	HTTPError struct {
		Method     string
		Path       string
		StatusCode int
		Body       string
	}
)

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func NewClient(serverURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) ServerURL() string {
	return c.serverURL
}

// GetParticipants returns every party the relay knows for the session.
func (c *Client) GetParticipants(ctx context.Context, sessionID string) ([]string, error) {
	var parties []string
	err := c.do(ctx, http.MethodGet, "/"+url.PathEscape(sessionID), nil, nil, &parties)
	return parties, err
}

// StartSession registers parties in the session. The relay merges them with any
// parties that joined earlier.
func (c *Client) StartSession(ctx context.Context, sessionID string, parties []string) error {
	return c.do(ctx, http.MethodPost, "/"+url.PathEscape(sessionID), nil, parties, nil)
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/"+url.PathEscape(sessionID), nil, nil, nil)
}

// StartWithCommittee fixes the committee that will run the ceremony.
func (c *Client) StartWithCommittee(ctx context.Context, sessionID string, committee []string) error {
	return c.do(ctx, http.MethodPost, "/start/"+url.PathEscape(sessionID), nil, committee, nil)
}

func (c *Client) CheckCommittee(ctx context.Context, sessionID string) ([]string, error) {
	var committee []string
	err := c.do(ctx, http.MethodGet, "/start/"+url.PathEscape(sessionID), nil, nil, &committee)
	return committee, err
}

func (c *Client) MarkLocalPartyComplete(ctx context.Context, sessionID string, parties []string) error {
	return c.do(ctx, http.MethodPost, "/complete/"+url.PathEscape(sessionID), nil, parties, nil)
}

func (c *Client) GetCompletedParties(ctx context.Context, sessionID string) ([]string, error) {
	var parties []string
	err := c.do(ctx, http.MethodGet, "/complete/"+url.PathEscape(sessionID), nil, nil, &parties)
	return parties, err
}

// SendMessage pushes one encrypted message. messageID may be empty.
func (c *Client) SendMessage(ctx context.Context, messageID string, msg *model.Message) error {
	return c.do(ctx, http.MethodPost, "/message/"+url.PathEscape(msg.SessionID), messageHeaders(messageID, ""), msg, nil)
}

// GetMessages fetches the messages still pending for a party.
func (c *Client) GetMessages(ctx context.Context, sessionID, partyID, messageID string) ([]*model.Message, error) {
	path := fmt.Sprintf("/message/%s/%s", url.PathEscape(sessionID), url.PathEscape(partyID))
	var msgs []*model.Message
	err := c.do(ctx, http.MethodGet, path, messageHeaders(messageID, ""), nil, &msgs)
	return msgs, err
}

// DeleteMessage acknowledges a processed message so the relay can drop it.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, partyID, hash, messageID string) error {
	path := fmt.Sprintf("/message/%s/%s/%s", url.PathEscape(sessionID), url.PathEscape(partyID), url.PathEscape(hash))
	return c.do(ctx, http.MethodDelete, path, messageHeaders(messageID, ""), nil, nil)
}

func (c *Client) MarkKeysignComplete(ctx context.Context, sessionID, messageID string, sig *model.KeysignResponse) error {
	path := fmt.Sprintf("/complete/%s/keysign", url.PathEscape(sessionID))
	return c.do(ctx, http.MethodPost, path, messageHeaders(messageID, ""), sig, nil)
}

func (c *Client) CheckKeysignComplete(ctx context.Context, sessionID, messageID string) (*model.KeysignResponse, error) {
	path := fmt.Sprintf("/complete/%s/keysign", url.PathEscape(sessionID))
	var sig model.KeysignResponse
	if err := c.do(ctx, http.MethodGet, path, messageHeaders(messageID, ""), nil, &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

// UploadSetupMessage stores the (already encrypted) ceremony setup message.
func (c *Client) UploadSetupMessage(ctx context.Context, sessionID, message, messageID, messageID2 string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/setup-message/"+url.PathEscape(sessionID), strings.NewReader(message))
	if err != nil {
		return err
	}
	setHeaders(req, messageHeaders(messageID, messageID2))
	return c.send(req, nil)
}

// GetSetupMessage fetches the setup message, retrying while the initiator has not
// uploaded it yet.
func (c *Client) GetSetupMessage(ctx context.Context, sessionID, messageID, messageID2 string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < setupMessageRetries; attempt++ {
		msg, err := c.getSetupMessage(ctx, sessionID, messageID, messageID2)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err

		if attempt < setupMessageRetries-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(setupMessageDelay):
			}
		}
	}
	return "", fmt.Errorf("get setup message after %d attempts: %w", setupMessageRetries, lastErr)
}

var (
	setupMessageRetries = 10
	setupMessageDelay   = time.Second
)

func (c *Client) getSetupMessage(ctx context.Context, sessionID, messageID, messageID2 string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/setup-message/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return "", err
	}
	setHeaders(req, messageHeaders(messageID, messageID2))

	var buf bytes.Buffer
	if err := c.send(req, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setHeaders(req, headers)

	if out == nil {
		return c.send(req, nil)
	}

	var buf bytes.Buffer
	if err := c.send(req, &buf); err != nil {
		return err
	}
	if err := json.NewDecoder(&buf).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out *bytes.Buffer) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{
			Method:     req.Method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out != nil {
		if _, err := out.ReadFrom(resp.Body); err != nil {
			return fmt.Errorf("read %s %s: %w", req.Method, req.URL.Path, err)
		}
	}
	return nil
}

func messageHeaders(messageID, messageID2 string) map[string]string {
	headers := make(map[string]string, 2)
	if messageID != "" {
		headers[MessageIDHeader] = messageID
	}
	if messageID2 != "" {
		headers[MessageID2Header] = messageID2
	}
	return headers
}

// setHeaders writes the header names verbatim: the relay expects "message_id", which
// Header.Set would canonicalize.
func setHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header[k] = []string{v}
	}
}
