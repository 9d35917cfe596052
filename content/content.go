// Package content fetches practice exercises from the content service.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parley/auth"
	"parley/log"
	"parley/practice"
	"parley/remote"
)

var ErrInvalidContent = errors.New("invalid practice content")

// Client fetches exercises over HTTP.
type Client struct {
	client  *remote.TracedClient
	baseURL string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client:  remote.NewTracedClient(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Fetch returns the exercise ref points at. Speaking refs are served from
// /v1/practice/speaking, pronunciation refs from
// /v1/practice/pronunciation/{module}/{index}.
func (c *Client) Fetch(ctx context.Context, creds auth.Credentials, ref practice.ExerciseRef) (practice.Content, error) {
	endpoint, err := c.endpoint(ref)
	if err != nil {
		return practice.Content{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return practice.Content{}, err
	}
	if err := remote.Authorize(ctx, req, creds); err != nil {
		return practice.Content{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return practice.Content{}, err
	}
	log.Info(fmt.Sprintf("content_fetch status=%d total_ms=%d reused=%t",
		resp.StatusCode, resp.Metrics.Total.Milliseconds(), resp.Metrics.ConnReused))

	if err := remote.CheckStatus("content", resp); err != nil {
		return practice.Content{}, err
	}

	var content practice.Content
	if err := json.Unmarshal(resp.Body, &content); err != nil {
		return practice.Content{}, fmt.Errorf("content response parse error: %w", err)
	}
	if err := Validate(content); err != nil {
		return practice.Content{}, err
	}
	return content, nil
}

func (c *Client) endpoint(ref practice.ExerciseRef) (string, error) {
	switch {
	case ref.Module != "":
		return fmt.Sprintf("%s/v1/practice/pronunciation/%s/%d",
			c.baseURL, url.PathEscape(ref.Module), ref.Index), nil
	case ref.Level != "":
		q := url.Values{}
		q.Set("level", ref.Level)
		if ref.SessionID != "" {
			q.Set("session", ref.SessionID)
		}
		return c.baseURL + "/v1/practice/speaking?" + q.Encode(), nil
	}
	return "", fmt.Errorf("%w: exercise ref has neither module nor level", ErrInvalidContent)
}

// Validate rejects content the machine cannot run.
func Validate(c practice.Content) error {
	var errs []error
	if strings.TrimSpace(c.Prompt) == "" {
		errs = append(errs, errors.New("empty prompt"))
	}
	if c.MaxDuration < 0 {
		errs = append(errs, errors.New("negative max duration: "+strconv.Itoa(c.MaxDuration)))
	}
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Word) == "" {
			errs = append(errs, fmt.Errorf("target %d has no word", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}
	return nil
}
