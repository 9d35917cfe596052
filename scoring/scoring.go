// Package scoring sends finished recordings to the scoring service.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"parley/auth"
	"parley/capture"
	"parley/log"
	"parley/practice"
	"parley/remote"
)

// ErrUnauthorized is returned when the service rejects the credential.
var ErrUnauthorized = auth.ErrUnauthorized

// Scorer analyzes one recording.
type Scorer interface {
	Name() string
	Analyze(ctx context.Context, creds auth.Credentials, audio capture.CompletedAudio, sc practice.SubmissionContext) (practice.Result, error)
}

// Client talks to the scoring service over HTTP.
type Client struct {
	client  *remote.TracedClient
	baseURL string
	apiURL  string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		client:  remote.NewTracedClient(timeout),
		baseURL: baseURL,
		apiURL:  baseURL + "/v1/practice/analyze",
	}
}

func (c *Client) Name() string { return "http" }

// Warm opens a connection before the first upload.
func (c *Client) Warm() time.Duration { return c.client.Warm(c.baseURL) }

type analyzeResponse struct {
	practice.Result
	Error string `json:"error,omitempty"`
}

func (c *Client) Analyze(ctx context.Context, creds auth.Credentials, audio capture.CompletedAudio, sc practice.SubmissionContext) (practice.Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="audio.%s"`, audio.Extension))
	header.Set("Content-Type", audio.MimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return practice.Result{}, err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return practice.Result{}, err
	}

	scJSON, err := json.Marshal(sc)
	if err != nil {
		return practice.Result{}, err
	}
	if err := writer.WriteField("context", string(scJSON)); err != nil {
		return practice.Result{}, err
	}
	if err := writer.WriteField("duration_ms", fmt.Sprint(audio.Duration.Milliseconds())); err != nil {
		return practice.Result{}, err
	}
	if err := writer.Close(); err != nil {
		return practice.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, &body)
	if err != nil {
		return practice.Result{}, err
	}
	if err := remote.Authorize(ctx, req, creds); err != nil {
		return practice.Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Idempotency-Key", sc.AttemptID)

	resp, err := c.client.Do(req)
	if err != nil {
		return practice.Result{}, err
	}

	log.Submission(log.SubmissionMetrics{
		AttemptID:   sc.AttemptID,
		Format:      string(audio.Format),
		AudioLength: audio.Duration,
		PayloadKB:   float64(len(audio.Data)) / 1024,
		DNS:         resp.Metrics.DNS,
		TLS:         resp.Metrics.TLS,
		TTFB:        resp.Metrics.TTFB,
		Total:       resp.Metrics.Total,
		ConnReused:  resp.Metrics.ConnReused,
		Status:      resp.StatusCode,
	})

	if err := remote.CheckStatus("scoring", resp); err != nil {
		return practice.Result{}, err
	}

	var aResp analyzeResponse
	if err := json.Unmarshal(resp.Body, &aResp); err != nil {
		return practice.Result{}, fmt.Errorf("scoring response parse error: %w", err)
	}
	if aResp.Error != "" {
		return practice.Result{}, errors.New("scoring service: " + aResp.Error)
	}
	if aResp.AttemptID == "" {
		aResp.AttemptID = sc.AttemptID
	}
	return aResp.Result, nil
}
