package hf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coloringbook/internal/domain"
	"coloringbook/internal/infra"
	"coloringbook/internal/providers/image"
)

// Options configures the Hugging Face inference client.
type Options struct {
	APIToken       string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Hugging Face text-to-image inference
// API. The protocol is synchronous: one call returns the rendered image
// bytes or an error.
type Client struct {
	apiToken       string
	baseURL        string
	httpClient     *http.Client
	logger         *infra.Logger
	requestTimeout time.Duration
}

type inferenceRequest struct {
	Inputs     string          `json:"inputs"`
	Parameters inferenceParams `json:"parameters"`
}

type inferenceParams struct {
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
}

type errorResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiToken:       strings.TrimSpace(opts.APIToken),
		baseURL:        baseURL,
		httpClient:     httpClient,
		logger:         logger,
		requestTimeout: timeout,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Submit invokes the inference API once and returns the generated image as
// an inline data URI. The call is bounded by the configured request timeout.
func (c *Client) Submit(ctx context.Context, req image.GenerateRequest) (image.Submission, error) {
	if !c.HasCredentials() {
		return image.Submission{}, fmt.Errorf("%w: hf api token missing", domain.ErrConfiguration)
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return image.Submission{}, fmt.Errorf("%w: instruction is required", domain.ErrValidation)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		return image.Submission{}, fmt.Errorf("%w: model is required", domain.ErrValidation)
	}

	payload := inferenceRequest{
		Inputs: instruction,
		Parameters: inferenceParams{
			NegativePrompt:    strings.TrimSpace(req.NegativeInstruction),
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
			Width:             req.Width,
			Height:            req.Height,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return image.Submission{}, fmt.Errorf("hf: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	endpoint := c.baseURL + "/models/" + model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return image.Submission{}, fmt.Errorf("hf: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return image.Submission{}, fmt.Errorf("%w: hf call exceeded %s", domain.ErrTimeout, c.requestTimeout)
		}
		return image.Submission{}, fmt.Errorf("%w: hf request: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return image.Submission{}, fmt.Errorf("%w: hf read response: %v", domain.ErrProvider, err)
	}

	if resp.StatusCode >= 300 {
		return image.Submission{}, c.classifyFailure(resp.StatusCode, raw)
	}
	if len(raw) == 0 {
		return image.Submission{}, fmt.Errorf("%w: hf returned empty body", domain.ErrProvider)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	artifact := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
	c.logger.Debug().
		Str("model", model).
		Str("request_id", req.RequestID).
		Int("bytes", len(raw)).
		Msg("hf: generated image")
	return image.Submission{Artifact: artifact}, nil
}

// PollStatus is unsupported: the inference API resolves in the submit call.
func (c *Client) PollStatus(ctx context.Context, handle string) (image.PollStatus, error) {
	return image.PollStatus{}, fmt.Errorf("%w: hf protocol is synchronous, nothing to poll", domain.ErrProvider)
}

// classifyFailure maps a non-2xx response to the shared error taxonomy.
// 429 and model-loading 503s are transient overload signals; everything
// else is a hard provider failure.
func (c *Client) classifyFailure(status int, raw []byte) error {
	var detail errorResponse
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error != "" {
		message = detail.Error
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, message)
	case status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, message)
	default:
		return fmt.Errorf("%w: hf status %d: %s", domain.ErrProvider, status, message)
	}
}

var _ image.Gateway = (*Client)(nil)
