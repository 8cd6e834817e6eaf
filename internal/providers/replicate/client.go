package replicate

import (
	"bytes"
	"context"
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

// Options configures the Replicate prediction client.
type Options struct {
	APIToken       string
	BaseURL        string
	Version        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Replicate predictions API. The protocol
// is asynchronous: a submit call returns a prediction handle which must be
// polled until the remote status is terminal.
type Client struct {
	apiToken       string
	baseURL        string
	version        string
	httpClient     *http.Client
	logger         *infra.Logger
	requestTimeout time.Duration
}

type predictionRequest struct {
	Version string          `json:"version,omitempty"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
}

type predictionResponse struct {
	ID     string   `json:"id"`
	Status string   `json:"status"`
	Output []string `json:"output"`
	Error  string   `json:"error"`
	Detail string   `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
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
		version:        strings.TrimSpace(opts.Version),
		httpClient:     httpClient,
		logger:         logger,
		requestTimeout: timeout,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Submit starts a prediction and returns its handle. The remote job keeps
// running after this call returns; callers poll it to completion.
func (c *Client) Submit(ctx context.Context, req image.GenerateRequest) (image.Submission, error) {
	if !c.HasCredentials() {
		return image.Submission{}, fmt.Errorf("%w: replicate api token missing", domain.ErrConfiguration)
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		return image.Submission{}, fmt.Errorf("%w: instruction is required", domain.ErrValidation)
	}
	payload := predictionRequest{
		Version: c.version,
		Input: predictionInput{
			Prompt:            instruction,
			NegativePrompt:    strings.TrimSpace(req.NegativeInstruction),
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
			Width:             req.Width,
			Height:            req.Height,
		},
	}
	var decoded predictionResponse
	if err := c.call(ctx, http.MethodPost, c.baseURL+"/predictions", payload, &decoded); err != nil {
		return image.Submission{}, err
	}
	if decoded.ID == "" {
		return image.Submission{}, fmt.Errorf("%w: replicate returned no prediction id", domain.ErrProvider)
	}
	c.logger.Debug().
		Str("prediction_id", decoded.ID).
		Str("status", decoded.Status).
		Str("request_id", req.RequestID).
		Msg("replicate: prediction submitted")
	return image.Submission{Handle: decoded.ID}, nil
}

// PollStatus checks a prediction once. A failed remote status surfaces as a
// provider error; non-terminal statuses return Terminal=false.
func (c *Client) PollStatus(ctx context.Context, handle string) (image.PollStatus, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return image.PollStatus{}, fmt.Errorf("%w: prediction handle is required", domain.ErrValidation)
	}
	var decoded predictionResponse
	if err := c.call(ctx, http.MethodGet, c.baseURL+"/predictions/"+handle, nil, &decoded); err != nil {
		return image.PollStatus{}, err
	}
	switch decoded.Status {
	case "succeeded":
		if len(decoded.Output) == 0 || strings.TrimSpace(decoded.Output[0]) == "" {
			return image.PollStatus{}, fmt.Errorf("%w: replicate succeeded without output", domain.ErrProvider)
		}
		return image.PollStatus{Terminal: true, Artifact: decoded.Output[0]}, nil
	case "failed", "canceled":
		message := strings.TrimSpace(decoded.Error)
		if message == "" {
			message = decoded.Status
		}
		return image.PollStatus{}, fmt.Errorf("%w: replicate: %s", domain.ErrProvider, message)
	default:
		// starting or processing
		return image.PollStatus{}, nil
	}
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload any, out *predictionResponse) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.apiToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: replicate call exceeded %s", domain.ErrTimeout, c.requestTimeout)
		}
		return fmt.Errorf("%w: replicate request: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: replicate read response: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, strings.TrimSpace(string(raw)))
	}
	if resp.StatusCode >= 300 {
		var detail predictionResponse
		message := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			message = detail.Detail
		}
		return fmt.Errorf("%w: replicate status %d: %s", domain.ErrProvider, resp.StatusCode, message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: replicate decode response: %v", domain.ErrProvider, err)
	}
	return nil
}

var _ image.Gateway = (*Client)(nil)
