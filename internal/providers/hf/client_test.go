package hf

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coloringbook/internal/domain"
	"coloringbook/internal/providers/image"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		APIToken: "hf_test_token",
		BaseURL:  srv.URL,
	})
}

func TestSubmitReturnsDataURI(t *testing.T) {
	pngBytes := []byte{0x89, 'P', 'N', 'G'}
	var captured inferenceRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/models/renderartist/coloringbookflux") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer hf_test_token" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	})

	sub, err := client.Submit(context.Background(), image.GenerateRequest{
		Instruction:         "Create a black and white coloring book page of a cat.",
		NegativeInstruction: "shadows, gradient",
		Model:               "renderartist/coloringbookflux",
		Steps:               30,
		GuidanceScale:       7.5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	if sub.Artifact != want {
		t.Errorf("artifact = %q, want %q", sub.Artifact, want)
	}
	if sub.Handle != "" {
		t.Errorf("handle = %q, want empty for sync protocol", sub.Handle)
	}
	if captured.Inputs == "" || captured.Parameters.NumInferenceSteps != 30 {
		t.Errorf("request payload = %+v", captured)
	}
	if captured.Parameters.NegativePrompt != "shadows, gradient" {
		t.Errorf("negative prompt = %q", captured.Parameters.NegativePrompt)
	}
}

func TestSubmitMissingTokenMakesNoCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), image.GenerateRequest{
		Instruction: "a cat",
		Model:       "renderartist/coloringbookflux",
	})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
	if calls != 0 {
		t.Errorf("server calls = %d, want 0", calls)
	}
}

func TestSubmitClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"rate limit reached"}`, domain.ErrRateLimited},
		{"model loading", http.StatusServiceUnavailable, `{"error":"Model is currently loading","estimated_time":20.0}`, domain.ErrRateLimited},
		{"server error", http.StatusInternalServerError, `{"error":"internal error"}`, domain.ErrProvider},
		{"bad request", http.StatusBadRequest, "unexpected input", domain.ErrProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			})
			_, err := client.Submit(context.Background(), image.GenerateRequest{
				Instruction: "a cat",
				Model:       "renderartist/coloringbookflux",
			})
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestSubmitTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(Options{
		APIToken:       "hf_test_token",
		BaseURL:        srv.URL,
		RequestTimeout: 20 * time.Millisecond,
	})
	_, err := client.Submit(context.Background(), image.GenerateRequest{
		Instruction: "a cat",
		Model:       "renderartist/coloringbookflux",
	})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestSubmitEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	_, err := client.Submit(context.Background(), image.GenerateRequest{
		Instruction: "a cat",
		Model:       "renderartist/coloringbookflux",
	})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("error = %v, want ErrProvider", err)
	}
}

func TestPollStatusUnsupported(t *testing.T) {
	client := NewClient(Options{APIToken: "hf_test_token"})
	if _, err := client.PollStatus(context.Background(), "handle"); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("error = %v, want ErrProvider", err)
	}
}
