package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestComplete(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "hello",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "send_message",
							"arguments": `{"text":"hi"}`,
						},
					}},
				},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "test-model", APIKey: "sk-test"}, testLogger())
	resp, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "you are a test"},
		{Role: RoleUser, Content: "context"},
	}, []ToolDefinition{{Type: "function", Function: FunctionDef{Name: "send_message"}}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if _, ok := gotBody["tools"]; !ok {
		t.Error("tools schema missing from request")
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "send_message" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Usage.PromptTokens != 10 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m"}, testLogger())
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestFunctionCallArgs(t *testing.T) {
	t.Run("valid json", func(t *testing.T) {
		fc := FunctionCall{Arguments: `{"roomId":"r1","lines":3}`}
		args, err := fc.Args()
		if err != nil {
			t.Fatal(err)
		}
		if args["roomId"] != "r1" {
			t.Errorf("roomId = %v", args["roomId"])
		}
	})

	t.Run("empty arguments", func(t *testing.T) {
		args, err := (FunctionCall{}).Args()
		if err != nil || len(args) != 0 {
			t.Errorf("args = %v, err = %v", args, err)
		}
	})

	t.Run("malformed arguments", func(t *testing.T) {
		_, err := (FunctionCall{Arguments: "{broken"}).Args()
		if err == nil {
			t.Error("expected parse error")
		}
	})
}
