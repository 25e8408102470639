package freepik

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"iconforge/internal/keypool"
)

func TestDispatchSendsKeyAndParsesTaskID(t *testing.T) {
	var gotKey string
	var gotReq DispatchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ai/text-to-icon" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotKey = r.Header.Get("x-freepik-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"task_id":"task-123"}}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	taskID, err := c.Dispatch(context.Background(), "secret-key", DispatchRequest{
		Prompt:     "a rocket ship",
		WebhookURL: "https://api.test/api/icon/webhook?uuid=g1",
		Format:     "svg",
		Style:      "solid",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if taskID != "task-123" {
		t.Fatalf("task id = %q", taskID)
	}
	if gotKey != "secret-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotReq.Prompt != "a rocket ship" || gotReq.WebhookURL == "" {
		t.Fatalf("forwarded request = %+v", gotReq)
	}
}

func TestDispatchSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("quota exceeded"))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.Dispatch(context.Background(), "k", DispatchRequest{Prompt: "x"})
	var se *keypool.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", se.StatusCode)
	}
	if !keypool.IsQuotaError(err) {
		t.Fatal("429 not classified as quota error")
	}
}

func TestDispatchMissingTaskID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	if _, err := c.Dispatch(context.Background(), "k", DispatchRequest{Prompt: "x"}); err == nil {
		t.Fatal("missing task_id accepted")
	}
}

func TestDispatchRequiresKey(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://unused.invalid"})
	if _, err := c.Dispatch(context.Background(), "  ", DispatchRequest{Prompt: "x"}); err == nil {
		t.Fatal("blank api key accepted")
	}
}

func TestParseWebhook(t *testing.T) {
	event, err := ParseWebhook([]byte(`{"task_id":"t1","status":"COMPLETED","generated":["https://p/a.svg"]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Kind != EventCompleted || event.TaskID != "t1" || !event.HasArtifacts() {
		t.Fatalf("event = %+v", event)
	}

	event, err = ParseWebhook([]byte(`{"task_id":"t1","status":"FAILED","error":"boom"}`))
	if err != nil {
		t.Fatalf("parse failed event: %v", err)
	}
	if event.Kind != EventFailed || event.Error != "boom" || event.HasArtifacts() {
		t.Fatalf("event = %+v", event)
	}

	if _, err := ParseWebhook([]byte(`{"status":"WEIRD"}`)); err == nil {
		t.Fatal("unknown status accepted")
	}
	if _, err := ParseWebhook([]byte(`not json`)); err == nil {
		t.Fatal("malformed body accepted")
	}
}
