package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/prealert/internal/alert"
	"github.com/linnemanlabs/prealert/internal/workflow"
)

func completedSummary() *workflow.Summary {
	return &workflow.Summary{
		Instance: &workflow.Instance{
			ID:          "01JN123",
			Status:      workflow.InstanceCompleted,
			Payload:     workflow.Payload{EmailTo: "boone@alerts.example"},
			CompletedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
		},
		Alert: &alert.Alert{
			AlertID:      "01JN123",
			Organization: "org-boone",
			Body:         "Headache at 1116 1st Street in Boone.",
			AudioURL:     "01JN123.mp3",
			Nature:       "HEADACHE",
			Address:      "1116 1ST ST",
			City:         "BOONE",
			Latitude:     42.067439,
			Longitude:    -93.873498,
		},
		Duration: 4.2,
	}
}

func failedSummary() *workflow.Summary {
	return &workflow.Summary{
		Instance: &workflow.Instance{
			ID:      "01JN456",
			Status:  workflow.InstanceFailed,
			Payload: workflow.Payload{EmailTo: "boone@alerts.example", EmailText: "UNPARSEABLE"},
		},
		FailedStep: workflow.StepParseEmail,
		Err:        errors.New("validation: text: expected at least 3 segments"),
	}
}

func capture(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func blockText(b any) string {
	m := b.(map[string]any)
	if txt, ok := m["text"].(map[string]any); ok {
		return txt["text"].(string)
	}
	return ""
}

func TestSend_Completed(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := capture(t, &got)

	if err := New(srv.URL, log.Nop()).Send(context.Background(), completedSummary()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, divider, body, divider, context
	if len(blocks) != 7 {
		t.Fatalf("blocks count = %d, want 7", len(blocks))
	}

	if h := blockText(blocks[0]); !strings.Contains(h, "HEADACHE") || !strings.Contains(h, "\U0001f6a8") {
		t.Errorf("header = %q", h)
	}
	if b := blockText(blocks[4]); !strings.Contains(b, "Headache at 1116 1st Street") {
		t.Errorf("body = %q", b)
	}

	fields := blocks[2].(map[string]any)["fields"].([]any)
	var all []string
	for _, f := range fields {
		all = append(all, f.(map[string]any)["text"].(string))
	}
	joined := strings.Join(all, "\n")
	for _, want := range []string{"1116 1ST ST, BOONE", "42.067439, -93.873498", "01JN123.mp3"} {
		if !strings.Contains(joined, want) {
			t.Errorf("fields missing %q:\n%s", want, joined)
		}
	}

	ctxText := blocks[6].(map[string]any)["elements"].([]any)[0].(map[string]any)["text"].(string)
	if !strings.Contains(ctxText, "01JN123") || !strings.Contains(ctxText, "2026-02-26 14:23 UTC") {
		t.Errorf("context = %q", ctxText)
	}
}

func TestSend_Failed(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := capture(t, &got)

	if err := New(srv.URL, log.Nop()).Send(context.Background(), failedSummary()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks := got["blocks"].([]any)
	if h := blockText(blocks[0]); !strings.Contains(h, "Failed") || !strings.Contains(h, "\U0001f534") {
		t.Errorf("header = %q", h)
	}
	if b := blockText(blocks[4]); !strings.Contains(b, "expected at least 3 segments") {
		t.Errorf("body = %q", b)
	}
	fields := blocks[2].(map[string]any)["fields"].([]any)
	found := false
	for _, f := range fields {
		if strings.Contains(f.(map[string]any)["text"].(string), "parse_email") {
			found = true
		}
	}
	if !found {
		t.Error("fields missing failed step")
	}
}

func TestSend_OnlyFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, log.Nop(), OnlyFailures())
	if err := n.Send(context.Background(), completedSummary()); err != nil {
		t.Fatalf("Send completed: %v", err)
	}
	if err := n.Send(context.Background(), failedSummary()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook calls = %d, want 1", calls.Load())
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	if err := New("", nil).Send(context.Background(), completedSummary()); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_TruncatesLongNarration(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := capture(t, &got)

	s := completedSummary()
	s.Alert.Body = strings.Repeat("x", 4000)
	if err := New(srv.URL, log.Nop()).Send(context.Background(), s); err != nil {
		t.Fatalf("Send: %v", err)
	}

	text := blockText(got["blocks"].([]any)[4])
	if len(text) > maxNarrationLen+len("*Narration*\n\n") {
		t.Errorf("narration length = %d", len(text))
	}
	if !strings.HasSuffix(text, "...") {
		t.Error("expected truncated narration to end with ...")
	}
}

func TestSend_NonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	err := New(srv.URL, log.Nop()).Send(context.Background(), completedSummary())
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %q, want to contain status code 500", err.Error())
	}
}

func FuzzSlackBuild(f *testing.F) {
	f.Add("HEADACHE", "1116 1ST ST", "BOONE", "Headache at 1116 1st Street.")
	f.Add("", "", "", "")
	f.Add("<@U123> mention", "*bold*", "_italic_", "```code``` <http://example.com|link>")
	f.Add("nat\x00\x01", "addr\nline", "city\ttab", strings.Repeat("x", 10000))

	f.Fuzz(func(t *testing.T, nature, address, city, body string) {
		s := completedSummary()
		s.Alert.Nature = nature
		s.Alert.Address = address
		s.Alert.City = city
		s.Alert.Body = body

		data, err := json.Marshal(buildMessage(s))
		if err != nil {
			t.Fatalf("buildMessage produced non-marshalable output: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("buildMessage JSON does not round-trip: %v", err)
		}
		if blocks, ok := decoded["blocks"].([]any); !ok || len(blocks) != 7 {
			t.Fatalf("blocks = %v", decoded["blocks"])
		}
	})
}
