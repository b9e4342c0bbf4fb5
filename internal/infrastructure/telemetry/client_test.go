package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zentry-anomalies/internal/domain"
	"zentry-anomalies/internal/ports"
)

func selector() ports.Selector {
	return ports.Selector{
		EntityIDs: []string{"meter-1"},
		From:      time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2025, time.March, 11, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchRawParsesReadings(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("entities") != "meter-1" {
			t.Errorf("unexpected entities param %q", q.Get("entities"))
		}
		if q.Get("from") == "" || q.Get("to") == "" {
			t.Errorf("missing time range params")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"readings": [
			{"entity_id": "meter-1", "timestamp": "2025-03-10T08:00:00Z", "quantities": {"consumption": 42.5}, "source": "cedenar"},
			{"entity_id": "", "timestamp": "2025-03-10T08:01:00Z", "quantities": {"consumption": 1}},
			{"entity_id": "meter-1", "timestamp": "2025-03-10T08:02:00Z", "quantities": {"consumption": 43.1}}
		]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5*time.Second, nil)
	readings, err := client.FetchRaw(context.Background(), selector())
	if err != nil {
		t.Fatalf("FetchRaw returned error: %v", err)
	}

	if len(readings) != 2 {
		t.Fatalf("expected 2 readings (incomplete row skipped), got %d", len(readings))
	}
	if readings[0].Quantities["consumption"] != 42.5 {
		t.Fatalf("unexpected quantity: %v", readings[0].Quantities["consumption"])
	}
	if readings[0].Source != "cedenar" {
		t.Fatalf("unexpected source: %s", readings[0].Source)
	}
	if readings[1].Source != "zentry-api" {
		t.Fatalf("expected default source, got %s", readings[1].Source)
	}
	if readings[0].Seq >= readings[1].Seq {
		t.Fatalf("arrival order not preserved: %d then %d", readings[0].Seq, readings[1].Seq)
	}
}

func TestFetchRawRateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	_, err := client.FetchRaw(context.Background(), selector())

	var ioErr *domain.AdapterIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected AdapterIOError, got %v", err)
	}
	if ioErr.Kind != domain.IORateLimit {
		t.Fatalf("expected rate_limit kind, got %s", ioErr.Kind)
	}
}

func TestFetchRawAuthFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong", 5*time.Second, nil)
	_, err := client.FetchRaw(context.Background(), selector())

	var ioErr *domain.AdapterIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected AdapterIOError, got %v", err)
	}
	if ioErr.Kind != domain.IOAuth {
		t.Fatalf("expected auth kind, got %s", ioErr.Kind)
	}
}

func TestPersistenceOpsUnsupported(t *testing.T) {
	t.Parallel()

	client := NewClient("http://localhost:0", "", time.Second, nil)
	ctx := context.Background()

	if _, err := client.SaveModel(ctx, domain.ClusterModel{}); !isUnsupported(err) {
		t.Fatalf("SaveModel: expected unsupported, got %v", err)
	}
	if _, err := client.LoadLatestModel(ctx); !isUnsupported(err) {
		t.Fatalf("LoadLatestModel: expected unsupported, got %v", err)
	}
	if _, err := client.SaveVerdicts(ctx, nil); !isUnsupported(err) {
		t.Fatalf("SaveVerdicts: expected unsupported, got %v", err)
	}
}

func isUnsupported(err error) bool {
	var ioErr *domain.AdapterIOError
	return errors.As(err, &ioErr) && ioErr.Kind == domain.IOUnsupported
}
