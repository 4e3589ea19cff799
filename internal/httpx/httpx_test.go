package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, http.StatusUnauthorized, "unauthorized")
	if rr.Code != http.StatusUnauthorized || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("code=%d ct=%s", rr.Code, rr.Header().Get("Content-Type"))
	}
	var body struct {
		Error ErrorPayload `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "Unauthorized" || body.Error.Message != "unauthorized" {
		t.Fatalf("body = %+v", body)
	}
}

func TestWriteTypedErrorRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteTypedError(rr, http.StatusTooManyRequests, "rate.limited", "slow down", 42)
	if rr.Header().Get("Retry-After") != "42" {
		t.Fatalf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	var body map[string]map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"]["code"] != "rate.limited" || body["error"]["retryAfterSec"] != float64(42) {
		t.Fatalf("body = %v", body)
	}
}
