package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nullposters/ciabot/internal/chat"
	"github.com/nullposters/ciabot/internal/settings"
)

type staticSettings settings.Settings

func (s staticSettings) Snapshot() settings.Settings { return settings.Settings(s) }

func TestHandleHealth(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	st := settings.Defaults()
	st.TimeoutExpiration = now.Unix() + 600

	srv := NewServer(DefaultServerConfig(), staticSettings(st), nil, "v1.2.3", nil)
	srv.now = func() time.Time { return now }
	srv.startedAt = now.Add(-90 * time.Second)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status            string `json:"status"`
		Version           string `json:"version"`
		Uptime            string `json:"uptime"`
		TimedOut          bool   `json:"timed_out"`
		TimeoutExpiration int64  `json:"timeout_expiration"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Version != "v1.2.3" || body.Uptime != "1m30s" {
		t.Errorf("unexpected body %+v", body)
	}
	if !body.TimedOut || body.TimeoutExpiration != st.TimeoutExpiration {
		t.Errorf("timeout fields = %v/%d, want true/%d", body.TimedOut, body.TimeoutExpiration, st.TimeoutExpiration)
	}
}

func TestHandleRecent(t *testing.T) {
	activity := chat.NewActivityLog(3)
	activity.Add("c1", chat.Redaction{MessageID: "m1", AuthorName: "agent"})
	activity.Add("c2", chat.Redaction{MessageID: "m2"})

	srv := NewServer(DefaultServerConfig(), nil, activity, "", nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recent?channel=c1", nil))
	var one []chat.Redaction
	if err := json.NewDecoder(rec.Body).Decode(&one); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(one) != 1 || one[0].MessageID != "m1" {
		t.Errorf("recent c1 = %+v", one)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recent", nil))
	var all map[string][]chat.Redaction
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("recent = %+v, want 2 channels", all)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	MessagesTotal.WithLabelValues("redacted").Inc()

	srv := NewServer(DefaultServerConfig(), nil, nil, "", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "ciabot_messages_total") {
		t.Error("metrics output missing ciabot_messages_total")
	}
}

func scrape(t *testing.T, srv *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestTimeoutGaugeWithoutHealthCheck(t *testing.T) {
	st := settings.Defaults()
	st.TimeoutExpiration = time.Now().Add(time.Hour).Unix()

	body := scrape(t, NewServer(DefaultServerConfig(), staticSettings(st), nil, "", nil))
	if !strings.Contains(body, "ciabot_timeout_active 1") {
		t.Errorf("metrics during timeout missing %q", "ciabot_timeout_active 1")
	}

	body = scrape(t, NewServer(DefaultServerConfig(), staticSettings(settings.Defaults()), nil, "", nil))
	if !strings.Contains(body, "ciabot_timeout_active 0") {
		t.Errorf("metrics without timeout missing %q", "ciabot_timeout_active 0")
	}
}
