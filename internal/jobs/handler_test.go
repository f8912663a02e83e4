package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carelink/scheduler/internal/domain/reminder"
	"github.com/carelink/scheduler/internal/platform/joblimit"
)

type mockNoShows struct {
	marked    int
	lastGrace time.Duration
	err       error
}

func (m *mockNoShows) DetectAndMarkNoShows(_ context.Context, grace time.Duration) (int, error) {
	m.lastGrace = grace
	return m.marked, m.err
}

type mockScheduler struct {
	stats      reminder.SweepStats
	lastWindow time.Duration
	lastLimit  int
	err        error
}

func (m *mockScheduler) ScheduleUpcoming(_ context.Context, window time.Duration, limit int) (reminder.SweepStats, error) {
	m.lastWindow = window
	m.lastLimit = limit
	return m.stats, m.err
}

type mockDispatcher struct {
	stats     reminder.DispatchStats
	lastBatch int
	err       error
}

func (m *mockDispatcher) ProcessDue(_ context.Context, maxBatch int) (reminder.DispatchStats, error) {
	m.lastBatch = maxBatch
	return m.stats, m.err
}

type denyLimiter struct {
	resetAt time.Time
}

func (l *denyLimiter) Allow(context.Context, string, int, time.Duration) (joblimit.Decision, error) {
	return joblimit.Decision{Allowed: false, ResetAt: l.resetAt}, nil
}

type errorLimiter struct{}

func (errorLimiter) Allow(context.Context, string, int, time.Duration) (joblimit.Decision, error) {
	return joblimit.Decision{}, errors.New("redis down")
}

type jobsFixture struct {
	noShows    *mockNoShows
	scheduler  *mockScheduler
	dispatcher *mockDispatcher
	handler    *Handler
}

func newFixture(limiter joblimit.Limiter) *jobsFixture {
	f := &jobsFixture{
		noShows:    &mockNoShows{},
		scheduler:  &mockScheduler{},
		dispatcher: &mockDispatcher{},
	}
	if limiter == nil {
		limiter = joblimit.NewMemoryLimiter()
	}
	f.handler = NewHandler(f.noShows, f.scheduler, f.dispatcher, limiter,
		Limits{MaxPerWindow: 10, Window: time.Minute}, zerolog.Nop())
	return f
}

func doPost(h echo.HandlerFunc, body string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, h(c)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHandleNoShowSweep_Defaults(t *testing.T) {
	f := newFixture(nil)
	f.noShows.marked = 3

	rec, err := doPost(f.handler.HandleNoShowSweep, "")
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.noShows.lastGrace != defaultGraceMinutes*time.Minute {
		t.Errorf("grace = %v, want default 30m", f.noShows.lastGrace)
	}
	body := decodeBody(t, rec)
	if body["marked"] != float64(3) {
		t.Errorf("marked = %v, want 3", body["marked"])
	}
}

func TestHandleNoShowSweep_CustomGrace(t *testing.T) {
	f := newFixture(nil)

	if _, err := doPost(f.handler.HandleNoShowSweep, `{"grace_minutes": 60}`); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if f.noShows.lastGrace != time.Hour {
		t.Errorf("grace = %v, want 1h", f.noShows.lastGrace)
	}
}

func TestHandleNoShowSweep_ServiceError(t *testing.T) {
	f := newFixture(nil)
	f.noShows.err = errors.New("db down")

	_, err := doPost(f.handler.HandleNoShowSweep, "")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Fatalf("err = %v, want 500", err)
	}
}

func TestHandleReminderSchedule_Defaults(t *testing.T) {
	f := newFixture(nil)
	f.scheduler.stats = reminder.SweepStats{Scheduled: 5, Scanned: 7, SkippedExisting: 2, Duration: 34 * time.Millisecond}

	rec, err := doPost(f.handler.HandleReminderSchedule, "")
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if f.scheduler.lastWindow != defaultWindowMinutes*time.Minute {
		t.Errorf("window = %v, want default 24h", f.scheduler.lastWindow)
	}
	if f.scheduler.lastLimit != defaultMaxPerRun {
		t.Errorf("limit = %d, want default %d", f.scheduler.lastLimit, defaultMaxPerRun)
	}
	body := decodeBody(t, rec)
	if body["scheduled"] != float64(5) || body["scanned"] != float64(7) || body["skipped_existing"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if body["duration_ms"] != float64(34) {
		t.Errorf("duration_ms = %v, want 34", body["duration_ms"])
	}
}

func TestHandleReminderDispatch_Defaults(t *testing.T) {
	f := newFixture(nil)
	f.dispatcher.stats = reminder.DispatchStats{Processed: 3, Sent: 2, Failed: 1}

	rec, err := doPost(f.handler.HandleReminderDispatch, "")
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if f.dispatcher.lastBatch != defaultMaxPerRun {
		t.Errorf("batch = %d, want default %d", f.dispatcher.lastBatch, defaultMaxPerRun)
	}
	body := decodeBody(t, rec)
	if body["processed"] != float64(3) || body["sent"] != float64(2) || body["failed"] != float64(1) {
		t.Errorf("body = %v", body)
	}
}

func TestJobs_RateLimited(t *testing.T) {
	f := newFixture(&denyLimiter{resetAt: time.Now().Add(30 * time.Second)})

	for name, h := range map[string]echo.HandlerFunc{
		"no-show-sweep":     f.handler.HandleNoShowSweep,
		"reminder-schedule": f.handler.HandleReminderSchedule,
		"reminder-dispatch": f.handler.HandleReminderDispatch,
	} {
		rec, err := doPost(h, "")
		if err != nil {
			t.Fatalf("%s: handler returned error: %v", name, err)
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("%s: status = %d, want 429", name, rec.Code)
		}
		body := decodeBody(t, rec)
		retry, ok := body["retry_after_seconds"].(float64)
		if !ok || retry < 1 {
			t.Errorf("%s: retry_after_seconds = %v", name, body["retry_after_seconds"])
		}
	}
	if f.noShows.lastGrace != 0 {
		t.Error("rate-limited request should not reach the service")
	}
}

func TestJobs_LimiterFailureFailsOpen(t *testing.T) {
	f := newFixture(errorLimiter{})
	f.noShows.marked = 1

	rec, err := doPost(f.handler.HandleNoShowSweep, "")
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter backend is down", rec.Code)
	}
}
