package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"html/template"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"raffle/internal/draw"
	"raffle/internal/realtime"
	"raffle/internal/services"
	"raffle/internal/storage"
)

const participantsCSV = "ID,Name,Email\n001,Alice,alice@x\n002,Bob,bob@x\n003,Charlie,charlie@x\n"

// firstSource always picks the first eligible participant.
type firstSource struct{}

func (firstSource) Intn(int) int { return 0 }

type memorySink struct {
	saved map[string][]byte
}

func (m *memorySink) Save(_ context.Context, name, _ string, data []byte) (string, error) {
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[name] = data
	return "mem://" + name, nil
}

func newTestRouter(t *testing.T, sink storage.ExportSink, hub *realtime.Hub) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	templates, err := template.ParseGlob("../../cmd/templates/*.html")
	if err != nil {
		t.Fatalf("Expected no error parsing templates, but got %v", err)
	}

	opts := services.Options{
		Sink:      sink,
		NewSource: func(*int64) draw.RandomSource { return firstSource{} },
	}
	if hub != nil {
		opts.Publisher = hub
	}
	h := NewHTTPHandler(services.NewRaffleService(opts), templates, hub)

	r := gin.New()
	h.RegisterPublicRoutes(r)
	tenantRoutes := r.Group("/")
	tenantRoutes.Use(h.TenantMiddleware())
	h.RegisterTenantRoutes(tenantRoutes)
	return r
}

func newSessionID() string {
	return uuid.NewString()
}

func doRequest(r http.Handler, session string, req *http.Request) *httptest.ResponseRecorder {
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, filename, body string) *http.Request {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile("participants", filename)
	if err != nil {
		t.Fatalf("Expected no error creating form file, but got %v", err)
	}
	part.Write([]byte(body))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/participants", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) services.SessionStatus {
	t.Helper()
	var st services.SessionStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("Expected a status body, but got %v (%s)", err, w.Body.String())
	}
	return st
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected an error body, but got %v (%s)", err, w.Body.String())
	}
	return body.Error, body.Kind
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	w := doRequest(r, "", httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("Expected no session cookie on the health check")
	}
}

func TestTenantMiddleware(t *testing.T) {
	r := newTestRouter(t, nil, nil)

	t.Run("new visitors get a cookie", func(t *testing.T) {
		w := doRequest(r, "", httptest.NewRequest(http.MethodGet, "/api/status", nil))
		var found *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == SessionCookie {
				found = c
			}
		}
		if found == nil {
			t.Fatal("Expected a session cookie")
		}
		if _, err := uuid.Parse(found.Value); err != nil {
			t.Errorf("Expected a UUID session id, got %q", found.Value)
		}
	})

	t.Run("cookie keeps the session", func(t *testing.T) {
		id := newSessionID()
		req := uploadRequest(t, "people.csv", participantsCSV)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
		if w := doRequest(r, "", req); w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}

		req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
		if st := decodeStatus(t, doRequest(r, "", req)); !st.Loaded {
			t.Error("Expected the cookie session to have participants")
		}

		// A different session sees nothing.
		if st := decodeStatus(t, doRequest(r, newSessionID(), httptest.NewRequest(http.MethodGet, "/api/status", nil))); st.Loaded {
			t.Error("Expected a fresh session to be empty")
		}
	})

	t.Run("invalid ids are replaced", func(t *testing.T) {
		w := doRequest(r, "not-a-uuid", httptest.NewRequest(http.MethodGet, "/api/status", nil))
		for _, c := range w.Result().Cookies() {
			if c.Name == SessionCookie && c.Value == "not-a-uuid" {
				t.Error("Expected the invalid id to be replaced")
			}
		}
	})
}

func TestRaffleFlow(t *testing.T) {
	sink := &memorySink{}
	r := newTestRouter(t, sink, nil)
	session := newSessionID()

	w := doRequest(r, session, uploadRequest(t, "people.csv", participantsCSV))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on upload, got %d: %s", w.Code, w.Body.String())
	}
	st := decodeStatus(t, w)
	if st.ParticipantCount != 3 || st.DefaultPrimary != "Name" || st.DefaultSecondary != "Email" {
		t.Fatalf("Unexpected status after upload: %+v", st)
	}

	w = doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/start", `{"totalPrizes":2}`))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on start, got %d: %s", w.Code, w.Body.String())
	}
	if st = decodeStatus(t, w); st.CurrentPrize != 2 || !st.CanDraw || st.Seeded {
		t.Fatalf("Unexpected status after start: %+v", st)
	}

	for i := 0; i < 2; i++ {
		w = doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/draw", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200 on draw, got %d: %s", w.Code, w.Body.String())
		}
		if st = decodeStatus(t, w); st.Pending == nil || !st.CanConfirm {
			t.Fatalf("Expected a pending candidate, got %+v", st)
		}
		w = doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/confirm", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200 on confirm, got %d: %s", w.Code, w.Body.String())
		}
	}
	if st = decodeStatus(t, w); !st.Complete || st.ConfirmedCount != 2 {
		t.Fatalf("Expected a complete raffle, got %+v", st)
	}

	w = doRequest(r, session, httptest.NewRequest(http.MethodGet, "/api/winners", nil))
	var winners struct {
		Winners []struct {
			PrizeNumber int `json:"prizeNumber"`
		} `json:"winners"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &winners); err != nil {
		t.Fatalf("Expected no error decoding winners, but got %v", err)
	}
	if len(winners.Winners) != 2 || winners.Winners[0].PrizeNumber != 1 || winners.Winners[1].PrizeNumber != 2 {
		t.Errorf("Expected winners ordered by prize, got %+v", winners.Winners)
	}

	w = doRequest(r, session, httptest.NewRequest(http.MethodGet, "/api/export?format=csv", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on export, got %d: %s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "WINNERS.csv") {
		t.Errorf("Unexpected Content-Disposition: %q", cd)
	}
	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(w.Body.String(), "\ufeff"))).ReadAll()
	if err != nil {
		t.Fatalf("Expected valid CSV, but got %v", err)
	}
	if len(records) != 3 || records[0][0] != "Prize" || records[1][0] != "Winner #1" || records[2][0] != "Winner #2" {
		t.Errorf("Unexpected export rows: %v", records)
	}

	w = doRequest(r, session, httptest.NewRequest(http.MethodPost, "/api/export/save?format=xlsx&mode=summary", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on save, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "mem://WINNERS.xlsx") || len(sink.saved["WINNERS.xlsx"]) == 0 {
		t.Errorf("Expected the workbook in the sink, got %s", w.Body.String())
	}

	w = doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/restart", ""))
	if st = decodeStatus(t, w); st.ConfirmedCount != 0 || st.CurrentPrize != 2 {
		t.Errorf("Expected a restarted raffle, got %+v", st)
	}

	w = doRequest(r, session, httptest.NewRequest(http.MethodDelete, "/api/session", nil))
	if st = decodeStatus(t, w); st.Loaded || st.Started {
		t.Errorf("Expected an empty session after clear, got %+v", st)
	}
}

func TestErrorResponses(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	session := newSessionID()

	t.Run("draw before start", func(t *testing.T) {
		w := doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/draw", ""))
		if w.Code != http.StatusConflict {
			t.Errorf("Expected 409, got %d", w.Code)
		}
		if _, kind := decodeError(t, w); kind != "invalid_state" {
			t.Errorf("Expected invalid_state, got %s", kind)
		}
	})

	t.Run("start without participants", func(t *testing.T) {
		w := doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/start", `{"totalPrizes":1}`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if _, kind := decodeError(t, w); kind != "configuration" {
			t.Errorf("Expected configuration, got %s", kind)
		}
	})

	t.Run("malformed start body", func(t *testing.T) {
		w := doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/start", `{"totalPrizes":`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("missing upload", func(t *testing.T) {
		w := doRequest(r, session, httptest.NewRequest(http.MethodPost, "/api/participants", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("unsupported file", func(t *testing.T) {
		w := doRequest(r, session, uploadRequest(t, "people.txt", participantsCSV))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
		if _, kind := decodeError(t, w); kind != "schema" {
			t.Errorf("Expected schema, got %s", kind)
		}
	})

	t.Run("too many prizes", func(t *testing.T) {
		doRequest(r, session, uploadRequest(t, "people.csv", participantsCSV))
		w := doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/start", `{"totalPrizes":4}`))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("export without winners", func(t *testing.T) {
		w := doRequest(r, session, httptest.NewRequest(http.MethodGet, "/api/export", nil))
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d", w.Code)
		}
	})

	t.Run("unknown export format", func(t *testing.T) {
		w := doRequest(r, session, httptest.NewRequest(http.MethodGet, "/api/export?format=pdf", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", w.Code)
		}
	})

	t.Run("save without sink", func(t *testing.T) {
		w := doRequest(r, session, httptest.NewRequest(http.MethodPost, "/api/export/save", nil))
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d", w.Code)
		}
	})
}

func TestStartRaffle_Form(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	session := newSessionID()
	doRequest(r, session, uploadRequest(t, "people.csv", participantsCSV))

	form := url.Values{"totalPrizes": {"1"}, "primaryField": {"ID"}, "seed": {""}}
	req := httptest.NewRequest(http.MethodPost, "/api/raffle/start", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := doRequest(r, session, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	st := decodeStatus(t, w)
	if st.Seeded {
		t.Error("Expected an empty seed field to leave the raffle unseeded")
	}
	if st.Config.PrimaryField != "ID" || st.Config.SecondaryField != "Email" {
		t.Errorf("Unexpected fields: %+v", st.Config)
	}
}

func TestHTMXResponses(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	session := newSessionID()
	doRequest(r, session, uploadRequest(t, "people.csv", participantsCSV))
	doRequest(r, session, jsonRequest(http.MethodPost, "/api/raffle/start", `{"totalPrizes":1}`))

	req := httptest.NewRequest(http.MethodPost, "/api/raffle/draw", nil)
	req.Header.Set("HX-Request", "true")
	w := doRequest(r, session, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Alice") || !strings.Contains(body, "alice@x") {
		t.Errorf("Expected the candidate in the fragment, got %s", body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/raffle/draw", nil)
	req.Header.Set("HX-Request", "true")
	w = doRequest(r, session, req)
	if !strings.Contains(w.Body.String(), `class="error"`) {
		t.Errorf("Expected an error message for a second draw, got %s", w.Body.String())
	}
}

func TestShowIndex(t *testing.T) {
	r := newTestRouter(t, nil, nil)
	w := doRequest(r, newSessionID(), httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "<title>Raffle</title>") || !strings.Contains(body, `id="raffle-status"`) {
		t.Errorf("Expected the full page, got %s", body)
	}
}
