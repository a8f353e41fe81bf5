package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/stringstore/internal/controller"
	"github.com/gateway-fm/stringstore/internal/storage"
	"github.com/gateway-fm/stringstore/pkg/types"
)

// fakeAPI is a scripted StringStoreAPI.
type fakeAPI struct {
	mu      sync.Mutex
	state   types.State
	busy    bool
	written []string
	updates chan types.State
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		state:   types.State{Phase: types.PhaseIdle, Network: "sepolia", ChainID: 11155111, Version: 1},
		updates: make(chan types.State, 8),
	}
}

func (f *fakeAPI) State() types.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAPI) set(fn func(s *types.State)) types.State {
	f.mu.Lock()
	fn(&f.state)
	f.state.Version++
	s := f.state
	f.mu.Unlock()
	f.updates <- s
	return s
}

func (f *fakeAPI) Connect(ctx context.Context) types.State {
	return f.set(func(s *types.State) {
		s.Account = "0x00000000000000000000000000000000000000Aa"
		s.Connected = true
	})
}

func (f *fakeAPI) Disconnect() types.State {
	return f.set(func(s *types.State) { s.Account, s.Connected = "", false })
}

func (f *fakeAPI) ReadValue(ctx context.Context) (types.State, error) {
	if f.busy {
		return f.State(), controller.ErrBusy
	}
	return f.set(func(s *types.State) { s.Value, s.HasValue = "hello", true }), nil
}

func (f *fakeAPI) WriteValue(ctx context.Context, candidate string) (types.State, error) {
	if f.busy {
		return f.State(), controller.ErrBusy
	}
	f.mu.Lock()
	f.written = append(f.written, candidate)
	f.mu.Unlock()
	return f.State(), nil
}

func (f *fakeAPI) Subscribe() (<-chan types.State, func()) {
	return f.updates, func() {}
}

type fakeHealth struct {
	rpcErr      error
	contractErr error
}

func (h *fakeHealth) CheckRPC(ctx context.Context) error      { return h.rpcErr }
func (h *fakeHealth) CheckContract(ctx context.Context) error { return h.contractErr }

type fakeGauge struct {
	mu sync.Mutex
	n  int
}

func (g *fakeGauge) SetWSClients(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = n
}

func (g *fakeGauge) get() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func newTestServer(t *testing.T, api *fakeAPI, health HealthChecker, opts ...ServerOption) *httptest.Server {
	t.Helper()
	s := NewServer(api, health, nil, "*", opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})
	return srv
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestValidateWriteRequest(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{"empty value is accepted", "", ""},
		{"whitespace is accepted", "   ", ""},
		{"at limit", strings.Repeat("a", maxValueBytes), ""},
		{"over limit", strings.Repeat("a", maxValueBytes+1), "value exceeds maximum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateWriteRequest(&types.WriteValueRequest{Value: tt.value})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateWriteRequest() unexpected error: %v", err)
				}
			} else if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateWriteRequest() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, newFakeAPI(), nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/state"},
		{http.MethodGet, "/v1/connect"},
		{http.MethodGet, "/v1/disconnect"},
		{http.MethodGet, "/v1/read"},
		{http.MethodGet, "/v1/write"},
		{http.MethodPost, "/v1/history"},
		{http.MethodDelete, "/v1/history/abc"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			body := decode[types.ErrorResponse](t, resp)
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want 405", resp.StatusCode)
			}
			if body.Error != "Method not allowed" {
				t.Errorf("error = %q", body.Error)
			}
		})
	}
}

func TestStateAndSessionEndpoints(t *testing.T) {
	api := newFakeAPI()
	srv := newTestServer(t, api, nil)

	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	if s := decode[types.State](t, resp); s.Network != "sepolia" || s.Connected {
		t.Errorf("initial state = %+v", s)
	}

	resp, err = http.Post(srv.URL+"/v1/connect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := decode[types.State](t, resp); !s.Connected {
		t.Errorf("state after connect = %+v", s)
	}

	resp, err = http.Post(srv.URL+"/v1/disconnect", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s := decode[types.State](t, resp); s.Connected || s.Account != "" {
		t.Errorf("state after disconnect = %+v", s)
	}
}

func TestReadEndpoint(t *testing.T) {
	api := newFakeAPI()
	srv := newTestServer(t, api, nil)

	resp, err := http.Post(srv.URL+"/v1/read", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	s := decode[types.State](t, resp)
	if resp.StatusCode != http.StatusOK || s.Value != "hello" || !s.HasValue {
		t.Errorf("status = %d, state = %+v", resp.StatusCode, s)
	}
}

func TestWriteEndpoint(t *testing.T) {
	api := newFakeAPI()
	srv := newTestServer(t, api, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantValue  string
	}{
		{"value passed through untrimmed", `{"value":"  hi  "}`, http.StatusOK, "  hi  "},
		{"blank value reaches controller", `{"value":""}`, http.StatusOK, ""},
		{"invalid json", `{"value":`, http.StatusBadRequest, ""},
		{"too long", `{"value":"` + strings.Repeat("x", maxValueBytes+1) + `"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api.mu.Lock()
			api.written = nil
			api.mu.Unlock()

			resp, err := http.Post(srv.URL+"/v1/write", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			api.mu.Lock()
			defer api.mu.Unlock()
			if tt.wantStatus == http.StatusOK {
				if len(api.written) != 1 || api.written[0] != tt.wantValue {
					t.Errorf("written = %q, want [%q]", api.written, tt.wantValue)
				}
			} else if len(api.written) != 0 {
				t.Errorf("rejected request reached controller: %q", api.written)
			}
		})
	}
}

func TestBusyReturnsConflict(t *testing.T) {
	api := newFakeAPI()
	api.busy = true
	srv := newTestServer(t, api, nil)

	for _, path := range []string{"/v1/read", "/v1/write"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(`{"value":"x"}`))
			if err != nil {
				t.Fatal(err)
			}
			body := decode[types.ErrorResponse](t, resp)
			if resp.StatusCode != http.StatusConflict {
				t.Errorf("status = %d, want 409", resp.StatusCode)
			}
			if body.Error != controller.ErrBusy.Error() {
				t.Errorf("error = %q", body.Error)
			}
		})
	}
}

func TestHistoryEndpoints(t *testing.T) {
	store := storage.NewMemoryStorage(10)
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c"} {
		a := &storage.WriteAttempt{ID: "id-" + v, Value: v, Outcome: types.OutcomeConfirmed, StartedAt: time.Now()}
		if err := store.CreateAttempt(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	srv := newTestServer(t, newFakeAPI(), nil, WithHistory(store))

	t.Run("list with pagination", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/history?limit=2&offset=0")
		if err != nil {
			t.Fatal(err)
		}
		page := decode[storage.PaginatedWriteAttempts](t, resp)
		if page.Total != 3 || len(page.Attempts) != 2 || page.Limit != 2 {
			t.Fatalf("page = %+v", page)
		}
		if page.Attempts[0].Value != "c" {
			t.Errorf("first attempt = %q, want newest (c)", page.Attempts[0].Value)
		}
	})

	t.Run("invalid limit falls back to default", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/history?limit=1000&offset=-1")
		if err != nil {
			t.Fatal(err)
		}
		page := decode[storage.PaginatedWriteAttempts](t, resp)
		if page.Limit != 50 || page.Offset != 0 {
			t.Errorf("limit/offset = %d/%d, want 50/0", page.Limit, page.Offset)
		}
	})

	t.Run("detail", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/history/id-b")
		if err != nil {
			t.Fatal(err)
		}
		a := decode[storage.WriteAttempt](t, resp)
		if a.Value != "b" {
			t.Errorf("attempt = %+v", a)
		}
	})

	t.Run("detail not found", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/v1/history/missing")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestHistoryWithoutStorage(t *testing.T) {
	srv := newTestServer(t, newFakeAPI(), nil)

	resp, err := http.Get(srv.URL + "/v1/history")
	if err != nil {
		t.Fatal(err)
	}
	page := decode[storage.PaginatedWriteAttempts](t, resp)
	if resp.StatusCode != http.StatusOK || page.Total != 0 || page.Attempts == nil {
		t.Errorf("status = %d, page = %+v", resp.StatusCode, page)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    string
		origin     string
		wantHeader string
	}{
		{"allow all", "*", "https://example.com", "*"},
		{"empty allows all", "", "https://example.com", "*"},
		{"listed origin", "https://a.io, https://b.io", "https://b.io", "https://b.io"},
		{"unlisted origin", "https://a.io", "https://evil.io", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(newFakeAPI(), nil, nil, tt.allowed)
			defer s.Close()

			req := httptest.NewRequest(http.MethodOptions, "/v1/state", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("preflight status = %d", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, newFakeAPI(), nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("missing uptime_seconds")
	}
}

type readyResponse struct {
	Ready  bool             `json:"ready"`
	Checks []ReadinessCheck `json:"checks"`
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		health     *fakeHealth
		wantStatus int
		wantReady  bool
	}{
		{"all ok", &fakeHealth{}, http.StatusOK, true},
		{"rpc down", &fakeHealth{rpcErr: errors.New("dial tcp: refused")}, http.StatusServiceUnavailable, false},
		{"contract missing", &fakeHealth{contractErr: errors.New("no contract code at address")}, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, newFakeAPI(), tt.health)

			resp, err := http.Get(srv.URL + "/ready")
			if err != nil {
				t.Fatal(err)
			}
			body := decode[readyResponse](t, resp)

			if resp.StatusCode != tt.wantStatus || body.Ready != tt.wantReady {
				t.Errorf("status = %d ready = %v, want %d %v", resp.StatusCode, body.Ready, tt.wantStatus, tt.wantReady)
			}
			if len(body.Checks) != 2 || body.Checks[0].Name != "rpc" || body.Checks[1].Name != "contract" {
				t.Errorf("checks = %+v", body.Checks)
			}
		})
	}
}

func TestWebSocketStreamsState(t *testing.T) {
	api := newFakeAPI()
	gauge := &fakeGauge{}
	srv := newTestServer(t, api, nil, WithClientGauge(gauge))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var initial types.State
	if err := conn.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial state: %v", err)
	}
	if initial.Version != 1 {
		t.Errorf("initial version = %d, want 1", initial.Version)
	}
	if gauge.get() != 1 {
		t.Errorf("client gauge = %d, want 1", gauge.get())
	}

	api.Connect(context.Background())

	var update types.State
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if !update.Connected || update.Version != 2 {
		t.Errorf("update = %+v", update)
	}
}
