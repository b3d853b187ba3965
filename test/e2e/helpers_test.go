package e2e_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Campus-Dev-Team/adminCamperStories/internal/auth"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/dashboard"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/pipeline"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/state"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	adminEmail     = "admin@campuslands.dev"
	adminPassword  = "admin-pass"
	camperEmail    = "camper@campuslands.dev"
	camperPassword = "camper-pass"
	frontendURL    = "https://camperstories.example"
	adminCityID    = 11
	adminCampusID  = 3
)

type account struct {
	id       int64
	email    string
	password string
	roleID   int
	cityID   int64
}

var accounts = []account{
	{id: 1, email: adminEmail, password: adminPassword, roleID: models.RoleAdmin, cityID: adminCityID},
	{id: 2, email: camperEmail, password: camperPassword, roleID: 2},
}

// backend is an in-memory Camper Stories API: the session endpoints plus
// a small roster behind bearer auth. Access and refresh tokens are
// opaque and rotate on every refresh.
type backend struct {
	URL string

	mu      sync.Mutex
	seq     int
	access  map[string]int64
	refresh map[string]int64

	logins   atomic.Int32
	refreshs atomic.Int32
	logouts  atomic.Int32
	data     atomic.Int32
}

func newBackend(t *testing.T) *backend {
	t.Helper()

	b := &backend{
		access:  make(map[string]int64),
		refresh: make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/login", b.handleLogin)
	mux.HandleFunc("GET /users/validate-session", b.handleValidate)
	mux.HandleFunc("POST /users/refresh-token", b.handleRefresh)
	mux.HandleFunc("POST /users/logout", b.handleLogout)

	mux.Handle("GET /campers", b.authed(reply(`[
		{"camper_id":10,"full_name":"José Núñez","main_video_url":"https://videos.example/10"},
		{"camper_id":11,"full_name":"Laura Gómez"},
		{"camper_id":12,"full_name":"Andrés Ruiz","main_video_url":"https://videos.example/12"}
	]`)))
	mux.Handle("GET /campers/{id}/{section}", b.authed(http.HandlerFunc(handleSection)))
	mux.Handle("GET /admin/incomplete", b.authed(reply(`[{"camper_id":11,"full_name":"Laura Gómez"}]`)))
	mux.Handle("GET /campus/{city}/city", b.authed(reply(`{"campus_id":`+strconv.Itoa(adminCampusID)+`}`)))
	mux.Handle("GET /admin/donatedCampers/{campus}", b.authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]interface{}{
			{"campus": r.PathValue("campus"), "full_name": "José Núñez", "amount": 50000},
		})
	})))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	b.URL = srv.URL

	return b
}

func reply(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleSection gives camper 10 every section, camper 12 no projects, and
// camper 11 nothing.
func handleSection(w http.ResponseWriter, r *http.Request) {
	id, section := r.PathValue("id"), r.PathValue("section")

	switch {
	case id == "10", id == "12" && section != "proyects":
		w.Write([]byte(`[{"id":1}]`))
	default:
		w.Write([]byte(`[]`))
	}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func userJSON(a account) map[string]interface{} {
	u := map[string]interface{}{"id": a.id, "email": a.email, "role_id": a.roleID}
	if a.cityID != 0 {
		u["city_id"] = a.cityID
	}

	return u
}

func findAccount(id int64) (account, bool) {
	for _, a := range accounts {
		if a.id == id {
			return a, true
		}
	}

	return account{}, false
}

// issue mints a fresh token pair for a user. Callers hold b.mu.
func (b *backend) issue(userID int64) (string, string) {
	b.seq++
	access := fmt.Sprintf("access-%d", b.seq)
	refresh := fmt.Sprintf("refresh-%d", b.seq)
	b.access[access] = userID
	b.refresh[refresh] = userID

	return access, refresh
}

func (b *backend) userFor(token string) (account, bool) {
	b.mu.Lock()
	id, ok := b.access[token]
	b.mu.Unlock()

	if !ok {
		return account{}, false
	}

	return findAccount(id)
}

func (b *backend) authed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := b.userFor(bearer(r)); !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
			return
		}

		b.data.Add(1)
		next.ServeHTTP(w, r)
	})
}

func (b *backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.logins.Add(1)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}

	for _, a := range accounts {
		if a.email != req.Email || a.password != req.Password {
			continue
		}

		b.mu.Lock()
		access, refresh := b.issue(a.id)
		b.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"token":         access,
			"refresh_token": refresh,
			"user":          userJSON(a),
		})

		return
	}

	writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"success": false,
		"message": "Credenciales inválidas",
	})
}

func (b *backend) handleValidate(w http.ResponseWriter, r *http.Request) {
	a, ok := b.userFor(bearer(r))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "no session"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": userJSON(a)})
}

// handleRefresh rotates both tokens. The old access token stops working.
func (b *backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshs.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	id, ok := b.refresh[req.RefreshToken]
	if ok {
		delete(b.refresh, req.RefreshToken)
		b.revokeUser(id)
	}

	var access, refresh string
	if ok {
		access, refresh = b.issue(id)
	}
	b.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh token invalid"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": access, "refresh_token": refresh})
}

func (b *backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.logouts.Add(1)

	b.mu.Lock()
	if id, ok := b.access[bearer(r)]; ok {
		b.revokeUser(id)
		for tok, uid := range b.refresh {
			if uid == id {
				delete(b.refresh, tok)
			}
		}
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// revokeUser drops every access token of a user. Callers hold b.mu.
func (b *backend) revokeUser(id int64) {
	for tok, uid := range b.access {
		if uid == id {
			delete(b.access, tok)
		}
	}
}

// expire makes an access token stop working, as if it had timed out.
func (b *backend) expire(token string) {
	b.mu.Lock()
	delete(b.access, token)
	b.mu.Unlock()
}

// revokeRefresh invalidates every refresh token.
func (b *backend) revokeRefresh() {
	b.mu.Lock()
	clear(b.refresh)
	b.mu.Unlock()
}

func (b *backend) live(token string) bool {
	_, ok := b.userFor(token)
	return ok
}

// harness is the client stack the CLI builds, pointed at a fake backend.
type harness struct {
	backend  *backend
	path     string
	store    *state.State
	gateway  *auth.Gateway
	api      *pipeline.Client
	dash     *dashboard.Service
	registry *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	return openHarness(t, newBackend(t), filepath.Join(t.TempDir(), "state.db"))
}

// openHarness wires a client stack over the credential store at path.
func openHarness(t *testing.T, b *backend, path string) *harness {
	t.Helper()

	store, err := state.LoadAt(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	httpClient := auth.NewHTTPClient(0)

	gateway := auth.NewGateway(auth.GatewayConfig{
		Client:      auth.NewClient(b.URL, httpClient),
		Store:       store,
		FrontendURL: frontendURL,
	})

	registry := prometheus.NewRegistry()
	api := pipeline.New(pipeline.Config{
		BaseURL:    b.URL,
		HTTPClient: httpClient,
		Tokens:     gateway,
		Refresher:  gateway,
		Metrics:    pipeline.NewMetrics(registry),
	})

	return &harness{
		backend:  b,
		path:     path,
		store:    store,
		gateway:  gateway,
		api:      api,
		dash:     dashboard.NewService(api, 4, nil),
		registry: registry,
	}
}

// restart closes the store and builds a new stack over the same file, the
// way a second CLI invocation would.
func (h *harness) restart(t *testing.T) *harness {
	t.Helper()

	require.NoError(t, h.store.Close())

	return openHarness(t, h.backend, h.path)
}

func (h *harness) login(t *testing.T) string {
	t.Helper()

	_, err := h.gateway.Login(t.Context(), adminEmail, adminPassword)
	require.NoError(t, err)

	rec := h.store.Get()
	require.NotNil(t, rec)

	return rec.Token
}
