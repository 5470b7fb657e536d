package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/neomorfeo/tenantgate/internal/adapter/fsm"
	adapter "github.com/neomorfeo/tenantgate/internal/adapter/http"
	"github.com/neomorfeo/tenantgate/internal/adapter/jwt"
	"github.com/neomorfeo/tenantgate/internal/adapter/ratelimit"
	"github.com/neomorfeo/tenantgate/internal/adapter/sealed"
	"github.com/neomorfeo/tenantgate/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantgate/internal/app"
	"github.com/neomorfeo/tenantgate/internal/domain"
)

const (
	adminToken    = "operator-secret"
	webhookSecret = "hook-secret"
	testPassword  = "Engine-Number-9"
)

type testServer struct {
	*httptest.Server
	gateway  *fakeGateway
	notifier *recordingNotifier
}

type serverOptions struct {
	adminToken string
}

// newTestServer creates a full-stack httptest.Server on in-memory SQLite
// with tenant databases in a temp directory.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, serverOptions{adminToken: adminToken})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	databases, err := sqlite.NewFileProvisioner(dir+"/data", dir+"/backups")
	if err != nil {
		t.Fatalf("creating provisioner: %v", err)
	}
	sealer, err := sealed.New(make([]byte, 32))
	if err != nil {
		t.Fatalf("creating sealer: %v", err)
	}
	codec, err := jwt.NewCodec("session-secret")
	if err != nil {
		t.Fatalf("creating codec: %v", err)
	}

	logger := zaptest.NewLogger(t)
	ts := &testServer{gateway: newFakeGateway(), notifier: &recordingNotifier{}}
	appOpts := []app.Option{app.WithLogger(logger)}

	tenants := store.Tenants()
	transitions := fsm.NewTenant()
	provisioning := app.NewProvisioning(tenants, transitions, databases, store.Credentials(sealer),
		store.Audit(), ts.notifier, appOpts...)
	queue := app.NewProvisioningQueue(store.Queue(), store.Leases(), provisioning, ts.notifier, nil,
		app.DefaultQueueSettings(), appOpts...)
	registry := app.NewRegistry(app.RegistryDeps{
		Tenants:      tenants,
		Identity:     store.Identity(),
		Validator:    app.NewValidator(store.Identity(), tenants, ".example.com"),
		Transitions:  transitions,
		Provisioning: provisioning,
		Queue:        queue,
		Audit:        store.Audit(),
		Notifier:     ts.notifier,
	}, app.TenantSettings{
		SubdomainSuffix: ".example.com",
		DatabasePrefix:  "tg_",
		StorageLimit:    1 << 30,
		UserLimit:       5,
		DefaultPriority: 10,
	}, appOpts...)
	entitlements := app.NewEntitlementManager(store.Modules(), store.Entitlements(), tenants,
		fsm.NewEntitlement(), store.Audit(), 7, appOpts...)
	orders := app.NewOrderEvents(ts.gateway, store.Orders(), store.Identity(), registry, entitlements,
		ts.notifier, appOpts...)
	access := app.NewAccessService(codec, store.APIKeys(), store.Identity(), registry,
		ratelimit.NewMemory(), app.DefaultAccessSettings(), appOpts...)

	router := adapter.NewRouter(adapter.Services{
		Registry:     registry,
		Queue:        queue,
		Entitlements: entitlements,
		Access:       access,
		Orders:       orders,
		Identity:     store.Identity(),
	}, adapter.Config{
		ServiceName:   "tenantgate-test",
		Version:       "test",
		AdminToken:    opts.adminToken,
		WebhookSecret: webhookSecret,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
		Health: func(ctx context.Context) error { return store.DB().PingContext(ctx) },
		Logger: logger,
	})

	ts.Server = httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

// doRequest performs an HTTP request with context (avoids noctx linter).
func doRequest(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, reader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) admin(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	return doRequest(t, method, ts.URL+"/api/v1/admin"+path, body, map[string]string{adapter.AdminTokenHeader: adminToken})
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d; body: %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	decodeInto(t, resp, &v)
	return v
}

// decodeBody decodes the response into the Body field of a huma output.
func decodeBody[O any](t *testing.T, resp *http.Response) O {
	t.Helper()
	var out O
	body := reflect.ValueOf(&out).Elem().FieldByName("Body")
	decodeInto(t, resp, body.Addr().Interface())
	return out
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func tenantJSON(username string) string {
	return fmt.Sprintf(`{"username":%q,"password":%q,"email":"%s@analytical.io","full_name":"Ada Lovelace","company_name":"Analytical Engines"}`,
		username, testPassword, username)
}

// mustCreateTenant creates a tenant via the admin API and returns its response.
func (ts *testServer) mustCreateTenant(t *testing.T, username string) adapter.TenantResponse {
	t.Helper()
	resp := ts.admin(t, http.MethodPost, "/tenants", tenantJSON(username))
	expectStatus(t, resp, http.StatusCreated)
	return decode[adapter.TenantResponse](t, resp)
}

func (ts *testServer) mustProvision(t *testing.T, id int64) adapter.TenantResponse {
	t.Helper()
	resp := ts.admin(t, http.MethodPost, fmt.Sprintf("/tenants/%d/provision", id), "")
	expectStatus(t, resp, http.StatusOK)
	return decode[adapter.TenantResponse](t, resp)
}

// --- Admin auth ---

func TestAdmin_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/admin/tenants", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/v1/admin/tenants", "",
		map[string]string{adapter.AdminTokenHeader: "wrong"})
	expectStatus(t, resp, http.StatusUnauthorized)

	expectStatus(t, ts.admin(t, http.MethodGet, "/tenants", ""), http.StatusOK)
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	ts := newTestServerWith(t, serverOptions{})

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/v1/admin/tenants", "",
		map[string]string{adapter.AdminTokenHeader: ""})
	expectStatus(t, resp, http.StatusUnauthorized)
}

// --- Tenants ---

func TestCreateTenant(t *testing.T) {
	ts := newTestServer(t)

	tenant := ts.mustCreateTenant(t, "ada")

	if tenant.ID == 0 {
		t.Error("expected tenant ID")
	}
	if tenant.Username != "ada" {
		t.Errorf("Username = %q, want %q", tenant.Username, "ada")
	}
	if tenant.Subdomain != "ada.example.com" {
		t.Errorf("Subdomain = %q, want %q", tenant.Subdomain, "ada.example.com")
	}
	if tenant.Status != "pending" {
		t.Errorf("Status = %q, want %q", tenant.Status, "pending")
	}
	if tenant.UserID == 0 {
		t.Error("expected owner user ID")
	}
	if tenant.Metadata == nil {
		t.Error("Metadata = nil, want empty object")
	}
}

func TestCreateTenant_DuplicateUsername(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateTenant(t, "ada")

	resp := ts.admin(t, http.MethodPost, "/tenants", tenantJSON("ada"))

	if resp.StatusCode != http.StatusConflict && resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 409 or 422", resp.StatusCode)
	}
}

func TestCreateTenant_WeakPassword(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.admin(t, http.MethodPost, "/tenants",
		`{"username":"ada","password":"password","email":"ada@analytical.io"}`)
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	body := decode[struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}](t, resp)
	if len(body.Errors) == 0 {
		t.Fatal("expected itemised validation errors")
	}
	var found bool
	for _, e := range body.Errors {
		if strings.Contains(e.Message, "12 characters") {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %+v, want a password length message", body.Errors)
	}
}

func TestCheckUsername(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.admin(t, http.MethodGet, "/usernames/grace", "")
	expectStatus(t, resp, http.StatusOK)
	free := decodeBody[adapter.UsernameOutput](t, resp).Body
	if !free.Available || free.Subdomain != "grace.example.com" {
		t.Errorf("grace = %+v, want available at grace.example.com", free)
	}

	ts.mustCreateTenant(t, "ada")
	resp = ts.admin(t, http.MethodGet, "/usernames/ada", "")
	expectStatus(t, resp, http.StatusOK)
	taken := decodeBody[adapter.UsernameOutput](t, resp).Body
	if taken.Available {
		t.Error("ada reported available after creation")
	}
	if !slices.Contains(taken.Suggestions, "ada1") {
		t.Errorf("Suggestions = %v, want ada1 among them", taken.Suggestions)
	}
}

func TestGetTenant_NotFound(t *testing.T) {
	ts := newTestServer(t)
	expectStatus(t, ts.admin(t, http.MethodGet, "/tenants/999", ""), http.StatusNotFound)
}

func TestListTenants(t *testing.T) {
	ts := newTestServer(t)
	ts.mustCreateTenant(t, "ada")
	second := ts.mustCreateTenant(t, "grace")
	ts.mustProvision(t, second.ID)

	resp := ts.admin(t, http.MethodGet, "/tenants?limit=1", "")
	expectStatus(t, resp, http.StatusOK)
	var page adapter.ListTenantsOutput
	decodeInto(t, resp, &page.Body)
	if len(page.Body.Tenants) != 1 {
		t.Errorf("len(tenants) = %d, want 1", len(page.Body.Tenants))
	}
	if page.Body.Total != 2 {
		t.Errorf("total = %d, want 2", page.Body.Total)
	}

	resp = ts.admin(t, http.MethodGet, "/tenants?status=active", "")
	expectStatus(t, resp, http.StatusOK)
	var active adapter.ListTenantsOutput
	decodeInto(t, resp, &active.Body)
	if active.Body.Total != 1 || len(active.Body.Tenants) != 1 || active.Body.Tenants[0].Username != "grace" {
		t.Errorf("active tenants = %+v", active.Body)
	}
}

func TestUpdateTenant(t *testing.T) {
	ts := newTestServer(t)
	tenant := ts.mustCreateTenant(t, "ada")

	resp := ts.admin(t, http.MethodPatch, fmt.Sprintf("/tenants/%d", tenant.ID),
		`{"company_name":"Difference Engines","metadata":{"plan":"gold"}}`)
	expectStatus(t, resp, http.StatusOK)

	updated := decode[adapter.TenantResponse](t, resp)
	if updated.CompanyName != "Difference Engines" {
		t.Errorf("CompanyName = %q, want %q", updated.CompanyName, "Difference Engines")
	}
	if updated.Metadata["plan"] != "gold" {
		t.Errorf("Metadata = %v, want plan=gold", updated.Metadata)
	}
	if updated.Version <= tenant.Version {
		t.Errorf("Version = %d, want > %d", updated.Version, tenant.Version)
	}
}

func TestSetStatus(t *testing.T) {
	ts := newTestServer(t)
	tenant := ts.mustCreateTenant(t, "ada")
	path := fmt.Sprintf("/tenants/%d/status", tenant.ID)

	resp := ts.admin(t, http.MethodPut, path, `{"status":"cancelled"}`)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "cancelled" {
		t.Errorf("Status = %q, want %q", got, "cancelled")
	}

	// cancelled -> suspended is not a lifecycle edge.
	expectStatus(t, ts.admin(t, http.MethodPut, path, `{"status":"suspended"}`), http.StatusUnprocessableEntity)
}

func TestProvisionAndHardDelete(t *testing.T) {
	ts := newTestServer(t)
	tenant := ts.mustCreateTenant(t, "ada")

	provisioned := ts.mustProvision(t, tenant.ID)
	if provisioned.Status != "active" {
		t.Errorf("Status = %q, want %q", provisioned.Status, "active")
	}
	if provisioned.DatabaseName == "" {
		t.Error("expected database name")
	}

	resp := ts.admin(t, http.MethodPost, fmt.Sprintf("/tenants/%d/storage", tenant.ID), "")
	expectStatus(t, resp, http.StatusOK)
	if decode[adapter.TenantResponse](t, resp).StorageUsed <= 0 {
		t.Error("expected storage used after refresh")
	}

	resp = ts.admin(t, http.MethodGet, fmt.Sprintf("/tenants/%d/audit", tenant.ID), "")
	expectStatus(t, resp, http.StatusOK)
	if len(decode[[]adapter.AuditEntryResponse](t, resp)) == 0 {
		t.Error("expected audit entries for the tenant")
	}

	resp = ts.admin(t, http.MethodDelete, fmt.Sprintf("/tenants/%d?hard=true", tenant.ID), "")
	expectStatus(t, resp, http.StatusOK)
	var deleted adapter.DeleteTenantOutput
	decodeInto(t, resp, &deleted.Body)
	if !deleted.Body.Hard || deleted.Body.BackupPath == "" {
		t.Errorf("delete result = %+v, want hard with backup", deleted.Body)
	}

	expectStatus(t, ts.admin(t, http.MethodGet, fmt.Sprintf("/tenants/%d", tenant.ID), ""), http.StatusNotFound)
}

func TestSoftDelete(t *testing.T) {
	ts := newTestServer(t)
	tenant := ts.mustCreateTenant(t, "ada")

	resp := ts.admin(t, http.MethodDelete, fmt.Sprintf("/tenants/%d", tenant.ID), "")
	expectStatus(t, resp, http.StatusOK)

	resp = ts.admin(t, http.MethodGet, fmt.Sprintf("/tenants/%d", tenant.ID), "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "cancelled" {
		t.Errorf("Status = %q, want %q", got, "cancelled")
	}
}

// --- Queue ---

func TestQueue_EnqueueAndRun(t *testing.T) {
	ts := newTestServer(t)
	tenant := ts.mustCreateTenant(t, "ada")
	path := fmt.Sprintf("/queue/%d", tenant.ID)

	resp := ts.admin(t, http.MethodPost, path, `{"priority":5}`)
	expectStatus(t, resp, http.StatusOK)
	if !decodeBody[adapter.EnqueueOutput](t, resp).Body.Added {
		t.Error("first enqueue: added = false, want true")
	}
	resp = ts.admin(t, http.MethodPost, path, `{"priority":5}`)
	expectStatus(t, resp, http.StatusOK)
	if decodeBody[adapter.EnqueueOutput](t, resp).Body.Added {
		t.Error("second enqueue: added = true, want false")
	}

	resp = ts.admin(t, http.MethodGet, "/queue", "")
	expectStatus(t, resp, http.StatusOK)
	items := decode[[]adapter.QueueItemResponse](t, resp)
	if len(items) != 1 || items[0].TenantID != tenant.ID || items[0].Priority != 5 {
		t.Fatalf("queue = %+v", items)
	}

	resp = ts.admin(t, http.MethodPost, "/queue/run", "")
	expectStatus(t, resp, http.StatusOK)
	pass := decodeBody[adapter.QueuePassOutput](t, resp).Body
	if pass.Skipped || pass.Processed != 1 || pass.Failed != 0 {
		t.Errorf("pass = %+v, want one processed", pass)
	}

	resp = ts.admin(t, http.MethodGet, "/queue/stats", "")
	expectStatus(t, resp, http.StatusOK)
	if stats := decodeBody[adapter.QueueStatsOutput](t, resp).Body; stats.Total != 0 {
		t.Errorf("stats.Total = %d, want 0", stats.Total)
	}

	resp = ts.admin(t, http.MethodGet, fmt.Sprintf("/tenants/%d", tenant.ID), "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[adapter.TenantResponse](t, resp).Status; got != "active" {
		t.Errorf("Status = %q, want %q", got, "active")
	}
	if !slices.Contains(ts.notifier.events(), domain.NotifyActivation) {
		t.Errorf("notifications = %v, want activation", ts.notifier.events())
	}
}

func TestQueue_RemoveAndClear(t *testing.T) {
	ts := newTestServer(t)
	first := ts.mustCreateTenant(t, "ada")
	second := ts.mustCreateTenant(t, "grace")
	expectStatus(t, ts.admin(t, http.MethodPost, fmt.Sprintf("/queue/%d", first.ID), `{}`), http.StatusOK)
	expectStatus(t, ts.admin(t, http.MethodPost, fmt.Sprintf("/queue/%d", second.ID), `{}`), http.StatusOK)

	expectStatus(t, ts.admin(t, http.MethodDelete, fmt.Sprintf("/queue/%d", first.ID), ""), http.StatusNoContent)
	expectStatus(t, ts.admin(t, http.MethodDelete, fmt.Sprintf("/queue/%d", first.ID), ""), http.StatusNotFound)
	expectStatus(t, ts.admin(t, http.MethodPost, fmt.Sprintf("/queue/%d/retry", first.ID), ""), http.StatusNotFound)

	resp := ts.admin(t, http.MethodDelete, "/queue?older_than_hours=1", "")
	expectStatus(t, resp, http.StatusOK)
	if n := decodeBody[adapter.RemovedOutput](t, resp).Body.Removed; n != 0 {
		t.Errorf("removed stale = %d, want 0", n)
	}

	resp = ts.admin(t, http.MethodDelete, "/queue?failed_only=true", "")
	expectStatus(t, resp, http.StatusOK)
	if n := decodeBody[adapter.RemovedOutput](t, resp).Body.Removed; n != 0 {
		t.Errorf("removed failed = %d, want 0", n)
	}

	resp = ts.admin(t, http.MethodDelete, "/queue", "")
	expectStatus(t, resp, http.StatusOK)
	if n := decodeBody[adapter.RemovedOutput](t, resp).Body.Removed; n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
}

func TestQueue_UnknownTenant(t *testing.T) {
	ts := newTestServer(t)
	expectStatus(t, ts.admin(t, http.MethodPost, "/queue/404", `{}`), http.StatusNotFound)
}

// --- Operational endpoints ---

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doRequest(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "# metrics") {
		t.Errorf("metrics body = %q", body)
	}
}

// --- Mocks ---

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.NotificationEvent
}

func (n *recordingNotifier) Send(_ context.Context, event domain.NotificationEvent, recipient string, _ map[string]any) bool {
	if recipient == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, event)
	return true
}

func (n *recordingNotifier) events() []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NotificationEvent(nil), n.sent...)
}

type fakeGateway struct {
	mu            sync.Mutex
	orders        map[string]domain.Order
	subscriptions map[string]domain.Subscription
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:        make(map[string]domain.Order),
		subscriptions: make(map[string]domain.Subscription),
	}
}

func (g *fakeGateway) addOrder(o domain.Order) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[o.Ref] = o
}

func (g *fakeGateway) Order(_ context.Context, ref string) (domain.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[ref]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: not found", ref)
	}
	return o, nil
}

func (g *fakeGateway) Subscription(_ context.Context, ref string) (domain.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subscriptions[ref]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("subscription %s: not found", ref)
	}
	return s, nil
}
