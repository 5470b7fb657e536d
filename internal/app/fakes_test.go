package app_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neomorfeo/tenantgate/internal/domain"
)

// --- Mocks ---

type memTenants struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]domain.Tenant
	failOn    string
	updates   int
	conflicts int
}

func newMemTenants() *memTenants {
	return &memTenants{rows: make(map[int64]domain.Tenant)}
}

func (m *memTenants) Create(_ context.Context, t domain.Tenant) (domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "create" {
		return domain.Tenant{}, errors.New("insert failed")
	}
	for _, row := range m.rows {
		if row.Username == t.Username {
			return domain.Tenant{}, &domain.ConflictError{Field: "username", Value: t.Username}
		}
		if row.Subdomain == t.Subdomain {
			return domain.Tenant{}, &domain.ConflictError{Field: "subdomain", Value: t.Subdomain}
		}
	}
	m.nextID++
	t.ID = m.nextID
	t.Version = 1
	m.rows[t.ID] = t
	return t, nil
}

func (m *memTenants) Get(_ context.Context, id int64) (domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	t.Metadata = t.Metadata.Merge(nil)
	return t, nil
}

func (m *memTenants) find(match func(domain.Tenant) bool) (domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if match(t) {
			return t, nil
		}
	}
	return domain.Tenant{}, domain.ErrTenantNotFound
}

func (m *memTenants) GetByUsername(_ context.Context, username string) (domain.Tenant, error) {
	return m.find(func(t domain.Tenant) bool { return t.Username == username })
}

func (m *memTenants) GetBySubdomain(_ context.Context, subdomain string) (domain.Tenant, error) {
	return m.find(func(t domain.Tenant) bool { return t.Subdomain == subdomain })
}

func (m *memTenants) GetByOwner(_ context.Context, userID int64) (domain.Tenant, error) {
	return m.find(func(t domain.Tenant) bool { return t.UserID == userID })
}

func (m *memTenants) List(_ context.Context, f domain.ListFilter) ([]domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tenant
	for _, t := range m.rows {
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		if f.Search != "" && !strings.Contains(t.Username+t.AccountName, f.Search) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memTenants) Count(ctx context.Context, f domain.ListFilter) (int, error) {
	list, err := m.List(ctx, f)
	return len(list), err
}

func (m *memTenants) Update(_ context.Context, t domain.Tenant) (domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[t.ID]
	if !ok {
		return domain.Tenant{}, domain.ErrTenantNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		return domain.Tenant{}, domain.ErrVersionConflict
	}
	if cur.Version != t.Version {
		return domain.Tenant{}, domain.ErrVersionConflict
	}
	t.Version++
	m.rows[t.ID] = t
	m.updates++
	return t, nil
}

func (m *memTenants) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.LastLogin = &at
	m.rows[id] = t
	return nil
}

func (m *memTenants) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "delete" {
		return errors.New("delete failed")
	}
	if _, ok := m.rows[id]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(m.rows, id)
	return nil
}

type memIdentity struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]domain.User
	passwords map[int64]string
	deleted   []int64
}

func newMemIdentity() *memIdentity {
	return &memIdentity{users: make(map[int64]domain.User), passwords: make(map[int64]string)}
}

func (m *memIdentity) CreateUser(_ context.Context, u domain.NewUser) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	user := domain.User{
		ID:          m.nextID,
		Login:       u.Login,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        u.Role,
	}
	m.users[user.ID] = user
	m.passwords[user.ID] = u.Password
	return user, nil
}

func (m *memIdentity) GetUser(_ context.Context, id int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *memIdentity) GetUserByLogin(_ context.Context, login string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Login == login {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (m *memIdentity) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memIdentity) LoginExists(ctx context.Context, login string) (bool, error) {
	_, err := m.GetUserByLogin(ctx, login)
	return err == nil, nil
}

func (m *memIdentity) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memIdentity) VerifyPassword(ctx context.Context, login, password string) (domain.User, error) {
	u, err := m.GetUserByLogin(ctx, login)
	if err != nil {
		return domain.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.passwords[u.ID] != password {
		return domain.User{}, &domain.AuthError{Reason: "password mismatch"}
	}
	return u, nil
}

func (m *memIdentity) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type memQueue struct {
	mu    sync.Mutex
	seq   int64
	items map[int64]domain.QueueItem
}

func newMemQueue() *memQueue {
	return &memQueue{items: make(map[int64]domain.QueueItem)}
}

func (m *memQueue) Add(_ context.Context, item domain.QueueItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.TenantID]; ok {
		return false, nil
	}
	m.seq++
	item.Sequence = m.seq
	m.items[item.TenantID] = item
	return true, nil
}

func (m *memQueue) Get(_ context.Context, tenantID int64) (domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[tenantID]
	if !ok {
		return domain.QueueItem{}, domain.ErrQueueItemNotFound
	}
	return it, nil
}

func (m *memQueue) List(_ context.Context) ([]domain.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.QueueItem, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (m *memQueue) Save(_ context.Context, item domain.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.TenantID]; !ok {
		return domain.ErrQueueItemNotFound
	}
	m.items[item.TenantID] = item
	return nil
}

func (m *memQueue) Remove(_ context.Context, tenantID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[tenantID]
	delete(m.items, tenantID)
	return ok, nil
}

func (m *memQueue) removeWhere(match func(domain.QueueItem) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, it := range m.items {
		if match(it) {
			delete(m.items, id)
			n++
		}
	}
	return n
}

func (m *memQueue) RemoveFailed(_ context.Context) (int, error) {
	return m.removeWhere(func(it domain.QueueItem) bool { return it.Status == domain.QueueFailed }), nil
}

func (m *memQueue) RemoveOlderThan(_ context.Context, before time.Time) (int, error) {
	return m.removeWhere(func(it domain.QueueItem) bool {
		return it.AddedAt.Before(before) && it.Status != domain.QueueFailed
	}), nil
}

func (m *memQueue) Clear(_ context.Context) (int, error) {
	return m.removeWhere(func(domain.QueueItem) bool { return true }), nil
}

type memLeases struct {
	mu     sync.Mutex
	leases map[string]domain.Lease
}

func newMemLeases() *memLeases {
	return &memLeases{leases: make(map[string]domain.Lease)}
}

func (m *memLeases) Acquire(_ context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[name]; ok && cur.ExpiresAt.After(now) {
		return false, nil
	}
	m.leases[name] = domain.Lease{Name: name, Owner: owner, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (m *memLeases) Release(_ context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[name]; ok && cur.Owner == owner {
		delete(m.leases, name)
	}
	return nil
}

func (m *memLeases) Current(_ context.Context, name string, now time.Time) (domain.Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.leases[name]
	if !ok || !cur.ExpiresAt.After(now) {
		return domain.Lease{}, false, nil
	}
	return cur, true, nil
}

type memModules struct {
	mu       sync.Mutex
	nextID   int64
	modules  map[int64]domain.Module
	products map[string]string
}

func newMemModules() *memModules {
	return &memModules{modules: make(map[int64]domain.Module), products: make(map[string]string)}
}

func (m *memModules) Upsert(_ context.Context, mod domain.Module) (domain.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cur := range m.modules {
		if cur.Slug == mod.Slug {
			mod.ID = id
			mod.CreatedAt = cur.CreatedAt
			m.modules[id] = mod
			return mod, nil
		}
	}
	m.nextID++
	mod.ID = m.nextID
	m.modules[mod.ID] = mod
	return mod, nil
}

func (m *memModules) Get(_ context.Context, id int64) (domain.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.modules[id]
	if !ok {
		return domain.Module{}, domain.ErrModuleNotFound
	}
	return mod, nil
}

func (m *memModules) GetBySlug(_ context.Context, slug string) (domain.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mod := range m.modules {
		if mod.Slug == slug {
			return mod, nil
		}
	}
	return domain.Module{}, domain.ErrModuleNotFound
}

func (m *memModules) List(_ context.Context, status *domain.ModuleStatus) ([]domain.Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Module
	for _, mod := range m.modules {
		if status == nil || mod.Status == *status {
			out = append(out, mod)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memModules) MapProduct(_ context.Context, productRef, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productRef] = slug
	return nil
}

func (m *memModules) ModuleSlugForProduct(_ context.Context, productRef string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slug, ok := m.products[productRef]
	if !ok {
		return "", domain.ErrModuleNotFound
	}
	return slug, nil
}

type memEntitlements struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[[2]int64]domain.Entitlement
	modules *memModules

	// racers maps a module id to the number of Updates on it that lose to
	// a concurrent writer before one can succeed.
	racers map[int64]int
	// broken makes every Update on the module id fail.
	broken map[int64]error
}

func newMemEntitlements(modules *memModules) *memEntitlements {
	return &memEntitlements{rows: make(map[[2]int64]domain.Entitlement), modules: modules}
}

func (m *memEntitlements) Get(_ context.Context, tenantID, moduleID int64) (domain.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[[2]int64{tenantID, moduleID}]
	if !ok {
		return domain.Entitlement{}, domain.ErrEntitlementNotFound
	}
	return e, nil
}

func (m *memEntitlements) Upsert(_ context.Context, e domain.Entitlement) (domain.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{e.TenantID, e.ModuleID}
	if cur, ok := m.rows[key]; ok {
		e.ID = cur.ID
		e.Version = cur.Version + 1
	} else {
		m.nextID++
		e.ID = m.nextID
		e.Version = 1
	}
	m.rows[key] = e
	return e, nil
}

func (m *memEntitlements) Update(_ context.Context, e domain.Entitlement) (domain.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{e.TenantID, e.ModuleID}
	cur, ok := m.rows[key]
	if !ok {
		return domain.Entitlement{}, domain.ErrEntitlementNotFound
	}
	if err := m.broken[e.ModuleID]; err != nil {
		return domain.Entitlement{}, err
	}
	if m.racers[e.ModuleID] > 0 {
		m.racers[e.ModuleID]--
		cur.Version++
		m.rows[key] = cur
	}
	if cur.Version != e.Version {
		return domain.Entitlement{}, domain.ErrVersionConflict
	}
	e.Version++
	m.rows[key] = e
	return e, nil
}

func (m *memEntitlements) all(match func(domain.Entitlement) bool) []domain.Entitlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Entitlement
	for _, e := range m.rows {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memEntitlements) ListByTenant(ctx context.Context, tenantID int64) ([]domain.ModuleEntitlement, error) {
	var out []domain.ModuleEntitlement
	for _, e := range m.all(func(e domain.Entitlement) bool { return e.TenantID == tenantID }) {
		mod, err := m.modules.Get(ctx, e.ModuleID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.ModuleEntitlement{Entitlement: e, Module: mod})
	}
	return out, nil
}

func (m *memEntitlements) ListBySubscription(_ context.Context, ref string) ([]domain.Entitlement, error) {
	return m.all(func(e domain.Entitlement) bool { return e.SubscriptionRef == ref }), nil
}

func (m *memEntitlements) ListDue(_ context.Context, now time.Time) ([]domain.Entitlement, error) {
	return m.all(func(e domain.Entitlement) bool {
		switch e.Status {
		case domain.EntitlementActive:
			return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
		case domain.EntitlementExpired:
			return true
		}
		return false
	}), nil
}

func (m *memEntitlements) Stats(_ context.Context) (domain.EntitlementStats, error) {
	stats := domain.EntitlementStats{ByStatus: make(map[domain.EntitlementStatus]int)}
	for _, e := range m.all(func(domain.Entitlement) bool { return true }) {
		stats.Total++
		stats.ByStatus[e.Status]++
	}
	return stats, nil
}

type memAPIKeys struct {
	mu     sync.Mutex
	nextID int64
	keys   map[int64]domain.APIKey
}

func newMemAPIKeys() *memAPIKeys {
	return &memAPIKeys{keys: make(map[int64]domain.APIKey)}
}

func (m *memAPIKeys) Create(_ context.Context, k domain.APIKey) (domain.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	k.ID = m.nextID
	m.keys[k.ID] = k
	return k, nil
}

func (m *memAPIKeys) GetByKey(_ context.Context, key string) (domain.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.Key == key {
			return k, nil
		}
	}
	return domain.APIKey{}, domain.ErrAPIKeyNotFound
}

func (m *memAPIKeys) ListByTenant(_ context.Context, tenantID int64) ([]domain.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.APIKey
	for _, k := range m.keys {
		if k.TenantID == tenantID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memAPIKeys) Revoke(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return domain.ErrAPIKeyNotFound
	}
	k.Status = domain.APIKeyRevoked
	m.keys[id] = k
	return nil
}

func (m *memAPIKeys) TouchLastUsed(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return domain.ErrAPIKeyNotFound
	}
	k.LastUsed = &at
	m.keys[id] = k
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Record(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) List(_ context.Context, tenantID int64, limit int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.TenantID != nil && *e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type memLedger struct {
	mu     sync.Mutex
	orders map[string]domain.ProcessedOrder
}

func newMemLedger() *memLedger {
	return &memLedger{orders: make(map[string]domain.ProcessedOrder)}
}

func (m *memLedger) IsProcessed(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.orders[ref]
	return ok, nil
}

func (m *memLedger) MarkProcessed(_ context.Context, o domain.ProcessedOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderRef] = o
	return nil
}

type memCredentials struct {
	mu    sync.Mutex
	creds map[int64]domain.DatabaseCredentials
	fail  error
}

func newMemCredentials() *memCredentials {
	return &memCredentials{creds: make(map[int64]domain.DatabaseCredentials)}
}

func (m *memCredentials) Put(_ context.Context, tenantID int64, c domain.DatabaseCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.creds[tenantID] = c
	return nil
}

func (m *memCredentials) Get(_ context.Context, tenantID int64) (domain.DatabaseCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[tenantID]
	if !ok {
		return domain.DatabaseCredentials{}, domain.ErrCredentialsNotFound
	}
	return c, nil
}

func (m *memCredentials) Delete(_ context.Context, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[tenantID]; !ok {
		return domain.ErrCredentialsNotFound
	}
	delete(m.creds, tenantID)
	return nil
}

type fakeDatabases struct {
	mu         sync.Mutex
	created    map[string]bool
	destroyed  []string
	createErr  error
	destroyErr error
	backupErr  error
	calls      int
	sizes      map[string]int64
}

func newFakeDatabases() *fakeDatabases {
	return &fakeDatabases{created: make(map[string]bool), sizes: make(map[string]int64)}
}

func (f *fakeDatabases) CreateDatabase(_ context.Context, name, username string) (domain.DatabaseCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return domain.DatabaseCredentials{}, f.createErr
	}
	if username == "" {
		username = domain.DatabaseUser(name)
	}
	f.created[name] = true
	return domain.DatabaseCredentials{Database: name, Username: username, Password: "secret"}, nil
}

func (f *fakeDatabases) DestroyDatabase(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyErr != nil {
		return f.destroyErr
	}
	delete(f.created, name)
	f.destroyed = append(f.destroyed, name)
	return nil
}

func (f *fakeDatabases) Backup(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backupErr != nil {
		return "", f.backupErr
	}
	if !f.created[name] {
		return "", domain.ErrDatabaseNotFound
	}
	return "/backups/" + name + ".sql", nil
}

func (f *fakeDatabases) Size(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.created[name] {
		return 0, domain.ErrDatabaseNotFound
	}
	return f.sizes[name], nil
}

func (f *fakeDatabases) exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[name]
}

type sentNotification struct {
	event     domain.NotificationEvent
	recipient string
	data      map[string]any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Send(_ context.Context, event domain.NotificationEvent, recipient string, data map[string]any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{event: event, recipient: recipient, data: data})
	return true
}

func (n *recordingNotifier) events() []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationEvent, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.event
	}
	return out
}

func (n *recordingNotifier) has(event domain.NotificationEvent) bool {
	return slices.Contains(n.events(), event)
}

type countingTrigger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTrigger) TriggerPass(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

type fakeGateway struct {
	orders        map[string]domain.Order
	subscriptions map[string]domain.Subscription
}

func (g *fakeGateway) Order(_ context.Context, ref string) (domain.Order, error) {
	o, ok := g.orders[ref]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: not found", ref)
	}
	return o, nil
}

func (g *fakeGateway) Subscription(_ context.Context, ref string) (domain.Subscription, error) {
	s, ok := g.subscriptions[ref]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("subscription %s: not found", ref)
	}
	return s, nil
}

// fakeTokens hands out opaque tokens and checks expiry against the clock.
type fakeTokens struct {
	mu     sync.Mutex
	now    func() time.Time
	issued map[string]domain.SessionClaims
}

func newFakeTokens(now func() time.Time) *fakeTokens {
	return &fakeTokens{now: now, issued: make(map[string]domain.SessionClaims)}
}

func (f *fakeTokens) Issue(c domain.SessionClaims) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := fmt.Sprintf("tok-%d", len(f.issued)+1)
	f.issued[tok] = c
	return tok, nil
}

func (f *fakeTokens) Parse(token string) (domain.SessionClaims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.issued[token]
	if !ok {
		return domain.SessionClaims{}, errors.New("unknown token")
	}
	if f.now().After(c.ExpiresAt) {
		return domain.SessionClaims{}, errors.New("token expired")
	}
	return c, nil
}

type countingLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	if l.counts[key] >= limit {
		return false, nil
	}
	l.counts[key]++
	return true, nil
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
