package app_test

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/neomorfeo/tenantgate/internal/adapter/fsm"
	"github.com/neomorfeo/tenantgate/internal/app"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// env wires every service against in-memory stores.
type env struct {
	clock        *clock
	tenants      *memTenants
	identity     *memIdentity
	queueItems   *memQueue
	leases       *memLeases
	modules      *memModules
	entitlements *memEntitlements
	keys         *memAPIKeys
	audit        *memAudit
	ledger       *memLedger
	credentials  *memCredentials
	databases    *fakeDatabases
	notifier     *recordingNotifier
	trigger      *countingTrigger
	gateway      *fakeGateway
	tokens       *fakeTokens
	limiter      *countingLimiter

	provisioning *app.Provisioning
	queue        *app.ProvisioningQueue
	registry     *app.Registry
	manager      *app.EntitlementManager
	orders       *app.OrderEvents
	access       *app.AccessService
}

type envConfig struct {
	autoProvision bool
	queue         app.QueueSettings
	graceDays     int
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()

	e := &env{
		clock:       newClock(epoch),
		tenants:     newMemTenants(),
		identity:    newMemIdentity(),
		queueItems:  newMemQueue(),
		leases:      newMemLeases(),
		modules:     newMemModules(),
		keys:        newMemAPIKeys(),
		audit:       &memAudit{},
		ledger:      newMemLedger(),
		credentials: newMemCredentials(),
		databases:   newFakeDatabases(),
		notifier:    &recordingNotifier{},
		trigger:     &countingTrigger{},
		gateway:     &fakeGateway{},
		limiter:     &countingLimiter{},
	}
	e.entitlements = newMemEntitlements(e.modules)
	e.tokens = newFakeTokens(e.clock.Now)

	if cfg.queue == (app.QueueSettings{}) {
		cfg.queue = app.DefaultQueueSettings()
	}

	opts := []app.Option{app.WithLogger(zaptest.NewLogger(t)), app.WithClock(e.clock.Now)}
	transitions := fsm.NewTenant()

	e.provisioning = app.NewProvisioning(e.tenants, transitions, e.databases, e.credentials, e.audit, e.notifier, opts...)
	e.queue = app.NewProvisioningQueue(e.queueItems, e.leases, e.provisioning, e.notifier, e.trigger, cfg.queue, opts...)
	e.registry = app.NewRegistry(app.RegistryDeps{
		Tenants:      e.tenants,
		Identity:     e.identity,
		Validator:    app.NewValidator(e.identity, e.tenants, ".example.com"),
		Transitions:  transitions,
		Provisioning: e.provisioning,
		Queue:        e.queue,
		Audit:        e.audit,
		Notifier:     e.notifier,
	}, app.TenantSettings{
		SubdomainSuffix: ".example.com",
		DatabasePrefix:  "tg_",
		StorageLimit:    5 << 30,
		UserLimit:       10,
		AutoProvision:   cfg.autoProvision,
		DefaultPriority: 10,
	}, opts...)
	e.manager = app.NewEntitlementManager(e.modules, e.entitlements, e.tenants, fsm.NewEntitlement(), e.audit, cfg.graceDays, opts...)
	e.orders = app.NewOrderEvents(e.gateway, e.ledger, e.identity, e.registry, e.manager, e.notifier, opts...)
	e.access = app.NewAccessService(e.tokens, e.keys, e.identity, e.registry, e.limiter, app.DefaultAccessSettings(), opts...)
	return e
}

func validInput(username string) app.TenantInput {
	return app.TenantInput{
		FullName:    "Ada Lovelace",
		Email:       username + "@analytical.io",
		Username:    username,
		Password:    "Engine-Number-9",
		CompanyName: "Analytical Engines",
		Phone:       "+44 20 7946 0018",
	}
}
