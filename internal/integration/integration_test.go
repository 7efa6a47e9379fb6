//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/nestfind/nestfind/internal/api/http"
	"github.com/nestfind/nestfind/internal/application/audit"
	"github.com/nestfind/nestfind/internal/application/auth"
	"github.com/nestfind/nestfind/internal/application/expiry"
	"github.com/nestfind/nestfind/internal/application/orchestrator"
	"github.com/nestfind/nestfind/internal/application/user"
	"github.com/nestfind/nestfind/internal/infrastructure/postgres"
)

const auditKeyHex = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
const testPassword = "S3cure!Passw0rd"

type env struct {
	t      *testing.T
	pool   *pgxpool.Pool
	server *httptest.Server
	sched  *expiry.Scheduler

	mu  sync.Mutex
	now time.Time
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dsn := testDatabaseURL(t)
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "db pool")
	t.Cleanup(pool.Close)

	_, err = postgres.RunMigrations(ctx, pool, filepath.Join(repoRoot(t), "migrations"))
	require.NoError(t, err, "migrations")
	require.NoError(t, resetDatabase(ctx, pool), "reset db")

	e := &env{t: t, pool: pool, now: time.Now().UTC()}
	logger := zerolog.Nop()
	key := mustDecodeHex(t, auditKeyHex)

	st := postgres.NewStore(pool)
	userRepo := postgres.NewUserRepository(pool)
	policy := orchestrator.DefaultPolicy()
	reg, err := orchestrator.BuildRegistry(policy)
	require.NoError(t, err)
	orch := orchestrator.New(st, reg, policy, logger,
		orchestrator.WithSigningKey(key),
		orchestrator.WithLockTimeout(2*time.Second),
		orchestrator.WithClock(e.clock),
	)
	e.sched = expiry.New(st, orch, expiry.Config{}, logger, expiry.WithClock(e.clock))

	apiServer := httpapi.NewServer(
		orch,
		audit.NewService(postgres.NewAuditRepository(pool), key, logger),
		auth.NewService(userRepo, postgres.NewSessionRepository(pool), 24*time.Hour, logger),
		user.NewService(userRepo, logger),
		logger,
	)
	e.server = httptest.NewServer(apiServer.Router())
	t.Cleanup(e.server.Close)
	return e
}

func (e *env) call(method, path, token string, body interface{}) (int, map[string]interface{}) {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (e *env) must(method, path, token string, body interface{}, want int) map[string]interface{} {
	e.t.Helper()
	code, out := e.call(method, path, token, body)
	require.Equal(e.t, want, code, "%s %s: %v", method, path, out)
	return out
}

func (e *env) signup(path, username, role string) string {
	e.t.Helper()
	e.must(http.MethodPost, path, "", map[string]string{
		"username": username, "password": testPassword, "full_name": username,
		"email": username + "@example.com", "role": role,
	}, http.StatusCreated)
	out := e.must(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": username, "password": testPassword}, http.StatusOK)
	return out["session_token"].(string)
}

type cast struct {
	admin, seller, buyer, rival, agent string
	agentID                            string
}

func (e *env) onboard() cast {
	e.t.Helper()
	c := cast{
		admin:  e.signup("/v1/auth/bootstrap", "root.admin", ""),
		seller: e.signup("/v1/auth/register", "sam.seller", "SELLER"),
		buyer:  e.signup("/v1/auth/register", "bea.buyer", "BUYER"),
		rival:  e.signup("/v1/auth/register", "rui.buyer", "BUYER"),
		agent:  e.signup("/v1/auth/register", "ari.agent", "BUYER"),
	}
	app := e.must(http.MethodPost, "/v1/agent-applications", c.agent, map[string]interface{}{
		"license_number": "RERA-PN-77", "agency": "Lakeside Realty", "years_experience": 6,
	}, http.StatusCreated)
	appID := app["entity_id"].(string)
	e.must(http.MethodPost, "/v1/agent-applications/"+appID+"/verify_documents", c.admin, nil, http.StatusOK)
	e.must(http.MethodPost, "/v1/agent-applications/"+appID+"/approve", c.admin, nil, http.StatusOK)
	me := e.must(http.MethodGet, "/v1/auth/me", c.agent, nil, http.StatusOK)
	require.Equal(e.t, "AGENT", me["role"])
	c.agentID = me["userId"].(string)
	return c
}

func (e *env) listing(c cast) string {
	e.t.Helper()
	out := e.must(http.MethodPost, "/v1/properties", c.seller, map[string]interface{}{
		"title": "Garden flat", "description": "Ground floor with a lawn.",
		"property_type": "APARTMENT", "price": 180000,
		"address": map[string]interface{}{
			"line1": "4 Lake View", "locality": "Aundh", "city": "Pune",
			"region": "MH", "country": "IN", "latitude": 18.56, "longitude": 73.80,
		},
		"media": []map[string]interface{}{{"url": "https://cdn.example.com/g/1.jpg"}},
	}, http.StatusCreated)
	id := out["entity_id"].(string)
	e.must(http.MethodPost, "/v1/properties/"+id+"/submit", c.seller, nil, http.StatusOK)
	e.must(http.MethodPost, "/v1/properties/"+id+"/assign_agent", c.admin, map[string]string{"agent_id": c.agentID}, http.StatusOK)
	e.must(http.MethodPost, "/v1/properties/"+id+"/start_verification", c.agent, nil, http.StatusOK)
	e.must(http.MethodPost, "/v1/properties/"+id+"/verify", c.agent, nil, http.StatusOK)
	return id
}

func (e *env) offer(token, propertyID string, amount int) string {
	e.t.Helper()
	out := e.must(http.MethodPost, "/v1/properties/"+propertyID+"/offers", token, map[string]interface{}{"amount": amount}, http.StatusCreated)
	return out["entity_id"].(string)
}

func (e *env) status(token, kind, id string) string {
	e.t.Helper()
	return e.must(http.MethodGet, "/v1/"+kind+"/"+id, token, nil, http.StatusOK)["status"].(string)
}

func (e *env) latestReservation(admin string) string {
	e.t.Helper()
	page := e.must(http.MethodGet, "/v1/audit?entity_type=RESERVATION&page_size=1", admin, nil, http.StatusOK)
	entries := page["entries"].([]interface{})
	require.NotEmpty(e.t, entries)
	return entries[0].(map[string]interface{})["entityId"].(string)
}

func TestListingToSaleIntegration(t *testing.T) {
	e := newEnv(t)
	c := e.onboard()
	pid := e.listing(c)

	winner := e.offer(c.buyer, pid, 175000)
	loser := e.offer(c.rival, pid, 170000)
	e.must(http.MethodPost, "/v1/offers/"+winner+"/accept", c.seller, nil, http.StatusOK)

	assert.Equal(t, "REJECTED", e.status(c.rival, "offers", loser))
	assert.Equal(t, "RESERVED", e.status(c.buyer, "properties", pid))

	rid := e.latestReservation(c.admin)
	assert.Equal(t, "ACTIVE", e.status(c.buyer, "reservations", rid))
	e.must(http.MethodPost, "/v1/reservations/"+rid+"/convert", c.agent, nil, http.StatusOK)

	assert.Equal(t, "SOLD", e.status(c.seller, "properties", pid))
	assert.Equal(t, "COMPLETED", e.status(c.buyer, "offers", winner))

	page := e.must(http.MethodGet, "/v1/audit?entity_type=PROPERTY&entity_id="+pid+"&page_size=1", c.admin, nil, http.StatusOK)
	entry := page["entries"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "SOLD", entry["newState"])
	verified := e.must(http.MethodGet, "/v1/audit/"+entry["auditId"].(string)+"/verify", c.admin, nil, http.StatusOK)
	assert.Equal(t, true, verified["verified"])
}

func TestConcurrentAcceptsReserveOnce(t *testing.T) {
	e := newEnv(t)
	c := e.onboard()
	pid := e.listing(c)
	first := e.offer(c.buyer, pid, 175000)
	second := e.offer(c.rival, pid, 176000)

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i, id := range []string{first, second} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			codes[i], _ = e.call(http.MethodPost, "/v1/offers/"+id+"/accept", c.seller, nil)
		}(i, id)
	}
	wg.Wait()

	ok := 0
	for _, code := range codes {
		if code == http.StatusOK {
			ok++
			continue
		}
		assert.Contains(t, []int{http.StatusConflict, http.StatusUnprocessableEntity}, code)
	}
	assert.Equal(t, 1, ok, "exactly one acceptance wins: %v", codes)
	assert.Equal(t, "RESERVED", e.status(c.seller, "properties", pid))

	var active int
	require.NoError(t, e.pool.QueryRow(context.Background(),
		`SELECT count(*) FROM reservations WHERE property_id = $1 AND status = 'ACTIVE'`, pid).Scan(&active))
	assert.Equal(t, 1, active)
}

func TestReservationExpirySweepIntegration(t *testing.T) {
	e := newEnv(t)
	c := e.onboard()
	pid := e.listing(c)
	oid := e.offer(c.buyer, pid, 175000)
	e.must(http.MethodPost, "/v1/offers/"+oid+"/accept", c.seller, nil, http.StatusOK)
	rid := e.latestReservation(c.admin)

	e.advance(orchestrator.DefaultPolicy().ReservationWindow + time.Minute)
	report, err := e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	assert.Equal(t, "EXPIRED", e.status(c.buyer, "reservations", rid))
	assert.Equal(t, "ACTIVE", e.status(c.seller, "properties", pid))

	report, err = e.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Applied)
}

func TestAuditLogIsAppendOnly(t *testing.T) {
	e := newEnv(t)
	e.onboard()
	ctx := context.Background()

	_, err := e.pool.Exec(ctx, `UPDATE audit_logs SET action = 'tampered'`)
	assert.Error(t, err)
	_, err = e.pool.Exec(ctx, `DELETE FROM audit_logs`)
	assert.Error(t, err)
	_, err = e.pool.Exec(ctx, `TRUNCATE audit_logs`)
	assert.Error(t, err)
}

func testDatabaseURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	t.Skip("TEST_DATABASE_URL not set; skipping integration tests")
	return ""
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

// resetDatabase empties every table. The append-only triggers are lifted for
// the duration of the statement.
func resetDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	stmts := []string{
		`ALTER TABLE audit_logs DISABLE TRIGGER USER`,
		`TRUNCATE TABLE
			audit_logs,
			reservations,
			offers,
			visits,
			properties,
			agent_applications,
			sessions,
			users
		RESTART IDENTITY CASCADE`,
		`ALTER TABLE audit_logs ENABLE TRIGGER USER`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func mustDecodeHex(t *testing.T, value string) []byte {
	t.Helper()
	b, err := hex.DecodeString(value)
	require.NoError(t, err)
	return b
}
