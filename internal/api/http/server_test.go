package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/nestfind/nestfind/internal/api/http"
	appAudit "github.com/nestfind/nestfind/internal/application/audit"
	appAuth "github.com/nestfind/nestfind/internal/application/auth"
	"github.com/nestfind/nestfind/internal/application/orchestrator"
	appUser "github.com/nestfind/nestfind/internal/application/user"
	"github.com/nestfind/nestfind/internal/infrastructure/memory"
	"github.com/nestfind/nestfind/internal/infrastructure/metrics"
)

const password = "Corr3ct-Horse!"

type recordingNotifier struct {
	messages []orchestrator.Message
}

func (n *recordingNotifier) Deliver(_ context.Context, msgs []orchestrator.Message) error {
	n.messages = append(n.messages, msgs...)
	return nil
}

type apiHarness struct {
	t        *testing.T
	handler  http.Handler
	notifier *recordingNotifier
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	log := zerolog.Nop()
	st := memory.NewStore()
	policy := orchestrator.DefaultPolicy()
	reg, err := orchestrator.BuildRegistry(policy)
	require.NoError(t, err)
	collector := metrics.New()
	orch := orchestrator.New(st, reg, policy, log,
		orchestrator.WithSigningKey([]byte("test-signing-key")),
		orchestrator.WithObserver(collector),
	)
	notifier := &recordingNotifier{}
	srv := httpapi.NewServer(
		orch,
		appAudit.NewService(st.Audit(), []byte("test-signing-key"), log),
		appAuth.NewService(st.Users(), st.Sessions(), time.Hour, log),
		appUser.NewService(st.Users(), log),
		log,
		httpapi.WithMetrics(collector.Handler()),
		httpapi.WithNotifier(notifier),
	)
	return &apiHarness{t: t, handler: srv.Router(), notifier: notifier}
}

func (h *apiHarness) do(method, path, token string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// signup registers (or bootstraps) an account and returns its session token.
func (h *apiHarness) signup(path, username, role string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, path, "", map[string]interface{}{
		"username":  username,
		"password":  password,
		"full_name": username,
		"email":     username + "@example.com",
		"role":      role,
	}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return h.login(username)
}

func (h *apiHarness) login(username string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": username, "password": password}, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(h.t, rec)["session_token"].(string)
}

func (h *apiHarness) fire(token, kind, id, trigger string, payload interface{}) map[string]interface{} {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/"+kind+"/"+id+"/"+trigger, token, payload, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, "%s %s: %s", kind, trigger, rec.Body.String())
	return decode(h.t, rec)
}

type actors struct {
	admin, seller, buyer, agent string
	agentID                     string
}

func (h *apiHarness) onboard() actors {
	h.t.Helper()
	var a actors
	a.admin = h.signup("/v1/auth/bootstrap", "root.admin", "")
	a.seller = h.signup("/v1/auth/register", "sam.seller", "SELLER")
	a.buyer = h.signup("/v1/auth/register", "bea.buyer", "BUYER")
	a.agent = h.signup("/v1/auth/register", "ari.agent", "BUYER")

	rec := h.do(http.MethodPost, "/v1/agent-applications", a.agent, map[string]interface{}{
		"license_number":   "RERA-PN-77",
		"agency":           "Lakeside Realty",
		"years_experience": 6,
	}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	appID := decode(h.t, rec)["entity_id"].(string)
	h.fire(a.admin, "agent-applications", appID, "verify_documents", nil)
	h.fire(a.admin, "agent-applications", appID, "approve", nil)

	me := h.do(http.MethodGet, "/v1/auth/me", a.agent, nil, nil)
	require.Equal(h.t, http.StatusOK, me.Code)
	body := decode(h.t, me)
	require.Equal(h.t, "AGENT", body["role"])
	a.agentID = body["userId"].(string)
	return a
}

func (h *apiHarness) listing(a actors) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/properties", a.seller, map[string]interface{}{
		"title":         "Garden flat",
		"description":   "Ground floor with a lawn.",
		"property_type": "APARTMENT",
		"price":         180000,
		"address": map[string]interface{}{
			"line1": "4 Lake View", "locality": "Aundh", "city": "Pune",
			"region": "MH", "country": "IN", "latitude": 18.56, "longitude": 73.80,
		},
		"media": []map[string]interface{}{{"url": "https://cdn.example.com/g/1.jpg"}},
	}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(h.t, `"1"`, rec.Header().Get("ETag"))
	id := decode(h.t, rec)["entity_id"].(string)

	h.fire(a.seller, "properties", id, "submit", nil)
	h.fire(a.admin, "properties", id, "assign_agent", map[string]string{"agent_id": a.agentID})
	h.fire(a.agent, "properties", id, "start_verification", nil)
	h.fire(a.agent, "properties", id, "verify", nil)
	return id
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBootstrapOnlyOnce(t *testing.T) {
	h := newAPIHarness(t)
	h.signup("/v1/auth/bootstrap", "root.admin", "")

	rec := h.do(http.MethodPost, "/v1/auth/bootstrap", "", map[string]interface{}{
		"username": "second.admin", "password": password,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decode(t, rec)["error_code"])
}

func TestRegisterRejectsAgentRole(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(http.MethodPost, "/v1/auth/register", "", map[string]interface{}{
		"username": "eve.agent", "password": password, "role": "AGENT",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["error_code"])
}

func TestLoginFailureIsUnauthenticated(t *testing.T) {
	h := newAPIHarness(t)
	h.signup("/v1/auth/register", "bea.buyer", "BUYER")
	rec := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "bea.buyer", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newAPIHarness(t)
	token := h.signup("/v1/auth/register", "bea.buyer", "BUYER")
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/v1/auth/logout", token, nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/auth/me", token, nil, nil).Code)
}

func TestAnonymousReadsActAsPublic(t *testing.T) {
	h := newAPIHarness(t)
	a := h.onboard()
	id := h.listing(a)

	rec := h.do(http.MethodGet, "/v1/properties/"+id, "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "ACTIVE", body["status"])
	vis := body["visibility"].(map[string]interface{})
	assert.Equal(t, true, vis["visible"])
	assert.Equal(t, false, vis["exact_address"])
	assert.Empty(t, body["allowed_actions"])
	addr := body["address"].(map[string]interface{})
	assert.NotContains(t, addr, "line1")

	draft := h.do(http.MethodPost, "/v1/properties", a.seller, map[string]interface{}{"title": "Unfinished"}, nil)
	require.Equal(t, http.StatusCreated, draft.Code)
	draftID := decode(t, draft)["entity_id"].(string)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/properties/"+draftID, "", nil, nil).Code)
}

func TestMutationsRequireSession(t *testing.T) {
	h := newAPIHarness(t)
	a := h.onboard()
	id := h.listing(a)

	rec := h.do(http.MethodPost, "/v1/properties/"+id+"/deactivate", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTriggerErrorsCarryState(t *testing.T) {
	h := newAPIHarness(t)
	a := h.onboard()
	id := h.listing(a)

	rec := h.do(http.MethodPost, "/v1/properties/"+id+"/submit", a.seller, nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "INVALID_TRANSITION", body["error_code"])
	assert.Equal(t, "ACTIVE", body["current_state"])
	assert.Contains(t, body["valid_triggers"], "deactivate")

	rec = h.do(http.MethodPost, "/v1/properties/"+id+"/deactivate", a.buyer, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/widgets/"+id+"/deactivate", a.seller, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPost, "/v1/properties/not-a-uuid/deactivate", a.seller, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIfMatchGuardsVersion(t *testing.T) {
	h := newAPIHarness(t)
	a := h.onboard()
	id := h.listing(a)

	get := h.do(http.MethodGet, "/v1/properties/"+id, a.seller, nil, nil)
	require.Equal(t, http.StatusOK, get.Code)
	tag := get.Header().Get("ETag")
	version, err := strconv.Atoi(tag[1 : len(tag)-1])
	require.NoError(t, err)

	stale := http.Header{"If-Match": []string{etagOf(version - 1)}}
	rec := h.do(http.MethodPost, "/v1/properties/"+id+"/deactivate", a.seller, nil, stale)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	fresh := http.Header{"If-Match": []string{tag}}
	rec = h.do(http.MethodPost, "/v1/properties/"+id+"/deactivate", a.seller, nil, fresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "INACTIVE", body["status"])
	assert.Equal(t, "ACTIVE", body["prior_status"])
	assert.Equal(t, "INACTIVE", body["new_status"])
	assert.Equal(t, id, body["propertyId"], "entity fields sit beside the envelope")
	assert.NotContains(t, body, "data")
	assert.Equal(t, etagOf(version+1), rec.Header().Get("ETag"))

	bad := http.Header{"If-Match": []string{"*"}}
	rec = h.do(http.MethodPost, "/v1/properties/"+id+"/reactivate", a.seller, nil, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func etagOf(v int) string {
	return `"` + strconv.Itoa(v) + `"`
}

func TestOfferAcceptanceReservesListing(t *testing.T) {
	h := newAPIHarness(t)
	a := h.onboard()
	id := h.listing(a)

	rec := h.do(http.MethodPost, "/v1/properties/"+id+"/offers", a.buyer, map[string]interface{}{"amount": 175000}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	offerID := decode(t, rec)["entity_id"].(string)

	dup := h.do(http.MethodPost, "/v1/properties/"+id+"/offers", a.buyer, map[string]interface{}{"amount": 176000}, nil)
	assert.Equal(t, http.StatusConflict, dup.Code, dup.Body.String())

	res := h.fire(a.seller, "offers", offerID, "accept", nil)
	assert.Equal(t, "ACCEPTED", res["status"])

	prop := h.do(http.MethodGet, "/v1/properties/"+id, a.buyer, nil, nil)
	require.Equal(t, http.StatusOK, prop.Code)
	assert.Equal(t, "RESERVED", decode(t, prop)["status"])
}

func TestAuditQueryAndVerify(t *testing.T) {
	h := newAPIHarness(t)
	a := h.onboard()
	id := h.listing(a)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/v1/audit", "", nil, nil).Code)

	rec := h.do(http.MethodGet, "/v1/audit?entity_type=PROPERTY&entity_id="+id+"&page_size=2", a.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode(t, rec)
	assert.Equal(t, float64(5), page["total"])
	entries := page["entries"].([]interface{})
	require.Len(t, entries, 2)

	raw, err := json.Marshal(entries[0])
	require.NoError(t, err)
	var entry struct {
		AuditID string `json:"auditId"`
	}
	require.NoError(t, json.Unmarshal(raw, &entry))
	require.NotEmpty(t, entry.AuditID)

	rec = h.do(http.MethodGet, "/v1/audit/"+entry.AuditID+"/verify", a.admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["verified"])

	rec = h.do(http.MethodGet, "/v1/audit/"+entry.AuditID+"/verify", a.seller, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodGet, "/v1/audit", a.buyer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["total"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	h.onboard()
	rec := h.do(http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nestfind_transitions_total")
}
