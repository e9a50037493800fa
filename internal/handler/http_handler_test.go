package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-shop-accounts/internal/metrics"
	"github.com/pesio-ai/be-shop-accounts/internal/repository"
	"github.com/pesio-ai/be-shop-accounts/internal/service"
	jwtpkg "github.com/pesio-ai/be-shop-accounts/pkg/jwt"
	"github.com/pesio-ai/be-shop-accounts/pkg/logger"
	"github.com/pesio-ai/be-shop-accounts/pkg/password"
)

var (
	keysOnce          sync.Once
	testPriv, testPub string
	keysErr           error
)

func testSessions(t *testing.T) *jwtpkg.Manager {
	t.Helper()
	keysOnce.Do(func() {
		testPriv, testPub, keysErr = jwtpkg.GenerateKeyPair()
	})
	require.NoError(t, keysErr)

	m, err := jwtpkg.NewManager(testPriv, testPub, time.Hour)
	require.NoError(t, err)
	return m
}

func newTestServer(t *testing.T, seed bool) http.Handler {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	if seed {
		require.NoError(t, store.SeedDefaults(ctx))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	params := &password.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	accounts := service.NewAccountService(store, params, repository.RoleCustomer, m, logger.Nop())

	h := NewHTTPHandler(accounts, store, testSessions(t), m, reg, false, logger.Nop())
	return h.Routes()
}

const registerBody = `{
	"email": "a@x.com",
	"full_name": "A B",
	"birth_date": "2000-01-01",
	"gender": "female",
	"password": "secret123",
	"confirm_password": "secret123"
}`

func do(t *testing.T, srv http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func cookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHomeListsProducts(t *testing.T) {
	srv := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/115.0")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Welcome, Firefox desktop user!", body["greeting"])
	assert.Len(t, body["products"], 3)
	assert.NotContains(t, body, "flash")
	assert.NotContains(t, body, "user")
}

func TestRegisterCreatesAccountAndFlashes(t *testing.T) {
	srv := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decode(t, rec)["user_id"])

	flash := cookie(rec, flashCookie)
	require.NotNil(t, flash)

	home := do(t, srv, http.MethodGet, "/", "", flash)
	body := decode(t, home)
	require.Contains(t, body, "flash")
	assert.Equal(t, "success", body["flash"].(map[string]interface{})["category"])

	cleared := cookie(home, flashCookie)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)
}

func TestRegisterValidationErrorsKeepFieldOrder(t *testing.T) {
	srv := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/register", `{"email":"ax.com","password":"1234567","confirm_password":"nope"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body struct {
		Errors []struct {
			Field    string   `json:"field"`
			Messages []string `json:"messages"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	var fields []string
	for _, e := range body.Errors {
		fields = append(fields, e.Field)
	}
	assert.Equal(t, []string{"email", "full_name", "birth_date", "gender", "password", "confirm_password"}, fields)
	assert.Equal(t, []string{"Invalid email address."}, body.Errors[0].Messages)
	assert.Equal(t, []string{"Must be at least 8 characters long."}, body.Errors[4].Messages)
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	srv := newTestServer(t, true)

	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/register", registerBody).Code)

	upper := strings.Replace(registerBody, "a@x.com", "A@X.COM", 1)
	rec := do(t, srv, http.MethodPost, "/register", upper)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already registered", decode(t, rec)["error"])
	assert.NotNil(t, cookie(rec, flashCookie))
}

func TestRegisterWithoutSeededRoleIsGenericServerError(t *testing.T) {
	srv := newTestServer(t, false)

	rec := do(t, srv, http.MethodPost, "/register", registerBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "Customer")
}

func TestRegisterRejectsMalformedJSON(t *testing.T) {
	srv := newTestServer(t, true)
	rec := do(t, srv, http.MethodPost, "/register", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginSetsSessionAndProfileShowsOwnerFields(t *testing.T) {
	srv := newTestServer(t, true)

	reg := do(t, srv, http.MethodPost, "/register", registerBody)
	require.Equal(t, http.StatusCreated, reg.Code)
	userID := decode(t, reg)["user_id"].(string)

	login := do(t, srv, http.MethodPost, "/login", `{"email":"A@x.com","password":"secret123"}`)
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	assert.Equal(t, userID, decode(t, login)["user_id"])

	session := cookie(login, sessionCookie)
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	home := decode(t, do(t, srv, http.MethodGet, "/", "", session))
	require.Contains(t, home, "user")
	assert.Equal(t, "a@x.com", home["user"].(map[string]interface{})["email"])

	own := decode(t, do(t, srv, http.MethodGet, "/users/"+userID, "", session))
	assert.Equal(t, "a@x.com", own["email"])
	assert.Equal(t, "2000-01-01", own["birth_date"])
	roles := own["roles"].([]interface{})
	require.Len(t, roles, 1)
	assert.Equal(t, "Customer", roles[0].(map[string]interface{})["name"])

	public := decode(t, do(t, srv, http.MethodGet, "/users/"+userID, ""))
	assert.Equal(t, "A B", public["full_name"])
	assert.NotContains(t, public, "email")
	assert.NotContains(t, public, "birth_date")
}

func TestLoginFailuresShareOneResponse(t *testing.T) {
	srv := newTestServer(t, true)
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/register", registerBody).Code)

	wrong := do(t, srv, http.MethodPost, "/login", `{"email":"a@x.com","password":"wrong"}`)
	unknown := do(t, srv, http.MethodPost, "/login", `{"email":"nobody@x.com","password":"secret123"}`)

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.JSONEq(t, `{"error":"invalid email or password"}`, wrong.Body.String())
	assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())
	assert.Nil(t, cookie(wrong, sessionCookie))
}

func TestLoginRequiresFields(t *testing.T) {
	srv := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/login", `{"email":"","password":""}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"email"`)
	assert.Contains(t, rec.Body.String(), `"field":"password"`)
}

func TestLogoutExpiresSession(t *testing.T) {
	srv := newTestServer(t, true)

	rec := do(t, srv, http.MethodPost, "/logout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	session := cookie(rec, sessionCookie)
	require.NotNil(t, session)
	assert.Less(t, session.MaxAge, 0)
}

func TestErrorPagesAreJSON(t *testing.T) {
	srv := newTestServer(t, true)

	missing := do(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.JSONEq(t, `{"error":"not found"}`, missing.Body.String())

	wrongMethod := do(t, srv, http.MethodGet, "/register", "")
	assert.Equal(t, http.StatusMethodNotAllowed, wrongMethod.Code)
	assert.JSONEq(t, `{"error":"method not allowed"}`, wrongMethod.Body.String())

	unknownUser := do(t, srv, http.MethodGet, "/users/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, unknownUser.Code)
}

func TestRecovererRendersJSON500(t *testing.T) {
	h := recoverer(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, true)

	health := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())

	do(t, srv, http.MethodPost, "/register", registerBody)
	m := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), `shop_accounts_registrations_total{status="success"} 1`)
	assert.Contains(t, m.Body.String(), "shop_accounts_http_requests_total")
}
