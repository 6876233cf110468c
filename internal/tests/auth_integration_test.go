package tests

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/config"
	"github.com/phonegate/server/internal/db"
	httphandler "github.com/phonegate/server/internal/http"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/repo"

	_ "github.com/lib/pq"
)

func TestMain(m *testing.M) {
	// Set env if unset. Do NOT set DATABASE_URL; integration tests skip if missing.
	if os.Getenv("JWT_SECRET") == "" {
		os.Setenv("JWT_SECRET", "test-jwt-secret-at-least-32-characters-long")
	}

	code := m.Run()
	os.Exit(code)
}

// testServer holds the server and DB for integration tests
type testServer struct {
	Server *httptest.Server
	DB     *sql.DB
	Tokens *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err, "config load must succeed for integration test")

	ctx := context.Background()
	database, err := db.Open(ctx, cfg.DatabaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	err = RunMigrations(database)
	require.NoError(t, err, "migrations must run successfully")

	userRepo := repo.NewUserRepo(database)
	tokenService := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	authService := auth.NewAuthService(tokenService, userRepo)
	userHandler := handlers.NewUserHandler(authService)

	router := httphandler.NewRouter(userHandler, tokenService, userRepo)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testServer{Server: server, DB: database, Tokens: tokenService}
}

func (s *testServer) BaseURL() string { return s.Server.URL }

func (s *testServer) Truncate(t *testing.T) {
	t.Helper()
	require.NoError(t, TruncateUsers(context.Background(), s.DB), "truncate users")
}

// userPayload matches the "user" object in successful responses
type userPayload struct {
	Username    string  `json:"username"`
	PhoneNumber string  `json:"phone_number"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Token       string  `json:"token"`
}

// userEnvelope matches {"user": {...}} response bodies
type userEnvelope struct {
	User userPayload `json:"user"`
}

// errorsEnvelope matches {"errors": {field: [messages]}} response bodies
type errorsEnvelope struct {
	Errors map[string][]string `json:"errors"`
}

// errorResponse matches {"error": message} response bodies
type errorResponse struct {
	Error string `json:"error"`
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func postUser(t *testing.T, client *http.Client, url string, user map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{"user": user})
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func register(t *testing.T, ts *testServer, username, phone, password string) userPayload {
	t.Helper()
	resp := postUser(t, ts.Server.Client(), ts.BaseURL()+"/api/register", map[string]string{
		"username":     username,
		"phone_number": phone,
		"password":     password,
	})
	defer resp.Body.Close()
	body := readBody(resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register must return 201; body: %s", body)
	var env userEnvelope
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	return env.User
}

func TestRegisterValidation(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ts := newTestServer(t)
	client := ts.Server.Client()

	t.Run("invalid phone format", func(t *testing.T) {
		ts.Truncate(t)
		resp := postUser(t, client, ts.BaseURL()+"/api/register", map[string]string{
			"username": "alice", "phone_number": "12345", "password": "secret123",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var env errorsEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Contains(t, env.Errors, "phone_number")
	})

	t.Run("all field errors reported together", func(t *testing.T) {
		ts.Truncate(t)
		resp := postUser(t, client, ts.BaseURL()+"/api/register", map[string]string{
			"username": "", "phone_number": "", "password": "short",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var env errorsEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Contains(t, env.Errors, "username")
		assert.Contains(t, env.Errors, "phone_number")
		assert.Contains(t, env.Errors, "password")
	})

	t.Run("missing user envelope", func(t *testing.T) {
		ts.Truncate(t)
		resp, err := client.Post(ts.BaseURL()+"/api/register", "application/json",
			bytes.NewReader([]byte(`{"username":"alice"}`)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("duplicate phone number", func(t *testing.T) {
		ts.Truncate(t)
		register(t, ts, "alice", "09123456789", "secret123")

		resp := postUser(t, client, ts.BaseURL()+"/api/register", map[string]string{
			"username": "bob", "phone_number": "09123456789", "password": "secret123",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var env errorsEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Contains(t, env.Errors, "phone_number")
		assert.NotContains(t, env.Errors, "username")
	})

	t.Run("duplicate username", func(t *testing.T) {
		ts.Truncate(t)
		register(t, ts, "alice", "09123456789", "secret123")

		resp := postUser(t, client, ts.BaseURL()+"/api/register", map[string]string{
			"username": "alice", "phone_number": "09123456780", "password": "secret123",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var env errorsEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Contains(t, env.Errors, "username")
	})

	t.Run("ten digit phone starting with nine accepted", func(t *testing.T) {
		ts.Truncate(t)
		user := register(t, ts, "carol", "9123456789", "secret123")
		assert.Equal(t, "9123456789", user.PhoneNumber)
	})
}

func TestLogin(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ts := newTestServer(t)
	client := ts.Server.Client()

	t.Run("wrong password and unknown phone fail identically", func(t *testing.T) {
		ts.Truncate(t)
		register(t, ts, "alice", "09123456789", "secret123")

		respWrong := postUser(t, client, ts.BaseURL()+"/api/login", map[string]string{
			"phone_number": "09123456789", "password": "wrongpass1",
		})
		defer respWrong.Body.Close()
		respUnknown := postUser(t, client, ts.BaseURL()+"/api/login", map[string]string{
			"phone_number": "09999999999", "password": "secret123",
		})
		defer respUnknown.Body.Close()

		assert.Equal(t, http.StatusBadRequest, respWrong.StatusCode)
		assert.Equal(t, http.StatusBadRequest, respUnknown.StatusCode)

		var envWrong, envUnknown errorsEnvelope
		require.NoError(t, json.NewDecoder(respWrong.Body).Decode(&envWrong))
		require.NoError(t, json.NewDecoder(respUnknown.Body).Decode(&envUnknown))
		assert.Equal(t, envUnknown.Errors, envWrong.Errors,
			"responses must not reveal whether the account exists")
	})

	t.Run("deactivated account fails with distinct message", func(t *testing.T) {
		ts.Truncate(t)
		register(t, ts, "alice", "09123456789", "secret123")

		_, err := ts.DB.Exec("UPDATE users SET is_active = FALSE WHERE phone_number = $1", "09123456789")
		require.NoError(t, err)

		resp := postUser(t, client, ts.BaseURL()+"/api/login", map[string]string{
			"phone_number": "09123456789", "password": "secret123",
		})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var env errorsEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		require.Contains(t, env.Errors, "non_field_errors")
		assert.Contains(t, env.Errors["non_field_errors"][0], "deactivated")
	})

	t.Run("token subject equals stored user id", func(t *testing.T) {
		ts.Truncate(t)
		user := register(t, ts, "alice", "09123456789", "secret123")

		claims, err := ts.Tokens.Decode(user.Token)
		require.NoError(t, err)

		var storedID string
		require.NoError(t, ts.DB.QueryRow(
			"SELECT id FROM users WHERE phone_number = $1", "09123456789").Scan(&storedID))
		assert.Equal(t, storedID, claims.UserID.String())
	})
}

func TestProtectedRoutes(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ts := newTestServer(t)
	client := ts.Server.Client()

	authedGet := func(t *testing.T, path, token string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ts.BaseURL()+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("no token rejected", func(t *testing.T) {
		ts.Truncate(t)
		resp, err := client.Get(ts.BaseURL() + "/api/user")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("current user with fresh token", func(t *testing.T) {
		ts.Truncate(t)
		registered := register(t, ts, "alice", "09123456789", "secret123")

		resp := authedGet(t, "/api/user", registered.Token)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env userEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Equal(t, "alice", env.User.Username)
		assert.Equal(t, "09123456789", env.User.PhoneNumber)
		require.NotEmpty(t, env.User.Token)

		_, err := ts.Tokens.Decode(env.User.Token)
		assert.NoError(t, err, "profile responses must carry a currently valid token")
	})

	t.Run("users listing is scoped to self", func(t *testing.T) {
		ts.Truncate(t)
		alice := register(t, ts, "alice", "09123456789", "secret123")
		register(t, ts, "bob", "09123456780", "secret123")

		resp := authedGet(t, "/api/users", alice.Token)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var env struct {
			Users []userPayload `json:"users"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		require.Len(t, env.Users, 1)
		assert.Equal(t, "alice", env.Users[0].Username)
	})

	t.Run("retrieve by username only resolves self", func(t *testing.T) {
		ts.Truncate(t)
		alice := register(t, ts, "alice", "09123456789", "secret123")
		register(t, ts, "bob", "09123456780", "secret123")

		respSelf := authedGet(t, "/api/users/alice", alice.Token)
		defer respSelf.Body.Close()
		assert.Equal(t, http.StatusOK, respSelf.StatusCode)

		respOther := authedGet(t, "/api/users/bob", alice.Token)
		defer respOther.Body.Close()
		assert.Equal(t, http.StatusNotFound, respOther.StatusCode)
	})

	t.Run("me endpoint", func(t *testing.T) {
		ts.Truncate(t)
		alice := register(t, ts, "alice", "09123456789", "secret123")

		resp := authedGet(t, "/api/users/me", alice.Token)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var env userEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Equal(t, "alice", env.User.Username)
	})

	t.Run("deleted subject rejected", func(t *testing.T) {
		ts.Truncate(t)
		alice := register(t, ts, "alice", "09123456789", "secret123")

		_, err := ts.DB.Exec("DELETE FROM users WHERE phone_number = $1", "09123456789")
		require.NoError(t, err)

		resp := authedGet(t, "/api/user", alice.Token)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestProfileUpdate(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ts := newTestServer(t)
	client := ts.Server.Client()

	patchUser := func(t *testing.T, token string, user map[string]string) *http.Response {
		t.Helper()
		body, err := json.Marshal(map[string]interface{}{"user": user})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPatch, ts.BaseURL()+"/api/user", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("partial update of names", func(t *testing.T) {
		ts.Truncate(t)
		alice := register(t, ts, "alice", "09123456789", "secret123")

		resp := patchUser(t, alice.Token, map[string]string{"first_name": "Alice", "last_name": "Liddell"})
		body := readBody(resp)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

		var env userEnvelope
		require.NoError(t, json.Unmarshal([]byte(body), &env))
		require.NotNil(t, env.User.FirstName)
		assert.Equal(t, "Alice", *env.User.FirstName)
		assert.Equal(t, "alice", env.User.Username)

		// The change must be visible on a subsequent read.
		getReq, err := http.NewRequest(http.MethodGet, ts.BaseURL()+"/api/user", nil)
		require.NoError(t, err)
		getReq.Header.Set("Authorization", "Bearer "+alice.Token)
		getResp, err := client.Do(getReq)
		require.NoError(t, err)
		defer getResp.Body.Close()
		var refetched userEnvelope
		require.NoError(t, json.NewDecoder(getResp.Body).Decode(&refetched))
		require.NotNil(t, refetched.User.FirstName)
		assert.Equal(t, "Alice", *refetched.User.FirstName)
	})

	t.Run("username collision returns conflict", func(t *testing.T) {
		ts.Truncate(t)
		register(t, ts, "alice", "09123456789", "secret123")
		bob := register(t, ts, "bob", "09123456780", "secret123")

		resp := patchUser(t, bob.Token, map[string]string{"username": "alice"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		var body errorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Contains(t, body.Error, "username")
	})

	t.Run("short password rejected", func(t *testing.T) {
		ts.Truncate(t)
		alice := register(t, ts, "alice", "09123456789", "secret123")

		resp := patchUser(t, alice.Token, map[string]string{"password": "short"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var env errorsEnvelope
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
		assert.Contains(t, env.Errors, "password")
	})
}
