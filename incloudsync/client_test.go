package incloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bitbucket.org/intellihub/hub_backend/config"
	"bitbucket.org/intellihub/hub_backend/models"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(config.InCloudConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Username:        "sync@hub.test",
		Password:        "secret",
		RateLimitPerMin: 600000,
	}, nil)
	c.sleep = func(time.Duration) {}
	return c
}

func loginHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.Header.Get("WebApiKey") != "test-key" || body["grant_type"] != "password" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
	}
}

func TestLoginCachesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/Auth/Login", r.URL.Path)
		loginHandler("tok-1")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, "tok-1", c.token)
	require.EqualValues(t, 1, c.RequestCount())
}

func TestLoginBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.Login(context.Background())
	var authErr *RemoteAuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusForbidden, authErr.Status)
	// 4xx on login never retries.
	require.EqualValues(t, 1, c.RequestCount())
}

func TestLoginRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		loginHandler("tok-after-retry")(w, r)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, "tok-after-retry", c.token)
	require.EqualValues(t, 3, c.RequestCount())
}

func TestRequestReloginOnUnauthorized(t *testing.T) {
	var token atomic.Value
	token.Store("tok-old")
	var logins int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Auth/Login" {
			atomic.AddInt32(&logins, 1)
			token.Store("tok-new")
			loginHandler("tok-new")(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "companyName": "ACME"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	c.token = "tok-expired"

	body, err := c.Get(context.Background(), models.EntityKindCompany, 7)
	require.NoError(t, err)
	require.Contains(t, string(body), "ACME")
	// Exactly one transparent re-login, then a successful replay.
	require.EqualValues(t, 1, atomic.LoadInt32(&logins))
}

func TestRequestSurfacesClientErrorWithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Auth/Login" {
			loginHandler("tok")(w, r)
			return
		}
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Get(context.Background(), models.EntityKindCompany, 404)
	var rce *RemoteClientError
	require.ErrorAs(t, err, &rce)
	require.Equal(t, http.StatusNotFound, rce.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRequestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Auth/Login" {
			loginHandler("tok")(w, r)
			return
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.Get(context.Background(), models.EntityKindCompany, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestListIDsPagesUntilEmpty(t *testing.T) {
	pages := map[int][]int{
		0:   make([]int, 100),
		100: {200, 201, 202},
		103: {},
	}
	for i := range pages[0] {
		pages[0][i] = i + 1
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Auth/Login" {
			loginHandler("tok")(w, r)
			return
		}
		require.Equal(t, "/api/v1/Companies", r.URL.Path)
		skip := 0
		fmt.Sscanf(r.URL.Query().Get("skip"), "%d", &skip)
		page, ok := pages[skip]
		if !ok {
			page = []int{}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ids, err := c.ListIDs(context.Background(), models.EntityKindCompany, 0)
	require.NoError(t, err)
	require.Len(t, ids, 103)
	require.Equal(t, 1, ids[0])
	require.Equal(t, 202, ids[102])
}

func TestListIDsHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Auth/Login" {
			loginHandler("tok")(w, r)
			return
		}
		require.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]int{10, 11, 12, 13, 14})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	ids, err := c.ListIDs(context.Background(), models.EntityKindCompany, 5)
	require.NoError(t, err)
	require.Equal(t, []int{10, 11, 12, 13, 14}, ids)
}

func TestRequestsHonorRateBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Auth/Login" {
			loginHandler("tok")(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1})
	}))
	defer srv.Close()

	// 6000 requests per minute is one token every 10ms; compressed time for
	// the production bucket of one per 1.5s.
	c := NewClient(config.InCloudConfig{
		BaseURL:         srv.URL,
		APIKey:          "test-key",
		Username:        "sync@hub.test",
		Password:        "secret",
		RateLimitPerMin: 6000,
	}, nil)
	c.sleep = func(time.Duration) {}

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := c.Get(context.Background(), models.EntityKindCompany, 1)
		require.NoError(t, err)
	}
	// Five requests total (login + four gets) drain one initial token and
	// wait out four refill intervals.
	require.EqualValues(t, 5, c.RequestCount())
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestListIDsUnknownKind(t *testing.T) {
	c := testClient(t, "http://unused.invalid")
	_, err := c.ListIDs(context.Background(), entityKindUser, 0)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}
