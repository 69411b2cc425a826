package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpgateway/backend/internal/infrastructure/auth"
)

func TestIntrospector_Active(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "gateway", user)
		assert.Equal(t, "s3cret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "opaque-token", r.PostForm.Get("token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true,"sub":"user-7","scope":"read write","tier":"basic"}`))
	}))
	defer srv.Close()

	in := auth.NewIntrospector(srv.URL, "gateway", "s3cret", time.Second)
	res, err := in.Introspect(context.Background(), "opaque-token")
	require.NoError(t, err)
	assert.Equal(t, "user-7", res.Principal())
	assert.Equal(t, []string{"read", "write"}, res.Scopes())
	assert.Equal(t, "basic", res.Tier)
}

func TestIntrospector_Inactive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer srv.Close()

	_, err := auth.NewIntrospector(srv.URL, "", "", time.Second).Introspect(context.Background(), "t")
	assert.ErrorIs(t, err, auth.ErrInactiveToken)
}

func TestIntrospector_ExpiredButActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"active":true,"client_id":"svc","exp":1000}`))
	}))
	defer srv.Close()

	_, err := auth.NewIntrospector(srv.URL, "", "", time.Second).Introspect(context.Background(), "t")
	assert.ErrorIs(t, err, auth.ErrInactiveToken)
}

func TestIntrospector_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := auth.NewIntrospector(srv.URL, "", "", time.Second).Introspect(context.Background(), "t")
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrInactiveToken)
}

func TestIntrospector_Disabled(t *testing.T) {
	in := auth.NewIntrospector("", "", "", 0)
	assert.False(t, in.Enabled())
	_, err := in.Introspect(context.Background(), "t")
	assert.ErrorIs(t, err, auth.ErrIntrospectionDisabled)
}
