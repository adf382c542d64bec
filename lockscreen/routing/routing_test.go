// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/crypto/bcrypt"

	"github.com/element-hq/roomsync/lockscreen"
	"github.com/element-hq/roomsync/lockscreen/pin"
	"github.com/element-hq/roomsync/preferences"
	"github.com/element-hq/roomsync/setup/config"
)

func newRouter(t *testing.T, configure func(cfg *config.LockScreen)) *mux.Router {
	t.Helper()
	var cfg config.LockScreen
	cfg.Defaults(config.DefaultOpts{})
	cfg.GracePeriod = 0
	if configure != nil {
		configure(&cfg)
	}
	pins := pin.NewPinCodeManager(preferences.NewInMemoryStore(), cfg.PinSize, cfg.MaxAttempts, pin.WithBcryptCost(bcrypt.MinCost))
	service, err := lockscreen.NewLockScreenService(context.Background(), &cfg, pins)
	require.NoError(t, err)
	router := mux.NewRouter()
	Setup(router, service)
	return router
}

func do(t *testing.T, router http.Handler, method, target, body string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec.Code, rec.Body.String()
}

func TestLockScreenRoutes_SetupVerifyAndDelete(t *testing.T) {
	router := newRouter(t, nil)

	code, body := do(t, router, http.MethodGet, "/lockscreen", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "not_configured", gjson.Get(body, "state").String())

	code, _ = do(t, router, http.MethodPost, "/lockscreen/verify", `{"pin": "1234"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": "12"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": 1234}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "locked", gjson.Get(body, "state").String())
	assert.Equal(t, int64(3), gjson.Get(body, "remaining_attempts").Int())

	code, body = do(t, router, http.MethodPost, "/lockscreen/verify", `{"pin": "0000"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, gjson.Get(body, "unlocked").Bool())
	assert.Equal(t, int64(2), gjson.Get(body, "remaining_attempts").Int())

	code, body = do(t, router, http.MethodPost, "/lockscreen/verify", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, gjson.Get(body, "unlocked").Bool())
	assert.Equal(t, "unlocked", gjson.Get(body, "state").String())

	code, body = do(t, router, http.MethodDelete, "/lockscreen/pin", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "not_configured", gjson.Get(body, "state").String())
}

func TestLockScreenRoutes_AppStateAndBiometric(t *testing.T) {
	router := newRouter(t, nil)

	code, _ := do(t, router, http.MethodPost, "/lockscreen/biometric", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	code, body := do(t, router, http.MethodPost, "/lockscreen/biometric", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unlocked", gjson.Get(body, "state").String())

	// Without a grace period, going to the background locks straight away.
	code, body = do(t, router, http.MethodPost, "/lockscreen/background", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "locked", gjson.Get(body, "state").String())
	code, body = do(t, router, http.MethodPost, "/lockscreen/foreground", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "locked", gjson.Get(body, "state").String())
}

func TestLockScreenRoutes_GracePeriod(t *testing.T) {
	router := newRouter(t, func(cfg *config.LockScreen) {
		cfg.GracePeriod = time.Hour
	})
	code, _ := do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodPost, "/lockscreen/verify", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)

	_, body := do(t, router, http.MethodPost, "/lockscreen/background", "")
	assert.Equal(t, "grace_period", gjson.Get(body, "state").String())
	_, body = do(t, router, http.MethodPost, "/lockscreen/foreground", "")
	assert.Equal(t, "unlocked", gjson.Get(body, "state").String())
}

func TestLockScreenRoutes_BiometricNotAllowed(t *testing.T) {
	router := newRouter(t, func(cfg *config.LockScreen) {
		cfg.BiometricUnlockAllowed = false
	})
	code, _ := do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodPost, "/lockscreen/biometric", "")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestLockScreenRoutes_ExhaustedAttemptsRequireSignOut(t *testing.T) {
	router := newRouter(t, nil)
	code, _ := do(t, router, http.MethodPut, "/lockscreen/pin", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	for i := 0; i < 3; i++ {
		code, _ = do(t, router, http.MethodPost, "/lockscreen/verify", `{"pin": "0000"}`)
		require.Equal(t, http.StatusOK, code)
	}
	code, body := do(t, router, http.MethodPost, "/lockscreen/verify", `{"pin": "1234"}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, gjson.Get(body, "unlocked").Bool())
	assert.True(t, gjson.Get(body, "sign_out_required").Bool())
	assert.Equal(t, "locked", gjson.Get(body, "state").String())
}
