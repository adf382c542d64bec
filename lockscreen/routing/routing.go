// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package routing exposes the pin lock over HTTP, for the app shell to
// report app state changes and unlock attempts.
package routing

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"
	"github.com/tidwall/gjson"

	"github.com/element-hq/roomsync/lockscreen"
	"github.com/element-hq/roomsync/lockscreen/pin"
)

type stateResponse struct {
	State             string `json:"state"`
	RemainingAttempts int    `json:"remaining_attempts"`
}

type verifyResponse struct {
	State             string `json:"state"`
	Unlocked          bool   `json:"unlocked"`
	RemainingAttempts int    `json:"remaining_attempts"`
	SignOutRequired   bool   `json:"sign_out_required"`
	RetryAfterMS      int64  `json:"retry_after_ms,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Setup registers the lock screen routes on the router.
func Setup(router *mux.Router, service *lockscreen.LockScreenService) {
	router.Handle("/lockscreen",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return stateFor(req, service)
		})),
	).Methods(http.MethodGet)

	router.Handle("/lockscreen/pin",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return SetupPin(req, service)
		})),
	).Methods(http.MethodPut)

	router.Handle("/lockscreen/pin",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			if err := service.DeletePin(req.Context()); err != nil {
				return internalError(req, err)
			}
			return stateFor(req, service)
		})),
	).Methods(http.MethodDelete)

	router.Handle("/lockscreen/verify",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return Verify(req, service)
		})),
	).Methods(http.MethodPost)

	router.Handle("/lockscreen/biometric",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return UnlockWithBiometric(req, service)
		})),
	).Methods(http.MethodPost)

	router.Handle("/lockscreen/background",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			service.OnAppBackgrounded()
			return stateFor(req, service)
		})),
	).Methods(http.MethodPost)

	router.Handle("/lockscreen/foreground",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			service.OnAppForegrounded()
			return stateFor(req, service)
		})),
	).Methods(http.MethodPost)
}

// SetupPin implements PUT /lockscreen/pin {"pin": "1234"}
func SetupPin(req *http.Request, service *lockscreen.LockScreenService) util.JSONResponse {
	code, resErr := pinFromBody(req)
	if resErr != nil {
		return *resErr
	}
	err := service.SetupPin(req.Context(), code)
	switch {
	case errors.Is(err, pin.ErrInvalidPinCode):
		return badRequest(err.Error())
	case err != nil:
		return internalError(req, err)
	}
	return stateFor(req, service)
}

// Verify implements POST /lockscreen/verify {"pin": "1234"}
func Verify(req *http.Request, service *lockscreen.LockScreenService) util.JSONResponse {
	code, resErr := pinFromBody(req)
	if resErr != nil {
		return *resErr
	}
	result, err := service.Verify(req.Context(), code)
	switch {
	case errors.Is(err, pin.ErrNoPinCode):
		return conflict(err.Error())
	case err != nil:
		return internalError(req, err)
	}
	res := verifyResponse{
		State:             service.State().String(),
		Unlocked:          result.Unlocked,
		RemainingAttempts: result.RemainingAttempts,
		SignOutRequired:   result.SignOutRequired,
		RetryAfterMS:      result.RetryAfter.Milliseconds(),
	}
	if result.RetryAfter > 0 {
		return util.JSONResponse{Code: http.StatusTooManyRequests, JSON: res}
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: res}
}

// UnlockWithBiometric implements POST /lockscreen/biometric
func UnlockWithBiometric(req *http.Request, service *lockscreen.LockScreenService) util.JSONResponse {
	err := service.UnlockWithBiometric()
	switch {
	case errors.Is(err, lockscreen.ErrBiometricNotAllowed):
		return util.JSONResponse{Code: http.StatusForbidden, JSON: errorResponse{Error: err.Error()}}
	case errors.Is(err, pin.ErrNoPinCode), errors.Is(err, lockscreen.ErrNotLocked):
		return conflict(err.Error())
	case err != nil:
		return internalError(req, err)
	}
	return stateFor(req, service)
}

func stateFor(req *http.Request, service *lockscreen.LockScreenService) util.JSONResponse {
	remaining, err := service.RemainingAttempts(req.Context())
	if err != nil {
		return internalError(req, err)
	}
	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: stateResponse{State: service.State().String(), RemainingAttempts: remaining},
	}
}

func pinFromBody(req *http.Request) (string, *util.JSONResponse) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		res := badRequest(fmt.Sprintf("failed to read request body: %s", err))
		return "", &res
	}
	code := gjson.GetBytes(body, "pin")
	if !gjson.ValidBytes(body) || code.Type != gjson.String {
		res := badRequest(`request body must be {"pin": "<digits>"}`)
		return "", &res
	}
	return code.String(), nil
}

func badRequest(msg string) util.JSONResponse {
	return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorResponse{Error: msg}}
}

func conflict(msg string) util.JSONResponse {
	return util.JSONResponse{Code: http.StatusConflict, JSON: errorResponse{Error: msg}}
}

func internalError(req *http.Request, err error) util.JSONResponse {
	util.GetLogger(req.Context()).WithError(err).Error("Lock screen request failed")
	return util.JSONResponse{Code: http.StatusInternalServerError, JSON: errorResponse{Error: "internal server error"}}
}
