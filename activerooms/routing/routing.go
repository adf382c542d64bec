// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package routing lets clients open and close rooms over HTTP.
package routing

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"

	"github.com/element-hq/roomsync/activerooms"
)

type activeRoomResponse struct {
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
	OpenedAt  int64  `json:"opened_at,omitempty"`
}

type openRoomResponse struct {
	Added bool `json:"added"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Setup registers the active room routes on the router.
func Setup(router *mux.Router, holder *activerooms.ActiveRoomsHolder) {
	router.Handle("/sessions/{session}/rooms/active",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return GetActiveRoom(req, holder)
		})),
	).Methods(http.MethodGet)

	router.Handle("/sessions/{session}/rooms/{room}",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return OpenRoom(req, holder)
		})),
	).Methods(http.MethodPut)

	router.Handle("/sessions/{session}/rooms/{room}",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return CloseRoom(req, holder)
		})),
	).Methods(http.MethodDelete)
}

// GetActiveRoom implements GET /sessions/{session}/rooms/active
func GetActiveRoom(req *http.Request, holder *activerooms.ActiveRoomsHolder) util.JSONResponse {
	sessionID := mux.Vars(req)["session"]
	room, ok := holder.GetActiveRoom(sessionID)
	if !ok {
		return notFound("no active room")
	}
	res := activeRoomResponse{SessionID: room.SessionID(), RoomID: room.RoomID()}
	if handle, ok := room.(*activerooms.RoomHandle); ok {
		res.OpenedAt = handle.OpenedAt().UnixMilli()
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: res}
}

// OpenRoom implements PUT /sessions/{session}/rooms/{room}
func OpenRoom(req *http.Request, holder *activerooms.ActiveRoomsHolder) util.JSONResponse {
	vars := mux.Vars(req)
	handle := activerooms.NewRoomHandle(vars["session"], vars["room"])
	added := holder.AddRoom(handle)
	if !added {
		// The room is already open.
		handle.Destroy()
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: openRoomResponse{Added: added}}
}

// CloseRoom implements DELETE /sessions/{session}/rooms/{room}
func CloseRoom(req *http.Request, holder *activerooms.ActiveRoomsHolder) util.JSONResponse {
	vars := mux.Vars(req)
	if !holder.RemoveRoom(vars["session"], vars["room"]) {
		return notFound("room is not active")
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: struct{}{}}
}

func notFound(msg string) util.JSONResponse {
	return util.JSONResponse{Code: http.StatusNotFound, JSON: errorResponse{Error: msg}}
}
