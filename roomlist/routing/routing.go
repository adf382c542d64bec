// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package routing exposes the room list over HTTP.
package routing

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/matrix-org/util"

	"github.com/element-hq/roomsync/roomlist/dynamic"
	"github.com/element-hq/roomsync/roomlist/filters"
	"github.com/element-hq/roomsync/roomlist/types"
	"github.com/element-hq/roomsync/setup/config"
)

type roomListResponse struct {
	Version   uint64              `json:"version"`
	Total     int                 `json:"total"`
	SortOrder sortOrderResponse   `json:"sort_order"`
	Rooms     []types.RoomSummary `json:"rooms"`
}

type sortOrderResponse struct {
	ByUnread               bool `json:"by_unread"`
	PinFavourites          bool `json:"pin_favourites"`
	BuryLowPriority        bool `json:"bury_low_priority"`
	ClientSideUnreadCounts bool `json:"client_side_unread_counts"`
	WithSilentUnread       bool `json:"with_silent_unread"`
}

type filterState struct {
	Filter   string `json:"filter"`
	Selected bool   `json:"selected"`
}

type filtersResponse struct {
	Filters              []filterState `json:"filters"`
	HasAnyFilterSelected bool          `json:"has_any_filter_selected"`
}

// Setup registers the room list routes on the router.
func Setup(router *mux.Router, cfg *config.RoomList, roomList *dynamic.RoomList, selection *dynamic.FilterSelection) {
	router.Handle("/roomlist",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return GetRoomList(req, cfg, roomList)
		})),
	).Methods(http.MethodGet)

	router.Handle("/roomlist/filters",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return filtersResponseFor(selection, selection.States())
		})),
	).Methods(http.MethodGet)

	router.Handle("/roomlist/filters",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return filtersResponseFor(selection, selection.Clear())
		})),
	).Methods(http.MethodDelete)

	router.Handle("/roomlist/filters/{filter}",
		util.MakeJSONAPI(util.NewJSONRequestHandler(func(req *http.Request) util.JSONResponse {
			return ToggleFilter(req, selection)
		})),
	).Methods(http.MethodPut)
}

// GetRoomList implements GET /roomlist?start=0&end=49&search=name
func GetRoomList(req *http.Request, cfg *config.RoomList, roomList *dynamic.RoomList) util.JSONResponse {
	query := req.URL.Query()
	start, err := intParam(query.Get("start"), 0)
	if err != nil || start < 0 {
		return badRequest("start must be a non-negative integer")
	}
	end, err := intParam(query.Get("end"), start+cfg.PageSize-1)
	if err != nil || end < start {
		return badRequest("end must be an integer not less than start")
	}
	var extra *types.RoomListFilter
	if search := query.Get("search"); search != "" {
		f := filters.NameMatch(search)
		extra = &f
	}

	page := roomList.Entries(start, end, extra)
	order := roomList.Settings().SortOrder
	return util.JSONResponse{
		Code: http.StatusOK,
		JSON: roomListResponse{
			Version: page.Version,
			Total:   page.Total,
			SortOrder: sortOrderResponse{
				ByUnread:               order.ByUnread,
				PinFavourites:          order.PinFavourites,
				BuryLowPriority:        order.BuryLowPriority,
				ClientSideUnreadCounts: order.ClientSideUnreadCounts,
				WithSilentUnread:       order.WithSilentUnread,
			},
			Rooms: page.Rooms,
		},
	}
}

// ToggleFilter implements PUT /roomlist/filters/{filter}
func ToggleFilter(req *http.Request, selection *dynamic.FilterSelection) util.JSONResponse {
	name := mux.Vars(req)["filter"]
	for _, f := range types.AllFilters {
		if f.String() == name {
			return filtersResponseFor(selection, selection.Toggle(f))
		}
	}
	return util.JSONResponse{
		Code: http.StatusNotFound,
		JSON: errorResponse{Error: "unknown filter " + strconv.Quote(name)},
	}
}

func filtersResponseFor(selection *dynamic.FilterSelection, states []types.FilterSelectionState) util.JSONResponse {
	res := filtersResponse{
		Filters:              make([]filterState, 0, len(states)),
		HasAnyFilterSelected: selection.HasAnyFilterSelected(),
	}
	for _, s := range states {
		res.Filters = append(res.Filters, filterState{Filter: s.Filter.String(), Selected: s.IsSelected})
	}
	return util.JSONResponse{Code: http.StatusOK, JSON: res}
}

type errorResponse struct {
	Error string `json:"error"`
}

func badRequest(msg string) util.JSONResponse {
	return util.JSONResponse{Code: http.StatusBadRequest, JSON: errorResponse{Error: msg}}
}

func intParam(value string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	return strconv.Atoi(value)
}
