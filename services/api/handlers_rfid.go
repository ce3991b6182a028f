package api

import (
	"context"
	"net/http"
	"strings"

	"escapade/services/game"
	"escapade/services/orchestrator"
)

type rfidRequest struct {
	RFID         string `json:"rfid"`
	ControllerIP string `json:"controller_ip"`
}

func (a *API) decodeRFID(w http.ResponseWriter, r *http.Request) (rfidRequest, bool) {
	var req rfidRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return req, false
	}
	req.RFID = strings.TrimSpace(req.RFID)
	req.ControllerIP = strings.TrimSpace(req.ControllerIP)
	if req.RFID == "" {
		a.fail(w, r, game.Invalid("rfid is required"))
		return req, false
	}
	return req, true
}

func (a *API) handleRfidStart(w http.ResponseWriter, r *http.Request) {
	a.rfidTransition(w, r, a.svc.RfidStart)
}

func (a *API) handleRfidPause(w http.ResponseWriter, r *http.Request) {
	a.rfidTransition(w, r, a.svc.RfidPause)
}

func (a *API) rfidTransition(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (orchestrator.SessionView, error)) {
	req, ok := a.decodeRFID(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := op(ctx, req.RFID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (a *API) handleRfidStop(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRFID(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res, err := a.svc.RfidStop(ctx, req.RFID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleRfidCheckpoint(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRFID(w, r)
	if !ok {
		return
	}
	if req.ControllerIP == "" {
		a.fail(w, r, game.Invalid("controller_ip is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res, err := a.svc.RfidCheckpoint(ctx, req.RFID, req.ControllerIP)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondClear(w, res)
}

func (a *API) handleRfidStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRFID(w, r)
	if !ok {
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := a.svc.Status(ctx, req.RFID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
