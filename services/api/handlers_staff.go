package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"escapade/services/game"
	"escapade/services/orchestrator"
	"escapade/services/settings"
)

func (a *API) handleListPending(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	views, err := a.svc.ListPending(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req orchestrator.ApproveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := a.svc.Approve(ctx, id, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	a.sessionAction(w, r, a.svc.Reject)
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	a.sessionAction(w, r, a.svc.EndSession)
}

func (a *API) sessionAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (orchestrator.SessionView, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := op(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (a *API) handleListLive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	views, err := a.svc.ListLive(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

func (a *API) handleListEnded(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	views, err := a.svc.ListEnded(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, views)
}

func (a *API) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req orchestrator.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := a.svc.UpdateSession(ctx, id, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (a *API) handleAddCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var req struct {
		ControllerID *uuid.UUID `json:"controller_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.ControllerID == nil {
		a.fail(w, r, game.Invalid("controller_id is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res, err := a.svc.AddCheckpoint(ctx, id, *req.ControllerID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondClear(w, res)
}

func (a *API) handleRemoveCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	cpID, err := pathID(r, "checkpointID")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := a.svc.RemoveCheckpoint(ctx, id, cpID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// respondClear answers 201 for a new clearance and 200 for a repeat tap.
func respondClear(w http.ResponseWriter, res orchestrator.ClearResult) {
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (a *API) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, a.svc.Settings().Current())
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var g settings.General
	if err := decodeJSON(r, &g); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := g.Validate(); err != nil {
		a.fail(w, r, game.Invalid(err.Error()))
		return
	}
	saved, err := a.svc.Settings().Replace(g)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info().Bool("allow_extension", saved.AllowExtension).Bool("allow_reduction", saved.AllowReduction).
		Int("session_length", saved.SessionLength).Msg("general settings replaced")
	respondJSON(w, http.StatusOK, saved)
}
