package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"escapade/services/game"
	"escapade/services/orchestrator"
)

const maxPhotoBytes = 5 << 20

var photoTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var errNoObjectStore = errors.New("object storage not configured")

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SignupRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		parsed, err := parseSignupForm(w, r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		req = parsed
	} else if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	if req.Photo != nil && a.photos == nil {
		respondError(w, http.StatusFailedDependency, errNoObjectStore)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	view, err := a.svc.Signup(ctx, req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func parseSignupForm(w http.ResponseWriter, r *http.Request) (orchestrator.SignupRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		return orchestrator.SignupRequest{}, game.Invalid("signup form could not be parsed")
	}

	req := orchestrator.SignupRequest{
		PartyName: r.FormValue("party_name"),
		Email:     r.FormValue("email"),
		AvatarID:  r.FormValue("avatar_id"),
	}
	switch strings.ToLower(strings.TrimSpace(r.FormValue("receive_offers"))) {
	case "true", "1", "yes", "on":
		req.ReceiveOffers = true
	}
	if raw := strings.TrimSpace(r.FormValue("team_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return req, game.Invalid("team_size must be a number")
		}
		req.TeamSize = n
	}
	if raw := strings.TrimSpace(r.FormValue("storyline_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return req, game.Invalid("storyline_id must be a UUID")
		}
		req.StorylineID = &id
	}

	file, _, err := r.FormFile("profile_photo")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return req, nil
	case err != nil:
		return req, game.Invalid("profile_photo could not be read")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		return req, game.Invalid("profile_photo could not be read")
	}
	if len(data) > maxPhotoBytes {
		return req, game.Invalid("profile_photo exceeds 5 MB")
	}
	contentType := http.DetectContentType(data)
	ext, ok := photoTypes[contentType]
	if !ok {
		return req, game.Invalid("profile_photo must be a JPEG, PNG, GIF or WebP image")
	}
	req.Photo = &orchestrator.Photo{Ext: ext, ContentType: contentType, Data: data}
	return req, nil
}

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	entries, err := a.board.Leaderboard(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (a *API) handleControllers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	controllers, err := a.svc.Controllers(ctx)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, controllers)
}

func (a *API) handlePhoto(w http.ResponseWriter, r *http.Request) {
	if a.photos == nil {
		respondError(w, http.StatusFailedDependency, errNoObjectStore)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		a.fail(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	key, err := a.svc.PhotoKey(ctx, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	url, err := a.photos.URL(ctx, key)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}
