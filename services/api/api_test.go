package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"escapade/pkg/clock"
	"escapade/services/game"
	"escapade/services/leaderboard"
	"escapade/services/orchestrator"
	"escapade/services/settings"
	"escapade/services/store"
)

var t0 = time.Date(2025, 6, 14, 19, 0, 0, 0, time.UTC)

type harness struct {
	srv   *httptest.Server
	clk   *clock.Manual
	store *store.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clk: clock.NewManual(t0), store: store.NewMemory()}

	svc, err := orchestrator.New(orchestrator.Options{
		Store:                 h.store,
		Settings:              settings.NewProvider(settings.General{SessionLength: 10}),
		Clock:                 h.clk,
		Logger:                zerolog.Nop(),
		DefaultSessionMinutes: 60,
	})
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	board, err := leaderboard.NewProjector(h.store, h.clk)
	if err != nil {
		t.Fatalf("NewProjector() error = %v", err)
	}
	a, err := New(Options{Service: svc, Leaderboard: board, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.srv = httptest.NewServer(a.Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// approvedParty signs up and approves a party holding tag.
func (h *harness) approvedParty(t *testing.T, name, tag string) orchestrator.SessionView {
	t.Helper()
	var created orchestrator.SessionView
	if code := h.do(t, http.MethodPost, "/v1/public/signup", map[string]any{"party_name": name, "team_size": 3}, &created); code != http.StatusCreated {
		t.Fatalf("signup status = %d, want 201", code)
	}
	var approved orchestrator.SessionView
	path := fmt.Sprintf("/v1/pending/%s/approve", created.ID)
	if code := h.do(t, http.MethodPost, path, map[string]any{"rfid_tag": tag}, &approved); code != http.StatusOK {
		t.Fatalf("approve status = %d, want 200", code)
	}
	return approved
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{game.ErrSessionNotFound, http.StatusNotFound},
		{game.ErrNoActiveSession, http.StatusNotFound},
		{game.ErrNotApproved, http.StatusConflict},
		{game.ErrTagInUse, http.StatusConflict},
		{game.ErrExtensionDenied, http.StatusForbidden},
		{game.ErrSessionExpired, http.StatusBadRequest},
		{game.Invalid("bad"), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", game.ErrContention, errors.New("40001")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Fatalf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSignupApproveFlow(t *testing.T) {
	h := newHarness(t)
	v := h.approvedParty(t, "Night Owls", "TAG-1")
	if v.Status != string(game.StatusApproved) || v.RFIDTag != "TAG-1" || v.SessionMinutes != 10 {
		t.Fatalf("approved view = %+v", v)
	}

	var pending []orchestrator.SessionView
	if code := h.do(t, http.MethodGet, "/v1/pending", nil, &pending); code != http.StatusOK {
		t.Fatalf("pending status = %d", code)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(pending))
	}

	var body errorBody
	code := h.do(t, http.MethodPost, fmt.Sprintf("/v1/pending/%s/approve", v.ID), map[string]any{}, &body)
	if code != http.StatusConflict || body.Code != "not_pending" {
		t.Fatalf("second approve = %d %+v, want 409 not_pending", code, body)
	}
}

func TestSignupRejectsUnknownFields(t *testing.T) {
	h := newHarness(t)
	var body errorBody
	code := h.do(t, http.MethodPost, "/v1/public/signup", map[string]any{"party_name": "x", "colour": "red"}, &body)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestMultipartPhotoWithoutStorage(t *testing.T) {
	h := newHarness(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("party_name", "Shutterbugs")
	_ = mw.WriteField("team_size", "2")
	fw, err := mw.CreateFormFile("profile_photo", "team.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	_ = mw.Close()

	resp, err := h.srv.Client().Post(h.srv.URL+"/v1/public/signup", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFailedDependency {
		t.Fatalf("status = %d, want 424", resp.StatusCode)
	}
}

func TestMultipartSignupWithoutPhoto(t *testing.T) {
	h := newHarness(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("party_name", "Form Fillers")
	_ = mw.WriteField("team_size", "5")
	_ = mw.WriteField("receive_offers", "yes")
	_ = mw.Close()

	resp, err := h.srv.Client().Post(h.srv.URL+"/v1/public/signup", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var v orchestrator.SessionView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.TeamSize != 5 || !v.ReceiveOffers {
		t.Fatalf("view = %+v", v)
	}
}

func TestRfidFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.store.CreateController(ctx, "Gate", "10.0.0.7"); err != nil {
		t.Fatalf("CreateController() error = %v", err)
	}
	h.approvedParty(t, "Crew", "TAG-9")

	var body errorBody
	if code := h.do(t, http.MethodPost, "/v1/rfid/start", rfidRequest{RFID: "NOPE"}, &body); code != http.StatusNotFound || body.Code != "no_active_session" {
		t.Fatalf("unknown tag = %d %+v", code, body)
	}

	var started orchestrator.SessionView
	if code := h.do(t, http.MethodPost, "/v1/rfid/start", rfidRequest{RFID: "TAG-9"}, &started); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if !started.IsPlaying {
		t.Fatal("expected session to be playing")
	}

	var first orchestrator.ClearResult
	tap := rfidRequest{RFID: "TAG-9", ControllerIP: "10.0.0.7"}
	if code := h.do(t, http.MethodPost, "/v1/rfid/checkpoint", tap, &first); code != http.StatusCreated {
		t.Fatalf("first tap status = %d, want 201", code)
	}
	if first.PointsEarned != 110 {
		t.Fatalf("points_earned = %d, want 110", first.PointsEarned)
	}

	h.clk.Advance(time.Minute)
	var again orchestrator.ClearResult
	if code := h.do(t, http.MethodPost, "/v1/rfid/checkpoint", tap, &again); code != http.StatusOK {
		t.Fatalf("repeat tap status = %d, want 200", code)
	}
	if !again.Duplicate || again.Session.Points != 110 {
		t.Fatalf("repeat tap = %+v", again)
	}

	var status orchestrator.StatusView
	if code := h.do(t, http.MethodPost, "/v1/rfid/status", rfidRequest{RFID: "TAG-9"}, &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.SessionStatus != orchestrator.SessionActive || status.CheckpointsCleared == nil || *status.CheckpointsCleared != 1 {
		t.Fatalf("status = %+v", status)
	}

	var board []leaderboard.Entry
	if code := h.do(t, http.MethodGet, "/v1/public/leaderboard", nil, &board); code != http.StatusOK {
		t.Fatalf("leaderboard status = %d", code)
	}
	if len(board) != 1 || board[0].Points != 110 || board[0].TotalControllers != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}

	var stopped orchestrator.StopResult
	if code := h.do(t, http.MethodPost, "/v1/rfid/stop", rfidRequest{RFID: "TAG-9"}, &stopped); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if stopped.BonusPoints != 9 || stopped.Session.Status != string(game.StatusEnded) {
		t.Fatalf("stop = %+v", stopped)
	}
}

func TestRfidCheckpointRequiresControllerIP(t *testing.T) {
	h := newHarness(t)
	var body errorBody
	if code := h.do(t, http.MethodPost, "/v1/rfid/checkpoint", rfidRequest{RFID: "TAG"}, &body); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestUpdateSessionPolicyDenied(t *testing.T) {
	h := newHarness(t)
	v := h.approvedParty(t, "Crew", "TAG-2")

	var body errorBody
	code := h.do(t, http.MethodPut, "/v1/sessions/"+v.ID.String(), map[string]any{"extra_minutes": 5}, &body)
	if code != http.StatusForbidden || body.Code != "extension_denied" {
		t.Fatalf("update = %d %+v, want 403 extension_denied", code, body)
	}
}

func TestSessionPathMustBeUUID(t *testing.T) {
	h := newHarness(t)
	var body errorBody
	if code := h.do(t, http.MethodPost, "/v1/sessions/abc/end", nil, &body); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h := newHarness(t)

	var body errorBody
	if code := h.do(t, http.MethodPut, "/v1/settings/general", map[string]any{"time_zone": "Mars/Olympus"}, &body); code != http.StatusBadRequest {
		t.Fatalf("bad tz status = %d, want 400", code)
	}

	var saved settings.General
	req := map[string]any{"arena_name": "Vault", "session_length": 45, "allow_extension": true}
	if code := h.do(t, http.MethodPut, "/v1/settings/general", req, &saved); code != http.StatusOK {
		t.Fatalf("put status = %d", code)
	}
	var got settings.General
	if code := h.do(t, http.MethodGet, "/v1/settings/general", nil, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.ArenaName != "Vault" || got.SessionLength != 45 || !got.AllowExtension {
		t.Fatalf("settings = %+v", got)
	}
}

func TestHealthAndPhotoWithoutStorage(t *testing.T) {
	h := newHarness(t)
	resp, err := h.srv.Client().Get(h.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	resp, err = h.srv.Client().Get(h.srv.URL + "/v1/public/sessions/00000000-0000-0000-0000-000000000001/photo")
	if err != nil {
		t.Fatalf("photo: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFailedDependency {
		t.Fatalf("photo = %d, want 424", resp.StatusCode)
	}
}
