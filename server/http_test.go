package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	jsoniter "github.com/json-iterator/go"
	"gitlab.com/paramountdax-exchange/commission_engine/actions"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates/ratestest"
	"gitlab.com/paramountdax-exchange/commission_engine/store/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const adminToken = "secret"

func newTestRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	st := memory.New()
	root := uint64(1)
	st.AddMember(&model.Member{ID: 1, Email: "root@example.com", Rank: model.RankNone, Tier: "bronze_1", Active: true})
	st.AddMember(&model.Member{ID: 2, SponsorID: &root, Rank: model.RankNone, Tier: "starter", Active: true})

	cfg := config.Config{
		Server:     config.ServerConfig{API: config.APIConfig{AdminToken: adminToken}},
		Commission: ratestest.Config(),
		Workers:    config.WorkersConfig{BatchWorkers: 1, BatchPageSize: 10},
	}
	srv, err := service.NewService(cfg, service.Dependencies{Store: st})
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(cfg.Server.API, actions.NewActions(cfg.Server.API, srv))
}

func do(r *gin.Engine, method, path, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	r := newTestRouter(t)
	w := do(r, http.MethodGet, "/ping", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, "", w.Header().Get("X-Request-Id"))
}

func TestCapStatus(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "Success case. Existing member", path: "/members/1/cap-status", code: http.StatusOK},
		{name: "Fail case. Unknown member", path: "/members/99/cap-status", code: http.StatusNotFound},
		{name: "Fail case. Malformed id", path: "/members/abc/cap-status", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "", false)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	w := do(r, http.MethodGet, "/members/1/cap-status", "", false)
	var view struct {
		Status   string `json:"status"`
		CapLimit string `json:"cap_limit"`
	}
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "open", view.Status)
	assert.Equal(t, true, conv.Equal(conv.MustFromString(view.CapLimit), conv.MustFromString("50000")))
}

func TestProcessEvent(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/events", `{"event_id":"task-1","kind":"task_completion","source_member_id":2,"amount":"100"}`, false)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Entries []struct {
			RecipientID uint64 `json:"recipient_id"`
			Amount      string `json:"amount"`
		} `json:"entries"`
	}
	assert.Equal(t, nil, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, len(resp.Entries))
	assert.Equal(t, uint64(1), resp.Entries[0].RecipientID)
	assert.Equal(t, true, conv.Equal(conv.MustFromString(resp.Entries[0].Amount), conv.MustFromString("10")))

	w = do(r, http.MethodPost, "/events", `{"event_id":"task-2","kind":"task_completion","source_member_id":2,"amount":"-5"}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/events", `{"event_id":"task-3","kind":"task_completion","source_member_id":77,"amount":"5"}`, false)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		admin  bool
		code   int
	}{
		{name: "Fail case. Rates without token", method: http.MethodGet, path: "/admin/rates", code: http.StatusForbidden},
		{name: "Success case. Rates with token", method: http.MethodGet, path: "/admin/rates", admin: true, code: http.StatusOK},
		{name: "Success case. Reload rates", method: http.MethodPost, path: "/admin/rates/reload", admin: true, code: http.StatusOK},
		{name: "Fail case. Unknown job", method: http.MethodPost, path: "/admin/jobs/rebuild_cache", admin: true, code: http.StatusNotFound},
		{name: "Fail case. Malformed period", method: http.MethodPost, path: "/admin/jobs/rank_bonus?period=2024-13", admin: true, code: http.StatusBadRequest},
		{name: "Success case. Rank bonus for a period", method: http.MethodPost, path: "/admin/jobs/rank_bonus?period=2024-04", admin: true, code: http.StatusOK},
		{name: "Success case. Mature the ledger", method: http.MethodPost, path: "/admin/jobs/mature_ledger", admin: true, code: http.StatusOK},
		{name: "Fail case. Tier change without token", method: http.MethodPost, path: "/members/1/tier", body: `{"membership_tier":"silver_1"}`, code: http.StatusForbidden},
		{name: "Fail case. Tier downgrade", method: http.MethodPost, path: "/members/1/tier", body: `{"membership_tier":"starter"}`, admin: true, code: http.StatusUnprocessableEntity},
		{name: "Fail case. Tier missing", method: http.MethodPost, path: "/members/1/tier", body: `{}`, admin: true, code: http.StatusBadRequest},
		{name: "Success case. Tier upgrade", method: http.MethodPost, path: "/members/1/tier", body: `{"membership_tier":"silver_1"}`, admin: true, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, tt.method, tt.path, tt.body, tt.admin)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}
