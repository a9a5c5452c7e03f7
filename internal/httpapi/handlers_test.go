package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meshreg/internal/models"
	"meshreg/internal/repo"
	"meshreg/internal/scheduler"
)

type apiEnv struct {
	server *httptest.Server
	db     *gorm.DB
	sched  *scheduler.Scheduler
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Node{}, &models.NodeSecret{}, &models.NodeState{}, &models.Mail{}))

	sched := scheduler.New()
	require.NoError(t, sched.Register(scheduler.NewTask(
		"feed-ingest", "Импорт фидов", "", "0 */5 * * * *",
		func(context.Context) error { return nil },
	)))

	r := mux.NewRouter().StrictSlash(true)
	RegisterRoutes(r, New(
		repo.NewNodeStore(db, nil),
		repo.NewStateStore(db),
		repo.NewMailStore(db),
		sched,
	))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &apiEnv{server: srv, db: db, sched: sched}
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func nodeBody(hostname, mac string) map[string]any {
	return map[string]any{
		"nickname": "alice",
		"email":    "alice@example.org",
		"hostname": hostname,
		"mac":      mac,
		"key":      "key-" + hostname,
	}
}

func TestNodeLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/node", nodeBody("ff-a", "aa:bb:cc:dd:ee:01"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Node
	require.NoError(t, json.Unmarshal(body, &created))
	require.Len(t, created.Token, 32)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", created.MAC)

	resp, body = env.do(t, http.MethodGet, "/api/node/"+created.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Node
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ff-a", got.Hostname)

	upd := nodeBody("ff-a-renamed", "aa:bb:cc:dd:ee:01")
	resp, body = env.do(t, http.MethodPut, "/api/node/"+created.Token, upd)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "ff-a-renamed", got.Hostname)

	resp, _ = env.do(t, http.MethodDelete, "/api/node/"+created.Token, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/node/"+created.Token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateNodeConflictProblem(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/node", nodeBody("ff-a", "aa:bb:cc:dd:ee:01"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/node", nodeBody("ff-a", "aa:bb:cc:dd:ee:02"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))

	var problem struct {
		Status int            `json:"status"`
		Extra  map[string]any `json:"extra"`
	}
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, http.StatusConflict, problem.Status)
	assert.Equal(t, "hostname", problem.Extra["field"])
}

func TestCreateNodeBadRequest(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/node", nodeBody("ff-a", "not-a-mac"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListNodesHidesTokens(t *testing.T) {
	env := newAPIEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/node", nodeBody("ff-a", "aa:bb:cc:dd:ee:01"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/node", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "ff-a", list[0]["hostname"])
	_, hasToken := list[0]["token"]
	assert.False(t, hasToken)
}

func TestMonitoringConfirmEndpoint(t *testing.T) {
	env := newAPIEnv(t)

	// токен подтверждения достаём напрямую из стора: почта в тесте не собрана
	capture := struct {
		token string
	}{}
	nodes := repo.NewNodeStore(env.db, confirmFunc(func(_ context.Context, _ *models.Node, token string) error {
		capture.token = token
		return nil
	}))
	in := repo.NodeInput{
		Nickname: "alice", Email: "alice@example.org",
		Hostname: "ff-a", MAC: "AA:BB:CC:DD:EE:01", Monitoring: true,
	}
	_, err := nodes.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, capture.token, 32)

	// GET — ссылка из письма открывается браузером
	resp, body := env.do(t, http.MethodGet, "/api/monitoring/confirm/"+capture.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, models.MonitoringActive, summary["monitoring_state"])

	resp, _ = env.do(t, http.MethodPut, "/api/monitoring/disable/"+capture.token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// отключённый токен мёртв
	resp, _ = env.do(t, http.MethodGet, "/api/monitoring/confirm/"+capture.token, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type confirmFunc func(ctx context.Context, n *models.Node, token string) error

func (f confirmFunc) SendConfirmation(ctx context.Context, n *models.Node, token string) error {
	return f(ctx, n, token)
}

func TestStateByMACs(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.db.Create(&models.NodeState{
		MAC: "AA:BB:CC:DD:EE:01", Hostname: "ff-a", State: models.StateOnline,
	}).Error)

	resp, body := env.do(t, http.MethodPost, "/api/monitoring/state", map[string]any{
		"macs": []string{"aa-bb-cc-dd-ee-01", "aa:bb:cc:dd:ee:99"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var recs []models.NodeState
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", recs[0].MAC)

	resp, _ = env.do(t, http.MethodPost, "/api/monitoring/state", map[string]any{"macs": []string{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMailAdminEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	m := &models.Mail{
		MailType: models.MailMonitoringOffline1, Sender: "noreply@mesh.example",
		Recipient: "a@example.org", Data: []byte(`{}`), Failures: 5,
	}
	require.NoError(t, env.db.Create(m).Error)

	resp, body := env.do(t, http.MethodGet, "/api/mail", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mails []models.Mail
	require.NoError(t, json.Unmarshal(body, &mails))
	require.Len(t, mails, 1)

	resp, _ = env.do(t, http.MethodPut, fmt.Sprintf("/api/mail/%d/reset", m.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/mail/%d", m.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Mail
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Zero(t, got.Failures)

	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/mail/%d", m.ID), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/mail/%d", m.ID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTaskAdminEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp, body := env.do(t, http.MethodGet, "/api/task", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tasks []scheduler.Snapshot
	require.NoError(t, json.Unmarshal(body, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "feed-ingest", tasks[0].ID)
	assert.True(t, tasks[0].Enabled)

	resp, body = env.do(t, http.MethodPut, "/api/task/feed-ingest/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.False(t, snap.Enabled)

	resp, _ = env.do(t, http.MethodPost, "/api/task/feed-ingest/run", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/task/missing/run", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
