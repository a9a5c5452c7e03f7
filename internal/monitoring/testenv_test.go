package monitoring

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"meshreg/internal/feed"
	"meshreg/internal/models"
	"meshreg/internal/repo"
)

type testEnv struct {
	db     *gorm.DB
	nodes  *repo.NodeStore
	states *repo.StateStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Node{}, &models.NodeSecret{}, &models.NodeState{}))
	return &testEnv{db: db, nodes: repo.NewNodeStore(db, nil), states: repo.NewStateStore(db)}
}

// registerNode заводит узел; при confirm мониторинг доводится до ACTIVE.
func (e *testEnv) registerNode(t *testing.T, hostname, mac string, monitoring, confirm bool) *models.Node {
	t.Helper()
	capture := &tokenCapture{}
	nodes := repo.NewNodeStore(e.db, capture)
	n, err := nodes.Create(context.Background(), repo.NodeInput{
		Nickname:   "owner",
		Email:      hostname + "@example.org",
		Hostname:   hostname,
		MAC:        mac,
		Monitoring: monitoring,
	})
	require.NoError(t, err)
	if confirm {
		n, err = nodes.ConfirmMonitoring(context.Background(), capture.token)
		require.NoError(t, err)
	}
	return n
}

type tokenCapture struct{ token string }

func (c *tokenCapture) SendConfirmation(_ context.Context, _ *models.Node, token string) error {
	c.token = token
	return nil
}

type feedStub struct {
	results map[string]*feed.Result
	errs    map[string]error
}

func (f *feedStub) Fetch(_ context.Context, url string) (*feed.Result, error) {
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	res, ok := f.results[url]
	if !ok {
		return nil, fmt.Errorf("no stub for %s", url)
	}
	return res, nil
}

type statusCall struct {
	mailType models.MailType
	mac      string
	hostname string
}

type statusMailerStub struct {
	calls []statusCall
	err   error
}

func (m *statusMailerStub) SendStatus(_ context.Context, t models.MailType, n *models.Node, rec *models.NodeState, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, statusCall{mailType: t, mac: rec.MAC, hostname: n.Hostname})
	return nil
}
