package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"statushub/internal/constants"
	"statushub/internal/database"
	apperrors "statushub/internal/errors"
	"statushub/internal/models"
	"statushub/internal/service"
	"statushub/internal/staging"
	"statushub/pkg/notification"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	db       *database.Database
	worker   *service.Worker
	notifier *service.Notifier
	listener *service.Listener
	server   *Server
	http     *httptest.Server
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func setupEnv(t *testing.T, serverCfg models.ServerConfig) *testEnv {
	t.Helper()
	logger := quietLogger()

	db, err := database.New(context.Background(), models.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "statushub.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	worker := service.NewWorker(64, logger)
	worker.Start(context.Background())
	t.Cleanup(worker.Stop)

	notifier := service.NewNotifier(logger)
	stager := staging.New(db, logger)
	committer := service.NewCommitter(service.CommitterConfig{
		Queue:    stager,
		Worker:   worker,
		Notifier: notifier,
		Logger:   logger,
	})
	t.Cleanup(committer.Stop)

	listener := service.NewListener(service.ListenerConfig{
		Normalizer: notification.NewNormalizer(constants.DefaultAllowedApps),
		Worker:     worker,
		Store:      db,
		Stager:     stager,
		Drains:     committer,
		Notifier:   notifier,
		Mode:       constants.CommitModeDirect,
		Enabled:    true,
		Logger:     logger,
	})

	if serverCfg.IngestRatePerSec == 0 {
		serverCfg.IngestRatePerSec = 1000
		serverCfg.IngestBurst = 1000
	}
	server := NewServer(serverCfg, listener, db, notifier, logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		_ = server.Shutdown(context.Background())
		ts.Close()
	})

	return &testEnv{
		db:       db,
		worker:   worker,
		notifier: notifier,
		listener: listener,
		server:   server,
		http:     ts,
	}
}

func eventBody(t *testing.T, pkg, key, title string, lines ...string) []byte {
	t.Helper()
	ev := map[string]interface{}{
		"packageName": pkg,
		"key":         key,
		"extras": map[string]interface{}{
			notification.ExtraTitle:     title,
			notification.ExtraTextLines: lines,
		},
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func (e *testEnv) post(t *testing.T, body []byte) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.worker.Flush(ctx))
}

func (e *testEnv) getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestEvents_AcceptedAndStored(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})

	resp, out := env.post(t, eventBody(t, constants.WhatsAppPackage, "k1", "Bob", "hey"))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "accepted", out["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	env.flush(t)

	var page messagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/messages", &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "Bob", page.Messages[0].Sender)
	assert.Equal(t, "hey", page.Messages[0].Body)
	assert.Equal(t, page.Messages[0].ID, page.NextAfter)
}

func TestEvents_FilteredIsAccepted(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})

	resp, out := env.post(t, eventBody(t, "org.example.other", "k1", "Bob", "hey"))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "filtered", out["status"])
}

func TestEvents_MalformedBody(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})

	resp, out := env.post(t, []byte(`{"packageName": `))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), out["error"].(map[string]interface{})["code"])
}

func TestEvents_RateLimited(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{IngestRatePerSec: 1, IngestBurst: 1})

	first, _ := env.post(t, eventBody(t, constants.WhatsAppPackage, "k1", "Bob", "one"))
	assert.Equal(t, http.StatusAccepted, first.StatusCode)

	second, out := env.post(t, eventBody(t, constants.WhatsAppPackage, "k2", "Bob", "two"))
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, string(apperrors.ErrCodeRateLimit), out["error"].(map[string]interface{})["code"])
}

func TestListenerToggle(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})

	var state listenerState
	require.Equal(t, http.StatusOK, env.getJSON(t, "/listener", &state))
	assert.True(t, state.Enabled)
	assert.Equal(t, constants.CommitModeDirect, state.Mode)

	req, err := http.NewRequest(http.MethodPut, env.http.URL+"/listener", strings.NewReader(`{"enabled": false}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	disabled, _ := env.post(t, eventBody(t, constants.WhatsAppPackage, "k1", "Bob", "hey"))
	assert.Equal(t, http.StatusServiceUnavailable, disabled.StatusCode)

	req, err = http.NewRequest(http.MethodPut, env.http.URL+"/listener", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListenerToggle_RejectsRemotePeer(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})

	req := httptest.NewRequest(http.MethodPut, "/listener", strings.NewReader(`{"enabled": false}`))
	req.RemoteAddr = "203.0.113.9:443"
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.True(t, env.listener.Enabled())
}

func TestMessages_PagingAndValidation(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})
	for _, body := range []string{"one", "two", "three"} {
		_, err := env.db.InsertIfAbsent(context.Background(), models.NewMessageRecord("Bob", body, constants.WhatsAppPackage, ""))
		require.NoError(t, err)
	}
	_, err := env.db.MarkDeleted(context.Background(), "Bob", constants.WhatsAppPackage)
	require.NoError(t, err)

	var page messagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/messages?limit=2", &page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "one", page.Messages[0].Body)

	var rest messagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/messages?after="+itoa(page.NextAfter), &rest))
	require.Len(t, rest.Messages, 1)
	assert.Equal(t, "three", rest.Messages[0].Body)
	assert.True(t, rest.Messages[0].IsDeleted)

	var live messagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/messages?include_deleted=false", &live))
	assert.Len(t, live.Messages, 2)

	var empty messagesResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/messages?after=100", &empty))
	assert.NotNil(t, empty.Messages)
	assert.Equal(t, int64(100), empty.NextAfter)

	var bad map[string]interface{}
	assert.Equal(t, http.StatusBadRequest, env.getJSON(t, "/messages?after=-1", &bad))
	assert.Equal(t, http.StatusBadRequest, env.getJSON(t, "/messages?include_deleted=maybe", &bad))
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})

	var health healthResponse
	require.Equal(t, http.StatusOK, env.getJSON(t, "/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.ListenerEnabled)
	assert.False(t, health.ConsumerAttached)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "statushub_pending_entries")
}

func wsURL(e *testEnv) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

func readRefresh(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, constants.RefreshSignal, string(data))
}

func TestConsumerSocket_ReceivesRefresh(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})
	ctx := context.Background()

	conn, _, err := websocket.Dial(ctx, wsURL(env), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	// Attach delivers an initial refresh for reconciliation.
	readRefresh(t, conn)
	require.Eventually(t, env.notifier.Attached, time.Second, 10*time.Millisecond)

	resp, _ := env.post(t, eventBody(t, constants.WhatsAppPackage, "k1", "Bob", "hey"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	readRefresh(t, conn)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return !env.notifier.Attached() }, 2*time.Second, 10*time.Millisecond)
}

func TestConsumerSocket_NewerSocketReplacesOlder(t *testing.T) {
	env := setupEnv(t, models.ServerConfig{})
	ctx := context.Background()

	first, _, err := websocket.Dial(ctx, wsURL(env), nil)
	require.NoError(t, err)
	defer first.CloseNow()
	readRefresh(t, first)

	second, _, err := websocket.Dial(ctx, wsURL(env), nil)
	require.NoError(t, err)
	defer second.CloseNow()
	readRefresh(t, second)

	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, _, err = first.Read(readCtx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.True(t, env.notifier.Attached())
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
