package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/intake-chat/internal/domain"
	"github.com/ashureev/intake-chat/internal/intake"
	"github.com/ashureev/intake-chat/internal/metrics"
	"github.com/ashureev/intake-chat/internal/store"
	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExtractor accepts every answer under the step's first field and
// fails for inputs listed in failOn.
type scriptedExtractor struct {
	mu     sync.Mutex
	failOn map[string]error
}

func (e *scriptedExtractor) Extract(_ context.Context, c intake.Contract, input string) (intake.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.failOn[input]; ok {
		return intake.Decision{}, err
	}

	fields := map[string]any{}
	switch c.Step {
	case intake.StepAddVehicle, intake.StepAddAnotherVehicle:
		if input == "yes" {
			fields["add_vehicle"] = true
		} else {
			fields["no_vehicle"] = true
		}
	default:
		fields[c.Fields[0]] = input
	}
	return intake.Decision{Valid: true, Message: "Next question for " + string(c.Step), Fields: fields}, nil
}

type testServer struct {
	srv      *httptest.Server
	repo     *store.SQLiteStore
	registry *Registry
	ext      *scriptedExtractor
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ext := &scriptedExtractor{failOn: map[string]error{}}
	registry := NewRegistry()
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	h := NewHandler(repo, ext, registry, opts)

	r := chi.NewRouter()
	r.Get("/ws/chat", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, repo: repo, registry: registry, ext: ext}
}

func (ts *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.srv.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })

	assert.Equal(t, map[string]string{"message": Greeting}, readFrame(t, conn))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var frame map[string]string
	require.NoError(t, sonic.Unmarshal(data, &frame))
	return frame
}

func send(t *testing.T, conn *websocket.Conn, payload string) map[string]string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(payload)))
	return readFrame(t, conn)
}

func sendMessage(t *testing.T, conn *websocket.Conn, text string) map[string]string {
	t.Helper()
	data, err := sonic.Marshal(map[string]string{"message": text})
	require.NoError(t, err)
	return send(t, conn, string(data))
}

func onlySession(t *testing.T, r *Registry) string {
	t.Helper()
	require.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	return r.Sessions()[0]
}

func TestHandler_ForeignLicenseConversation(t *testing.T) {
	ts := newTestServer(t, Options{IsDev: true})
	conn := ts.dial(t)
	sessionID := onlySession(t, ts.registry)

	assert.Equal(t, "Next question for zip", sendMessage(t, conn, "12345")["message"])
	sendMessage(t, conn, "John Smith")
	sendMessage(t, conn, "john@gmail.com")
	assert.Equal(t, "Next question for add_vehicle", sendMessage(t, conn, "no")["message"])

	final := sendMessage(t, conn, "foreign")["message"]
	assert.True(t, strings.HasPrefix(final, intake.SummaryHeader), final)
	assert.Contains(t, final, "- Vehicles: 0")
	assert.Contains(t, final, "- License Status: N/A")

	assert.Equal(t, map[string]string{"error": ErrCodeSessionComplete}, sendMessage(t, conn, "hello?"))

	ctx := context.Background()
	session, err := ts.repo.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, session.IsComplete)
	assert.NotNil(t, session.CompletedAt)
	assert.Equal(t, "12345", session.ZipCode)
	assert.Equal(t, "foreign", session.LicenseType)

	messages, err := ts.repo.ListMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, messages, 10)
	assert.Equal(t, domain.RoleAssistant, messages[9].Role)
	assert.Equal(t, final, messages[9].Content)
}

func TestHandler_VehicleConversationPersistsVehicle(t *testing.T) {
	ts := newTestServer(t, Options{IsDev: true})
	conn := ts.dial(t)
	sessionID := onlySession(t, ts.registry)

	for _, in := range []string{"12345", "John Smith", "john@gmail.com", "yes", "1HGBH41JXMN109186", "farming", "yes", "12000"} {
		frame := sendMessage(t, conn, in)
		require.NotContains(t, frame, "error", "input %q", in)
	}

	vehicles, err := ts.repo.ListVehicles(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, domain.UseFarming, vehicles[0].UseType)
	require.NotNil(t, vehicles[0].AnnualMileage)
	assert.InDelta(t, 12000, *vehicles[0].AnnualMileage, 0)
}

func TestHandler_MalformedFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t, Options{IsDev: true})
	conn := ts.dial(t)

	assert.Equal(t, map[string]string{"error": ErrCodeInvalidMessage}, send(t, conn, "not json"))
	assert.Equal(t, map[string]string{"error": ErrCodeInvalidMessage}, send(t, conn, `{"text":"12345"}`))
	assert.Equal(t, map[string]string{"error": ErrCodeInvalidMessage}, send(t, conn, `{"message":42}`))

	assert.Equal(t, "Next question for zip", sendMessage(t, conn, "12345")["message"])
}

func TestHandler_TurnFailureKeepsConnection(t *testing.T) {
	ts := newTestServer(t, Options{IsDev: true})
	ts.ext.failOn["12345"] = errors.New("model unavailable")
	conn := ts.dial(t)

	assert.Equal(t, map[string]string{"error": ErrCodeTurnFailed}, sendMessage(t, conn, "12345"))

	reply := sendMessage(t, conn, "54321")
	assert.Equal(t, "Next question for zip", reply["message"])
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, Options{AllowedOrigin: "https://intake.example.com"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.srv.URL, "http")+"/ws/chat", &websocket.DialOptions{
		HTTPHeader: header,
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Zero(t, ts.registry.Len())
}

func TestHandler_CloseAllDisconnectsClients(t *testing.T) {
	ts := newTestServer(t, Options{IsDev: true})
	conn := ts.dial(t)
	onlySession(t, ts.registry)

	ts.registry.CloseAll("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Zero(t, ts.registry.Len())
}

func TestHandler_UnregistersOnDisconnect(t *testing.T) {
	ts := newTestServer(t, Options{IsDev: true})
	conn := ts.dial(t)
	onlySession(t, ts.registry)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return ts.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
