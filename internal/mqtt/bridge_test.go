package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/inspection"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTopics = config.TopicsConfig{
	Commands:  "COMAU/commands",
	Responses: "COMAU/toRobot",
	Results:   "COMAU/memoryData",
}

type message struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	handlers   map[string]Handler
	published  []message
	subErr     error
	publishErr error
	// hold, when set, blocks Publish until it is closed.
	hold chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]Handler)}
}

func (f *fakeClient) Connect(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool             { return true }
func (f *fakeClient) Disconnect()                   {}

func (f *fakeClient) Subscribe(topic string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.handlers[topic] = h
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, message{topic, payload})
	return f.publishErr
}

func (f *fakeClient) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(topic, []byte(payload))
}

func (f *fakeClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

func (f *fakeClient) on(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeInspector struct {
	mu       sync.Mutex
	outcome  inspection.Outcome
	err      error
	selected string
	selErr   error
	block    chan struct{}
}

func (f *fakeInspector) Inspect(context.Context) (inspection.Outcome, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.err
}

func (f *fakeInspector) SelectTemplate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = name
	return f.selErr
}

// runBridge starts the bridge and returns a stop function that waits for
// Run to return.
func runBridge(t *testing.T, client *fakeClient, insp Inspector) func() {
	t.Helper()
	b := NewBridge(client, insp, testTopics, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return client.subscribed(testTopics.Commands) }, time.Second, 5*time.Millisecond)
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return")
		}
	}
}

func response(t *testing.T, client *fakeClient) Response {
	t.Helper()
	require.Eventually(t, func() bool { return len(client.on(testTopics.Responses)) > 0 }, 2*time.Second, 5*time.Millisecond)
	var r Response
	require.NoError(t, json.Unmarshal(client.on(testTopics.Responses)[0].payload, &r))
	return r
}

func TestBridge_Ping(t *testing.T) {
	client := newFakeClient()
	stop := runBridge(t, client, &fakeInspector{})
	defer stop()

	client.deliver(testTopics.Commands, `{"command":"ping","request_id":"r1"}`)

	r := response(t, client)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, StatusOK, r.Status)
	assert.Nil(t, r.Success)
}

func TestBridge_AnalyzePassed(t *testing.T) {
	client := newFakeClient()
	data := &inspection.Result{Attempt: 1, Template: "JUNTA-4", Notches: []inspection.Notch{}}
	insp := &fakeInspector{outcome: inspection.Outcome{Success: true, Attempts: 1, Data: data}}
	stop := runBridge(t, client, insp)
	defer stop()

	client.deliver(testTopics.Commands, `{"command":"analyze"}`)

	r := response(t, client)
	assert.Equal(t, StatusOK, r.Status)
	assert.NotEmpty(t, r.RequestID, "a request id is generated")
	require.NotNil(t, r.Success)
	assert.True(t, *r.Success)
	assert.Equal(t, "JUNTA-4", r.Data.Template)

	results := client.on(testTopics.Results)
	require.Len(t, results, 1)
	assert.Contains(t, string(results[0].payload), `"muescas":[]`)
}

func TestBridge_AnalyzeRejected(t *testing.T) {
	client := newFakeClient()
	data := &inspection.Result{Attempt: 3, EarlyExit: inspection.ExitHoleCount, Notches: []inspection.Notch{}}
	insp := &fakeInspector{outcome: inspection.Outcome{
		Attempts: 3,
		Data:     data,
		Err:      &inspection.CountMismatchError{Expected: 4, Got: 3},
	}}
	stop := runBridge(t, client, insp)
	defer stop()

	client.deliver(testTopics.Commands, `{"command":"analyze","request_id":"r2"}`)

	r := response(t, client)
	assert.Equal(t, StatusOK, r.Status)
	require.NotNil(t, r.Success)
	assert.False(t, *r.Success)
	assert.Equal(t, 3, r.Attempts)
	assert.Contains(t, r.Error, "expected 4, got 3")
	assert.Equal(t, inspection.ExitHoleCount, r.Data.EarlyExit)
	assert.Empty(t, client.on(testTopics.Results), "failed inspections are not published as results")
}

func TestBridge_AnalyzeError(t *testing.T) {
	client := newFakeClient()
	stop := runBridge(t, client, &fakeInspector{err: errors.New("camera unavailable")})
	defer stop()

	client.deliver(testTopics.Commands, `{"command":"analyze","request_id":"r3"}`)

	r := response(t, client)
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "camera unavailable", r.Error)
}

func TestBridge_SelectTemplate(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		selErr     error
		wantStatus string
		wantName   string
	}{
		{"ok", `{"command":"select_template","template":"JUNTA-6"}`, nil, StatusOK, "JUNTA-6"},
		{"missing name", `{"command":"select_template"}`, nil, StatusError, ""},
		{"unknown template", `{"command":"select_template","template":"X"}`, errors.New("not found"), StatusError, "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			insp := &fakeInspector{selErr: tt.selErr}
			stop := runBridge(t, client, insp)
			defer stop()

			client.deliver(testTopics.Commands, tt.payload)

			r := response(t, client)
			assert.Equal(t, tt.wantStatus, r.Status)
			insp.mu.Lock()
			assert.Equal(t, tt.wantName, insp.selected)
			insp.mu.Unlock()
		})
	}
}

func TestBridge_BadCommands(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{"malformed", `{not json`, "malformed command"},
		{"unknown", `{"command":"dance"}`, "unknown command: dance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			stop := runBridge(t, client, &fakeInspector{})
			defer stop()

			client.deliver(testTopics.Commands, tt.payload)

			r := response(t, client)
			assert.Equal(t, StatusError, r.Status)
			assert.Contains(t, r.Error, tt.wantErr)
		})
	}
}

func TestBridge_QueueFull(t *testing.T) {
	client := newFakeClient()
	b := NewBridge(client, &fakeInspector{}, testTopics, nil)

	// Run is not started, so nothing drains the queue.
	for i := 0; i < queueSize; i++ {
		b.enqueue(testTopics.Commands, []byte(`{"command":"ping"}`))
	}
	assert.Empty(t, client.on(testTopics.Responses))

	b.enqueue(testTopics.Commands, []byte(`{"command":"analyze","request_id":"late"}`))

	r := response(t, client)
	assert.Equal(t, StatusBusy, r.Status)
	assert.Equal(t, "late", r.RequestID)
}

func TestBridge_BusyReplyDoesNotBlockDelivery(t *testing.T) {
	client := newFakeClient()
	client.hold = make(chan struct{})
	b := NewBridge(client, &fakeInspector{}, testTopics, nil)

	for i := 0; i < queueSize; i++ {
		b.enqueue(testTopics.Commands, []byte(`{"command":"ping"}`))
	}

	returned := make(chan struct{})
	go func() {
		b.enqueue(testTopics.Commands, []byte(`{"command":"analyze","request_id":"late"}`))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a slow publish")
	}
	assert.Empty(t, client.on(testTopics.Responses))

	close(client.hold)
	r := response(t, client)
	assert.Equal(t, StatusBusy, r.Status)
	b.replies.Wait()
}

func TestBridge_SubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subErr = errors.New("broker refused")
	b := NewBridge(client, &fakeInspector{}, testTopics, nil)

	err := b.Run(context.Background())
	assert.EqualError(t, err, "broker refused")
}

func TestBridge_FinishesRunningCommand(t *testing.T) {
	client := newFakeClient()
	insp := &fakeInspector{
		block:   make(chan struct{}),
		outcome: inspection.Outcome{Success: true, Attempts: 1, Data: &inspection.Result{Notches: []inspection.Notch{}}},
	}
	b := NewBridge(client, insp, testTopics, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	require.Eventually(t, func() bool { return client.subscribed(testTopics.Commands) }, time.Second, 5*time.Millisecond)

	client.deliver(testTopics.Commands, `{"command":"analyze","request_id":"slow"}`)
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(insp.block)

	require.NoError(t, <-done)
	r := response(t, client)
	assert.Equal(t, "slow", r.RequestID)
}

func TestConfigFrom(t *testing.T) {
	c := ConfigFrom(config.MQTTConfig{Broker: "tcp://10.0.0.5:1883", QoS: 1, Username: "cell"})
	assert.Equal(t, "tcp://10.0.0.5:1883", c.Broker)
	assert.Equal(t, "gasketvision", c.ClientID)
	assert.Equal(t, byte(1), c.QoS)
	assert.Equal(t, "cell", c.Username)
	assert.Equal(t, 30*time.Second, c.ConnectTimeout)
}

func TestClient_PublishNotConnected(t *testing.T) {
	c := NewClient(DefaultConfig(), nil, nil)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(context.Background(), "t", []byte("x")), ErrNotConnected)
	assert.NoError(t, c.Subscribe("t", func(string, []byte) {}))
	c.Disconnect()
}
