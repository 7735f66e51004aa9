package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	httpadapter "github.com/ClareAI/astra-call-control/internal/adapters/http"
	"github.com/ClareAI/astra-call-control/internal/config"
	"github.com/ClareAI/astra-call-control/internal/core/event"
	"github.com/ClareAI/astra-call-control/internal/core/session"
	"github.com/ClareAI/astra-call-control/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   json.RawMessage
}

type fakeControlPlane struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responder func(req httpadapter.Request, n int) (*httpadapter.Response, error)
}

func (f *fakeControlPlane) Do(_ context.Context, req httpadapter.Request) (*httpadapter.Response, error) {
	f.mu.Lock()
	var body json.RawMessage
	if req.Body != nil {
		body, _ = json.Marshal(req.Body)
	}
	f.requests = append(f.requests, recordedRequest{Method: req.Method, Path: req.Path, Body: body})
	n := len(f.requests)
	f.mu.Unlock()

	if f.responder != nil {
		return f.responder(req, n)
	}
	return defaultResponse(req)
}

func (f *fakeControlPlane) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func defaultResponse(req httpadapter.Request) (*httpadapter.Response, error) {
	if req.Method == http.MethodPost && req.Path == conversationsPath {
		return &httpadapter.Response{Status: http.StatusOK, Body: []byte(`{"id":"CON-1","name":"NAM-1"}`)}, nil
	}
	return &httpadapter.Response{Status: http.StatusOK, Body: []byte(`{}`)}, nil
}

type captureSink struct {
	mu      sync.Mutex
	results []Result
	ctxs    []context.Context
}

func (c *captureSink) Record(ctx context.Context, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, res)
	c.ctxs = append(c.ctxs, ctx)
}

func (c *captureSink) recorded() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...)
}

type captureNotifier struct {
	mu      sync.Mutex
	changes []LegTransition
	ctxs    []context.Context
}

func (c *captureNotifier) Notify(ctx context.Context, change LegTransition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
	c.ctxs = append(c.ctxs, ctx)
	return nil
}

func (c *captureNotifier) recorded() []LegTransition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LegTransition(nil), c.changes...)
}

func transportError(req httpadapter.Request) error {
	return fmt.Errorf("control plane %s %s: %w", req.Method, req.Path,
		&url.Error{Op: req.Method, URL: "http://control-plane" + req.Path, Err: errors.New("connection reset by peer")})
}

type harness struct {
	orch     *Orchestrator
	cp       *fakeControlPlane
	store    *session.MemoryStore
	sink     *captureSink
	notifier *captureNotifier
}

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	if settings.GreetingText == "" {
		settings.GreetingText = config.DefaultGreetingText
	}
	if settings.VoiceName == "" {
		settings.VoiceName = config.DefaultVoiceName
	}
	h := &harness{
		cp:       &fakeControlPlane{},
		store:    session.NewMemoryStore(time.Hour),
		sink:     &captureSink{},
		notifier: &captureNotifier{},
	}
	h.orch = NewOrchestrator(settings, h.cp, h.store, h.sink, h.notifier)
	return h
}

func decode(t *testing.T, payload string) event.Event {
	t.Helper()
	ev, err := event.Decode([]byte(payload))
	require.NoError(t, err)
	return ev
}

const knockingPayload = `{"type":"app:knocking","from":"K1","body":{"channel":{"type":"phone","id":"L1"},"user":{"id":"U1"}}}`

func TestHandleUnknownTypeIssuesNoRequests(t *testing.T) {
	h := newHarness(t, Settings{AcceptUntrackedLegs: true})

	for _, payload := range []string{
		`{"type":"member:joined","body":{"channel":{"id":"L1"}}}`,
		`{"type":"rtc:transfer"}`,
		`{}`,
	} {
		res := h.orch.Handle(context.Background(), decode(t, payload))
		assert.Equal(t, StatusIgnored, res.Status)
	}
	assert.Empty(t, h.cp.recorded())
	assert.Empty(t, h.sink.results)
}

func TestHandleKnockingCreatesConversationThenJoins(t *testing.T) {
	h := newHarness(t, Settings{})

	res := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	require.Equal(t, StatusApplied, res.Status, "err: %v", res.Err)
	assert.Equal(t, "CON-1", res.ConversationID)

	reqs := h.cp.recorded()
	require.Len(t, reqs, 2)

	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/v0.3/conversations", reqs[0].Path)
	assert.JSONEq(t, `{}`, string(reqs[0].Body))

	assert.Equal(t, http.MethodPost, reqs[1].Method)
	assert.Equal(t, "/v0.3/conversations/CON-1/members", reqs[1].Path)
	assert.JSONEq(t, `{
		"user": {"id": "U1"},
		"knocking_id": "K1",
		"state": "joined",
		"channel": {"type": "phone", "id": "L1", "preanswer": false},
		"media": {"audio": true}
	}`, string(reqs[1].Body))

	rec, err := h.store.Get(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, domain.LegStateBridged, rec.State)
	assert.Equal(t, "CON-1", rec.ConversationID)
	assert.Empty(t, h.sink.results)
}

func TestHandleKnockingReproducesChannelEndpoints(t *testing.T) {
	h := newHarness(t, Settings{})

	res := h.orch.Handle(context.Background(), decode(t, `{
		"type": "app:knocking",
		"from": "K2",
		"body": {
			"channel": {
				"type": "phone",
				"id": "L2",
				"to": {"type": "phone", "number": "15550001111"},
				"from": {"type": "phone", "number": "15550002222"},
				"headers": {"x": "y"}
			},
			"user": {"id": "U2"}
		}
	}`))
	require.Equal(t, StatusApplied, res.Status)

	reqs := h.cp.recorded()
	require.Len(t, reqs, 2)

	var join struct {
		Channel map[string]json.RawMessage `json:"channel"`
	}
	require.NoError(t, json.Unmarshal(reqs[1].Body, &join))
	assert.JSONEq(t, `{"type":"phone","number":"15550001111"}`, string(join.Channel["to"]))
	assert.JSONEq(t, `{"type":"phone","number":"15550002222"}`, string(join.Channel["from"]))
	assert.JSONEq(t, `"L2"`, string(join.Channel["id"]))
	assert.JSONEq(t, `false`, string(join.Channel["preanswer"]))
}

func TestHandleKnockingAbortsWhenConversationCreationFails(t *testing.T) {
	h := newHarness(t, Settings{})
	h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
		return nil, &httpadapter.APIError{Method: req.Method, Path: req.Path, Status: http.StatusBadRequest}
	}

	res := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepCreateConversation, res.Step)

	require.Len(t, h.cp.recorded(), 1)
	require.Len(t, h.sink.results, 1)
	assert.Equal(t, StepCreateConversation, h.sink.results[0].Step)

	rec, _ := h.store.Get(context.Background(), "L1")
	assert.Equal(t, domain.LegStateIdle, rec.State)
	assert.Empty(t, h.notifier.changes)
}

func TestHandleKnockingCompensatesFailedJoin(t *testing.T) {
	h := newHarness(t, Settings{})
	h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
		if strings.HasSuffix(req.Path, "/members") {
			return nil, &httpadapter.APIError{Method: req.Method, Path: req.Path, Status: http.StatusForbidden}
		}
		return defaultResponse(req)
	}

	res := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepJoinMember, res.Step)
	assert.True(t, res.Compensated)
	assert.Equal(t, "CON-1", res.ConversationID)

	reqs := h.cp.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodDelete, reqs[2].Method)
	assert.Equal(t, "/v0.3/conversations/CON-1", reqs[2].Path)

	rec, _ := h.store.Get(context.Background(), "L1")
	assert.Equal(t, domain.LegStateIdle, rec.State)
	require.Len(t, h.sink.results, 1)
	assert.Equal(t, http.StatusForbidden, httpadapter.UpstreamStatus(h.sink.results[0].Err))
}

func TestHandleKnockingDuplicateIsIgnored(t *testing.T) {
	h := newHarness(t, Settings{})

	first := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	require.Equal(t, StatusApplied, first.Status)
	second := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	assert.Equal(t, StatusIgnored, second.Status)
	assert.Len(t, h.cp.recorded(), 2)
}

func TestHandleKnockingMissingUserFails(t *testing.T) {
	h := newHarness(t, Settings{})

	res := h.orch.Handle(context.Background(), decode(t, `{"type":"app:knocking","from":"K1","body":{"channel":{"id":"L1"}}}`))
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, ErrInvalidEvent)
	assert.Empty(t, h.cp.recorded())
}

func TestHandleKnockingRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, Settings{Retry: config.RetryConfig{MaxAttempts: 3}})
	h.cp.responder = func(req httpadapter.Request, n int) (*httpadapter.Response, error) {
		if n == 1 {
			return nil, &httpadapter.APIError{Method: req.Method, Path: req.Path, Status: http.StatusServiceUnavailable}
		}
		return defaultResponse(req)
	}

	res := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	require.Equal(t, StatusApplied, res.Status)

	reqs := h.cp.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/v0.3/conversations", reqs[0].Path)
	assert.Equal(t, "/v0.3/conversations", reqs[1].Path)
	assert.Equal(t, "/v0.3/conversations/CON-1/members", reqs[2].Path)
}

func TestHandleMediaReady(t *testing.T) {
	h := newHarness(t, Settings{AcceptUntrackedLegs: true})

	res := h.orch.Handle(context.Background(), decode(t, `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":false}}}`))
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Empty(t, h.cp.recorded())

	res = h.orch.Handle(context.Background(), decode(t, `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":true}}}`))
	require.Equal(t, StatusApplied, res.Status)

	reqs := h.cp.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "/v0.3/legs/L1/talk", reqs[0].Path)
	assert.JSONEq(t, `{"loop":1,"text":"Hello, have a nice day! ","level":0,"voice_name":"Kimberly"}`, string(reqs[0].Body))
}

func TestHandleMediaReadyStrictRejectsUntrackedLeg(t *testing.T) {
	h := newHarness(t, Settings{AcceptUntrackedLegs: false})

	res := h.orch.Handle(context.Background(), decode(t, `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":true}}}`))
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Empty(t, h.cp.recorded())
}

func TestHandleMediaReadyTalkFailureRestoresLeg(t *testing.T) {
	h := newHarness(t, Settings{})
	require.Equal(t, StatusApplied, h.orch.Handle(context.Background(), decode(t, knockingPayload)).Status)

	h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
		return nil, errors.New("connection reset")
	}
	media := `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":true}}}`
	res := h.orch.Handle(context.Background(), decode(t, media))
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepTalk, res.Step)

	rec, _ := h.store.Get(context.Background(), "L1")
	assert.Equal(t, domain.LegStateBridged, rec.State)

	h.cp.responder = nil
	res = h.orch.Handle(context.Background(), decode(t, media))
	assert.Equal(t, StatusApplied, res.Status)
}

func TestHandleSayDoneHangsUp(t *testing.T) {
	h := newHarness(t, Settings{AcceptUntrackedLegs: true})

	res := h.orch.Handle(context.Background(), decode(t, `{"type":"audio:say:done","body":{"channel":{"id":"L9"}}}`))
	require.Equal(t, StatusApplied, res.Status)

	reqs := h.cp.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/v0.1/legs/L9", reqs[0].Path)
	assert.JSONEq(t, `{"action":"hangup","uuid":"L9"}`, string(reqs[0].Body))

	res = h.orch.Handle(context.Background(), decode(t, `{"type":"audio:say:done","body":{"channel":{"id":"L9"}}}`))
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Len(t, h.cp.recorded(), 1)
}

func TestFullCallLifecycle(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	require.Equal(t, StatusApplied, h.orch.Handle(ctx, decode(t, knockingPayload)).Status)
	require.Equal(t, StatusApplied, h.orch.Handle(ctx, decode(t, `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":true}}}`)).Status)
	require.Equal(t, StatusApplied, h.orch.Handle(ctx, decode(t, `{"type":"audio:say:done","body":{"channel":{"id":"L1"}}}`)).Status)

	// media arriving after the hangup must not replay the greeting
	late := h.orch.Handle(ctx, decode(t, `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":true}}}`))
	assert.Equal(t, StatusIgnored, late.Status)

	assert.Len(t, h.cp.recorded(), 4)

	require.Len(t, h.notifier.changes, 3)
	assert.Equal(t, domain.LegStateBridged, h.notifier.changes[0].State)
	assert.Equal(t, "CON-1", h.notifier.changes[0].ConversationID)
	assert.Equal(t, domain.LegStateAnnouncing, h.notifier.changes[1].State)
	assert.Equal(t, domain.LegStateTerminated, h.notifier.changes[2].State)

	rec, _ := h.store.Get(ctx, "L1")
	assert.Equal(t, domain.LegStateTerminated, rec.State)
	assert.Equal(t, "CON-1", rec.ConversationID)
}

const (
	mediaPayload   = `{"type":"member:media","body":{"channel":{"id":"L1"},"media":{"audio":true}}}`
	sayDonePayload = `{"type":"audio:say:done","body":{"channel":{"id":"L1"}}}`
)

func countRequests(reqs []recordedRequest, method, path string) int {
	n := 0
	for _, r := range reqs {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func TestHandleSayDoneOnBridgedLegHangsUp(t *testing.T) {
	for _, untracked := range []bool{true, false} {
		t.Run(fmt.Sprintf("accept untracked %v", untracked), func(t *testing.T) {
			h := newHarness(t, Settings{AcceptUntrackedLegs: untracked})
			require.Equal(t, StatusApplied, h.orch.Handle(context.Background(), decode(t, knockingPayload)).Status)

			res := h.orch.Handle(context.Background(), decode(t, sayDonePayload))
			require.Equal(t, StatusApplied, res.Status, "err: %v", res.Err)
			assert.Equal(t, 1, countRequests(h.cp.recorded(), http.MethodPut, "/v0.1/legs/L1"))

			rec, _ := h.store.Get(context.Background(), "L1")
			assert.Equal(t, domain.LegStateTerminated, rec.State)
		})
	}
}

func TestHandleSayDoneAfterTalkWithLostAnswerHangsUpOnce(t *testing.T) {
	h := newHarness(t, Settings{Retry: config.RetryConfig{MaxAttempts: 2}})
	ctx := context.Background()
	require.Equal(t, StatusApplied, h.orch.Handle(ctx, decode(t, knockingPayload)).Status)

	// the platform plays the greeting but the answer never makes it back
	h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
		if strings.HasSuffix(req.Path, "/talk") {
			return nil, transportError(req)
		}
		return defaultResponse(req)
	}
	res := h.orch.Handle(ctx, decode(t, mediaPayload))
	require.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, StepTalk, res.Step)

	res = h.orch.Handle(ctx, decode(t, sayDonePayload))
	require.Equal(t, StatusApplied, res.Status, "err: %v", res.Err)

	dup := h.orch.Handle(ctx, decode(t, sayDonePayload))
	assert.Equal(t, StatusIgnored, dup.Status)

	assert.Equal(t, 1, countRequests(h.cp.recorded(), http.MethodPut, "/v0.1/legs/L1"))
}

func TestHandleSayDoneWhenMediaHandledByAnotherInstance(t *testing.T) {
	a := newHarness(t, Settings{})
	b := newHarness(t, Settings{AcceptUntrackedLegs: true})
	ctx := context.Background()

	require.Equal(t, StatusApplied, a.orch.Handle(ctx, decode(t, knockingPayload)).Status)
	require.Equal(t, StatusApplied, b.orch.Handle(ctx, decode(t, mediaPayload)).Status)
	require.Equal(t, StatusApplied, a.orch.Handle(ctx, decode(t, sayDonePayload)).Status)

	assert.Equal(t, 1, countRequests(a.cp.recorded(), http.MethodPut, "/v0.1/legs/L1"))
	assert.Equal(t, 1, countRequests(b.cp.recorded(), http.MethodPost, "/v0.3/legs/L1/talk"))
	assert.Equal(t, StatusIgnored, a.orch.Handle(ctx, decode(t, sayDonePayload)).Status)
}

func TestHandleSayDoneStrictRejectsUntrackedLeg(t *testing.T) {
	h := newHarness(t, Settings{AcceptUntrackedLegs: false})

	res := h.orch.Handle(context.Background(), decode(t, sayDonePayload))
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Empty(t, h.cp.recorded())
}

func TestHandleNilEventIsIgnored(t *testing.T) {
	h := newHarness(t, Settings{AcceptUntrackedLegs: true})

	var res Result
	require.NotPanics(t, func() {
		res = h.orch.Handle(context.Background(), nil)
	})
	assert.Equal(t, StatusIgnored, res.Status)
	assert.Equal(t, event.KindIgnored, res.Kind)
	assert.Empty(t, h.cp.recorded())
	assert.Empty(t, h.sink.recorded())
}

func TestHandleKnockingKeepsConversationWhenJoinOutcomeIsUnknown(t *testing.T) {
	cases := []struct {
		name string
		fail func(req httpadapter.Request) error
	}{
		{"transport error", transportError},
		{"server error", func(req httpadapter.Request) error {
			return &httpadapter.APIError{Method: req.Method, Path: req.Path, Status: http.StatusBadGateway}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, Settings{Retry: config.RetryConfig{MaxAttempts: 3}})
			h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
				if strings.HasSuffix(req.Path, "/members") {
					return nil, tc.fail(req)
				}
				return defaultResponse(req)
			}

			res := h.orch.Handle(context.Background(), decode(t, knockingPayload))
			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, StepJoinMember, res.Step)
			assert.False(t, res.Compensated)
			assert.Equal(t, "CON-1", res.ConversationID)

			reqs := h.cp.recorded()
			assert.Equal(t, 1, countRequests(reqs, http.MethodPost, "/v0.3/conversations/CON-1/members"))
			assert.Zero(t, countRequests(reqs, http.MethodDelete, "/v0.3/conversations/CON-1"))

			rec, _ := h.store.Get(context.Background(), "L1")
			assert.Equal(t, domain.LegStateBridged, rec.State)
			assert.Equal(t, "CON-1", rec.ConversationID)
			require.Len(t, h.sink.recorded(), 1)

			// redelivery must not create a second conversation
			h.cp.responder = nil
			assert.Equal(t, StatusIgnored, h.orch.Handle(context.Background(), decode(t, knockingPayload)).Status)
			assert.Equal(t, 1, countRequests(h.cp.recorded(), http.MethodPost, "/v0.3/conversations"))
		})
	}
}

func TestHandleKnockingRetriesThrottledJoin(t *testing.T) {
	h := newHarness(t, Settings{Retry: config.RetryConfig{MaxAttempts: 3}})
	joins := 0
	h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
		if strings.HasSuffix(req.Path, "/members") {
			joins++
			if joins == 1 {
				return nil, &httpadapter.APIError{Method: req.Method, Path: req.Path, Status: http.StatusTooManyRequests}
			}
		}
		return defaultResponse(req)
	}

	res := h.orch.Handle(context.Background(), decode(t, knockingPayload))
	require.Equal(t, StatusApplied, res.Status, "err: %v", res.Err)
	assert.Equal(t, 2, joins)
	assert.Zero(t, countRequests(h.cp.recorded(), http.MethodDelete, "/v0.3/conversations/CON-1"))
}

func TestSideEffectsOutliveCancelledRequest(t *testing.T) {
	t.Run("sink", func(t *testing.T) {
		h := newHarness(t, Settings{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
			cancel()
			return nil, &httpadapter.APIError{Method: req.Method, Path: req.Path, Status: http.StatusBadRequest}
		}

		res := h.orch.Handle(ctx, decode(t, knockingPayload))
		require.Equal(t, StatusFailed, res.Status)

		require.Len(t, h.sink.ctxs, 1)
		assertBoundedDetached(t, h.sink.ctxs[0])
	})

	t.Run("notifier", func(t *testing.T) {
		h := newHarness(t, Settings{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		h.cp.responder = func(req httpadapter.Request, _ int) (*httpadapter.Response, error) {
			if strings.HasSuffix(req.Path, "/members") {
				cancel()
			}
			return defaultResponse(req)
		}

		require.Equal(t, StatusApplied, h.orch.Handle(ctx, decode(t, knockingPayload)).Status)

		require.Len(t, h.notifier.ctxs, 1)
		assertBoundedDetached(t, h.notifier.ctxs[0])
	})
}

func assertBoundedDetached(t *testing.T, ctx context.Context) {
	t.Helper()
	assert.NoError(t, ctx.Err())
	deadline, ok := ctx.Deadline()
	require.True(t, ok, "side effect context has no deadline")
	assert.WithinDuration(t, time.Now().Add(sideEffectTimeout), deadline, sideEffectTimeout)
	assert.True(t, time.Until(deadline) <= sideEffectTimeout)
}

func TestConcurrentEventsIssueOneRequestPerLegAndStep(t *testing.T) {
	const (
		legs   = 50
		copies = 4
	)
	h := newHarness(t, Settings{AcceptUntrackedLegs: true})
	h.cp.responder = func(req httpadapter.Request, n int) (*httpadapter.Response, error) {
		if req.Method == http.MethodPost && req.Path == conversationsPath {
			return &httpadapter.Response{Status: http.StatusOK, Body: []byte(fmt.Sprintf(`{"id":"CON-%d"}`, n))}, nil
		}
		return defaultResponse(req)
	}

	fanOut := func(payload func(leg int) string) {
		var wg sync.WaitGroup
		for leg := 0; leg < legs; leg++ {
			for c := 0; c < copies; c++ {
				wg.Add(1)
				go func(leg int) {
					defer wg.Done()
					ev, err := event.Decode([]byte(payload(leg)))
					if err != nil {
						t.Error(err)
						return
					}
					h.orch.Handle(context.Background(), ev)
				}(leg)
			}
		}
		wg.Wait()
	}

	fanOut(func(leg int) string {
		return fmt.Sprintf(`{"type":"app:knocking","from":"K%d","body":{"channel":{"type":"phone","id":"L%d"},"user":{"id":"U%d"}}}`, leg, leg, leg)
	})
	fanOut(func(leg int) string {
		return fmt.Sprintf(`{"type":"member:media","body":{"channel":{"id":"L%d"},"media":{"audio":true}}}`, leg)
	})
	fanOut(func(leg int) string {
		return fmt.Sprintf(`{"type":"audio:say:done","body":{"channel":{"id":"L%d"}}}`, leg)
	})

	reqs := h.cp.recorded()
	assert.Equal(t, legs, countRequests(reqs, http.MethodPost, conversationsPath))

	joinsPerLeg := map[string]int{}
	for _, r := range reqs {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.Path, "/members") {
			continue
		}
		var join struct {
			Channel struct {
				ID string `json:"id"`
			} `json:"channel"`
		}
		require.NoError(t, json.Unmarshal(r.Body, &join))
		joinsPerLeg[join.Channel.ID]++
	}
	require.Len(t, joinsPerLeg, legs)

	for leg := 0; leg < legs; leg++ {
		id := fmt.Sprintf("L%d", leg)
		assert.Equal(t, 1, joinsPerLeg[id], "joins for %s", id)
		assert.Equal(t, 1, countRequests(reqs, http.MethodPost, "/v0.3/legs/"+id+"/talk"), "talks for %s", id)
		assert.Equal(t, 1, countRequests(reqs, http.MethodPut, "/v0.1/legs/"+id), "hangups for %s", id)

		rec, err := h.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.LegStateTerminated, rec.State)
	}
	assert.Len(t, h.notifier.recorded(), legs*3)
	assert.Empty(t, h.sink.recorded())
}
