package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/hookd/internal/cfg"
	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/forward/action"
	"github.com/simplesurance/hookd/internal/forward/mocks"
	"github.com/simplesurance/hookd/internal/hookderr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// staticActionConfig renders always to the same runner.
type staticActionConfig struct {
	runner   action.Runner
	rendered []dispatch.Result
}

func (c *staticActionConfig) Render(result dispatch.Result, _ func(string) (string, error)) (action.Runner, error) {
	c.rendered = append(c.rendered, result)
	return c.runner, nil
}

func (c *staticActionConfig) String() string {
	return "static"
}

func (c *staticActionConfig) DetailedString() string {
	return "static\n"
}

func startEventLoop(t *testing.T, rules Rules) *EvLoop {
	t.Helper()

	evLoop := NewEventLoop(rules)
	go evLoop.Start()
	t.Cleanup(evLoop.Stop)

	return evLoop
}

func newMockRunner(t *testing.T) *mocks.MockRunner {
	runner := mocks.NewMockRunner(gomock.NewController(t))
	runner.EXPECT().String().Return("mock").AnyTimes()
	runner.EXPECT().LogFields().Return(nil).AnyTimes()

	return runner
}

func TestEvLoopRunsActionsOfMatchingRules(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	ran := make(chan struct{}, 1)

	matchingRunner := newMockRunner(t)
	matchingRunner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) error {
		ran <- struct{}{}
		return nil
	}).Times(1)

	// Run() must not be called, gomock fails the test if it is
	mismatchingRunner := newMockRunner(t)

	matchingAction := &staticActionConfig{runner: matchingRunner}
	matching, err := NewRule("push", `.event_type == "push"`, []ActionConfig{matchingAction})
	require.NoError(t, err)

	mismatching, err := NewRule("issues", `.event_type == "issues"`, []ActionConfig{
		&staticActionConfig{runner: mismatchingRunner},
	})
	require.NoError(t, err)

	evLoop := startEventLoop(t, Rules{matching, mismatching})
	evLoop.C() <- pushResult

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("action was not run")
	}
}

func TestEvLoopRetriesRetryableActionErrors(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	done := make(chan struct{})

	runner := newMockRunner(t)
	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any()).Return(hookderr.NewRetryableAnytimeError(errors.New("unavailable"))),
		runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) error {
			close(done)
			return nil
		}),
	)

	rule, err := NewRule("all", "true", []ActionConfig{&staticActionConfig{runner: runner}})
	require.NoError(t, err)

	evLoop := NewEventLoop(Rules{rule})
	evLoop.retryer.backoffInitialInterval = 10 * time.Millisecond
	go evLoop.Start()
	t.Cleanup(evLoop.Stop)

	evLoop.C() <- pushResult

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("action was not retried")
	}
}

func TestEvLoopStopCancelsPendingRetries(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	called := make(chan struct{}, 1)

	runner := newMockRunner(t)
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) error {
		called <- struct{}{}
		return hookderr.NewRetryableAnytimeError(errors.New("unavailable"))
	}).Times(1)

	rule, err := NewRule("all", "true", []ActionConfig{&staticActionConfig{runner: runner}})
	require.NoError(t, err)

	evLoop := NewEventLoop(Rules{rule})
	evLoop.retryer.backoffInitialInterval = time.Hour
	go evLoop.Start()

	evLoop.C() <- pushResult
	<-called

	stopped := make(chan struct{})
	go func() {
		evLoop.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func TestEvLoopForwardsResultViaHTTP(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	type request struct {
		path        string
		contentType string
		body        []byte
	}

	reqCh := make(chan request, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqCh <- request{
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		}
	}))
	t.Cleanup(func() {
		srv.Close()
		http.DefaultTransport.(*http.Transport).CloseIdleConnections()
	})

	rules, err := RulesFromCfg([]*cfg.ForwardRule{
		{
			Name:        "pushes",
			FilterQuery: `.event_type == "push"`,
			Actions: []map[string]any{{
				"action": "httprequest",
				"url":    srv.URL + `/{{ index .Result "pusher" }}`,
			}},
		},
	})
	require.NoError(t, err)

	evLoop := startEventLoop(t, rules)
	evLoop.C() <- pushResult

	var req request
	select {
	case req = <-reqCh:
	case <-time.After(5 * time.Second):
		t.Fatal("no http request received")
	}

	assert.Equal(t, "/alice", req.path)
	assert.Equal(t, "application/json", req.contentType)

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, "o/r", body["repository"])
	assert.Equal(t, "processed", body["status"])
}
