// Package forward sends processed webhook results to external endpoints.
//
// Results are received via a channel, matched against the filter queries of
// the configured rules and the actions of matching rules are executed
// asynchronously. Actions that fail with a retryable error are retried until
// DefRetryTimeout expired.
package forward

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/forward/action"
	"github.com/simplesurance/hookd/internal/logfields"
)

const DefEventChannelBufferSize = 512
const DefRetryTimeout = 2 * time.Hour

const loggerName = "forwarder"

// EvLoop receives results and triggers the actions of matching rules.
type EvLoop struct {
	ch     chan dispatch.Result
	logger *zap.Logger
	rules  Rules

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}

	actionWg      sync.WaitGroup
	actionDeferFn func()
	retryer       *Retryer
}

// WithActionRoutineDeferFunc sets a function to be run when a go-routine that
// executes an action returns.
// It can be used to set a panic handler.
func WithActionRoutineDeferFunc(fn func()) func(*EvLoop) {
	return func(e *EvLoop) {
		e.actionDeferFn = fn
	}
}

// WithChannelBufferSize sets the capacity of the result channel.
func WithChannelBufferSize(size int) func(*EvLoop) {
	return func(e *EvLoop) {
		e.ch = make(chan dispatch.Result, size)
	}
}

func NewEventLoop(rules Rules, opts ...func(*EvLoop)) *EvLoop {
	evl := EvLoop{
		ch:       make(chan dispatch.Result, DefEventChannelBufferSize),
		rules:    rules,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		retryer:  NewRetryer(),
	}

	for _, opt := range opts {
		opt(&evl)
	}

	if evl.logger == nil {
		evl.logger = zap.L().Named(loggerName)
	}

	return &evl
}

// C returns the result channel.
// Results sent to this channel will be processed until Stop() is called.
// The channel is never closed.
func (e *EvLoop) C() chan<- dispatch.Result {
	return e.ch
}

// Start processes results until Stop() is called.
func (e *EvLoop) Start() {
	defer close(e.doneChan)

	ctx := context.Background()
	e.logger.Info("ready to process results", logfields.Event("forwarder_started"))

	for {
		select {
		case res := <-e.ch:
			e.process(ctx, res)

		case <-e.stopChan:
			e.logger.Info(
				"event loop terminated",
				logfields.Event("forwarder_loop_terminated"),
			)
			return
		}
	}
}

func (e *EvLoop) process(ctx context.Context, res dispatch.Result) {
	logger := e.logger.With(
		logfields.WebhookType(res.EventType()),
		logfields.DeliveryID(res.String(dispatch.KeyDeliveryID)),
	)

	logger.Debug("result received", logfields.Event("forwarder_result_received"))

	for _, rule := range e.rules {
		logger := logger.With(logfields.Rule(rule.name))

		match, err := rule.Match(ctx, res)
		if err != nil {
			logger.Error(
				"matching rule failed",
				logfields.Event("rule_matching_failed"),
				zap.Error(err),
			)
			continue
		}

		logger.Debug(
			"evaluated result of matching rule",
			logfields.Event("rule_match_result_evaluated"),
			zap.Stringer("match_result", match),
		)

		if match != Match {
			continue
		}

		actions, err := rule.RenderActions(res)
		if err != nil {
			logger.Error(
				"templating action definition failed, rule is skipped",
				logfields.Event("rule_action_templating_failed"),
				zap.Error(err),
			)
			continue
		}

		for _, action := range actions {
			e.scheduleAction(ctx, logger, action)
		}
	}
}

func logFieldActionResult(val string) zap.Field {
	return zap.String("action_result", val)
}

func (e *EvLoop) scheduleAction(ctx context.Context, logger *zap.Logger, action action.Runner) {
	e.actionWg.Add(1)

	go func() {
		if e.actionDeferFn != nil {
			defer e.actionDeferFn()
		}

		defer e.actionWg.Done()

		_ = e.retryer.Run(
			ctx,
			action.Run,
			action.LogFields(),
		)
	}()

	logger.Debug(
		"action scheduled",
		logfields.Event("action_scheduled"),
		zap.Stringer("action", action),
	)
}

// Stop stops the event loop and waits until all scheduled go-routines
// terminated.
// Results that are still queued in the channel are discarded.
// Stop must only be called after Start().
func (e *EvLoop) Stop() {
	e.stopOnce.Do(func() {
		e.logger.Debug("event loop terminating", logfields.Event("forwarder_terminating"))
		close(e.stopChan)
	})

	<-e.doneChan

	e.retryer.Stop()

	e.logger.Debug(
		"waiting for scheduled actions to terminate",
		logfields.Event("forwarder_terminating"),
	)
	e.actionWg.Wait()

	e.logger.Info("event loop terminated", logfields.Event("forwarder_terminated"))
}
