// Package github provides the http handler receiving GitHub webhook
// deliveries.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/go-github/v43/github"
	"go.uber.org/zap"

	"github.com/simplesurance/hookd/internal/dispatch"
	"github.com/simplesurance/hookd/internal/logfields"
	"github.com/simplesurance/hookd/internal/signature"
)

const loggerName = "github-event-provider"

// DefMaxPayloadBytes is the default limit for request bodies.
// GitHub caps webhook payloads at 25MiB.
const DefMaxPayloadBytes = 25 << 20

// Messages sent in the error field of responses.
const (
	msgMethodNotAllowed  = "method not allowed"
	msgReadingBodyFailed = "reading request body failed"
	msgPayloadTooLarge   = "payload too large"
	msgInvalidSignature  = "invalid signature"
	msgMissingEventType  = "missing event type"
	msgInvalidPayload    = "invalid payload"
	msgProcessingFailed  = "event processing failed"
)

// Verifier authenticates the body of a request.
type Verifier interface {
	Verify(body []byte, signatureHeader string) bool
}

// Dispatcher turns the payload of an event into a result.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, body []byte) (dispatch.Result, error)
}

// Provider receives github-webhook http-requests, verifies their signature,
// dispatches them to the handler for their event type and responds with the
// JSON encoded result.
// Successfully processed results are additionally sent to the forward
// channels.
type Provider struct {
	logger          *zap.Logger
	verifier        Verifier
	dispatcher      Dispatcher
	maxPayloadBytes int64
	forwardChans    []chan<- dispatch.Result
}

type option func(*Provider)

// WithMaxPayloadBytes sets the maximum accepted size of request bodies.
func WithMaxPayloadBytes(limit int64) option {
	return func(p *Provider) {
		p.maxPayloadBytes = limit
	}
}

// WithForwardChannels sets channels to that processed results are sent.
// Sending does not block, if a channel is full the result is dropped for it.
func WithForwardChannels(chans ...chan<- dispatch.Result) option {
	return func(p *Provider) {
		p.forwardChans = append(p.forwardChans, chans...)
	}
}

func New(verifier Verifier, dispatcher Dispatcher, opts ...option) *Provider {
	p := Provider{
		verifier:        verifier,
		dispatcher:      dispatcher,
		maxPayloadBytes: DefMaxPayloadBytes,
	}

	for _, o := range opts {
		o(&p)
	}

	if p.logger == nil {
		p.logger = zap.L().Named(loggerName)
	}

	return &p
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	env := Envelope{
		DeliveryID: github.DeliveryID(req),
		EventType:  github.WebHookType(req),
		Signature:  req.Header.Get(signature.HeaderName),
	}

	logger := p.logger.With(env.LogFields()...)

	logger.Debug("received a http request", logfields.Event("github_http_request_received"))

	if req.Method != http.MethodPost {
		resp.Header().Set("Allow", http.MethodPost)
		p.respond(resp, logger, http.StatusMethodNotAllowed, dispatch.NewErrorResult(env.EventType, msgMethodNotAllowed))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(resp, req.Body, p.maxPayloadBytes))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			logger.Info(
				"received invalid http request, payload exceeds size limit",
				logfields.Event("github_http_request_payload_too_large"),
				zap.Int64("max_payload_bytes", p.maxPayloadBytes),
			)
			p.respond(resp, logger, http.StatusRequestEntityTooLarge, dispatch.NewErrorResult(env.EventType, msgPayloadTooLarge))
			return
		}

		logger.Info(
			"reading http request body failed",
			logfields.Event("github_http_request_reading_body_failed"),
			zap.Error(err),
		)
		p.respond(resp, logger, http.StatusBadRequest, dispatch.NewErrorResult(env.EventType, msgReadingBodyFailed))
		return
	}

	env.Body = body

	p.handleEnvelope(req.Context(), resp, logger, &env)
}

func (p *Provider) handleEnvelope(ctx context.Context, resp http.ResponseWriter, logger *zap.Logger, env *Envelope) {
	if !p.verifier.Verify(env.Body, env.Signature) {
		metrics.SignatureFailuresInc()

		logger.Info(
			"received invalid http request, signature verification failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Bool("signature_header_present", env.Signature != ""),
		)
		p.respond(resp, logger, http.StatusUnauthorized, dispatch.NewErrorResult(env.EventType, msgInvalidSignature))
		return
	}

	metrics.ObservePayloadSize(len(env.Body))

	if env.EventType == "" {
		metrics.DeliveriesInc("", dispatch.StatusError)

		logger.Info(
			"received invalid http request, event type header is missing",
			logfields.Event("github_http_request_missing_event_type"),
		)
		p.respond(resp, logger, http.StatusBadRequest, dispatch.NewErrorResult("", msgMissingEventType))
		return
	}

	logger.Debug(
		"received verified event",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", env.Body),
	)

	result, err := p.dispatcher.Dispatch(ctx, env.EventType, env.Body)
	if err != nil {
		metrics.DeliveriesInc(env.EventType, dispatch.StatusError)

		if errors.Is(err, dispatch.ErrInvalidPayload) {
			logger.Info(
				"received invalid http request, parsing payload failed",
				logfields.Event("github_event_parsing_failed"),
				zap.Error(err),
			)
			p.respond(resp, logger, http.StatusBadRequest, dispatch.NewErrorResult(env.EventType, msgInvalidPayload))
			return
		}

		logger.Error(
			"processing event failed",
			logfields.Event("github_event_processing_failed"),
			zap.Error(err),
		)
		p.respond(resp, logger, http.StatusInternalServerError, dispatch.NewErrorResult(env.EventType, msgProcessingFailed))
		return
	}

	if env.DeliveryID != "" {
		result[dispatch.KeyDeliveryID] = env.DeliveryID
	}

	metrics.DeliveriesInc(env.EventType, result.Status())

	logger.Info(
		"event handled",
		append(
			resultLogFields(result),
			logfields.Event("github_event_handled"),
			logfields.ResultStatus(result.Status()),
		)...,
	)

	if result.Status() == dispatch.StatusProcessed {
		p.forward(logger, result)
	}

	p.respond(resp, logger, http.StatusOK, result)
}

func resultLogFields(result dispatch.Result) []zap.Field {
	var fields []zap.Field

	if repo := result.String("repository"); repo != "" {
		fields = append(fields, logfields.Repository(repo))
	}

	if ref := result.String("ref"); ref != "" {
		fields = append(fields, logfields.Ref(ref))
	}

	for _, key := range []string{"actor", "pusher"} {
		if actor := result.String(key); actor != "" {
			fields = append(fields, logfields.Actor(actor))
			break
		}
	}

	return fields
}

func (p *Provider) forward(logger *zap.Logger, result dispatch.Result) {
	for _, ch := range p.forwardChans {
		select {
		case ch <- result.Clone():
			logger.Debug("result forwarded to channel",
				logfields.Event("github_result_forwarded"),
			)

		default:
			metrics.ForwardingDroppedInc()

			logger.Warn(
				"result lost, forwarding result to channel failed",
				zap.String("error", "could not forward result to channel, send would have blocked"),
				logfields.Event("github_forwarding_result_failed"),
			)
		}
	}
}

func (p *Provider) respond(resp http.ResponseWriter, logger *zap.Logger, statusCode int, result dispatch.Result) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(statusCode)

	if err := json.NewEncoder(resp).Encode(result); err != nil {
		logger.Info(
			"sending http response failed",
			logfields.Event("github_http_response_sending_failed"),
			zap.Error(err),
		)
	}
}
