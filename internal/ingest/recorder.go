package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"dctledger/internal/dct"
	"dctledger/internal/sot"
	"dctledger/internal/store"
	"dctledger/internal/util"

	"github.com/sirupsen/logrus"
)

// EventLog is the append side of the SoT store.
type EventLog interface {
	AppendEvent(ctx context.Context, e store.Event) (store.Event, error)
}

// Invalidator drops derived state after the dct log grows.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Receipt struct {
	Event    store.Event
	Warnings []string
}

type Recorder struct {
	log         EventLog
	resolver    *Resolver
	invalidator Invalidator
	logger      logrus.FieldLogger
	newID       func() string
}

type Option func(*Recorder)

// WithInvalidator registers a cache to clear after each recorded dct event.
func WithInvalidator(inv Invalidator) Option {
	return func(r *Recorder) { r.invalidator = inv }
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Recorder) { r.logger = logger }
}

func NewRecorder(log EventLog, resolver *Resolver, opts ...Option) *Recorder {
	r := &Recorder{
		log:      log,
		resolver: resolver,
		logger:   discardLogger(),
		newID:    func() string { return util.NewID("evt") },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates env, resolves its references and appends it as a new
// event. Nothing is written when validation fails. Every call creates a
// new event id.
func (r *Recorder) Record(ctx context.Context, env sot.Envelope) (Receipt, error) {
	norm, warnings, err := sot.ValidateEnvelope(env)
	if err != nil {
		return Receipt{}, withPayloadProblems(err, env)
	}

	payload := norm.Payload
	isDCT := dct.IsDCT(norm.Kind)
	if isDCT {
		if err := checkPayload(norm.Kind, payload); err != nil {
			return Receipt{}, err
		}
		payload, err = withTypeTag(payload, norm.Kind)
		if err != nil {
			return Receipt{}, err
		}
	}

	refs, err := r.resolver.Resolve(ctx, Refs{
		RepoName:   norm.RepoName,
		RepoID:     norm.RepoID,
		DomainName: norm.DomainName,
		DomainID:   norm.DomainID,
	})
	if err != nil {
		return Receipt{}, err
	}

	event, err := r.log.AppendEvent(ctx, store.Event{
		EventID:  r.newID(),
		TS:       norm.TS,
		Source:   norm.Source,
		Kind:     norm.Kind,
		Summary:  norm.Summary,
		NhID:     norm.NhID,
		Payload:  payload,
		RepoID:   refs.RepoID,
		DomainID: refs.DomainID,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("record event: %w", err)
	}

	fields := logrus.Fields{"event_id": event.EventID, "kind": event.Kind, "source": event.Source}
	for _, warning := range warnings {
		r.logger.WithFields(fields).Warn(warning)
	}
	if isDCT && r.invalidator != nil {
		if err := r.invalidator.Invalidate(ctx); err != nil {
			r.logger.WithFields(fields).WithError(err).Warn("projection cache invalidation failed")
		}
	}

	return Receipt{Event: event, Warnings: nonNil(warnings)}, nil
}

// checkPayload validates the payload of a dct kind. A missing payload is an
// error for these kinds.
func checkPayload(kind string, raw json.RawMessage) error {
	if trimmed := strings.TrimSpace(string(raw)); trimmed == "" || trimmed == "null" {
		return &dct.PayloadError{Kind: kind, Problems: []string{"payload is required for dct kinds"}}
	}
	_, err := dct.ValidatePayload(kind, raw)
	return err
}

// withPayloadProblems adds the payload problems of a dct envelope to its
// envelope field errors so a producer sees every rejected field at once.
func withPayloadProblems(err error, env sot.Envelope) error {
	var verr *sot.ValidationError
	kind := strings.TrimSpace(env.Kind)
	if !errors.As(err, &verr) || !dct.IsDCT(kind) {
		return err
	}
	for _, f := range verr.Fields {
		if f.Field == "payload" {
			return err
		}
	}
	var perr *dct.PayloadError
	if !errors.As(checkPayload(kind, env.Payload), &perr) {
		return err
	}
	merged := &sot.ValidationError{Fields: append([]sot.FieldError(nil), verr.Fields...)}
	for _, problem := range perr.Problems {
		merged.Fields = append(merged.Fields, sot.FieldError{Field: "payload", Message: problem})
	}
	return merged
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// withTypeTag sets the payload's "type" tag to the canonical kind when the
// producer left it out. Other fields are kept as sent.
func withTypeTag(raw json.RawMessage, kind string) (json.RawMessage, error) {
	if _, err := dct.PayloadTag(raw); err == nil {
		return raw, nil
	}
	canonical, _ := dct.CanonicalKind(kind)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &dct.PayloadError{Kind: kind, Problems: []string{"payload is not a JSON object"}}
	}
	tag, _ := json.Marshal(string(canonical))
	fields["type"] = tag
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}

// IsValidation reports whether err is a producer-side validation failure.
func IsValidation(err error) bool {
	var verr *sot.ValidationError
	var perr *dct.PayloadError
	return errors.As(err, &verr) || errors.As(err, &perr)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
