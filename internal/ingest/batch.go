package ingest

import (
	"context"
	"errors"

	"dctledger/internal/dct"
	"dctledger/internal/sot"
)

const maxSampleErrors = 3

type ItemResult struct {
	Index    int              `json:"index"`
	OK       bool             `json:"ok"`
	EventID  string           `json:"eventId,omitempty"`
	Error    string           `json:"error,omitempty"`
	Fields   []sot.FieldError `json:"fields,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

type BatchResult struct {
	Received     int          `json:"received"`
	Inserted     int          `json:"inserted"`
	Errors       int          `json:"errors"`
	SampleErrors []ItemResult `json:"sampleErrors"`
	Results      []ItemResult `json:"results"`
}

// RecordBatch records each item independently. A failing item is reported
// in the result and never stops the rest of the batch.
func (r *Recorder) RecordBatch(ctx context.Context, items []sot.BatchItem) BatchResult {
	result := BatchResult{
		Received:     len(items),
		SampleErrors: []ItemResult{},
		Results:      make([]ItemResult, 0, len(items)),
	}

	for _, item := range items {
		res := ItemResult{Index: item.Index}
		err := item.Err
		if err == nil {
			var receipt Receipt
			receipt, err = r.Record(ctx, item.Envelope)
			if err == nil {
				res.OK = true
				res.EventID = receipt.Event.EventID
				if len(receipt.Warnings) > 0 {
					res.Warnings = receipt.Warnings
				}
			}
		}

		if err != nil {
			res.Error = err.Error()
			res.Fields = fieldErrors(err)
			result.Errors++
			if len(result.SampleErrors) < maxSampleErrors {
				result.SampleErrors = append(result.SampleErrors, res)
			}
			r.logger.WithField("index", item.Index).WithError(err).Debug("batch item rejected")
		} else {
			result.Inserted++
		}
		result.Results = append(result.Results, res)
	}
	return result
}

// fieldErrors extracts per-field details from a validation failure.
func fieldErrors(err error) []sot.FieldError {
	var verr *sot.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	var perr *dct.PayloadError
	if errors.As(err, &perr) {
		out := make([]sot.FieldError, 0, len(perr.Problems))
		for _, problem := range perr.Problems {
			out = append(out, sot.FieldError{Field: "payload", Message: problem})
		}
		return out
	}
	return nil
}

// FieldErrors exposes the per-field details of a validation error.
func FieldErrors(err error) []sot.FieldError {
	return fieldErrors(err)
}
