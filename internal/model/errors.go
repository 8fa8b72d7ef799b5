package model

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by the store when no trial has the requested identifier.
var ErrNotFound = eris.New("trial not found")

// MalformedRecordError marks a document that lacks a required field or
// cannot be decoded at all. The batch skips it and continues.
type MalformedRecordError struct {
	NCTID string
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	switch {
	case e.Err != nil && e.NCTID != "":
		return fmt.Sprintf("malformed record %s: %v", e.NCTID, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("malformed record: %v", e.Err)
	case e.NCTID != "":
		return fmt.Sprintf("malformed record %s: missing %s", e.NCTID, e.Field)
	default:
		return fmt.Sprintf("malformed record: missing %s", e.Field)
	}
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// DuplicateRecordError is returned when a trial is created for an
// identifier that already exists.
type DuplicateRecordError struct {
	NCTID string
	Err   error
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("duplicate record %s", e.NCTID)
}

func (e *DuplicateRecordError) Unwrap() error {
	return e.Err
}

// RetrievalTransientError wraps a registry fetch failure that may succeed on retry.
type RetrievalTransientError struct {
	NCTID string
	Err   error
}

func (e *RetrievalTransientError) Error() string {
	return fmt.Sprintf("retrieve %s: %v", e.NCTID, e.Err)
}

func (e *RetrievalTransientError) Unwrap() error {
	return e.Err
}
