// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package proxyerr provides the structured errors returned by every
// governance, safety and migration operation.
package proxyerr

import (
	"errors"
	"fmt"
)

// Error is a coded failure. Two errors match with errors.Is when their codes
// are equal, so the package-level sentinels can be used as comparison targets
// for errors built with Withf, WithStatus or Wrap.
type Error struct {
	Err     error
	Code    Code
	Class   Class
	Message string
	// Status holds the conflicting status for state conflict errors
	Status string
}

func New(code Code, class Class, msg string) *Error {
	return &Error{
		Code:    code,
		Class:   class,
		Message: msg,
	}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Status != "" {
		msg += " (status " + e.Status + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Withf returns a copy of the error with additional detail appended to the message
func (e *Error) Withf(format string, args ...any) *Error {
	ret := *e
	ret.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return &ret
}

// WithStatus returns a copy of the error carrying the conflicting status
func (e *Error) WithStatus(status string) *Error {
	ret := *e
	ret.Status = status
	return &ret
}

// Wrap returns a copy of the error wrapping the underlying cause
func (e *Error) Wrap(err error) *Error {
	ret := *e
	ret.Err = err
	return &ret
}

// Fatal reports whether the failure must terminate the proposal that caused it
func (e *Error) Fatal() bool {
	return e.Class == ClassIntegrity || e.Code == CodeCriticalRisk
}

// Retryable reports whether repeating the same call may succeed later
func (e *Error) Retryable() bool {
	if e.Fatal() {
		return false
	}
	switch e.Class {
	case ClassPolicy, ClassExecution, ClassStorage:
		return true
	case ClassStateConflict:
		return e.Code == CodeDelayNotElapsed ||
			e.Code == CodeMigrationInProgress
	}
	return false
}

// As extracts the first *Error in the chain
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in the chain, or CodeStorage
// for untyped errors
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return CodeStorage
}

// ClassOf returns the class of the first *Error in the chain, or ClassStorage
// for untyped errors
func ClassOf(err error) Class {
	if pe, ok := As(err); ok {
		return pe.Class
	}
	return ClassStorage
}

func IsFatal(err error) bool {
	pe, ok := As(err)
	return ok && pe.Fatal()
}

func IsRetryable(err error) bool {
	if pe, ok := As(err); ok {
		return pe.Retryable()
	}
	return err != nil
}

// Storagef wraps an untyped storage error with context
func Storagef(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return fmt.Errorf(format+": %w", append(args, err)...)
	}
	return ErrStorage.Withf(format, args...).Wrap(err)
}
