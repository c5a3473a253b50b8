// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"errors"
	"fmt"
)

// Error categories exposed to callers. Handlers map these to HTTP statuses;
// everything not matching one of them is treated as an internal error.
//
// Ownership failures deliberately surface as ErrNotFound so a caller cannot
// probe which project ids exist.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
)

// DomainError carries a human-readable detail message while unwrapping to
// one of the category sentinels above.
type DomainError struct {
	kind    error
	message string
}

func (e *DomainError) Error() string { return e.message }

func (e *DomainError) Unwrap() error { return e.kind }

func notFoundf(format string, args ...any) error {
	return &DomainError{kind: ErrNotFound, message: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &DomainError{kind: ErrConflict, message: fmt.Sprintf(format, args...)}
}

func badRequestf(format string, args ...any) error {
	return &DomainError{kind: ErrBadRequest, message: fmt.Sprintf(format, args...)}
}
