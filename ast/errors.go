// Copyright 2025 go-highway Authors
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

package ast

import (
	"errors"
	"fmt"
)

// ErrInfeasible is returned when no loop-over-GEMM mapping exists for a
// contraction.
var ErrInfeasible = errors.New("no feasible loop-over-GEMM mapping")

// IndexErrorKind classifies index consistency errors.
type IndexErrorKind int

const (
	// DuplicateIndex means an index name occurs twice in one index set.
	DuplicateIndex IndexErrorKind = iota

	// ShapeMismatch means the number of index names differs from the number
	// of dimensions, or a size is not positive.
	ShapeMismatch

	// AddMismatch means the operands of an Add carry different index sets.
	AddMismatch

	// UnboundIndex means a declared output index cannot be produced by the
	// right-hand side.
	UnboundIndex

	// SizeConflict means one index name is bound to two different sizes.
	SizeConflict

	// BadPermutation means a permutation does not contain exactly the names
	// of the permuted index set.
	BadPermutation
)

// String returns a human-readable name for the kind.
func (k IndexErrorKind) String() string {
	switch k {
	case DuplicateIndex:
		return "duplicate index"
	case ShapeMismatch:
		return "shape mismatch"
	case AddMismatch:
		return "add operand mismatch"
	case UnboundIndex:
		return "unbound index"
	case SizeConflict:
		return "size conflict"
	case BadPermutation:
		return "bad permutation"
	default:
		return fmt.Sprintf("IndexErrorKind(%d)", k)
	}
}

// IndexError reports an index consistency error. Match it with errors.As.
type IndexError struct {
	Kind   IndexErrorKind
	Detail string
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index consistency error (%s): %s", e.Kind, e.Detail)
}

func indexErrorf(kind IndexErrorKind, format string, args ...any) error {
	return &IndexError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsIndexError reports whether err is an *IndexError of the given kind.
func IsIndexError(err error, kind IndexErrorKind) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Kind == kind
}
