// Package queue implements the persistent job queue: per-type argument
// schemas, validated submission, forward-only status transitions, and worker
// execution with downstream-job enqueue.
package queue

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// fieldKind is the scalar type an argument value must parse as.
type fieldKind int

const (
	kindString fieldKind = iota
	kindDecimal
	kindEnum
)

// field is one named argument in a job type's schema.
type field struct {
	name string
	kind fieldKind
	enum []string // allowed values when kind is kindEnum
}

// schemas defines the argument schema for every known job type. All fields
// are required; submissions with unknown types are rejected outright.
var schemas = map[domain.JobType][]field{
	domain.JobCompare: {
		{name: "curr_x", kind: kindString},
		{name: "curr_y", kind: kindString},
	},
	domain.JobTransact: {
		{name: "exchange", kind: kindString},
		{name: "trade_pair_common", kind: kindString},
		{name: "volume", kind: kindDecimal},
		{name: "price", kind: kindDecimal},
		{name: "type", kind: kindEnum, enum: []string{"buy", "sell"}},
	},
	domain.JobReplenish: {
		{name: "exchange", kind: kindString},
		{name: "currency", kind: kindString},
	},
	domain.JobConvert: {
		{name: "exchange", kind: kindString},
		{name: "currency_from", kind: kindString},
		{name: "currency_to", kind: kindString},
		{name: "volume", kind: kindDecimal},
	},
	domain.JobWithdrawalFee: {
		{name: "exchange", kind: kindString},
		{name: "currency", kind: kindString},
		{name: "withdrawal_id", kind: kindString},
		{name: "audit_id", kind: kindString},
	},
}

// Validate checks a job spec against its type's schema: the type must be
// known, every required key present, every value of the right scalar type,
// and enum values inside their allow-list.
func Validate(spec domain.JobSpec) error {
	fields, ok := schemas[spec.Type]
	if !ok {
		return fmt.Errorf("queue: job type %q: %w", spec.Type, domain.ErrUnknownJobType)
	}

	for _, f := range fields {
		raw, present := spec.Args[f.name]
		if !present {
			return fmt.Errorf("queue: %s: missing argument %q: %w", spec.Type, f.name, domain.ErrInvalidJob)
		}

		switch f.kind {
		case kindString:
			if raw == "" {
				return fmt.Errorf("queue: %s: argument %q is empty: %w", spec.Type, f.name, domain.ErrInvalidJob)
			}
		case kindDecimal:
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("queue: %s: argument %q is not numeric: %w", spec.Type, f.name, domain.ErrInvalidJob)
			}
			if d.Sign() <= 0 {
				return fmt.Errorf("queue: %s: argument %q must be positive: %w", spec.Type, f.name, domain.ErrInvalidJob)
			}
		case kindEnum:
			allowed := false
			for _, v := range f.enum {
				if raw == v {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Errorf("queue: %s: argument %q has disallowed value %q: %w", spec.Type, f.name, raw, domain.ErrInvalidJob)
			}
		}
	}

	// Reject arguments outside the schema so typos fail loudly instead of
	// riding along unvalidated.
	for name := range spec.Args {
		known := false
		for _, f := range fields {
			if f.name == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("queue: %s: unexpected argument %q: %w", spec.Type, name, domain.ErrInvalidJob)
		}
	}

	return nil
}
