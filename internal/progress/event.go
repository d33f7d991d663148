package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-product-sourcing/internal/sourcing"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageRunError        Stage = "RUN_ERROR"
	StageTierAttempt     Stage = "TIER_ATTEMPT"
	StageProductImported Stage = "PRODUCT_IMPORTED"
)

// Event captures a single milestone of a sourcing run.
type Event struct {
	// RunID identifies the run that produced the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Scope is the claim the run holds (a family or Global).
	Scope sourcing.RunScope
	// Category is the run category once selected.
	Category string
	// Family and Source scope tier and import events.
	Family sourcing.Family
	Source sourcing.Source
	// Tier names the fallback tier for TIER_ATTEMPT.
	Tier string
	// Count is the number of candidates a tier returned.
	Count int
	// Created and Updated carry run totals on RUN_DONE/RUN_ERROR.
	Created int
	Updated int
	// NewProduct is set on PRODUCT_IMPORTED when the upsert inserted a row.
	NewProduct bool
	// Product is the imported record for PRODUCT_IMPORTED.
	Product *sourcing.Product
	// Dur captures tier latency and run wall time.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
		if e.Scope == "" {
			return errors.New("run events require scope")
		}
	case StageTierAttempt:
		if e.Family == "" || e.Tier == "" {
			return errors.New("tier attempt requires family and tier")
		}
	case StageProductImported:
		if e.Product == nil {
			return errors.New("product import requires product")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
