package strata

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// Signals for model and pipeline events.
var (
	SignalModelCreated    = capitan.NewSignal("strata.model.created", "Model instantiated")
	SignalRowLocked       = capitan.NewSignal("strata.row.locked", "Forward pipeline finished")
	SignalRowUnlocked     = capitan.NewSignal("strata.row.unlocked", "Backward pipeline finished")
	SignalFixtureApplied  = capitan.NewSignal("strata.fixture.applied", "Fixture rows produced")
	SignalVerifyPerformed = capitan.NewSignal("strata.verify.performed", "Candidate checked against a locked field")
)

// Keys for typed event data.
var (
	KeyTypeName    = capitan.NewStringKey("type_name")
	KeyTable       = capitan.NewStringKey("table")
	KeyIdentity    = capitan.NewStringKey("identity")
	KeyField       = capitan.NewStringKey("field")
	KeyDuration    = capitan.NewDurationKey("duration")
	KeyError       = capitan.NewErrorKey("error")
	KeyFieldCount  = capitan.NewIntKey("field_count")
	KeyRecordCount = capitan.NewIntKey("record_count")
)

// emitModelCreated emits an event when a model is created.
func emitModelCreated(ctx context.Context, typeName, table, identity string) {
	capitan.Emit(ctx, SignalModelCreated,
		KeyTypeName.Field(typeName),
		KeyTable.Field(table),
		KeyIdentity.Field(identity),
	)
}

// emitRowLocked emits an event when the forward pipeline finishes.
func emitRowLocked(ctx context.Context, typeName string, fields int, duration time.Duration, err error) {
	emitted := []capitan.Field{
		KeyTypeName.Field(typeName),
		KeyFieldCount.Field(fields),
		KeyDuration.Field(duration),
	}
	if err != nil {
		emitted = append(emitted, KeyError.Field(err))
		capitan.Error(ctx, SignalRowLocked, emitted...)
	} else {
		capitan.Emit(ctx, SignalRowLocked, emitted...)
	}
}

// emitRowUnlocked emits an event when the backward pipeline finishes.
func emitRowUnlocked(ctx context.Context, typeName string, fields int, duration time.Duration, err error) {
	emitted := []capitan.Field{
		KeyTypeName.Field(typeName),
		KeyFieldCount.Field(fields),
		KeyDuration.Field(duration),
	}
	if err != nil {
		emitted = append(emitted, KeyError.Field(err))
		capitan.Error(ctx, SignalRowUnlocked, emitted...)
	} else {
		capitan.Emit(ctx, SignalRowUnlocked, emitted...)
	}
}

// emitVerifyPerformed emits an event when a candidate is checked against a
// locked field. The outcome is deliberately not part of the event.
func emitVerifyPerformed(ctx context.Context, typeName, field string) {
	capitan.Emit(ctx, SignalVerifyPerformed,
		KeyTypeName.Field(typeName),
		KeyField.Field(field),
	)
}

// emitFixtureApplied emits an event when a fixture has produced its rows.
func emitFixtureApplied(ctx context.Context, typeName, table string, records int, err error) {
	emitted := []capitan.Field{
		KeyTypeName.Field(typeName),
		KeyTable.Field(table),
		KeyRecordCount.Field(records),
	}
	if err != nil {
		emitted = append(emitted, KeyError.Field(err))
		capitan.Error(ctx, SignalFixtureApplied, emitted...)
	} else {
		capitan.Emit(ctx, SignalFixtureApplied, emitted...)
	}
}
