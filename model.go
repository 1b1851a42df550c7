package strata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a model instance.
type Option func(*modelConfig)

type modelConfig struct {
	keys   map[CipherAlgo][]byte
	ivSize int
}

// WithKey registers the encryption key for a cipher algorithm.
func WithKey(algo CipherAlgo, key []byte) Option {
	return func(c *modelConfig) { c.keys[algo] = key }
}

// WithIVSize overrides the default initialization vector size in bytes for
// bindings that do not set their own.
func WithIVSize(n int) Option {
	return func(c *modelConfig) { c.ivSize = n }
}

// Model is the data-model facade bound to one (record type, database
// identity) pair. It translates application records to and from storage rows
// by driving the modifier pipeline exactly once per record per direction;
// actual persistence is delegated to the Storage collaborator.
//
// Models hold no mutable state beyond their fixed binding and are safe for
// concurrent use. Key-material validation runs once on first operation;
// call Validate to catch configuration errors at startup.
type Model[T any] struct {
	schema   *Schema
	store    Storage
	identity string
	codec    Codec
	cfg      modelConfig

	validateOnce sync.Once
	validateErr  error
	mods         map[string]Modifier

	fixtureOnce sync.Once
	fixtureErr  error
}

// New creates a model for the record type T over the given storage
// collaborator and database identity. The schema must have been declared for
// T; it is frozen against further declaration on first model construction.
func New[T any](schema *Schema, store Storage, identity string, c Codec, opts ...Option) (*Model[T], error) {
	rt := reflect.TypeFor[T]()
	if schema == nil || schema.rt != rt {
		return nil, newDeclarationError(ErrNotDefined, rt.String(), "")
	}
	schema.freeze()

	m := &Model[T]{
		schema:   schema,
		store:    store,
		identity: identity,
		codec:    c,
		cfg:      modelConfig{keys: make(map[CipherAlgo][]byte)},
	}
	for _, opt := range opts {
		opt(&m.cfg)
	}

	emitModelCreated(context.Background(), schema.typeName, schema.table, identity)
	return m, nil
}

// Validate checks that every binding's required options (keys, codec) are
// configured. Validation also runs automatically on first operation.
func (m *Model[T]) Validate() error {
	return m.ensureValidated()
}

// ensureValidated builds the per-field modifier set once and caches the result.
func (m *Model[T]) ensureValidated() error {
	m.validateOnce.Do(func() {
		m.validateErr = m.buildModifiers()
	})
	return m.validateErr
}

// buildModifiers instantiates one modifier per binding. Missing keys or
// unsupported algorithms surface here, at the first use of the affected
// modifier.
func (m *Model[T]) buildModifiers() error {
	mods := make(map[string]Modifier, len(m.schema.Bindings()))

	for _, b := range m.schema.Bindings() {
		var mod Modifier
		var err error

		switch b.Kind {
		case KindEncrypt:
			algo := CipherAlgo(b.Options.Algorithm)
			if algo == "" {
				algo = CipherAESGCM
			}
			key, ok := m.cfg.keys[algo]
			if !ok {
				return newConfigError(ErrMissingKey, string(algo), b.Field)
			}
			ivSize := b.Options.IVSize
			if ivSize == 0 {
				ivSize = m.cfg.ivSize
			}
			mod, err = newCipherModifier(algo, key, ivSize)
			if err != nil {
				return &ConfigError{Err: err, Algorithm: string(algo), Field: b.Field}
			}

		case KindHash:
			algo := HashAlgo(b.Options.Algorithm)
			if algo == "" {
				algo = HashSHA256
			}
			mod, err = newHashModifier(algo)
			if err != nil {
				return &ConfigError{Err: err, Algorithm: string(algo), Field: b.Field}
			}

		case KindLocalize:
			mod, err = newLocalizeModifier(b.Options.Fallback, m.codec)
			if err != nil {
				return err
			}

		default:
			return newConfigError(ErrUnknownAlgorithm, string(b.Kind), b.Field)
		}

		mods[b.Field] = mod
	}

	m.mods = mods
	return nil
}

// ToRow runs the forward pipeline: every bound field is locked and its
// metadata written under the auxiliary keys. All locks complete before the
// row is returned; the pipeline never issues storage calls of its own.
func (m *Model[T]) ToRow(rec *T) (Row, error) {
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}
	return m.lockRow(reflect.ValueOf(rec).Elem(), nil)
}

// lockRow builds the storage row for a record, consulting prev for
// previously locked values (salt reuse, locale merge).
func (m *Model[T]) lockRow(rv reflect.Value, prev Row) (Row, error) {
	row := Row{}

	for i := range m.schema.fields {
		f := &m.schema.fields[i]
		v := rv.FieldByIndex(f.Index)

		mod, bound := m.mods[f.Name]
		if !bound {
			row[f.Name] = v.Interface()
			continue
		}

		locked, err := mod.Lock(lockedFrom(prev, f.Name), m.plainValue(v, f))
		if err != nil {
			return nil, newTransformError(ErrLock, "lock", f.Name, err)
		}
		if locked == nil {
			continue
		}

		row[f.Name] = locked.Value
		for k, mv := range locked.Meta {
			row[auxKey(f.Name, k)] = mv
		}
	}

	return row, nil
}

// FromRow runs the backward pipeline: every reversible field is unlocked
// using the metadata retrieved from the same row. One-way fields keep their
// locked representation; callers use Verify, never the original value. All
// reconstructions complete before the record is handed back.
func (m *Model[T]) FromRow(row Row) (*T, error) {
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}

	obj := new(T)
	rv := reflect.ValueOf(obj).Elem()

	for i := range m.schema.fields {
		f := &m.schema.fields[i]
		raw, ok := row[f.Name]
		if !ok {
			continue
		}
		v := rv.FieldByIndex(f.Index)

		mod, bound := m.mods[f.Name]
		if !bound {
			if err := assignField(v, raw, f.Name); err != nil {
				return nil, err
			}
			continue
		}

		rev, twoWay := mod.(Reversible)
		if !twoWay {
			s, ok := raw.(string)
			if !ok {
				return nil, newIntegrityError(ErrMissingMetadata, f.Name, fmt.Errorf("locked value is %T", raw))
			}
			if f.kind == fieldBytes {
				v.SetBytes([]byte(s))
			} else {
				v.SetString(s)
			}
			continue
		}

		locked := lockedFrom(row, f.Name)
		if locked == nil {
			return nil, newIntegrityError(ErrMissingMetadata, f.Name, fmt.Errorf("locked value is %T", raw))
		}

		plain, err := rev.Unlock(locked)
		if err != nil {
			return nil, withField(err, f.Name)
		}

		switch f.kind {
		case fieldString:
			v.SetString(plain.(string))
		case fieldBytes:
			v.SetBytes([]byte(plain.(string)))
		case fieldLocaleMap:
			v.Set(reflect.ValueOf(plain))
		default:
			return nil, newTransformError(ErrUnlock, "unlock", f.Name, fmt.Errorf("unsupported field kind"))
		}
	}

	return obj, nil
}

// FromPlain constructs a record from untransformed plain data, e.g. fixture
// rows. No modifier runs; bound fields receive their plain values directly.
func (m *Model[T]) FromPlain(plain Row) (*T, error) {
	obj := new(T)
	rv := reflect.ValueOf(obj).Elem()

	for i := range m.schema.fields {
		f := &m.schema.fields[i]
		raw, ok := plain[f.Name]
		if !ok || raw == nil {
			continue
		}
		v := rv.FieldByIndex(f.Index)

		if f.kind == fieldLocaleMap {
			mm, err := localeMap(raw)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			v.Set(reflect.ValueOf(mm))
			continue
		}

		if err := assignField(v, raw, f.Name); err != nil {
			return nil, err
		}
	}

	return obj, nil
}

// Get fetches one record by primary key. Absence is an explicit result, not
// an error.
func (m *Model[T]) Get(ctx context.Context, key string) (*T, bool, error) {
	if err := m.ensureValidated(); err != nil {
		return nil, false, err
	}

	row, ok, err := m.store.Get(ctx, m.schema.table, key)
	if err != nil || !ok {
		return nil, false, err
	}

	start := time.Now()
	rec, err := m.FromRow(row)
	emitRowUnlocked(ctx, m.schema.typeName, len(m.mods), time.Since(start), err)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// GetAll fetches every record of the type.
func (m *Model[T]) GetAll(ctx context.Context) ([]T, error) {
	rows, err := m.store.Filter(ctx, m.schema.table, func(Row) bool { return true })
	if err != nil {
		return nil, err
	}
	return m.fromRows(ctx, rows)
}

// GetBy fetches records whose field equals value. For fields under a
// filter-safe transform the predicate is adapted via QueryValue and pushed
// down to storage; otherwise every row is scanned and compared after
// reconstruction (two-way) or via Verify (one-way).
func (m *Model[T]) GetBy(ctx context.Context, field string, value any) ([]T, error) {
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}
	if _, ok := m.schema.byName[field]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	mod, bound := m.mods[field]
	if !bound {
		rows, err := m.store.GetBy(ctx, m.schema.table, field, value)
		if err != nil {
			return nil, err
		}
		return m.fromRows(ctx, rows)
	}

	if rev, twoWay := mod.(Reversible); twoWay {
		qv, err := rev.QueryValue(value)
		switch {
		case err == nil:
			rows, err := m.store.GetBy(ctx, m.schema.table, field, qv)
			if err != nil {
				return nil, err
			}
			return m.fromRows(ctx, rows)
		case errors.Is(err, ErrNotFilterable):
			return m.scanCompare(ctx, field, value)
		default:
			return nil, err
		}
	}

	return m.scanVerify(ctx, mod, field, value)
}

// scanCompare is the fallback for predicates that cannot be pushed down:
// fetch all rows, reconstruct, and compare the plain field value.
func (m *Model[T]) scanCompare(ctx context.Context, field string, value any) ([]T, error) {
	rows, err := m.store.Filter(ctx, m.schema.table, func(Row) bool { return true })
	if err != nil {
		return nil, err
	}

	f := &m.schema.fields[m.schema.byName[field]]
	want := value
	if f.kind == fieldLocaleMap {
		if mm, err := localeMap(value); err == nil {
			want = mm
		}
	}

	var out []T
	for _, row := range rows {
		rec, err := m.FromRow(row)
		if err != nil {
			return nil, err
		}
		got := reflect.ValueOf(rec).Elem().FieldByIndex(f.Index).Interface()
		if reflect.DeepEqual(got, want) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// scanVerify matches one-way fields by re-locking the candidate against each
// stored row's metadata.
func (m *Model[T]) scanVerify(ctx context.Context, mod Modifier, field string, value any) ([]T, error) {
	rows, err := m.store.Filter(ctx, m.schema.table, func(Row) bool { return true })
	if err != nil {
		return nil, err
	}

	var out []T
	for _, row := range rows {
		if !mod.Verify(lockedFrom(row, field), value) {
			continue
		}
		rec, err := m.FromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Insert locks and persists records, returning their keys in order. An empty
// primary key is filled with a generated UUID. A record whose pipeline fails
// is skipped and reported by index; the rest of the batch proceeds.
func (m *Model[T]) Insert(ctx context.Context, recs ...T) ([]string, error) {
	if err := m.ensureValidated(); err != nil {
		return nil, err
	}

	pk := m.schema.primaryField()
	var prepared []Row
	var errs []error

	for i := range recs {
		start := time.Now()
		row, err := m.lockRow(reflect.ValueOf(&recs[i]).Elem(), nil)
		emitRowLocked(ctx, m.schema.typeName, len(m.mods), time.Since(start), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		if pk != "" {
			if s, _ := row[pk].(string); s == "" {
				row[pk] = uuid.NewString()
			}
		}
		prepared = append(prepared, row)
	}

	var keys []string
	if len(prepared) > 0 {
		var err error
		keys, err = m.store.Insert(ctx, m.schema.table, prepared)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return keys, errors.Join(errs...)
}

// Update locks the changed fields of partial against the stored row and
// merges them. Previously locked values are consulted so salts persist and
// locale maps merge. A nil field value means "no change" and is skipped.
func (m *Model[T]) Update(ctx context.Context, key string, partial Row) error {
	if err := m.ensureValidated(); err != nil {
		return err
	}

	prev, ok, err := m.store.Get(ctx, m.schema.table, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	out := Row{}
	start := time.Now()
	for name, val := range partial {
		if _, known := m.schema.byName[name]; !known {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		mod, bound := m.mods[name]
		if !bound {
			out[name] = val
			continue
		}
		if val == nil {
			continue
		}
		locked, err := mod.Lock(lockedFrom(prev, name), val)
		if err != nil {
			err = newTransformError(ErrLock, "lock", name, err)
			emitRowLocked(ctx, m.schema.typeName, len(partial), time.Since(start), err)
			return err
		}
		if locked == nil {
			continue
		}
		out[name] = locked.Value
		for k, mv := range locked.Meta {
			out[auxKey(name, k)] = mv
		}
	}
	emitRowLocked(ctx, m.schema.typeName, len(partial), time.Since(start), nil)

	return m.store.Update(ctx, m.schema.table, key, out)
}

// UpdateRecord locks the whole record and merges it over the stored row
// under the record's own primary key.
func (m *Model[T]) UpdateRecord(ctx context.Context, rec T) error {
	if err := m.ensureValidated(); err != nil {
		return err
	}

	pk := m.schema.primaryField()
	if pk == "" {
		return fmt.Errorf("%w: no primary key field", ErrUnknownField)
	}
	rv := reflect.ValueOf(&rec).Elem()
	key := rv.FieldByIndex(m.schema.fields[m.schema.byName[pk]].Index).String()
	if key == "" {
		return fmt.Errorf("%w: empty primary key", ErrNotFound)
	}

	prev, ok, err := m.store.Get(ctx, m.schema.table, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	start := time.Now()
	row, err := m.lockRow(rv, prev)
	emitRowLocked(ctx, m.schema.typeName, len(m.mods), time.Since(start), err)
	if err != nil {
		return err
	}

	return m.store.Update(ctx, m.schema.table, key, row)
}

// Delete removes the record stored under key.
func (m *Model[T]) Delete(ctx context.Context, key string) error {
	return m.store.Delete(ctx, m.schema.table, key)
}

// Verify checks a plain candidate against the stored locked value of a
// one-way field. A non-matching candidate returns false, never an error.
func (m *Model[T]) Verify(ctx context.Context, key, field string, candidate any) (bool, error) {
	if err := m.ensureValidated(); err != nil {
		return false, err
	}

	mod, bound := m.mods[field]
	if !bound {
		return false, fmt.Errorf("%w: %s has no modifier", ErrUnknownField, field)
	}

	row, ok, err := m.store.Get(ctx, m.schema.table, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	emitVerifyPerformed(ctx, m.schema.typeName, field)
	return mod.Verify(lockedFrom(row, field), candidate), nil
}

// EnsureTable asks the storage collaborator to prepare the table and runs
// the schema's fixture at most once per table lifetime, through the full
// pipeline.
func (m *Model[T]) EnsureTable(ctx context.Context) error {
	if err := m.ensureValidated(); err != nil {
		return err
	}
	if err := m.store.CreateTable(ctx, m.schema.table, m.schema.Index()); err != nil {
		return err
	}

	if m.schema.fixture == nil {
		return nil
	}

	m.fixtureOnce.Do(func() {
		m.fixtureErr = m.applyFixture(ctx)
	})
	return m.fixtureErr
}

func (m *Model[T]) applyFixture(ctx context.Context) error {
	rows, err := m.schema.fixture(ctx)
	emitFixtureApplied(ctx, m.schema.typeName, m.schema.table, len(rows), err)
	if err != nil {
		return fmt.Errorf("fixture for %s: %w", m.schema.table, err)
	}

	recs := make([]T, 0, len(rows))
	for i, plain := range rows {
		rec, err := m.FromPlain(plain)
		if err != nil {
			return fmt.Errorf("fixture row %d: %w", i, err)
		}
		recs = append(recs, *rec)
	}

	_, err = m.Insert(ctx, recs...)
	return err
}

// fromRows reconstructs records from raw rows, emitting one unlock event for
// the batch.
func (m *Model[T]) fromRows(ctx context.Context, rows []Row) ([]T, error) {
	start := time.Now()
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := m.FromRow(row)
		if err != nil {
			emitRowUnlocked(ctx, m.schema.typeName, len(rows), time.Since(start), err)
			return nil, err
		}
		out = append(out, *rec)
	}
	emitRowUnlocked(ctx, m.schema.typeName, len(rows), time.Since(start), nil)
	return out, nil
}

// plainValue extracts a bound field's plain value from the struct.
func (m *Model[T]) plainValue(v reflect.Value, f *FieldSpec) any {
	switch f.kind {
	case fieldString:
		return v.String()
	case fieldBytes:
		if v.IsNil() {
			return nil
		}
		return v.Bytes()
	case fieldLocaleMap:
		if v.IsNil() {
			return nil
		}
		return v.Interface()
	default:
		return v.Interface()
	}
}

// auxKey derives the deterministic row key for one metadata entry.
func auxKey(field, meta string) string {
	return field + "__" + meta
}

// lockedFrom reassembles a field's locked value and metadata from a raw row.
func lockedFrom(row Row, field string) *Locked {
	if row == nil {
		return nil
	}
	s, ok := row[field].(string)
	if !ok {
		return nil
	}

	meta := Metadata{}
	prefix := field + "__"
	for k, v := range row {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if mv, ok := v.(string); ok {
			meta[strings.TrimPrefix(k, prefix)] = mv
		}
	}

	return &Locked{Value: s, Meta: meta}
}

// withField stamps the failing field name onto a pipeline error.
func withField(err error, field string) error {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		ie.Field = field
		return err
	}
	return newTransformError(ErrUnlock, "unlock", field, err)
}

// assignField sets a struct field from a raw row value, converting loosely
// typed storage values (jsonb numbers arrive as float64) where safe.
func assignField(v reflect.Value, raw any, field string) error {
	if raw == nil {
		v.SetZero()
		return nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(v.Type()) {
		v.Set(rv)
		return nil
	}
	// Converting a number to a string would produce a rune string.
	if v.Kind() != reflect.String && rv.Kind() != reflect.String && rv.Type().ConvertibleTo(v.Type()) {
		v.Set(rv.Convert(v.Type()))
		return nil
	}

	return fmt.Errorf("field %s: cannot assign %T to %s", field, raw, v.Type())
}

