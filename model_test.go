package strata_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zoobzio/strata"
	"github.com/zoobzio/strata/json"
	"github.com/zoobzio/strata/memstore"
)

type Account struct {
	ID     string `strata:"pk"`
	Secret string `lock.encrypt:"aes-gcm"`
	Pw     string `lock.hash:"sha256"`
	Note   string
}

type Product struct {
	ID    string            `strata:"pk"`
	Title map[string]string `lock.localize:"en"`
}

var aesKey = []byte("32-byte-key-for-aes-256-encrypt!")

func newAccountModel(t *testing.T) (*strata.Model[Account], *memstore.Store) {
	t.Helper()

	schema, err := strata.Define[Account]()
	if err != nil {
		t.Fatalf("Define() error: %v", err)
	}

	store := memstore.New()
	m, err := strata.New[Account](schema, store, "main", json.New(),
		strata.WithKey(strata.CipherAESGCM, aesKey),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := m.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}
	return m, store
}

func TestModel_EndToEnd(t *testing.T) {
	m, _ := newAccountModel(t)
	ctx := context.Background()

	keys, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "hunter2", Note: "first"})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if len(keys) != 1 || keys[0] != "1" {
		t.Fatalf("Insert() keys = %v, want [1]", keys)
	}

	rec, ok, err := m.Get(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if rec.Secret != "x" {
		t.Errorf("Secret = %q, want %q (round-trip)", rec.Secret, "x")
	}
	if rec.Note != "first" {
		t.Errorf("Note = %q, want %q", rec.Note, "first")
	}
	if rec.Pw == "hunter2" {
		t.Error("one-way field should stay locked on read")
	}

	match, err := m.Verify(ctx, "1", "Pw", "hunter2")
	if err != nil || !match {
		t.Errorf("Verify(hunter2) = %v, %v; want true, nil", match, err)
	}
	match, err = m.Verify(ctx, "1", "Pw", "wrong")
	if err != nil || match {
		t.Errorf("Verify(wrong) = %v, %v; want false, nil", match, err)
	}
}

func TestModel_RowLayout(t *testing.T) {
	m, store := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "hunter2"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	row, ok, err := store.Get(ctx, "account", "1")
	if err != nil || !ok {
		t.Fatalf("raw Get() = %v, %v", ok, err)
	}

	if row["Secret"] == "x" {
		t.Error("stored secret should be locked")
	}
	for _, aux := range []string{"Secret__iv", "Secret__tag", "Pw__salt"} {
		if _, ok := row[aux]; !ok {
			t.Errorf("row is missing auxiliary key %s", aux)
		}
	}
}

func TestModel_GeneratedKey(t *testing.T) {
	m, _ := newAccountModel(t)
	ctx := context.Background()

	keys, err := m.Insert(ctx, Account{Secret: "x", Pw: "pw"})
	if err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if len(keys) != 1 || keys[0] == "" {
		t.Fatalf("Insert() keys = %v, want one generated key", keys)
	}

	rec, ok, err := m.Get(ctx, keys[0])
	if err != nil || !ok {
		t.Fatalf("Get(%s) = %v, %v", keys[0], ok, err)
	}
	if rec.ID != keys[0] {
		t.Errorf("ID = %q, want %q", rec.ID, keys[0])
	}
}

func TestModel_GetAbsent(t *testing.T) {
	m, _ := newAccountModel(t)

	rec, ok, err := m.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok || rec != nil {
		t.Error("absent key should be an explicit empty result, not an error")
	}
}

func TestModel_GetBy(t *testing.T) {
	m, _ := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx,
		Account{ID: "1", Secret: "alpha", Pw: "pw-a", Note: "keep"},
		Account{ID: "2", Secret: "beta", Pw: "pw-b", Note: "keep"},
		Account{ID: "3", Secret: "alpha", Pw: "pw-c", Note: "drop"},
	); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	// Unbound field: pushed down to storage.
	recs, err := m.GetBy(ctx, "Note", "keep")
	if err != nil {
		t.Fatalf("GetBy(Note) error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("GetBy(Note) = %d records, want 2", len(recs))
	}

	// Encrypted field: not filterable, falls back to scan and compare.
	recs, err = m.GetBy(ctx, "Secret", "alpha")
	if err != nil {
		t.Fatalf("GetBy(Secret) error: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("GetBy(Secret) = %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Secret != "alpha" {
			t.Errorf("Secret = %q, want alpha", r.Secret)
		}
	}

	// Hashed field: matched via Verify against each row's own salt.
	recs, err = m.GetBy(ctx, "Pw", "pw-b")
	if err != nil {
		t.Fatalf("GetBy(Pw) error: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "2" {
		t.Errorf("GetBy(Pw) = %v, want the record with ID 2", recs)
	}

	if _, err := m.GetBy(ctx, "Nope", "x"); !errors.Is(err, strata.ErrUnknownField) {
		t.Errorf("GetBy(unknown) error = %v, want ErrUnknownField", err)
	}
}

func TestModel_UpdatePreservesSalt(t *testing.T) {
	m, store := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "hunter2"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	before, _, _ := store.Get(ctx, "account", "1")

	if err := m.Update(ctx, "1", strata.Row{"Secret": "y", "Pw": "hunter2"}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	after, _, _ := store.Get(ctx, "account", "1")
	if after["Pw__salt"] != before["Pw__salt"] {
		t.Error("salt should be reused across updates")
	}
	if after["Pw"] != before["Pw"] {
		t.Error("unchanged password should keep a stable digest")
	}
	if after["Secret"] == before["Secret"] {
		t.Error("changed secret should produce new ciphertext")
	}

	rec, _, err := m.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.Secret != "y" {
		t.Errorf("Secret = %q, want %q", rec.Secret, "y")
	}
}

func TestModel_UpdateErrors(t *testing.T) {
	m, _ := newAccountModel(t)
	ctx := context.Background()

	if err := m.Update(ctx, "missing", strata.Row{"Note": "x"}); !errors.Is(err, strata.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "pw"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := m.Update(ctx, "1", strata.Row{"Nope": "x"}); !errors.Is(err, strata.ErrUnknownField) {
		t.Errorf("Update(unknown field) error = %v, want ErrUnknownField", err)
	}
	if err := m.Update(ctx, "1", strata.Row{"Secret": 42}); err == nil {
		t.Error("Update with a non-string plain value for an encrypted field should fail")
	}
}

func TestModel_UpdateRecord(t *testing.T) {
	m, _ := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "pw", Note: "old"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	if err := m.UpdateRecord(ctx, Account{ID: "1", Secret: "z", Pw: "pw", Note: "new"}); err != nil {
		t.Fatalf("UpdateRecord() error: %v", err)
	}

	rec, _, err := m.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.Secret != "z" || rec.Note != "new" {
		t.Errorf("record = %+v, want updated Secret and Note", rec)
	}

	if err := m.UpdateRecord(ctx, Account{ID: "ghost"}); !errors.Is(err, strata.ErrNotFound) {
		t.Errorf("UpdateRecord(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestModel_InsertBatchPartialFailure(t *testing.T) {
	type Credential struct {
		ID string `strata:"pk"`
		Pw string `lock.hash:"bcrypt"`
	}

	schema, err := strata.Define[Credential]()
	if err != nil {
		t.Fatalf("Define() error: %v", err)
	}
	m, err := strata.New[Credential](schema, memstore.New(), "main", json.New())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()
	if err := m.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}

	// bcrypt rejects passwords over 72 bytes, so the middle record's lock
	// fails while the rest of the batch persists.
	keys, err := m.Insert(ctx,
		Credential{ID: "a", Pw: "ok-1"},
		Credential{ID: "b", Pw: strings.Repeat("x", 100)},
		Credential{ID: "c", Pw: "ok-2"},
	)
	if err == nil {
		t.Fatal("Insert() should report the failing record")
	}
	if !errors.Is(err, strata.ErrLock) {
		t.Errorf("error = %v, want ErrLock", err)
	}
	if !strings.Contains(err.Error(), "record 1") {
		t.Errorf("error = %q, should name the failing record index", err)
	}

	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("keys = %v, want [a c]", keys)
	}
	if _, ok, _ := m.Get(ctx, "c"); !ok {
		t.Error("records after the failing one should still persist")
	}
	if _, ok, _ := m.Get(ctx, "b"); ok {
		t.Error("the failing record must not persist")
	}
}

func TestModel_EncryptedBytesField(t *testing.T) {
	type Vault struct {
		ID   string `strata:"pk"`
		Blob []byte `lock.encrypt:"aes-gcm"`
	}

	schema, err := strata.Define[Vault]()
	if err != nil {
		t.Fatalf("Define() error: %v", err)
	}
	store := memstore.New()
	m, err := strata.New[Vault](schema, store, "main", json.New(),
		strata.WithKey(strata.CipherAESGCM, aesKey),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()
	if err := m.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}

	blob := []byte{0x00, 0x01, 0xff, 0xfe}
	if _, err := m.Insert(ctx, Vault{ID: "1", Blob: blob}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	row, _, err := store.Get(ctx, "vault", "1")
	if err != nil {
		t.Fatalf("raw Get() error: %v", err)
	}
	if _, ok := row["Blob__iv"]; !ok {
		t.Error("byte field should carry encryption metadata")
	}

	rec, ok, err := m.Get(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if !bytes.Equal(rec.Blob, blob) {
		t.Errorf("Blob = %x, want %x (round-trip)", rec.Blob, blob)
	}
}

func TestModel_CorruptOneWayValue(t *testing.T) {
	m, store := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "pw"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	// A one-way value that is not a string must surface on read, not
	// reconstruct as an empty field.
	if err := store.Update(ctx, "account", "1", strata.Row{"Pw": 42}); err != nil {
		t.Fatalf("raw Update() error: %v", err)
	}

	_, _, err := m.Get(ctx, "1")
	if !errors.Is(err, strata.ErrMissingMetadata) {
		t.Errorf("Get() error = %v, want ErrMissingMetadata", err)
	}
	var ie *strata.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("error should be an *IntegrityError, got %T", err)
	}
	if ie.Field != "Pw" {
		t.Errorf("Field = %q, want Pw", ie.Field)
	}
}

func TestModel_Delete(t *testing.T) {
	m, _ := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "pw"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}
	if err := m.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "1"); ok {
		t.Error("record should be gone after Delete")
	}
}

func TestModel_TamperDetection(t *testing.T) {
	m, store := newAccountModel(t)
	ctx := context.Background()

	if _, err := m.Insert(ctx, Account{ID: "1", Secret: "x", Pw: "pw"}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	// Corrupt the auth tag behind the pipeline's back.
	if err := store.Update(ctx, "account", "1", strata.Row{"Secret__tag": "AAAAAAAAAAAAAAAAAAAAAA=="}); err != nil {
		t.Fatalf("raw Update() error: %v", err)
	}

	_, _, err := m.Get(ctx, "1")
	if !errors.Is(err, strata.ErrIntegrity) {
		t.Errorf("Get() error = %v, want ErrIntegrity", err)
	}

	var ie *strata.IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("error should be an *IntegrityError, got %T", err)
	}
	if ie.Field != "Secret" {
		t.Errorf("Field = %q, want Secret", ie.Field)
	}
}

func TestModel_MissingKeyConfig(t *testing.T) {
	schema, err := strata.Define[Account]()
	if err != nil {
		t.Fatalf("Define() error: %v", err)
	}

	m, err := strata.New[Account](schema, memstore.New(), "unkeyed", json.New())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Configuration failures surface at first use of the affected modifier.
	_, err = m.Insert(context.Background(), Account{ID: "1", Secret: "x", Pw: "pw"})
	if !errors.Is(err, strata.ErrMissingKey) {
		t.Errorf("error = %v, want ErrMissingKey", err)
	}
	var ce *strata.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("error should be a *ConfigError, got %T", err)
	}
}

func TestModel_Localization(t *testing.T) {
	schema, err := strata.Define[Product]()
	if err != nil {
		t.Fatalf("Define() error: %v", err)
	}

	store := memstore.New()
	m, err := strata.New[Product](schema, store, "main", json.New())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()
	if err := m.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}

	titles := map[string]string{"en": "Headphones", "fr": "Casque"}
	if _, err := m.Insert(ctx, Product{ID: "p1", Title: titles}); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	rec, _, err := m.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got, _ := strata.Materialize(rec.Title, "es", "en"); got != "Headphones" {
		t.Errorf("Materialize(es) = %q, want Headphones (fallback)", got)
	}
	if got, _ := strata.Materialize(rec.Title, "fr", "en"); got != "Casque" {
		t.Errorf("Materialize(fr) = %q, want Casque", got)
	}

	// Partial update merges over the stored locale map.
	if err := m.Update(ctx, "p1", strata.Row{"Title": map[string]string{"de": "Kopfhörer"}}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	rec, _, _ = m.Get(ctx, "p1")
	if rec.Title["en"] != "Headphones" || rec.Title["de"] != "Kopfhörer" {
		t.Errorf("merged titles = %v", rec.Title)
	}
}

func TestModel_Fixture(t *testing.T) {
	type Setting struct {
		ID    string `strata:"pk"`
		Value string
	}

	schema, err := strata.Define[Setting](strata.WithFixture(func(_ context.Context) ([]strata.Row, error) {
		return []strata.Row{
			{"ID": "theme", "Value": "dark"},
			{"ID": "lang", "Value": "en"},
		}, nil
	}))
	if err != nil {
		t.Fatalf("Define() error: %v", err)
	}

	m, err := strata.New[Setting](schema, memstore.New(), "main", json.New())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx := context.Background()

	// Fixture runs at most once per table lifetime.
	if err := m.EnsureTable(ctx); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}
	if err := m.EnsureTable(ctx); err != nil {
		t.Fatalf("second EnsureTable() error: %v", err)
	}

	all, err := m.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("GetAll() = %d records, want 2 (fixture applied once)", len(all))
	}
}

func TestModel_ToRowFromRow(t *testing.T) {
	m, _ := newAccountModel(t)

	rec := Account{ID: "1", Secret: "top", Pw: "pw", Note: "n"}
	row, err := m.ToRow(&rec)
	if err != nil {
		t.Fatalf("ToRow() error: %v", err)
	}
	if row["Secret"] == "top" {
		t.Error("ToRow should lock the encrypted field")
	}

	back, err := m.FromRow(row)
	if err != nil {
		t.Fatalf("FromRow() error: %v", err)
	}
	if back.Secret != "top" || back.Note != "n" {
		t.Errorf("FromRow() = %+v", back)
	}
	if back.Pw == "pw" {
		t.Error("one-way field should stay locked")
	}
}

func TestModel_FromPlain(t *testing.T) {
	m, _ := newAccountModel(t)

	rec, err := m.FromPlain(strata.Row{"ID": "1", "Secret": "s", "Pw": "p", "Note": "n"})
	if err != nil {
		t.Fatalf("FromPlain() error: %v", err)
	}
	if rec.Secret != "s" || rec.Pw != "p" {
		t.Errorf("FromPlain() = %+v; plain data must pass through untransformed", rec)
	}
}
