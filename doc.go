// Package strata provides record types with per-field value transforms that
// run automatically whenever a record crosses the application/storage
// boundary.
//
// A record type is declared once from a struct definition. Individual fields
// carry modifiers — reversible encryption, one-way hashing, multi-locale
// storage — that lock values on write and unlock them on read. Auxiliary
// metadata produced during a lock (IVs, auth tags, salts) travels alongside
// the locked value in the storage row and round-trips on unlock.
//
// # Tag Syntax
//
// Schema shape and modifiers are declared via struct tags:
//
//	strata:"pk"              - primary key field
//	strata:"index"           - single-field index
//	strata:"index=owner"     - member of the "owner" compound index group
//	strata:"-"               - excluded from the storage row
//
//	lock.encrypt:"aes-gcm"   - AEAD encryption on write, decryption on read
//	lock.hash:"sha256"       - salted one-way digest on write
//	lock.localize:"en"       - locale map storage with "en" fallback
//
// # Basic Usage
//
//	type User struct {
//	    ID     string `strata:"pk"`
//	    Email  string `strata:"index" lock.encrypt:"aes-gcm"`
//	    Pw     string `lock.hash:"sha256"`
//	}
//
//	schema, _ := strata.Define[User]()
//
//	users, _ := strata.Use[User](store, "main", json.New(),
//	    strata.WithKey(strata.CipherAESGCM, key),
//	)
//
//	keys, _ := users.Insert(ctx, User{Email: "a@example.com", Pw: "hunter2"})
//	u, ok, _ := users.Get(ctx, keys[0])          // Email decrypted
//	match, _ := users.Verify(ctx, keys[0], "Pw", "hunter2")
//
// # Value States
//
// A modified field value is either Plain (application-level, typed) or Locked
// (storage-level, a string plus metadata). Two-way modifiers reconstruct
// Plain from Locked on read; one-way fields stay Locked and expose only
// Verify.
//
// # Row Layout
//
// The locked value is stored under the field's own name. Metadata is stored
// under deterministic auxiliary keys derived from the field name:
//
//	email         - base64 ciphertext
//	email__iv     - initialization vector
//	email__tag    - authentication tag
//	pw            - hex digest
//	pw__salt      - digest salt
//
// Consumers of the raw row must treat auxiliary keys as opaque.
//
// # Modifiers
//
// Built-in modifiers:
//
//   - encryption (two-way): aes-gcm (default), xchacha20. Fresh random IV per
//     lock; unlock fails with an integrity error on tag mismatch.
//   - hashing (one-way): sha256 (default), sha512, argon2id, bcrypt. Salt is
//     generated on first lock and reused from the previous locked value.
//   - localization (two-way): locked form is a serialized locale→value map;
//     Materialize resolves a locale with fallback and never fails for a
//     missing non-fallback locale.
//
// # Storage
//
// Persistence is delegated to a Storage collaborator. The memstore subpackage
// provides an in-memory implementation; the postgres subpackage persists rows
// as jsonb documents via pgx. The pipeline itself performs no I/O: all locks
// complete before the storage call is issued, and all unlocks complete before
// a record is handed back.
//
// # Model Cache
//
// Use returns the unique facade per (record type, database identity) pair.
// Concurrent first-time calls converge on a single instance; the cache never
// evicts.
package strata
