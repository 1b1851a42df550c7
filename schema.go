package strata

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/zoobzio/sentinel"
)

func init() {
	// Register compound tags with sentinel
	sentinel.Tag("strata")
	sentinel.Tag("lock.encrypt")
	sentinel.Tag("lock.hash")
	sentinel.Tag("lock.localize")
}

// fieldKind classifies how the facade reads and writes a struct field.
type fieldKind int

const (
	fieldScalar fieldKind = iota // passthrough, stored as-is
	fieldString
	fieldBytes
	fieldLocaleMap // map[string]string
)

// FieldSpec describes one field of a record type.
type FieldSpec struct {
	Name    string
	Index   []int // reflect.Value.FieldByIndex access path
	Primary bool
	Indexed bool
	Group   string // compound index group, empty if none

	kind fieldKind
}

// Schema is the registry entry for one declared record type: its ordered
// field list, index metadata, fixture producer, and attached modifier
// bindings. Schemas are created once at declaration time and are immutable
// once a model has been built over them; unsynchronized concurrent reads are
// safe afterward.
type Schema struct {
	typeName string
	table    string
	rt       reflect.Type
	fields   []FieldSpec
	byName   map[string]int
	fixture  Fixture

	mu       sync.Mutex
	bindings []Binding
	bound    map[string]int // field name -> bindings index
	frozen   bool
}

// SchemaOption configures schema declaration.
type SchemaOption func(*Schema)

// WithTable overrides the table name derived from the type name.
func WithTable(name string) SchemaOption {
	return func(s *Schema) { s.table = name }
}

// WithFixture registers the deferred default-data producer, invoked at most
// once per table lifetime by EnsureTable.
func WithFixture(f Fixture) SchemaOption {
	return func(s *Schema) { s.fixture = f }
}

// schemas is the process-global record-type registry.
var (
	schemas   = make(map[reflect.Type]*Schema)
	schemasMu sync.RWMutex
)

// Define declares the record type T by scanning its struct tags. Declaration
// is side-effect-free with respect to storage; it only populates in-memory
// metadata. Defining the same type twice returns the existing schema.
func Define[T any](opts ...SchemaOption) (*Schema, error) {
	rt := reflect.TypeFor[T]()
	if rt.Kind() != reflect.Struct {
		return nil, newDeclarationError(fmt.Errorf("record type must be a struct, got %s", rt.Kind()), rt.String(), "")
	}

	schemasMu.RLock()
	existing, ok := schemas[rt]
	schemasMu.RUnlock()
	if ok {
		return existing, nil
	}

	spec := sentinel.Scan[T]()
	s := &Schema{
		typeName: spec.TypeName,
		table:    snakeCase(spec.TypeName),
		rt:       rt,
		byName:   make(map[string]int),
		bound:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, field := range spec.Fields {
		fs := FieldSpec{
			Name:  field.Name,
			Index: field.Index,
			kind:  classifyField(field.ReflectType),
		}

		skip := false
		if val, ok := field.Tags["strata"]; ok {
			switch {
			case val == "-":
				skip = true
			case val == "pk":
				if s.primaryField() != "" {
					return nil, newDeclarationError(ErrDuplicatePrimary, s.typeName, field.Name)
				}
				if fs.kind != fieldString {
					return nil, newDeclarationError(ErrFieldType, s.typeName, field.Name)
				}
				fs.Primary = true
			case val == "index":
				fs.Indexed = true
			case strings.HasPrefix(val, "index="):
				fs.Group = strings.TrimPrefix(val, "index=")
			default:
				return nil, newDeclarationError(fmt.Errorf("invalid strata tag %q", val), s.typeName, field.Name)
			}
		}
		if skip {
			continue
		}

		s.byName[fs.Name] = len(s.fields)
		s.fields = append(s.fields, fs)

		if err := s.bindFromTags(field); err != nil {
			return nil, err
		}
	}

	schemasMu.Lock()
	defer schemasMu.Unlock()
	if existing, ok := schemas[rt]; ok {
		return existing, nil
	}
	schemas[rt] = s
	return s, nil
}

// bindFromTags attaches the built-in modifiers declared on a field.
func (s *Schema) bindFromTags(field sentinel.FieldMetadata) error {
	if val, ok := field.Tags["lock.encrypt"]; ok {
		if !IsValidCipherAlgo(CipherAlgo(val)) {
			return newDeclarationError(fmt.Errorf("%w: %q", ErrUnknownAlgorithm, val), s.typeName, field.Name)
		}
		if err := s.attach(field.Name, KindEncrypt, Options{Algorithm: val}); err != nil {
			return err
		}
	}

	if val, ok := field.Tags["lock.hash"]; ok {
		if !IsValidHashAlgo(HashAlgo(val)) {
			return newDeclarationError(fmt.Errorf("%w: %q", ErrUnknownAlgorithm, val), s.typeName, field.Name)
		}
		if err := s.attach(field.Name, KindHash, Options{Algorithm: val}); err != nil {
			return err
		}
	}

	if val, ok := field.Tags["lock.localize"]; ok {
		if err := s.attach(field.Name, KindLocalize, Options{Fallback: val}); err != nil {
			return err
		}
	}

	return nil
}

// AttachModifier binds a modifier kind to a field programmatically. It is a
// declaration-time operation: attaching after a model has been built over
// the schema fails with ErrSchemaFrozen.
func (s *Schema) AttachModifier(field string, kind Kind, o Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return newDeclarationError(ErrSchemaFrozen, s.typeName, field)
	}

	switch kind {
	case KindEncrypt:
		if o.Algorithm == "" {
			o.Algorithm = string(CipherAESGCM)
		}
		if !IsValidCipherAlgo(CipherAlgo(o.Algorithm)) {
			return newDeclarationError(fmt.Errorf("%w: %q", ErrUnknownAlgorithm, o.Algorithm), s.typeName, field)
		}
	case KindHash:
		if o.Algorithm == "" {
			o.Algorithm = string(HashSHA256)
		}
		if !IsValidHashAlgo(HashAlgo(o.Algorithm)) {
			return newDeclarationError(fmt.Errorf("%w: %q", ErrUnknownAlgorithm, o.Algorithm), s.typeName, field)
		}
	case KindLocalize:
	default:
		return newDeclarationError(fmt.Errorf("unknown modifier kind %q", kind), s.typeName, field)
	}

	return s.attach(field, kind, o)
}

// attach records a binding. Callers hold no particular lock during Define;
// AttachModifier holds s.mu.
func (s *Schema) attach(field string, kind Kind, o Options) error {
	idx, ok := s.byName[field]
	if !ok {
		return newDeclarationError(ErrUnknownField, s.typeName, field)
	}
	if _, dup := s.bound[field]; dup {
		// The built-in modifiers are mutually exclusive per field;
		// chaining has no defined ordering semantic.
		return newDeclarationError(ErrFieldBound, s.typeName, field)
	}

	fs := &s.fields[idx]
	switch kind {
	case KindEncrypt, KindHash:
		if fs.kind != fieldString && fs.kind != fieldBytes {
			return newDeclarationError(ErrFieldType, s.typeName, field)
		}
	case KindLocalize:
		if fs.kind != fieldLocaleMap {
			return newDeclarationError(ErrFieldType, s.typeName, field)
		}
	}

	s.bound[field] = len(s.bindings)
	s.bindings = append(s.bindings, Binding{Field: field, Kind: kind, Options: o})
	return nil
}

// freeze marks the schema immutable. Called on first model construction.
func (s *Schema) freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// TypeName returns the declared record type's name.
func (s *Schema) TypeName() string { return s.typeName }

// Table returns the storage table name.
func (s *Schema) Table() string { return s.table }

// Fields returns the ordered field list.
func (s *Schema) Fields() []FieldSpec { return s.fields }

// Bindings returns the declaration-ordered modifier binding set.
func (s *Schema) Bindings() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Binding, len(s.bindings))
	copy(out, s.bindings)
	return out
}

// binding returns the binding attached to field, if any.
func (s *Schema) binding(field string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.bound[field]
	if !ok {
		return Binding{}, false
	}
	return s.bindings[idx], true
}

// primaryField returns the primary key field name, empty if none.
func (s *Schema) primaryField() string {
	for _, f := range s.fields {
		if f.Primary {
			return f.Name
		}
	}
	return ""
}

// Index returns the key layout handed to the storage collaborator.
func (s *Schema) Index() IndexSpec {
	spec := IndexSpec{Primary: s.primaryField()}
	for _, f := range s.fields {
		if f.Indexed {
			spec.Indexed = append(spec.Indexed, f.Name)
		}
		if f.Group != "" {
			if spec.Groups == nil {
				spec.Groups = make(map[string][]string)
			}
			spec.Groups[f.Group] = append(spec.Groups[f.Group], f.Name)
		}
	}
	return spec
}

// schemaFor looks up the registered schema for a record type.
func schemaFor(rt reflect.Type) (*Schema, bool) {
	schemasMu.RLock()
	defer schemasMu.RUnlock()
	s, ok := schemas[rt]
	return s, ok
}

// resetSchemas clears the record-type registry. Test isolation only.
func resetSchemas() {
	schemasMu.Lock()
	defer schemasMu.Unlock()
	schemas = make(map[reflect.Type]*Schema)
}

// classifyField maps a struct field type to its pipeline handling.
func classifyField(rt reflect.Type) fieldKind {
	switch rt.Kind() {
	case reflect.String:
		return fieldString
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return fieldBytes
		}
	case reflect.Map:
		if rt.Key().Kind() == reflect.String && rt.Elem().Kind() == reflect.String {
			return fieldLocaleMap
		}
	}
	return fieldScalar
}

// snakeCase derives a table name from a type name (UserAccount -> user_account).
func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
