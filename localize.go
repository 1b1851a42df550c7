package strata

import (
	"fmt"
	"reflect"
)

// localizeModifier stores a locale→value map as the locked representation.
// Unlike the scalar modifiers it operates on an aggregate: the locked value
// is the codec serialization of the whole map, and no auxiliary metadata is
// needed beyond the map itself.
type localizeModifier struct {
	fallback string
	codec    Codec
}

// newLocalizeModifier builds a localization modifier with the given fallback
// locale. A codec is required to serialize the locale map.
func newLocalizeModifier(fallback string, c Codec) (*localizeModifier, error) {
	if c == nil {
		return nil, newConfigError(ErrMissingCodec, "", "")
	}
	return &localizeModifier{fallback: fallback, codec: c}, nil
}

func (m *localizeModifier) Kind() Kind {
	return KindLocalize
}

// Lock serializes the locale map. New entries merge over the previously
// locked map, so a partial update touching one locale keeps the others.
func (m *localizeModifier) Lock(prev *Locked, plain any) (*Locked, error) {
	if plain == nil {
		return nil, nil
	}

	next, err := localeMap(plain)
	if err != nil {
		return nil, err
	}

	merged := map[string]string{}
	if prev != nil {
		base, err := m.decodeMap(prev.Value)
		if err != nil {
			return nil, err
		}
		for loc, v := range base {
			merged[loc] = v
		}
	}
	for loc, v := range next {
		merged[loc] = v
	}

	data, err := m.codec.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return &Locked{Value: string(data)}, nil
}

// Unlock reconstructs the locale map.
func (m *localizeModifier) Unlock(stored *Locked) (any, error) {
	if stored == nil {
		return nil, newIntegrityError(ErrMissingMetadata, "", nil)
	}
	return m.decodeMap(stored.Value)
}

// Verify compares the candidate map against the stored one.
func (m *localizeModifier) Verify(stored *Locked, candidate any) bool {
	got, err := m.Unlock(stored)
	if err != nil {
		return false
	}
	want, err := localeMap(candidate)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(got, want)
}

// QueryValue always reports the predicate as not filterable: a locale map
// has no scalar locked form to match against.
func (m *localizeModifier) QueryValue(_ any) (any, error) {
	return nil, ErrNotFilterable
}

func (m *localizeModifier) decodeMap(value string) (map[string]string, error) {
	out := map[string]string{}
	if err := m.codec.Unmarshal([]byte(value), &out); err != nil {
		return nil, newIntegrityError(ErrMissingMetadata, "", err)
	}
	return out, nil
}

// localeMap normalizes a plain value to a locale→value map. Codec round
// trips hand back map[string]any, so both shapes are accepted.
func localeMap(plain any) (map[string]string, error) {
	switch v := plain.(type) {
	case map[string]string:
		return v, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for loc, val := range v {
			s, ok := val.(string)
			if !ok {
				return nil, fmt.Errorf("locale %q: unsupported value type %T", loc, val)
			}
			out[loc] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported locale map type %T", plain)
	}
}

// Materialize resolves a locale map for one requested locale: the value at
// that locale, or at the fallback locale if absent. A missing non-fallback
// locale is never an error; ok is false only when neither the requested nor
// the fallback locale holds a value.
func Materialize(m map[string]string, locale, fallback string) (string, bool) {
	if v, ok := m[locale]; ok {
		return v, true
	}
	if v, ok := m[fallback]; ok {
		return v, true
	}
	return "", false
}
