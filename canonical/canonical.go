// Package canonical implements the ledger's canonical binary encoding: a
// msgpack map whose keys are sorted bytewise, whose zero-valued fields are
// omitted entirely, and which carries no trailing bytes.
//
// Encode is a pure function of the logical content of a Map. The order in
// which fields were put into the Map never affects the output.
package canonical

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v4"
)

var (
	// ErrTrailingBytes is returned when input continues past the first value.
	ErrTrailingBytes = errors.New("canonical: trailing bytes after encoded value")
	// ErrNotCanonical is returned when input decodes but would not re-encode
	// to the same bytes (unsorted keys, explicit zero values, wide integers...).
	ErrNotCanonical = errors.New("canonical: input is not canonically encoded")
)

type entry struct {
	key   string
	value interface{}
}

// Map is an ordered set of key/value pairs destined for canonical encoding.
// Supported values are uint64, bool, string, []byte, *Map, [][]byte and
// []uint64. Zero values are never stored.
type Map struct {
	entries []entry
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// Len returns the number of stored fields.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the stored keys in canonical order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, m.Len())
	if m == nil {
		return keys
	}
	for _, e := range m.entries {
		keys = append(keys, e.key)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.get(key)
	return ok
}

// Delete removes key if present.
func (m *Map) Delete(key string) {
	for i, e := range m.entries {
		if e.key == key {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

func (m *Map) get(key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	for _, e := range m.entries {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

func (m *Map) put(key string, v interface{}) {
	for i, e := range m.entries {
		if e.key == key {
			m.entries[i].value = v
			return
		}
	}
	m.entries = append(m.entries, entry{key: key, value: v})
}

// PutUint stores v unless it is zero.
func (m *Map) PutUint(key string, v uint64) {
	if v == 0 {
		m.Delete(key)
		return
	}
	m.put(key, v)
}

// PutBool stores v unless it is false.
func (m *Map) PutBool(key string, v bool) {
	if !v {
		m.Delete(key)
		return
	}
	m.put(key, v)
}

// PutString stores v unless it is empty.
func (m *Map) PutString(key string, v string) {
	if v == "" {
		m.Delete(key)
		return
	}
	m.put(key, v)
}

// PutBytes stores a copy of v unless it is empty.
func (m *Map) PutBytes(key string, v []byte) {
	if len(v) == 0 {
		m.Delete(key)
		return
	}
	m.put(key, append([]byte(nil), v...))
}

// PutFixed stores a fixed-size byte value (address, digest, key) unless every
// byte is zero.
func (m *Map) PutFixed(key string, v []byte) {
	if isZero(v) {
		m.Delete(key)
		return
	}
	m.put(key, append([]byte(nil), v...))
}

// PutMap stores sub unless it has no fields.
func (m *Map) PutMap(key string, sub *Map) {
	if sub.Len() == 0 {
		m.Delete(key)
		return
	}
	m.put(key, sub)
}

// PutBytesList stores a list of byte strings unless the list is empty.
// Individual elements may be empty.
func (m *Map) PutBytesList(key string, v [][]byte) {
	if len(v) == 0 {
		m.Delete(key)
		return
	}
	list := make([][]byte, len(v))
	for i, b := range v {
		list[i] = append([]byte{}, b...)
	}
	m.put(key, list)
}

// PutUintList stores a list of integers unless the list is empty.
func (m *Map) PutUintList(key string, v []uint64) {
	if len(v) == 0 {
		m.Delete(key)
		return
	}
	m.put(key, append([]uint64(nil), v...))
}

// Uint returns the integer stored at key, or 0 when absent.
func (m *Map) Uint(key string) (uint64, error) {
	v, ok := m.get(key)
	if !ok {
		return 0, nil
	}
	n, ok := v.(uint64)
	if !ok {
		return 0, fmt.Errorf("canonical: field %q is %T, want integer", key, v)
	}
	return n, nil
}

// Bool returns the boolean stored at key, or false when absent.
func (m *Map) Bool(key string) (bool, error) {
	v, ok := m.get(key)
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("canonical: field %q is %T, want bool", key, v)
	}
	return b, nil
}

// String returns the string stored at key, or "" when absent.
func (m *Map) String(key string) (string, error) {
	v, ok := m.get(key)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("canonical: field %q is %T, want string", key, v)
	}
	return s, nil
}

// Bytes returns the byte string stored at key, or nil when absent.
func (m *Map) Bytes(key string) ([]byte, error) {
	v, ok := m.get(key)
	if !ok {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("canonical: field %q is %T, want bytes", key, v)
	}
	return append([]byte(nil), b...), nil
}

// Fixed copies the byte string stored at key into dst, which must be exactly
// as long as the stored value. Absent keys leave dst zeroed.
func (m *Map) Fixed(key string, dst []byte) error {
	b, err := m.Bytes(key)
	if err != nil {
		return err
	}
	if b == nil {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
	if len(b) != len(dst) {
		return fmt.Errorf("canonical: field %q has %d bytes, want %d", key, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

// Map returns the nested map stored at key, or an empty Map when absent.
func (m *Map) Map(key string) (*Map, error) {
	v, ok := m.get(key)
	if !ok {
		return NewMap(), nil
	}
	sub, ok := v.(*Map)
	if !ok {
		return nil, fmt.Errorf("canonical: field %q is %T, want map", key, v)
	}
	return sub, nil
}

// BytesList returns the list of byte strings stored at key.
func (m *Map) BytesList(key string) ([][]byte, error) {
	v, ok := m.get(key)
	if !ok {
		return nil, nil
	}
	list, ok := v.([][]byte)
	if !ok {
		return nil, fmt.Errorf("canonical: field %q is %T, want list of bytes", key, v)
	}
	out := make([][]byte, len(list))
	for i, b := range list {
		out[i] = append([]byte{}, b...)
	}
	return out, nil
}

// UintList returns the list of integers stored at key.
func (m *Map) UintList(key string) ([]uint64, error) {
	v, ok := m.get(key)
	if !ok {
		return nil, nil
	}
	list, ok := v.([]uint64)
	if !ok {
		return nil, fmt.Errorf("canonical: field %q is %T, want list of integers", key, v)
	}
	return append([]uint64(nil), list...), nil
}

func isZeroValue(v interface{}) bool {
	switch v := v.(type) {
	case uint64:
		return v == 0
	case bool:
		return !v
	case string:
		return v == ""
	case []byte:
		return len(v) == 0
	case *Map:
		return v.Len() == 0
	}
	return false
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Encode serializes m canonically.
func Encode(m *Map) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeMap(enc, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeMap(enc *msgpack.Encoder, m *Map) error {
	sorted := make([]entry, 0, m.Len())
	if m != nil {
		sorted = append(sorted, m.entries...)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].key < sorted[j].key })

	if err := enc.EncodeMapLen(len(sorted)); err != nil {
		return err
	}
	for _, e := range sorted {
		if err := enc.EncodeString(e.key); err != nil {
			return err
		}
		if err := encodeValue(enc, e.value); err != nil {
			return fmt.Errorf("canonical: field %q: %w", e.key, err)
		}
	}
	return nil
}

func encodeValue(enc *msgpack.Encoder, v interface{}) error {
	switch v := v.(type) {
	case uint64:
		return enc.EncodeUint(v)
	case bool:
		return enc.EncodeBool(v)
	case string:
		return enc.EncodeString(v)
	case []byte:
		return enc.EncodeBytes(v)
	case *Map:
		return encodeMap(enc, v)
	case [][]byte:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, b := range v {
			if b == nil {
				b = []byte{}
			}
			if err := enc.EncodeBytes(b); err != nil {
				return err
			}
		}
		return nil
	case []uint64:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, n := range v {
			if err := enc.EncodeUint(n); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
}

// Decode parses exactly one canonically encoded map. Input that is valid
// msgpack but not in canonical form is rejected with ErrNotCanonical.
func Decode(b []byte) (*Map, error) {
	r := bytes.NewReader(b)
	m, err := decodeOne(msgpack.NewDecoder(r))
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrTrailingBytes
	}
	if err := checkCanonical(m, b); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeAll parses a concatenation of canonically encoded maps, returning
// each map together with the exact bytes it was decoded from.
func DecodeAll(b []byte) ([]*Map, [][]byte, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	var (
		maps []*Map
		raws [][]byte
	)
	for r.Len() > 0 {
		start := len(b) - r.Len()
		m, err := decodeOne(dec)
		if err != nil {
			return nil, nil, fmt.Errorf("canonical: value %d: %w", len(maps), err)
		}
		raw := b[start : len(b)-r.Len()]
		if err := checkCanonical(m, raw); err != nil {
			return nil, nil, fmt.Errorf("canonical: value %d: %w", len(maps), err)
		}
		maps = append(maps, m)
		raws = append(raws, raw)
	}
	return maps, raws, nil
}

func decodeOne(dec *msgpack.Decoder) (*Map, error) {
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("canonical: top-level value is %T, want map", v)
	}
	return fromGeneric(raw)
}

func checkCanonical(m *Map, original []byte) error {
	again, err := Encode(m)
	if err != nil {
		return err
	}
	if !bytes.Equal(again, original) {
		return ErrNotCanonical
	}
	return nil
}

func fromGeneric(raw map[string]interface{}) (*Map, error) {
	m := &Map{entries: make([]entry, 0, len(raw))}
	for k, v := range raw {
		nv, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		if isZeroValue(nv) {
			return nil, fmt.Errorf("field %q: explicit zero value: %w", k, ErrNotCanonical)
		}
		m.entries = append(m.entries, entry{key: k, value: nv})
	}
	return m, nil
}

func normalize(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case map[string]interface{}:
		return fromGeneric(v)
	case []interface{}:
		return normalizeList(v)
	case []byte, string, bool:
		return v, nil
	default:
		return toUint(v)
	}
}

func normalizeList(list []interface{}) (interface{}, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("empty list: %w", ErrNotCanonical)
	}
	switch list[0].(type) {
	case []byte:
		out := make([][]byte, len(list))
		for i, el := range list {
			b, ok := el.([]byte)
			if !ok {
				return nil, fmt.Errorf("mixed list element %d is %T", i, el)
			}
			out[i] = b
		}
		return out, nil
	default:
		out := make([]uint64, len(list))
		for i, el := range list {
			n, err := toUint(el)
			if err != nil {
				return nil, fmt.Errorf("list element %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}
}

func toUint(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	case int8:
		return signed(int64(n))
	case int16:
		return signed(int64(n))
	case int32:
		return signed(int64(n))
	case int64:
		return signed(n)
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func signed(n int64) (uint64, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative integer %d", n)
	}
	return uint64(n), nil
}
