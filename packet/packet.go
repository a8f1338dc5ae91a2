package packet

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// Packet is an insertion-ordered set of uniquely keyed, tagged values.
// A Packet is not safe for concurrent mutation. Once attached to a
// longer-lived entity it is treated as immutable.
type Packet struct {
	keys   []string
	fields map[string]Value
}

func New() *Packet {
	return &Packet{
		keys:   nil,
		fields: make(map[string]Value),
	}
}

// Deserialize never fails: malformed input of any kind yields an empty
// Packet, discarding fields already parsed.
func Deserialize(b []byte) *Packet {
	return Decode(NewReader(b))
}

// Decode consumes a Packet from the remainder of r.
func Decode(r *Reader) *Packet {
	p, err := decode(r)
	if err != nil {
		return New()
	}
	return p
}

func decode(r *Reader) (*Packet, error) {
	p := New()
	for {
		key, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		if key == "" {
			// exhausted at key boundary
			return p, nil
		}

		tag, err := r.ReadUint8()
		if err != nil {
			return nil, err
		}

		v, err := decodeValue(r, Type(tag))
		if err != nil {
			return nil, err
		}

		if _, found := p.fields[key]; found {
			return nil, ErrDuplicateKey
		}
		p.Set(key, v)
	}
}

func (p *Packet) Serialize() []byte {
	w := NewWriter()
	p.Encode(w)
	return w.Bytes()
}

// Encode appends every non-null field to w in insertion order.
func (p *Packet) Encode(w *Writer) {
	if p == nil {
		return
	}

	for _, key := range p.keys {
		v := p.fields[key]
		if key == "" || v.IsNull() {
			// an empty key would read back as end of input
			continue
		}
		w.WriteString(key)
		w.WriteUint8(uint8(v.t))
		v.encode(w)
	}
}

func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

func (p *Packet) Keys() []string {
	if p == nil {
		return nil
	}
	return slices.Clone(p.keys)
}

func (p *Packet) Has(key string) bool {
	if p == nil {
		return false
	}
	_, found := p.fields[key]
	return found
}

func (p *Packet) Get(key string) (Value, bool) {
	if p == nil {
		return Value{}, false
	}
	v, found := p.fields[key]
	return v, found
}

// Set creates or replaces a field. A replaced field keeps its position.
func (p *Packet) Set(key string, v Value) *Packet {
	if _, found := p.fields[key]; !found {
		p.keys = append(p.keys, key)
	}
	p.fields[key] = v
	return p
}

func (p *Packet) Delete(key string) {
	if _, found := p.fields[key]; !found {
		return
	}
	delete(p.fields, key)
	p.keys = slices.DeleteFunc(p.keys, func(k string) bool { return k == key })
}

func (p *Packet) Clone() *Packet {
	c := New()
	if p == nil {
		return c
	}
	c.keys = slices.Clone(p.keys)
	for k, v := range p.fields {
		c.fields[k] = v
	}
	return c
}

// Merge overwrites conflicting keys with other's values and appends new
// keys. Keys absent from other are kept.
func (p *Packet) Merge(other *Packet) *Packet {
	if other == nil {
		return p
	}
	for _, key := range other.keys {
		p.Set(key, other.fields[key])
	}
	return p
}

// Contains reports whether p holds every field of filter with an equal
// tagged value.
func (p *Packet) Contains(filter *Packet) bool {
	if filter == nil {
		return true
	}
	for _, key := range filter.keys {
		v, found := p.Get(key)
		if !found || !v.Equal(filter.fields[key]) {
			return false
		}
	}
	return true
}

func (p *Packet) String() string {
	if p == nil {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%s", key, p.fields[key])
	}
	sb.WriteByte('}')
	return sb.String()
}

func (p *Packet) SetUint8(key string, v uint8) *Packet { return p.Set(key, Uint8(v)) }
func (p *Packet) SetUint16(key string, v uint16) *Packet { return p.Set(key, Uint16(v)) }
func (p *Packet) SetUint32(key string, v uint32) *Packet { return p.Set(key, Uint32(v)) }
func (p *Packet) SetUint64(key string, v uint64) *Packet { return p.Set(key, Uint64(v)) }
func (p *Packet) SetInt8(key string, v int8) *Packet { return p.Set(key, Int8(v)) }
func (p *Packet) SetInt16(key string, v int16) *Packet { return p.Set(key, Int16(v)) }
func (p *Packet) SetInt32(key string, v int32) *Packet { return p.Set(key, Int32(v)) }
func (p *Packet) SetInt64(key string, v int64) *Packet { return p.Set(key, Int64(v)) }
func (p *Packet) SetString(key string, v string) *Packet { return p.Set(key, String(v)) }
func (p *Packet) SetFloat64(key string, v float64) *Packet { return p.Set(key, Float64(v)) }
func (p *Packet) SetFloat32(key string, v float32) *Packet { return p.Set(key, Float32(v)) }
func (p *Packet) SetBool(key string, v bool) *Packet { return p.Set(key, Bool(v)) }

func (p *Packet) SetAddr(key string, v netip.AddrPort) *Packet {
	return p.Set(key, Addr(v))
}

func get[T any](p *Packet, key string, t Type) T {
	var zero T
	v, found := p.Get(key)
	if !found || v.t != t {
		return zero
	}
	x, ok := v.v.(T)
	if !ok {
		return zero
	}
	return x
}

func (p *Packet) GetUint8(key string) uint8 { return get[uint8](p, key, TypeUint8) }
func (p *Packet) GetUint16(key string) uint16 { return get[uint16](p, key, TypeUint16) }
func (p *Packet) GetUint32(key string) uint32 { return get[uint32](p, key, TypeUint32) }
func (p *Packet) GetUint64(key string) uint64 { return get[uint64](p, key, TypeUint64) }
func (p *Packet) GetInt8(key string) int8 { return get[int8](p, key, TypeInt8) }
func (p *Packet) GetInt16(key string) int16 { return get[int16](p, key, TypeInt16) }
func (p *Packet) GetInt32(key string) int32 { return get[int32](p, key, TypeInt32) }
func (p *Packet) GetInt64(key string) int64 { return get[int64](p, key, TypeInt64) }
func (p *Packet) GetString(key string) string { return get[string](p, key, TypeString) }
func (p *Packet) GetFloat64(key string) float64 { return get[float64](p, key, TypeFloat64) }
func (p *Packet) GetFloat32(key string) float32 { return get[float32](p, key, TypeFloat32) }
func (p *Packet) GetBool(key string) bool { return get[bool](p, key, TypeBool) }

func (p *Packet) GetAddr(key string) netip.AddrPort {
	return get[netip.AddrPort](p, key, TypeAddr)
}
