package packet

import (
	"fmt"
	"net/netip"
)

type Type uint8

const (
	TypeUnknown Type = 0
	TypeUint8   Type = 1
	TypeUint16  Type = 2
	TypeUint32  Type = 3
	TypeUint64  Type = 4
	TypeInt8    Type = 5
	TypeInt16   Type = 6
	TypeInt32   Type = 7
	TypeInt64   Type = 8
	TypeString  Type = 9
	TypeFloat64 Type = 10
	TypeFloat32 Type = 11
	TypeBool    Type = 12
	TypeAddr    Type = 13
)

func (t Type) String() string {
	switch t {
	case TypeUnknown:
		return "Unknown"
	case TypeUint8:
		return "Uint8"
	case TypeUint16:
		return "Uint16"
	case TypeUint32:
		return "Uint32"
	case TypeUint64:
		return "Uint64"
	case TypeInt8:
		return "Int8"
	case TypeInt16:
		return "Int16"
	case TypeInt32:
		return "Int32"
	case TypeInt64:
		return "Int64"
	case TypeString:
		return "String"
	case TypeFloat64:
		return "Float64"
	case TypeFloat32:
		return "Float32"
	case TypeBool:
		return "Bool"
	case TypeAddr:
		return "Addr"
	default:
		return "Invalid Type"
	}
}

// Value is a tagged packet field. The zero Value is Unknown and is never
// serialized.
type Value struct {
	t Type
	v any
}

func Uint8(v uint8) Value { return Value{t: TypeUint8, v: v} }
func Uint16(v uint16) Value { return Value{t: TypeUint16, v: v} }
func Uint32(v uint32) Value { return Value{t: TypeUint32, v: v} }
func Uint64(v uint64) Value { return Value{t: TypeUint64, v: v} }
func Int8(v int8) Value { return Value{t: TypeInt8, v: v} }
func Int16(v int16) Value { return Value{t: TypeInt16, v: v} }
func Int32(v int32) Value { return Value{t: TypeInt32, v: v} }
func Int64(v int64) Value { return Value{t: TypeInt64, v: v} }
func String(v string) Value { return Value{t: TypeString, v: v} }
func Float64(v float64) Value { return Value{t: TypeFloat64, v: v} }
func Float32(v float32) Value { return Value{t: TypeFloat32, v: v} }
func Bool(v bool) Value { return Value{t: TypeBool, v: v} }
func Addr(v netip.AddrPort) Value { return Value{t: TypeAddr, v: v} }

func (v Value) Type() Type { return v.t }
func (v Value) Interface() any { return v.v }
func (v Value) Equal(other Value) bool { return v.t == other.t && v.v == other.v }

// IsNull reports whether the value has no payload to serialize.
func (v Value) IsNull() bool {
	if v.t == TypeUnknown || v.v == nil {
		return true
	}
	if addr, ok := v.v.(netip.AddrPort); ok {
		return !addr.IsValid()
	}
	return false
}

func (v Value) String() string {
	if v.IsNull() {
		return "<null>"
	}
	return fmt.Sprintf("%v(%s)", v.v, v.t)
}

func (v Value) encode(w *Writer) {
	switch x := v.v.(type) {
	case uint8:
		w.WriteUint8(x)
	case uint16:
		w.WriteUint16(x)
	case uint32:
		w.WriteUint32(x)
	case uint64:
		w.WriteUint64(x)
	case int8:
		w.WriteInt8(x)
	case int16:
		w.WriteInt16(x)
	case int32:
		w.WriteInt32(x)
	case int64:
		w.WriteInt64(x)
	case string:
		w.WriteString(x)
	case float64:
		w.WriteFloat64(x)
	case float32:
		w.WriteFloat32(x)
	case bool:
		w.WriteBool(x)
	case netip.AddrPort:
		w.WriteAddr(x)
	}
}

func decodeValue(r *Reader, t Type) (Value, error) {
	if r.Len() == 0 {
		return Value{}, ErrTruncated
	}

	var (
		v   any
		err error
	)

	switch t {
	case TypeUint8:
		v, err = r.ReadUint8()
	case TypeUint16:
		v, err = r.ReadUint16()
	case TypeUint32:
		v, err = r.ReadUint32()
	case TypeUint64:
		v, err = r.ReadUint64()
	case TypeInt8:
		v, err = r.ReadInt8()
	case TypeInt16:
		v, err = r.ReadInt16()
	case TypeInt32:
		v, err = r.ReadInt32()
	case TypeInt64:
		v, err = r.ReadInt64()
	case TypeString:
		v, err = r.ReadString()
	case TypeFloat64:
		v, err = r.ReadFloat64()
	case TypeFloat32:
		v, err = r.ReadFloat32()
	case TypeBool:
		v, err = r.ReadBool()
	case TypeAddr:
		v, err = r.ReadAddr()
	default:
		return Value{}, ErrMalformed
	}
	if err != nil {
		return Value{}, err
	}

	return Value{t: t, v: v}, nil
}
