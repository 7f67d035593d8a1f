// Pod is the structured payload format carried inside every wire frame
// (§4.6): a tag-length-value encoding so a reader can skip any value it does
// not recognize by its declared length rather than needing to understand
// its body. STRUCT and OBJECT nest further pods; OBJECT additionally carries
// a type id and a property list of (key id, value) pairs.
package native

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies a pod value's wire type. The full enumeration from §6 is
// declared for completeness; this core only ever encodes/decodes the subset
// a simplified media-graph control protocol needs (None, Bool, ID, Int,
// Long, Float, Double, String, Bytes, Struct, Object, Fd). Rectangle,
// Fraction, Bitmap, Array, Sequence, Pointer, Choice and nested Pod are
// reserved tags with no encoder in this core: no message defined in
// opcodes.go/messages.go ever needs them.
type Tag byte

const (
	TagNone Tag = iota
	TagBool
	TagID
	TagInt
	TagLong
	TagFloat
	TagDouble
	TagString
	TagBytes
	TagRectangle
	TagFraction
	TagBitmap
	TagArray
	TagStruct
	TagObject
	TagSequence
	TagPointer
	TagFd
	TagChoice
	TagPod
)

// Value is one decoded pod. Exactly one of the typed fields is meaningful,
// selected by Tag.
type Value struct {
	Tag    Tag
	Bool   bool
	ID     uint32
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Str    string
	Bytes  []byte
	// FdIndex is the small integer a peer uses to refer to a file
	// descriptor carried out-of-band via SCM_RIGHTS (§4.6); resolving it to
	// an actual fd is the caller's job, using the Frame.FDs it arrived with.
	FdIndex uint32
	Struct  []Value
	Object  Object
}

// Object is a typed, keyed property bag (§6: "OBJECT carries a type ID and a
// sequence of property entries (key-id, value-pod)").
type Object struct {
	TypeID uint32
	Props  []Property
}

// Property is one (key-id, value) entry of an Object.
type Property struct {
	Key   uint32
	Value Value
}

func Bool(v bool) Value       { return Value{Tag: TagBool, Bool: v} }
func ID(v uint32) Value       { return Value{Tag: TagID, ID: v} }
func Int(v int32) Value       { return Value{Tag: TagInt, Int: v} }
func Long(v int64) Value      { return Value{Tag: TagLong, Long: v} }
func String(v string) Value   { return Value{Tag: TagString, Str: v} }
func Bytes(v []byte) Value    { return Value{Tag: TagBytes, Bytes: v} }
func Fd(index uint32) Value   { return Value{Tag: TagFd, FdIndex: index} }
func Struct(vs ...Value) Value {
	return Value{Tag: TagStruct, Struct: vs}
}
func ObjectValue(o Object) Value { return Value{Tag: TagObject, Object: o} }

// Marshal encodes v as tag(1) + length(u32 LE, body length in bytes) + body,
// appending to dst and returning the extended slice.
func Marshal(dst []byte, v Value) []byte {
	dst = append(dst, byte(v.Tag))
	lenPos := len(dst)
	dst = append(dst, 0, 0, 0, 0) // length placeholder
	bodyStart := len(dst)
	dst = marshalBody(dst, v)
	binary.LittleEndian.PutUint32(dst[lenPos:], uint32(len(dst)-bodyStart))
	return dst
}

func marshalBody(dst []byte, v Value) []byte {
	switch v.Tag {
	case TagNone:
		return dst
	case TagBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return append(dst, b)
	case TagID:
		return appendU32(dst, v.ID)
	case TagInt:
		return appendU32(dst, uint32(v.Int))
	case TagLong:
		return appendU64(dst, uint64(v.Long))
	case TagFloat:
		return appendU32(dst, math.Float32bits(v.Float))
	case TagDouble:
		return appendU64(dst, math.Float64bits(v.Double))
	case TagString:
		return append(dst, []byte(v.Str)...)
	case TagBytes:
		return append(dst, v.Bytes...)
	case TagFd:
		return appendU32(dst, v.FdIndex)
	case TagStruct:
		dst = appendU32(dst, uint32(len(v.Struct)))
		for _, child := range v.Struct {
			dst = Marshal(dst, child)
		}
		return dst
	case TagObject:
		dst = appendU32(dst, v.Object.TypeID)
		dst = appendU32(dst, uint32(len(v.Object.Props)))
		for _, p := range v.Object.Props {
			dst = appendU32(dst, p.Key)
			dst = Marshal(dst, p.Value)
		}
		return dst
	default:
		// Reserved/unsupported tag: encode as an empty body. A peer that
		// understands it would decode garbage, but nothing in this core
		// ever constructs one.
		return dst
	}
}

// Unmarshal decodes one Value from the front of src, returning it and the
// number of bytes consumed.
func Unmarshal(src []byte) (Value, int, error) {
	if len(src) < 5 {
		return Value{}, 0, fmt.Errorf("pod: short header (%d bytes)", len(src))
	}
	tag := Tag(src[0])
	length := binary.LittleEndian.Uint32(src[1:5])
	if uint64(len(src)-5) < uint64(length) {
		return Value{}, 0, fmt.Errorf("pod: body truncated: want %d have %d", length, len(src)-5)
	}
	body := src[5 : 5+length]
	v, err := unmarshalBody(tag, body)
	if err != nil {
		return Value{}, 0, err
	}
	return v, 5 + int(length), nil
}

func unmarshalBody(tag Tag, body []byte) (Value, error) {
	switch tag {
	case TagNone:
		return Value{Tag: TagNone}, nil
	case TagBool:
		if len(body) < 1 {
			return Value{}, fmt.Errorf("pod: bool: short body")
		}
		return Value{Tag: TagBool, Bool: body[0] != 0}, nil
	case TagID:
		u, err := readU32(body)
		return Value{Tag: TagID, ID: u}, err
	case TagInt:
		u, err := readU32(body)
		return Value{Tag: TagInt, Int: int32(u)}, err
	case TagLong:
		u, err := readU64(body)
		return Value{Tag: TagLong, Long: int64(u)}, err
	case TagFloat:
		u, err := readU32(body)
		return Value{Tag: TagFloat, Float: math.Float32frombits(u)}, err
	case TagDouble:
		u, err := readU64(body)
		return Value{Tag: TagDouble, Double: math.Float64frombits(u)}, err
	case TagString:
		return Value{Tag: TagString, Str: string(body)}, nil
	case TagBytes:
		cp := append([]byte(nil), body...)
		return Value{Tag: TagBytes, Bytes: cp}, nil
	case TagFd:
		u, err := readU32(body)
		return Value{Tag: TagFd, FdIndex: u}, err
	case TagStruct:
		if len(body) < 4 {
			return Value{}, fmt.Errorf("pod: struct: short body")
		}
		count := binary.LittleEndian.Uint32(body[:4])
		rest := body[4:]
		children := make([]Value, 0, count)
		for i := uint32(0); i < count; i++ {
			child, n, err := Unmarshal(rest)
			if err != nil {
				return Value{}, fmt.Errorf("pod: struct[%d]: %w", i, err)
			}
			children = append(children, child)
			rest = rest[n:]
		}
		return Value{Tag: TagStruct, Struct: children}, nil
	case TagObject:
		if len(body) < 8 {
			return Value{}, fmt.Errorf("pod: object: short body")
		}
		typeID := binary.LittleEndian.Uint32(body[:4])
		count := binary.LittleEndian.Uint32(body[4:8])
		rest := body[8:]
		props := make([]Property, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(rest) < 4 {
				return Value{}, fmt.Errorf("pod: object prop[%d]: short key", i)
			}
			key := binary.LittleEndian.Uint32(rest[:4])
			rest = rest[4:]
			val, n, err := Unmarshal(rest)
			if err != nil {
				return Value{}, fmt.Errorf("pod: object prop[%d]: %w", i, err)
			}
			props = append(props, Property{Key: key, Value: val})
			rest = rest[n:]
		}
		return Value{Tag: TagObject, Object: Object{TypeID: typeID, Props: props}}, nil
	default:
		return Value{Tag: tag}, nil
	}
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func readU32(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, fmt.Errorf("pod: short u32 body")
	}
	return binary.LittleEndian.Uint32(body), nil
}

func readU64(body []byte) (uint64, error) {
	if len(body) < 8 {
		return 0, fmt.Errorf("pod: short u64 body")
	}
	return binary.LittleEndian.Uint64(body), nil
}

// PropsToObject encodes a string-keyed property map as an Object whose keys
// are interned through idOf (typically Core.Types.ID), matching how the
// original remaps embedded property-key ids across connections (§3/§4.6).
func PropsToObject(typeID uint32, props map[string]string, idOf func(string) uint32) Value {
	obj := Object{TypeID: typeID}
	for k, v := range props {
		obj.Props = append(obj.Props, Property{Key: idOf(k), Value: String(v)})
	}
	return ObjectValue(obj)
}

// ObjectToProps is the inverse of PropsToObject, resolving each property key
// id back to its URI via uriOf (typically Core.Types.URI) and dropping any
// entry whose key or value isn't a recognized string property.
func ObjectToProps(v Value, uriOf func(uint32) (string, bool)) map[string]string {
	out := make(map[string]string)
	if v.Tag != TagObject {
		return out
	}
	for _, p := range v.Object.Props {
		if p.Value.Tag != TagString {
			continue
		}
		uri, ok := uriOf(p.Key)
		if !ok {
			continue
		}
		out[uri] = p.Value.Str
	}
	return out
}
