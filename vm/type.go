package vm

// ---------------------------------------------------------------------------
// Script-level types
// ---------------------------------------------------------------------------

// TypeTag identifies the script-level type of a value.
type TypeTag int

const (
	TagVoid TypeTag = iota
	TagBool
	TagInt
	TagCount
	TagCounter
	TagDouble
	TagTime
	TagInterval
	TagEnum
	TagPort
	TagString
	TagPattern
	TagAddr
	TagSubNet
	TagRecord
	TagTable
	TagVector
	TagFile
	TagFunc
	TagList
	TagAny
	TagType
)

var tagNames = map[TypeTag]string{
	TagVoid:     "void",
	TagBool:     "bool",
	TagInt:      "int",
	TagCount:    "count",
	TagCounter:  "counter",
	TagDouble:   "double",
	TagTime:     "time",
	TagInterval: "interval",
	TagEnum:     "enum",
	TagPort:     "port",
	TagString:   "string",
	TagPattern:  "pattern",
	TagAddr:     "addr",
	TagSubNet:   "subnet",
	TagRecord:   "record",
	TagTable:    "table",
	TagVector:   "vector",
	TagFile:     "file",
	TagFunc:     "func",
	TagList:     "list",
	TagAny:      "any",
	TagType:     "type",
}

func (t TypeTag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return "unknown"
}

// InternalTag maps a tag to the representation class used for opcode
// selection: bool and enum are ints, counter and port are counts, time
// and interval are doubles.
func (t TypeTag) InternalTag() TypeTag {
	switch t {
	case TagBool, TagEnum:
		return TagInt
	case TagCounter, TagPort:
		return TagCount
	case TagTime, TagInterval:
		return TagDouble
	default:
		return t
	}
}

// RecordField describes one field of a record type.
type RecordField struct {
	Name string
	T    *Type
}

// Type is a shared, immutable type descriptor.  Instructions carry *Type
// references; neither the optimizer nor the engine ever releases one.
type Type struct {
	Tag TypeTag

	// Yield is the element type for vectors and tables, and the return
	// type for functions.
	Yield *Type

	// Indices are the key types for tables and sets.
	Indices []*Type

	// IsSet marks a table type with no yield.
	IsSet bool

	// Fields are the record fields, in declaration order.
	Fields []RecordField

	// Name is set for named types (records, enums).
	Name string
}

// Base types, interned so descriptor comparisons can use identity.
var (
	TypeVoid     = &Type{Tag: TagVoid}
	TypeBool     = &Type{Tag: TagBool}
	TypeInt      = &Type{Tag: TagInt}
	TypeCount    = &Type{Tag: TagCount}
	TypeCounter  = &Type{Tag: TagCounter}
	TypeDouble   = &Type{Tag: TagDouble}
	TypeTime     = &Type{Tag: TagTime}
	TypeInterval = &Type{Tag: TagInterval}
	TypePort     = &Type{Tag: TagPort}
	TypeString   = &Type{Tag: TagString}
	TypePattern  = &Type{Tag: TagPattern}
	TypeAddr     = &Type{Tag: TagAddr}
	TypeSubNet   = &Type{Tag: TagSubNet}
	TypeAny      = &Type{Tag: TagAny}
)

// BaseType returns the interned descriptor for a primitive tag.
func BaseType(tag TypeTag) *Type {
	switch tag {
	case TagVoid:
		return TypeVoid
	case TagBool:
		return TypeBool
	case TagInt:
		return TypeInt
	case TagCount:
		return TypeCount
	case TagCounter:
		return TypeCounter
	case TagDouble:
		return TypeDouble
	case TagTime:
		return TypeTime
	case TagInterval:
		return TypeInterval
	case TagPort:
		return TypePort
	case TagString:
		return TypeString
	case TagPattern:
		return TypePattern
	case TagAddr:
		return TypeAddr
	case TagSubNet:
		return TypeSubNet
	case TagAny:
		return TypeAny
	default:
		return &Type{Tag: tag}
	}
}

// VectorType builds a vector-of-yield type descriptor.
func VectorType(yield *Type) *Type {
	return &Type{Tag: TagVector, Yield: yield}
}

// TableType builds a table type descriptor.
func TableType(indices []*Type, yield *Type) *Type {
	return &Type{Tag: TagTable, Indices: indices, Yield: yield, IsSet: yield == nil}
}

// SetType builds a set type descriptor.
func SetType(indices []*Type) *Type {
	return TableType(indices, nil)
}

// RecordType builds a record type descriptor.
func RecordType(name string, fields []RecordField) *Type {
	return &Type{Tag: TagRecord, Name: name, Fields: fields}
}

// FuncType builds a function type descriptor.
func FuncType(ret *Type) *Type {
	return &Type{Tag: TagFunc, Yield: ret}
}

// FieldOffset returns the offset of a record field, or -1.
func (t *Type) FieldOffset(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// IsManagedType reports whether values of t own heap storage that the
// engine must release explicitly on reassignment and frame teardown.
func IsManagedType(t *Type) bool {
	if t == nil {
		return false
	}
	switch t.Tag {
	case TagString, TagPattern, TagAddr, TagSubNet, TagRecord, TagTable,
		TagVector, TagFile, TagFunc, TagList, TagAny:
		return true
	default:
		return false
	}
}

// IsAny reports whether t is the "any" type.
func IsAny(t *Type) bool {
	return t != nil && t.Tag == TagAny
}

// SameType reports structural equality of two type descriptors.
func SameType(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case TagVector, TagFunc:
		return SameType(a.Yield, b.Yield)
	case TagTable:
		if len(a.Indices) != len(b.Indices) || !SameType(a.Yield, b.Yield) {
			return false
		}
		for i := range a.Indices {
			if !SameType(a.Indices[i], b.Indices[i]) {
				return false
			}
		}
		return true
	case TagRecord:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name ||
				!SameType(a.Fields[i].T, b.Fields[i].T) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
