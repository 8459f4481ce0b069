package layout

import "github.com/yoglang/yoggc/object"

// Descriptors of the built-in value classes.
//
// Variable length containers are split in two objects: a fixed-size header
// object and a ValueArray holding the elements, so that the element storage
// can be replaced when it grows.
var (
	// String: {byteLen, bytes...}
	String = NoPointers("String", object.TagString)

	// Bignum: {sign, limbs...}
	Bignum = NoPointers("Bignum", object.TagBignum)

	// ValueArray: {ref...}
	ValueArray = AllPointers("ValueArray", object.TagValueArray)

	// Array: {len, items}
	Array = WithSlots("Array", object.TagArray, 2, 1)

	// Dict: {count, entries} where entries is a ValueArray of key/value pairs.
	Dict = WithSlots("Dict", object.TagDict, 2, 1)

	// Cell: {value}, a captured variable.
	Cell = WithSlots("Cell", object.TagCell, 1, 0)

	// Closure: {code, cells, self}
	Closure = WithSlots("Closure", object.TagClosure, 3, 1, 2)

	// FFIStruct: {handle, size}, a managed wrapper around native memory.
	FFIStruct = NoPointers("FFIStruct", object.TagFFIStruct)

	// Frame: {parent, locals}, a heap allocated frame for coroutines.
	Frame = WithSlots("Frame", object.TagFrame, 2, 0, 1)
)
