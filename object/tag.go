package object

// Tag identifies the runtime class of a heap object.
type Tag uint8

const (
	TagRaw Tag = iota
	TagString
	TagArray
	TagValueArray
	TagDict
	TagBignum
	TagClosure
	TagCell
	TagFrame
	TagFFIStruct
	TagInstance
)

var tagNames = [...]string{
	TagRaw:        "Raw",
	TagString:     "String",
	TagArray:      "Array",
	TagValueArray: "ValueArray",
	TagDict:       "Dict",
	TagBignum:     "Bignum",
	TagClosure:    "Closure",
	TagCell:       "Cell",
	TagFrame:      "Frame",
	TagFFIStruct:  "FFIStruct",
	TagInstance:   "Instance",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return "!err"
}
