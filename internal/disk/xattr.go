package disk

const (
	xeValidOff    = 0
	xeTypeOff     = 1
	xeNameLenOff  = 2
	xeValueLenOff = 3
	xeNameOff     = 4
	xeValueOff    = xeNameOff + MaxXattrName
)

// Namespace indices stored in XattrEntry.Type.
const (
	XattrIndexUser    = 1
	XattrIndexTrusted = 2
)

// XattrEntryOffset is the byte offset of slot i inside an xattr block.
func XattrEntryOffset(i int) int {
	return TimestampRegionSize + i*XattrEntrySize
}

type XattrEntry struct {
	Valid bool
	Type  uint8
	Name  string
	Value []byte
}

// EncodeXattrEntry expects Name and Value already checked against the inline capacities.
func EncodeXattrEntry(e *XattrEntry, b []byte) {
	_ = b[XattrEntrySize-1]
	clear(b[:XattrEntrySize])
	if e.Valid {
		b[xeValidOff] = 1
	}
	b[xeTypeOff] = e.Type
	b[xeNameLenOff] = uint8(len(e.Name))
	b[xeValueLenOff] = uint8(len(e.Value))
	copy(b[xeNameOff:xeValueOff], e.Name)
	copy(b[xeValueOff:XattrEntrySize], e.Value)
}

func DecodeXattrEntry(b []byte) *XattrEntry {
	_ = b[XattrEntrySize-1]
	nlen := min(int(b[xeNameLenOff]), MaxXattrName)
	vlen := min(int(b[xeValueLenOff]), MaxXattrValue)
	return &XattrEntry{
		Valid: b[xeValidOff] != 0,
		Type:  b[xeTypeOff],
		Name:  string(b[xeNameOff : xeNameOff+nlen]),
		Value: append([]byte(nil), b[xeValueOff:xeValueOff+vlen]...),
	}
}

// XattrEntryMatches reports whether a slot is valid and holds (index, name).
func XattrEntryMatches(b []byte, index uint8, name string) bool {
	if b[xeValidOff] == 0 || b[xeTypeOff] != index || int(b[xeNameLenOff]) != len(name) {
		return false
	}
	return string(b[xeNameOff:xeNameOff+len(name)]) == name
}

func XattrEntryValid(b []byte) bool {
	return b[xeValidOff] != 0
}

func XattrEntryValueLen(b []byte) int {
	return int(b[xeValueLenOff])
}

func XattrEntryValue(b []byte) []byte {
	return b[xeValueOff : xeValueOff+min(int(b[xeValueLenOff]), MaxXattrValue)]
}

// InvalidateXattrEntry clears the valid flag and leaves the rest of the slot untouched.
func InvalidateXattrEntry(b []byte) {
	b[xeValidOff] = 0
}
