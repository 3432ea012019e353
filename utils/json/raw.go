package json

// Raw is a raw encoded JSON value. It is used to delay decoding the "d" field
// of a frame until its opcode is known.
type Raw []byte

// Null is the raw JSON null value.
var Null = Raw("null")

// MarshalJSON returns m as the JSON encoding of m.
func (m Raw) MarshalJSON() ([]byte, error) {
	if m == nil {
		return Null, nil
	}
	return m, nil
}

// UnmarshalJSON copies data into m, reusing m's backing array.
func (m *Raw) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}

// UnmarshalTo decodes the raw value into v using the default driver.
func (m Raw) UnmarshalTo(v any) error {
	if len(m) == 0 {
		m = Null
	}
	return Unmarshal(m, v)
}

// IsNull returns true if the raw value is empty or a literal null.
func (m Raw) IsNull() bool {
	return len(m) == 0 || string(m) == "null"
}

func (m Raw) String() string {
	return string(m)
}
