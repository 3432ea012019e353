// Package json allows for different implementations of JSON serializing. The
// voice gateway codec and command encoders go through the Default driver so
// that a faster implementation can be swapped in.
package json

import (
	"bytes"
	"encoding/json"
	"io"
)

// Driver is the set of JSON operations that the websocket codec needs.
type Driver interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error

	DecodeStream(r io.Reader, v any) error
	EncodeStream(w io.Writer, v any) error
}

// DefaultDriver is the Driver backed by encoding/json.
type DefaultDriver struct{}

func (d DefaultDriver) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (d DefaultDriver) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (d DefaultDriver) DecodeStream(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

// EncodeStream encodes v into w. The trailing newline that json.Encoder emits
// is stripped, since every frame must be a single newline-free object.
func (d DefaultDriver) EncodeStream(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(bytes.TrimRight(b, "\n"))
	return err
}

// Default is the default JSON driver, which uses encoding/json.
var Default Driver = DefaultDriver{}

// Marshal uses the default driver.
func Marshal(v any) ([]byte, error) {
	return Default.Marshal(v)
}

// Unmarshal uses the default driver.
func Unmarshal(data []byte, v any) error {
	return Default.Unmarshal(data, v)
}

// DecodeStream uses the default driver.
func DecodeStream(r io.Reader, v any) error {
	return Default.DecodeStream(r, v)
}

// EncodeStream uses the default driver.
func EncodeStream(w io.Writer, v any) error {
	return Default.EncodeStream(w, v)
}
