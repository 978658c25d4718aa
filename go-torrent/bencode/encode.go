package bencode

import (
	"bytes"
	"strconv"
)

// Encode serializes v. Dictionary keys are written in the order they appear
// in the Dict; use Dict.Sorted for the canonical order.
func Encode(v Value) ([]byte, error) {
	b := &bytes.Buffer{}
	if err := encodeValue(b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func encodeValue(b *bytes.Buffer, v Value) error {
	switch v := v.(type) {
	case String:
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.Write(v)
	case Int:
		b.WriteByte('i')
		b.WriteString(strconv.FormatInt(int64(v), 10))
		b.WriteByte('e')
	case List:
		b.WriteByte('l')
		for _, item := range v {
			if err := encodeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte('e')
	case Dict:
		b.WriteByte('d')
		for _, e := range v {
			if err := encodeValue(b, e.Key); err != nil {
				return err
			}
			if err := encodeValue(b, e.Value); err != nil {
				return err
			}
		}
		b.WriteByte('e')
	default:
		return ErrNilValue
	}
	return nil
}
