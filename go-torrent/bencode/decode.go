package bencode

import (
	"strconv"
)

// Decode decodes exactly one value spanning the whole of data.
func Decode(data []byte) (Value, error) {
	v, n, err := DecodeAt(data, 0)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, syntaxError(n, ErrTrailingData)
	}
	return v, nil
}

// DecodeAt decodes the value starting at offset and reports how many bytes it
// consumed. Bytes after the value are left alone.
func DecodeAt(data []byte, offset int) (Value, int, error) {
	if offset < 0 || offset >= len(data) {
		return nil, 0, syntaxError(offset, ErrTruncatedInput)
	}
	d := &decoder{data: data, pos: offset}
	v, err := d.value()
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos - offset, nil
}

type decoder struct {
	data []byte
	pos  int
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (d *decoder) value() (Value, error) {
	if d.pos >= len(d.data) {
		return nil, syntaxError(d.pos, ErrTruncatedInput)
	}
	switch c := d.data[d.pos]; {
	case isDigit(c):
		return d.byteString()
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dict()
	default:
		return nil, syntaxError(d.pos, ErrUnknownTag)
	}
}

// <len>:<bytes>
func (d *decoder) byteString() (String, error) {
	start := d.pos
	i := start
	for i < len(d.data) && isDigit(d.data[i]) {
		i++
	}
	if i == start || i == len(d.data) || d.data[i] != ':' {
		return nil, syntaxError(start, ErrMalformedLength)
	}
	digits := d.data[start:i]
	if len(digits) > 1 && digits[0] == '0' {
		return nil, syntaxError(start, ErrMalformedLength)
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return nil, syntaxError(start, ErrMalformedLength)
	}
	i++ // ':'
	if n > int64(len(d.data)-i) {
		return nil, syntaxError(start, ErrTruncatedInput)
	}
	s := make(String, n)
	copy(s, d.data[i:i+int(n)])
	d.pos = i + int(n)
	return s, nil
}

// i<digits>e. Leading zeros and -0 are rejected.
func (d *decoder) integer() (Int, error) {
	start := d.pos
	i := start + 1
	digitsStart := i
	if i < len(d.data) && d.data[i] == '-' {
		i++
	}
	firstDigit := i
	for i < len(d.data) && isDigit(d.data[i]) {
		i++
	}
	if i == len(d.data) || d.data[i] != 'e' || i == firstDigit {
		return 0, syntaxError(start, ErrMalformedInteger)
	}
	digits := d.data[digitsStart:i]
	if d.data[firstDigit] == '0' && (i-firstDigit > 1 || firstDigit != digitsStart) {
		return 0, syntaxError(start, ErrMalformedInteger)
	}
	n, err := strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, syntaxError(start, ErrMalformedInteger)
	}
	d.pos = i + 1
	return Int(n), nil
}

func (d *decoder) list() (List, error) {
	d.pos++
	l := List{}
	for {
		if d.pos >= len(d.data) {
			return nil, syntaxError(d.pos, ErrTruncatedInput)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return l, nil
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		l = append(l, v)
	}
}

func (d *decoder) dict() (Dict, error) {
	d.pos++
	dict := Dict{}
	for {
		if d.pos >= len(d.data) {
			return nil, syntaxError(d.pos, ErrTruncatedInput)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return dict, nil
		}
		keyPos := d.pos
		k, err := d.value()
		if err != nil {
			return nil, err
		}
		key, ok := k.(String)
		if !ok {
			return nil, syntaxError(keyPos, ErrNonStringKey)
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		dict = append(dict, Entry{Key: key, Value: v})
	}
}
