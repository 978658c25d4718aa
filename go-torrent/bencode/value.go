package bencode

import (
	"bytes"
	"sort"
)

// Value is one of String, Int, List or Dict.
type Value interface {
	bencodeValue()
}

type String []byte

type Int int64

type List []Value

// Dict keeps its entries in the order they were decoded or inserted.
type Dict []Entry

type Entry struct {
	Key   String
	Value Value
}

func (String) bencodeValue() {}
func (Int) bencodeValue()    {}
func (List) bencodeValue()   {}
func (Dict) bencodeValue()   {}

func (s String) String() string {
	return string(s)
}

// Get returns the value of the first entry with the given key.
func (d Dict) Get(key string) (Value, bool) {
	for _, e := range d {
		if string(e.Key) == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing key in place, or appends a new entry.
func (d *Dict) Set(key string, v Value) {
	for i, e := range *d {
		if string(e.Key) == key {
			(*d)[i].Value = v
			return
		}
	}
	*d = append(*d, Entry{Key: String(key), Value: v})
}

func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for _, e := range d {
		keys = append(keys, string(e.Key))
	}
	return keys
}

// Sorted returns a copy of d with keys in byte-wise order.
func (d Dict) Sorted() Dict {
	sorted := make(Dict, len(d))
	copy(sorted, d)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	return sorted
}
