package torrent

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"

	"github.com/Charana123/piecefetch/go-torrent/bencode"
	jbencode "github.com/jackpal/bencode-go"
)

const (
	PIECE_HASH_LENGTH = 20
)

// ErrModel is wrapped by every error produced while projecting a decoded
// torrent onto MetaInfo.
var ErrModel = errors.New("torrent")

var (
	ErrMissingField = fmt.Errorf("%w: missing field", ErrModel)
	ErrTypeMismatch = fmt.Errorf("%w: wrong field type", ErrModel)
	ErrInvalidField = fmt.Errorf("%w: invalid field", ErrModel)
	ErrPieceIndex   = fmt.Errorf("%w: piece index out of range", ErrModel)
)

type MetaInfo struct {
	Announce string
	Info     Info
	// SHA-1 of the info dictionary exactly as it was decoded.
	InfoHash [20]byte

	AnnounceList [][]string
	CreationDate int64 // in seconds since epoch
	Comment      string
	CreatedBy    string
}

// Single file mode only.
type Info struct {
	Name        string
	Length      int64 // total content length in bytes
	PieceLength int64 // bytes per piece, except possibly the last
	Pieces      []byte // concatenated 20-byte SHA-1 hashes, one per piece
}

// Optional descriptive keys, decoded leniently.
type extras struct {
	AnnounceList [][]string `bencode:"announce-list"`
	CreationDate int64      `bencode:"creation date"`
	Comment      string     `bencode:"comment"`
	CreatedBy    string     `bencode:"created by"`
}

func Parse(data []byte) (*MetaInfo, error) {
	v, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode torrent: %w", err)
	}
	root, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: metainfo is not a dictionary", ErrTypeMismatch)
	}

	mi := &MetaInfo{}
	if mi.Announce, err = stringField(root, "announce", "announce"); err != nil {
		return nil, err
	}
	infoDict, err := dictField(root, "info", "info")
	if err != nil {
		return nil, err
	}
	if mi.Info.Name, err = stringField(infoDict, "name", "info.name"); err != nil {
		return nil, err
	}
	if mi.Info.Length, err = intField(infoDict, "length", "info.length"); err != nil {
		return nil, err
	}
	if mi.Info.PieceLength, err = intField(infoDict, "piece length", "info.piece length"); err != nil {
		return nil, err
	}
	pieces, err := bytesField(infoDict, "pieces", "info.pieces")
	if err != nil {
		return nil, err
	}
	mi.Info.Pieces = pieces
	if err := mi.Info.validate(); err != nil {
		return nil, err
	}

	// Re-encode the dictionary we decoded, not the typed projection, so that
	// keys this model does not know about still contribute to the hash.
	infoBencode, err := bencode.Encode(infoDict)
	if err != nil {
		return nil, err
	}
	mi.InfoHash = sha1.Sum(infoBencode)

	mi.setExtras(root)
	return mi, nil
}

// setExtras fills the optional fields one key at a time. A key whose value
// does not have the expected shape is skipped; jbencode panics on some
// mismatches, e.g. an integer where a string is expected.
func (mi *MetaInfo) setExtras(root bencode.Dict) {
	for _, key := range []string{"announce-list", "creation date", "comment", "created by"} {
		v, ok := root.Get(key)
		if !ok || !extraFits(key, v) {
			continue
		}
		single, err := bencode.Encode(bencode.Dict{{Key: bencode.String(key), Value: v}})
		if err != nil {
			continue
		}
		ex := extras{}
		if err := jbencode.Unmarshal(bytes.NewReader(single), &ex); err != nil {
			continue
		}
		switch key {
		case "announce-list":
			mi.AnnounceList = ex.AnnounceList
		case "creation date":
			mi.CreationDate = ex.CreationDate
		case "comment":
			mi.Comment = ex.Comment
		case "created by":
			mi.CreatedBy = ex.CreatedBy
		}
	}
}

func (info *Info) validate() error {
	if info.Length <= 0 {
		return fmt.Errorf("%w: info.length %d", ErrInvalidField, info.Length)
	}
	if info.PieceLength <= 0 {
		return fmt.Errorf("%w: info.piece length %d", ErrInvalidField, info.PieceLength)
	}
	if len(info.Pieces)%PIECE_HASH_LENGTH != 0 {
		return fmt.Errorf("%w: info.pieces length %d is not a multiple of %d",
			ErrInvalidField, len(info.Pieces), PIECE_HASH_LENGTH)
	}
	numPieces := int64(len(info.Pieces) / PIECE_HASH_LENGTH)
	expected := (info.Length + info.PieceLength - 1) / info.PieceLength
	if numPieces != expected {
		return fmt.Errorf("%w: %d piece hashes for %d pieces", ErrInvalidField, numPieces, expected)
	}
	return nil
}

// Dict returns the canonical info dictionary, keys in sorted order.
func (info *Info) Dict() bencode.Dict {
	d := bencode.Dict{}
	d.Set("length", bencode.Int(info.Length))
	d.Set("name", bencode.String(info.Name))
	d.Set("piece length", bencode.Int(info.PieceLength))
	d.Set("pieces", bencode.String(info.Pieces))
	return d.Sorted()
}

// Hash is the InfoHash of the canonical encoding of info. For a parsed torrent
// use MetaInfo.InfoHash, which hashes the dictionary as it was read.
func (info *Info) Hash() ([20]byte, error) {
	b, err := bencode.Encode(info.Dict())
	if err != nil {
		return [20]byte{}, err
	}
	return sha1.Sum(b), nil
}

func (mi *MetaInfo) NumPieces() int {
	return len(mi.Info.Pieces) / PIECE_HASH_LENGTH
}

func (mi *MetaInfo) PieceHash(pieceIndex int) ([20]byte, error) {
	var hash [20]byte
	if pieceIndex < 0 || pieceIndex >= mi.NumPieces() {
		return hash, fmt.Errorf("%w: %d of %d", ErrPieceIndex, pieceIndex, mi.NumPieces())
	}
	copy(hash[:], mi.Info.Pieces[pieceIndex*PIECE_HASH_LENGTH:(pieceIndex+1)*PIECE_HASH_LENGTH])
	return hash, nil
}

func (mi *MetaInfo) PieceHashes() [][20]byte {
	hashes := make([][20]byte, mi.NumPieces())
	for i := range hashes {
		copy(hashes[i][:], mi.Info.Pieces[i*PIECE_HASH_LENGTH:])
	}
	return hashes
}

// PieceSize is PieceLength for every piece but the last, which holds the
// remainder of the content.
func (mi *MetaInfo) PieceSize(pieceIndex int) (int64, error) {
	if pieceIndex < 0 || pieceIndex >= mi.NumPieces() {
		return 0, fmt.Errorf("%w: %d of %d", ErrPieceIndex, pieceIndex, mi.NumPieces())
	}
	if pieceIndex == mi.NumPieces()-1 {
		if rem := mi.Info.Length % mi.Info.PieceLength; rem != 0 {
			return rem, nil
		}
	}
	return mi.Info.PieceLength, nil
}

// Build creates a single file torrent describing content and returns it
// together with its serialized form.
func Build(announce, name string, pieceLength int64, content []byte) (*MetaInfo, []byte, error) {
	if pieceLength <= 0 {
		return nil, nil, fmt.Errorf("%w: piece length %d", ErrInvalidField, pieceLength)
	}
	pieces := &bytes.Buffer{}
	for begin := int64(0); begin < int64(len(content)); begin += pieceLength {
		end := begin + pieceLength
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		sum := sha1.Sum(content[begin:end])
		pieces.Write(sum[:])
	}
	info := &Info{
		Name:        name,
		Length:      int64(len(content)),
		PieceLength: pieceLength,
		Pieces:      pieces.Bytes(),
	}
	root := bencode.Dict{}
	root.Set("announce", bencode.String(announce))
	root.Set("info", info.Dict())
	data, err := bencode.Encode(root.Sorted())
	if err != nil {
		return nil, nil, err
	}
	mi, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return mi, data, nil
}

func extraFits(key string, v bencode.Value) bool {
	switch key {
	case "announce-list":
		tiers, ok := v.(bencode.List)
		if !ok {
			return false
		}
		for _, tier := range tiers {
			urls, ok := tier.(bencode.List)
			if !ok {
				return false
			}
			for _, u := range urls {
				if _, ok := u.(bencode.String); !ok {
					return false
				}
			}
		}
		return true
	case "creation date":
		_, ok := v.(bencode.Int)
		return ok
	default:
		_, ok := v.(bencode.String)
		return ok
	}
}

func lookup(d bencode.Dict, key, path string) (bencode.Value, error) {
	v, ok := d.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingField, path)
	}
	return v, nil
}

func stringField(d bencode.Dict, key, path string) (string, error) {
	b, err := bytesField(d, key, path)
	return string(b), err
}

func bytesField(d bencode.Dict, key, path string) ([]byte, error) {
	v, err := lookup(d, key, path)
	if err != nil {
		return nil, err
	}
	s, ok := v.(bencode.String)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a string, got %T", ErrTypeMismatch, path, v)
	}
	return []byte(s), nil
}

func intField(d bencode.Dict, key, path string) (int64, error) {
	v, err := lookup(d, key, path)
	if err != nil {
		return 0, err
	}
	i, ok := v.(bencode.Int)
	if !ok {
		return 0, fmt.Errorf("%w: %q must be an integer, got %T", ErrTypeMismatch, path, v)
	}
	return int64(i), nil
}

func dictField(d bencode.Dict, key, path string) (bencode.Dict, error) {
	v, err := lookup(d, key, path)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(bencode.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a dictionary, got %T", ErrTypeMismatch, path, v)
	}
	return dict, nil
}
