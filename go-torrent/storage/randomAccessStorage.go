package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/Charana123/piecefetch/go-torrent/torrent"
	"github.com/spf13/afero"
)

// Single file mode: piece i lives at offset i*PieceLength.
type randomAccessStorage struct {
	mi       *torrent.MetaInfo
	file     afero.File
	fileLock sync.Mutex
}

func NewRandomAccessStorage(
	fs afero.Fs,
	mi *torrent.MetaInfo,
	path string) (Storage, error) {

	file, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := file.Truncate(mi.Info.Length); err != nil {
		file.Close()
		return nil, err
	}
	return &randomAccessStorage{
		mi:   mi,
		file: file,
	}, nil
}

func (s *randomAccessStorage) WritePiece(pieceIndex int, data []byte) error {
	size, err := s.mi.PieceSize(pieceIndex)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("piece %d is %d bytes, want %d", pieceIndex, len(data), size)
	}
	offset := int64(pieceIndex) * s.mi.Info.PieceLength

	s.fileLock.Lock()
	defer s.fileLock.Unlock()
	_, err = s.file.WriteAt(data, offset)
	return err
}

func (s *randomAccessStorage) Close() error {
	s.fileLock.Lock()
	defer s.fileLock.Unlock()
	return s.file.Close()
}
