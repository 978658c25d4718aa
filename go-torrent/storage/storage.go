package storage

import (
	"fmt"

	"github.com/Charana123/piecefetch/go-torrent/torrent"
	"github.com/spf13/afero"
)

type Storage interface {
	WritePiece(pieceIndex int, data []byte) (err error)
	Close() (err error)
}

// LoadTorrent reads and parses a torrent file.
func LoadTorrent(fs afero.Fs, path string) (*torrent.MetaInfo, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read torrent %s: %w", path, err)
	}
	mi, err := torrent.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse torrent %s: %w", path, err)
	}
	return mi, nil
}

// WritePieceFile stores a single verified piece on its own.
func WritePieceFile(fs afero.Fs, path string, data []byte) error {
	return afero.WriteFile(fs, path, data, 0644)
}
