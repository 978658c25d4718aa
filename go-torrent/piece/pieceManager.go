package piece

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"

	bitmap "github.com/boljen/go-bitmap"
)

var (
	BLOCK_SIZE = 16384 // 2^14
)

// ErrIntegrity is wrapped by errors about piece content.
var ErrIntegrity = errors.New("piece")

var (
	ErrPieceHashMismatch = fmt.Errorf("%w: hash mismatch", ErrIntegrity)
	ErrUnexpectedBlock   = fmt.Errorf("%w: unexpected block", ErrIntegrity)
	ErrDuplicateBlock    = fmt.Errorf("%w: block already received", ErrIntegrity)
	ErrIncomplete        = fmt.Errorf("%w: piece incomplete", ErrIntegrity)
)

type Block struct {
	Begin  int
	Length int
}

// Blocks splits a piece into BLOCK_SIZE blocks in increasing offset order. The
// last block holds the remainder.
func Blocks(pieceLength int) []Block {
	blocks := make([]Block, 0, (pieceLength+BLOCK_SIZE-1)/BLOCK_SIZE)
	for begin := 0; begin < pieceLength; begin += BLOCK_SIZE {
		length := BLOCK_SIZE
		if begin+length > pieceLength {
			length = pieceLength - begin
		}
		blocks = append(blocks, Block{Begin: begin, Length: length})
	}
	return blocks
}

// Assembly accumulates the blocks of one piece in order.
type Assembly struct {
	Index          int
	ExpectedLength int
	ExpectedHash   [20]byte

	blocks     []Block
	nextBlock  int
	data       []byte
	downloaded bitmap.Bitmap
}

func NewAssembly(pieceIndex, expectedLength int, expectedHash [20]byte) *Assembly {
	blocks := Blocks(expectedLength)
	return &Assembly{
		Index:          pieceIndex,
		ExpectedLength: expectedLength,
		ExpectedHash:   expectedHash,
		blocks:         blocks,
		data:           make([]byte, 0, expectedLength),
		downloaded:     bitmap.New(len(blocks)),
	}
}

func (a *Assembly) NumBlocks() int {
	return len(a.blocks)
}

// NextBlock is the next block to request, or false once every block arrived.
func (a *Assembly) NextBlock() (Block, bool) {
	if a.nextBlock >= len(a.blocks) {
		return Block{}, false
	}
	return a.blocks[a.nextBlock], true
}

func (a *Assembly) NextOffset() int {
	return len(a.data)
}

// Downloaded reports whether the block starting at begin has been written.
func (a *Assembly) Downloaded(begin int) bool {
	if begin%BLOCK_SIZE != 0 || begin/BLOCK_SIZE >= len(a.blocks) {
		return false
	}
	return a.downloaded.Get(begin / BLOCK_SIZE)
}

// Write appends the payload of the next expected block. A block that was
// already received is rejected with ErrDuplicateBlock and changes nothing.
func (a *Assembly) Write(begin int, block []byte) error {
	if a.Downloaded(begin) {
		return fmt.Errorf("%w: piece %d offset %d", ErrDuplicateBlock, a.Index, begin)
	}
	next, ok := a.NextBlock()
	if !ok {
		return fmt.Errorf("%w: piece %d is already complete", ErrUnexpectedBlock, a.Index)
	}
	if begin != next.Begin || len(block) != next.Length {
		return fmt.Errorf("%w: piece %d got %d bytes at %d, want %d bytes at %d",
			ErrUnexpectedBlock, a.Index, len(block), begin, next.Length, next.Begin)
	}
	a.data = append(a.data, block...)
	a.downloaded.Set(a.nextBlock, true)
	a.nextBlock++
	return nil
}

func (a *Assembly) Complete() bool {
	return len(a.data) == a.ExpectedLength
}

// Verify checks the assembled bytes against the expected hash and returns them.
func (a *Assembly) Verify() ([]byte, error) {
	if !a.Complete() {
		return nil, fmt.Errorf("%w: %d of %d bytes", ErrIncomplete, len(a.data), a.ExpectedLength)
	}
	actualChecksum := sha1.Sum(a.data)
	if !bytes.Equal(actualChecksum[:], a.ExpectedHash[:]) {
		return nil, fmt.Errorf("%w: piece %d hashed to %x, want %x",
			ErrPieceHashMismatch, a.Index, actualChecksum, a.ExpectedHash)
	}
	return a.data, nil
}
