package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

type MessageID uint8

const (
	CHOKE          MessageID = 0
	UNCHOKE        MessageID = 1
	INTERESTED     MessageID = 2
	NOT_INTERESTED MessageID = 3
	HAVE           MessageID = 4
	BITFIELD       MessageID = 5
	REQUEST        MessageID = 6
	PIECE          MessageID = 7
	CANCEL         MessageID = 8
)

// Large enough for a 16 KiB block and its header, with room for peers that
// serve bigger blocks or long bitfields.
const MAX_MESSAGE_LENGTH = 1 << 18

func (id MessageID) String() string {
	switch id {
	case CHOKE:
		return "choke"
	case UNCHOKE:
		return "unchoke"
	case INTERESTED:
		return "interested"
	case NOT_INTERESTED:
		return "not interested"
	case HAVE:
		return "have"
	case BITFIELD:
		return "bitfield"
	case REQUEST:
		return "request"
	case PIECE:
		return "piece"
	case CANCEL:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// Message is a length-prefixed peer message. A nil *Message is a keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

func (m *Message) String() string {
	if m == nil {
		return "keep-alive"
	}
	return fmt.Sprintf("%s [%d]", m.ID, len(m.Payload))
}

// Serialize returns <length><id><payload>, or four zero bytes for a keep-alive.
func (m *Message) Serialize() []byte {
	if m == nil {
		return make([]byte, 4)
	}
	b := make([]byte, 4+1+len(m.Payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(1+len(m.Payload)))
	b[4] = byte(m.ID)
	copy(b[5:], m.Payload)
	return b
}

// ReadMessage blocks until one whole frame has been read. Keep-alives are
// returned as a nil message and a nil error.
func ReadMessage(r io.Reader) (*Message, error) {
	lengthBuf := make([]byte, 4)
	n, err := io.ReadFull(r, lengthBuf)
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, readError(err)
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return nil, nil
	}
	if length > MAX_MESSAGE_LENGTH {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, readError(err)
	}
	return &Message{ID: MessageID(frame[0]), Payload: frame[1:]}, nil
}

func NewChoke() *Message         { return &Message{ID: CHOKE} }
func NewUnchoke() *Message       { return &Message{ID: UNCHOKE} }
func NewInterested() *Message    { return &Message{ID: INTERESTED} }
func NewNotInterested() *Message { return &Message{ID: NOT_INTERESTED} }

func NewHave(pieceIndex int) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(pieceIndex))
	return &Message{ID: HAVE, Payload: payload}
}

func NewBitField(bitfield []byte) *Message {
	return &Message{ID: BITFIELD, Payload: bitfield}
}

func NewRequest(pieceIndex, begin, length int) *Message {
	return &Message{ID: REQUEST, Payload: blockPayload(pieceIndex, begin, length)}
}

func NewCancel(pieceIndex, begin, length int) *Message {
	return &Message{ID: CANCEL, Payload: blockPayload(pieceIndex, begin, length)}
}

func NewPiece(pieceIndex, begin int, block []byte) *Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], uint32(pieceIndex))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	copy(payload[8:], block)
	return &Message{ID: PIECE, Payload: payload}
}

func blockPayload(pieceIndex, begin, length int) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(pieceIndex))
	binary.BigEndian.PutUint32(payload[4:8], uint32(begin))
	binary.BigEndian.PutUint32(payload[8:12], uint32(length))
	return payload
}

func (m *Message) expect(id MessageID, minLength, maxLength int) error {
	if m == nil || m.ID != id {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformedPayload, id, m)
	}
	if len(m.Payload) < minLength || (maxLength >= 0 && len(m.Payload) > maxLength) {
		return fmt.Errorf("%w: %s payload of %d bytes", ErrMalformedPayload, id, len(m.Payload))
	}
	return nil
}

func (m *Message) ParseHave() (pieceIndex int, err error) {
	if err := m.expect(HAVE, 4, 4); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// ParseRequest reads the payload of a REQUEST or CANCEL message.
func (m *Message) ParseRequest() (pieceIndex, begin, length int, err error) {
	if m != nil && m.ID == CANCEL {
		err = m.expect(CANCEL, 12, 12)
	} else {
		err = m.expect(REQUEST, 12, 12)
	}
	if err != nil {
		return 0, 0, 0, err
	}
	pieceIndex = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(m.Payload[8:12]))
	return pieceIndex, begin, length, nil
}

func (m *Message) ParsePiece() (pieceIndex, begin int, block []byte, err error) {
	if err := m.expect(PIECE, 8, -1); err != nil {
		return 0, 0, nil, err
	}
	pieceIndex = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	begin = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	return pieceIndex, begin, m.Payload[8:], nil
}
