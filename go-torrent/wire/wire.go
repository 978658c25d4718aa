package wire

import (
	"net"
	"time"
)

type Wire interface {
	// Reading
	ReadHandshake() (*Handshake, error)
	ReadMessage() (*Message, error)

	// Writing
	SendHandshake(h *Handshake) error
	SendMessage(m *Message) error
	SendKeepAlive() error
	SendInterested() error
	SendNotInterested() error
	SendHave(pieceIndex int) error
	SendBitField(bitfield []byte) error
	SendRequest(pieceIndex, begin, length int) error
	SendCancel(pieceIndex, begin, length int) error

	// Other
	GetLastMessageSent() (lastMessageSent time.Time)
	RemoteAddr() string
	Close() error
}

type wire struct {
	conn            net.Conn
	timeoutDuration time.Duration
	lastMessageSent time.Time
}

// NewWire wraps conn. A zero timeoutDuration disables read and write deadlines.
func NewWire(
	conn net.Conn,
	timeoutDuration time.Duration) Wire {

	return &wire{
		conn:            conn,
		timeoutDuration: timeoutDuration,
	}
}

func (w *wire) GetLastMessageSent() time.Time {
	return w.lastMessageSent
}

func (w *wire) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

func (w *wire) Close() error {
	return w.conn.Close()
}

func (w *wire) ReadHandshake() (*Handshake, error) {
	if err := w.armReadDeadline(); err != nil {
		return nil, err
	}
	return ReadHandshake(w.conn)
}

func (w *wire) ReadMessage() (*Message, error) {
	if err := w.armReadDeadline(); err != nil {
		return nil, err
	}
	return ReadMessage(w.conn)
}

func (w *wire) SendHandshake(h *Handshake) error {
	return w.send(h.Serialize())
}

func (w *wire) SendMessage(m *Message) error {
	return w.send(m.Serialize())
}

func (w *wire) SendKeepAlive() error {
	return w.SendMessage(nil)
}

func (w *wire) SendInterested() error {
	return w.SendMessage(NewInterested())
}

func (w *wire) SendNotInterested() error {
	return w.SendMessage(NewNotInterested())
}

func (w *wire) SendHave(pieceIndex int) error {
	return w.SendMessage(NewHave(pieceIndex))
}

func (w *wire) SendBitField(bitfield []byte) error {
	return w.SendMessage(NewBitField(bitfield))
}

func (w *wire) SendRequest(pieceIndex, begin, length int) error {
	return w.SendMessage(NewRequest(pieceIndex, begin, length))
}

func (w *wire) SendCancel(pieceIndex, begin, length int) error {
	return w.SendMessage(NewCancel(pieceIndex, begin, length))
}

func (w *wire) armReadDeadline() error {
	if w.timeoutDuration > 0 {
		if err := w.conn.SetReadDeadline(time.Now().Add(w.timeoutDuration)); err != nil {
			return readError(err)
		}
	}
	return nil
}

func (w *wire) send(msg []byte) error {
	w.lastMessageSent = time.Now()
	if w.timeoutDuration > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeoutDuration)); err != nil {
			return writeError(err)
		}
	}
	if _, err := w.conn.Write(msg); err != nil {
		return writeError(err)
	}
	return nil
}
