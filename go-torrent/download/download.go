package download

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/Charana123/piecefetch/go-torrent/piece"
	"github.com/Charana123/piecefetch/go-torrent/stats"
	"github.com/Charana123/piecefetch/go-torrent/torrent"
	"github.com/Charana123/piecefetch/go-torrent/wire"
)

type State int

const (
	CONNECTING State = iota
	HANDSHAKE_SENT
	AWAITING_BITFIELD
	INTERESTED_SENT
	AWAITING_UNCHOKE
	REQUESTING
	ASSEMBLING
	VERIFIED
	FAILED
)

func (s State) String() string {
	switch s {
	case CONNECTING:
		return "connecting"
	case HANDSHAKE_SENT:
		return "handshake sent"
	case AWAITING_BITFIELD:
		return "awaiting bitfield"
	case INTERESTED_SENT:
		return "interested sent"
	case AWAITING_UNCHOKE:
		return "awaiting unchoke"
	case REQUESTING:
		return "requesting"
	case ASSEMBLING:
		return "assembling"
	case VERIFIED:
		return "verified"
	case FAILED:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	PeerID [20]byte
	// Bounds every single read and write on the peer connection. Zero waits
	// forever.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Downloader fetches and verifies one piece from one peer per call. Calls are
// independent and may run concurrently for different pieces or peers.
type Downloader interface {
	DownloadPiece(ctx context.Context, addr string, pieceIndex int) (piece []byte, err error)
	Download(ctx context.Context, conn net.Conn, pieceIndex int) (piece []byte, err error)
}

// Error reports the peer and the state a download attempt failed in.
type Error struct {
	Peer  string
	Piece int
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("piece %d from %s failed while %s: %v", e.Piece, e.Peer, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	newWire     = wire.NewWire
	dialContext = (&net.Dialer{}).DialContext
)

type downloader struct {
	mi    *torrent.MetaInfo
	stats stats.Stats
	cfg   Config
}

func NewDownloader(
	mi *torrent.MetaInfo,
	st stats.Stats,
	cfg Config) Downloader {

	if st == nil {
		st = stats.NewStats(0, 0, mi.Info.Length)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &downloader{
		mi:    mi,
		stats: st,
		cfg:   cfg,
	}
}

// DownloadPiece checks pieceIndex, then dials addr and runs Download.
func (d *downloader) DownloadPiece(ctx context.Context, addr string, pieceIndex int) ([]byte, error) {
	if _, err := d.mi.PieceSize(pieceIndex); err != nil {
		return nil, &Error{Peer: addr, Piece: pieceIndex, State: CONNECTING, Err: err}
	}
	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{
			Peer:  addr,
			Piece: pieceIndex,
			State: CONNECTING,
			Err:   fmt.Errorf("%w: dial: %v", wire.ErrNetwork, err),
		}
	}
	return d.Download(ctx, conn, pieceIndex)
}

// Download runs the exchange on an open connection and always closes it.
// Cancelling ctx closes the connection, which unblocks any pending read.
func (d *downloader) Download(ctx context.Context, conn net.Conn, pieceIndex int) ([]byte, error) {
	w := newWire(conn, d.cfg.Timeout)
	defer w.Close()
	stop := context.AfterFunc(ctx, func() { w.Close() })
	defer stop()

	pd := &pieceDownload{
		wire:   w,
		mi:     d.mi,
		stats:  d.stats,
		peerID: d.cfg.PeerID,
		index:  pieceIndex,
		peer:   conn.RemoteAddr().String(),
		state:  CONNECTING,
	}
	pd.log = d.cfg.Logger.With("peer", pd.peer, "piece", pieceIndex)

	data, err := pd.run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, pd.fail(err)
	}
	return data, nil
}

type pieceDownload struct {
	wire         wire.Wire
	mi           *torrent.MetaInfo
	stats        stats.Stats
	peerID       [20]byte
	index        int
	peer         string
	state        State
	asm          *piece.Assembly
	peerBitfield []byte
	log          *slog.Logger
}

func (pd *pieceDownload) transition(state State) {
	pd.log.Debug("state change", "from", pd.state, "to", state)
	pd.state = state
}

func (pd *pieceDownload) fail(err error) error {
	failed := &Error{Peer: pd.peer, Piece: pd.index, State: pd.state, Err: err}
	pd.log.Warn("piece download failed", "state", pd.state, "err", err)
	pd.state = FAILED
	return failed
}

// readMessage returns the next message that is not a keep-alive.
func (pd *pieceDownload) readMessage() (*wire.Message, error) {
	for {
		msg, err := pd.wire.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (pd *pieceDownload) run() ([]byte, error) {
	size, err := pd.mi.PieceSize(pd.index)
	if err != nil {
		return nil, err
	}
	hash, err := pd.mi.PieceHash(pd.index)
	if err != nil {
		return nil, err
	}

	remote, err := wire.Exchange(pd.wire, pd.mi.InfoHash, pd.peerID)
	if err != nil {
		return nil, err
	}
	pd.transition(HANDSHAKE_SENT)
	pd.log.Debug("handshake complete", "peer_id", hex.EncodeToString(remote.PeerID[:]))

	// The first message is normally the bitfield. Anything else is let through.
	msg, err := pd.readMessage()
	if err != nil {
		return nil, err
	}
	if msg.ID == wire.BITFIELD {
		pd.peerBitfield = msg.Payload
		if !advertises(pd.peerBitfield, pd.index) {
			pd.log.Warn("peer bitfield does not advertise piece, requesting anyway")
		}
	} else {
		pd.log.Debug("expected bitfield", "got", msg)
	}
	pd.transition(AWAITING_BITFIELD)

	if err := pd.wire.SendInterested(); err != nil {
		return nil, err
	}
	pd.transition(INTERESTED_SENT)

	for {
		msg, err := pd.readMessage()
		if err != nil {
			return nil, err
		}
		if msg.ID == wire.UNCHOKE {
			break
		}
		pd.log.Debug("waiting for unchoke", "got", msg)
	}
	pd.transition(AWAITING_UNCHOKE)

	pd.asm = piece.NewAssembly(pd.index, int(size), hash)
	for {
		block, ok := pd.asm.NextBlock()
		if !ok {
			break
		}
		pd.transition(REQUESTING)
		if err := pd.wire.SendRequest(pd.index, block.Begin, block.Length); err != nil {
			return nil, err
		}
		pd.transition(ASSEMBLING)
		if err := pd.awaitBlock(block); err != nil {
			return nil, err
		}
	}

	data, err := pd.asm.Verify()
	if err != nil {
		return nil, err
	}
	pd.transition(VERIFIED)
	pd.stats.PieceVerified(size)
	pd.log.Info("piece verified", "length", size)
	return data, nil
}

// awaitBlock reads until the PIECE message answering block arrives.
func (pd *pieceDownload) awaitBlock(block piece.Block) error {
	for {
		msg, err := pd.readMessage()
		if err != nil {
			return err
		}
		if msg.ID != wire.PIECE {
			pd.log.Debug("ignoring message while waiting for block", "begin", block.Begin, "got", msg)
			continue
		}
		pieceIndex, begin, data, err := msg.ParsePiece()
		if err != nil {
			return err
		}
		if pieceIndex != pd.index {
			pd.log.Debug("ignoring block of another piece", "index", pieceIndex, "begin", begin)
			continue
		}
		if err := pd.asm.Write(begin, data); err != nil {
			if errors.Is(err, piece.ErrDuplicateBlock) {
				pd.log.Debug("ignoring duplicate block", "begin", begin)
				continue
			}
			if begin != block.Begin {
				pd.log.Debug("ignoring unrequested block", "begin", begin)
				continue
			}
			return err
		}
		pd.stats.UpdatePeer(pd.peer, 0, len(data))
		pd.log.Debug("block received", "begin", begin, "length", len(data))
		return nil
	}
}

// Bitfields are high bit first: piece 0 is the top bit of byte 0. Only used
// for diagnostics; requests are not gated on it.
func advertises(bitfield []byte, pieceIndex int) bool {
	if pieceIndex/8 >= len(bitfield) {
		return false
	}
	return bitfield[pieceIndex/8]&(0x80>>uint(pieceIndex%8)) != 0
}
