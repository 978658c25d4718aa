package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Charana123/piecefetch/go-torrent/bencode"
	"github.com/Charana123/piecefetch/go-torrent/torrent"
	"github.com/Charana123/piecefetch/go-torrent/wire"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	err := run(context.Background(), args, stdout, stderr)
	return stdout.String(), err
}

func TestDecode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"5:hello", `"hello"`},
		{"i-52e", `-52`},
		{"l5:helloi52ee", `["hello",52]`},
		{"d3:foo3:bar5:helloi52ee", `{"foo":"bar","hello":52}`},
		{"le", `[]`},
		{"de", `{}`},
	}
	for _, tt := range tests {
		out, err := runCommand(t, "decode", tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want+"\n", out, tt.input)
	}

	_, err := runCommand(t, "decode", "5:hi")
	assert.ErrorIs(t, err, bencode.ErrTruncatedInput)
}

func withMemFs(t *testing.T) afero.Fs {
	prev := appFs
	appFs = afero.NewMemMapFs()
	t.Cleanup(func() { appFs = prev })
	return appFs
}

func TestInfo(t *testing.T) {
	fs := withMemFs(t)
	content := bytes.Repeat([]byte("abcdefgh"), 5)
	mi, data, err := torrent.Build("http://tracker.example/announce", "sample.txt", 16, content)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "sample.torrent", data, 0644))

	out, err := runCommand(t, "info", "sample.torrent")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "Tracker URL: http://tracker.example/announce", lines[0])
	assert.Equal(t, "Length: 40", lines[1])
	assert.Equal(t, fmt.Sprintf("Info Hash: %x", mi.InfoHash), lines[2])
	assert.Equal(t, "Piece Length: 16", lines[3])
	assert.Equal(t, "Piece Hashes:", lines[4])
	hashes := mi.PieceHashes()
	assert.Equal(t, fmt.Sprintf("%x", hashes[2]), lines[7])
}

func TestInfoMissingFile(t *testing.T) {
	withMemFs(t)
	_, err := runCommand(t, "info", "missing.torrent")
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	fs := withMemFs(t)
	mi, data, err := torrent.Build("http://tracker.example/announce", "sample.txt", 16, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "sample.torrent", data, 0644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	remoteID := [20]byte{'-', 'F', 'K', '0', '0', '0', '1', '-', 'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h', 'i', 'j', 'k', 'l'}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		w := wire.NewWire(conn, 0)
		if _, err := w.ReadHandshake(); err != nil {
			return
		}
		w.SendHandshake(wire.NewHandshake(mi.InfoHash, remoteID))
	}()

	out, err := runCommand(t, "handshake", "sample.torrent", ln.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Peer ID: %x\n", remoteID), out)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runCommand(t, "seed", "sample.torrent")
	assert.Error(t, err)

	_, err = runCommand(t, "decode")
	assert.Error(t, err)
}

func TestDownloadPieceUsage(t *testing.T) {
	_, err := runCommand(t, "download_piece", "sample.torrent", "0")
	assert.ErrorContains(t, err, "usage")
}
