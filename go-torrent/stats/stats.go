package stats

import (
	"sync"
)

// Stats collects the transfer counters reported to the tracker. Safe for use
// by concurrent downloads.
type Stats interface {
	GetTrackerStats() (uploaded int64, downloaded int64, left int64)
	GetPeerStats() (peerStats map[string]PeerStat)
	UpdatePeer(id string, uploaded int, downloaded int)
	PieceVerified(length int64)
	RemovePeer(id string)
}

type stats struct {
	sync.Mutex

	trackerStats TrackerStats
	peerStats    map[string]*PeerStat
}

type TrackerStats struct {
	TotalUpload   int64
	TotalDownload int64
	Left          int64
}

type PeerStat struct {
	Uploaded   int64
	Downloaded int64
}

func NewStats(
	uploaded int64, downloaded int64, left int64) Stats {

	return &stats{
		trackerStats: TrackerStats{
			TotalUpload:   uploaded,
			TotalDownload: downloaded,
			Left:          left,
		},
		peerStats: make(map[string]*PeerStat),
	}
}

func (s *stats) GetTrackerStats() (int64, int64, int64) {
	s.Lock()
	defer s.Unlock()

	return s.trackerStats.TotalUpload, s.trackerStats.TotalDownload, s.trackerStats.Left
}

func (s *stats) UpdatePeer(id string, uploaded int, downloaded int) {
	s.Lock()
	defer s.Unlock()

	peerStat, ok := s.peerStats[id]
	if !ok {
		peerStat = &PeerStat{}
		s.peerStats[id] = peerStat
	}
	peerStat.Uploaded += int64(uploaded)
	peerStat.Downloaded += int64(downloaded)
	s.trackerStats.TotalUpload += int64(uploaded)
	s.trackerStats.TotalDownload += int64(downloaded)
}

// PieceVerified lowers the bytes left once a piece has passed its hash check.
func (s *stats) PieceVerified(length int64) {
	s.Lock()
	defer s.Unlock()

	s.trackerStats.Left -= length
	if s.trackerStats.Left < 0 {
		s.trackerStats.Left = 0
	}
}

func (s *stats) RemovePeer(id string) {
	s.Lock()
	defer s.Unlock()

	delete(s.peerStats, id)
}

func (s *stats) GetPeerStats() map[string]PeerStat {
	s.Lock()
	defer s.Unlock()

	peerStats := make(map[string]PeerStat, len(s.peerStats))
	for id, peerStat := range s.peerStats {
		peerStats[id] = *peerStat
	}
	return peerStats
}
