// Copyright (c) 2024 The kiirowallet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package privatesend

import (
	"fmt"
	"time"
)

// minWaitUnset is the sentinel minimum wait before any message round trip
// completes.
const minWaitUnset = time.Duration(1<<63 - 1)

// DSMsgStat gathers statistics for one type of outgoing mixing protocol
// message.
type DSMsgStat struct {
	MsgSent       time.Time
	SentCnt       int
	DssuCnt       int
	SuccessCnt    int
	TimeoutCnt    int
	PeerClosedCnt int
	ErrorCnt      int
	TotalWait     time.Duration
	MinWait       time.Duration
	MaxWait       time.Duration
}

// NewDSMsgStat returns an empty message statistic.
func NewDSMsgStat() DSMsgStat {
	return DSMsgStat{MinWait: minWaitUnset}
}

// SendMsg is called before sending an outgoing mixing message.
func (s *DSMsgStat) SendMsg() {
	s.SentCnt++
	s.MsgSent = time.Now()
}

// OnDssu is called when a pool status update arrives before the next mixing
// workflow message.
func (s *DSMsgStat) OnDssu() {
	s.DssuCnt++
}

// OnReadMsg is called when the next mixing workflow message arrives.
func (s *DSMsgStat) OnReadMsg() {
	wait := time.Since(s.MsgSent)
	if wait < s.MinWait {
		s.MinWait = wait
	}
	if wait > s.MaxWait {
		s.MaxWait = wait
	}
	s.TotalWait += wait
	s.SuccessCnt++
}

// OnTimeout is called when the mixing session times out.
func (s *DSMsgStat) OnTimeout() {
	s.TimeoutCnt++
}

// OnPeerClosed is called when the masternode closes the session connection.
func (s *DSMsgStat) OnPeerClosed() {
	s.PeerClosedCnt++
}

// OnError is called on any other session error.
func (s *DSMsgStat) OnError() {
	s.ErrorCnt++
}

// String returns a one line summary of the statistic.
func (s *DSMsgStat) String() string {
	minWait := s.MinWait
	if minWait == minWaitUnset {
		minWait = 0
	}
	var avgWait time.Duration
	if s.SuccessCnt > 0 {
		avgWait = s.TotalWait / time.Duration(s.SuccessCnt)
	}
	return fmt.Sprintf("all=%d, ok=%d, err=%d, timeout=%d, closed=%d, "+
		"dssu=%d, min/avg/max=%.1f/%.1f/%.1fsec",
		s.SentCnt, s.SuccessCnt, s.ErrorCnt, s.TimeoutCnt,
		s.PeerClosedCnt, s.DssuCnt,
		minWait.Seconds(), avgWait.Seconds(), s.MaxWait.Seconds())
}

// MixingStats groups the statistics of the dsa, dsi and dss message types of
// a mixing session.
type MixingStats struct {
	Dsa DSMsgStat
	Dsi DSMsgStat
	Dss DSMsgStat
}

// NewMixingStats returns empty mixing statistics.
func NewMixingStats() *MixingStats {
	return &MixingStats{
		Dsa: NewDSMsgStat(),
		Dsi: NewDSMsgStat(),
		Dss: NewDSMsgStat(),
	}
}

// LastSentMsgStat returns the statistic of the most recently sent message
// type, or nil if no message has been sent.
func (m *MixingStats) LastSentMsgStat() *DSMsgStat {
	var last *DSMsgStat
	var lastSent time.Time
	for _, s := range []*DSMsgStat{&m.Dsa, &m.Dsi, &m.Dss} {
		if s.MsgSent.After(lastSent) {
			lastSent = s.MsgSent
			last = s
		}
	}
	return last
}

// OnTimeout records a session timeout against the last sent message type.
func (m *MixingStats) OnTimeout() {
	if s := m.LastSentMsgStat(); s != nil {
		s.OnTimeout()
	}
}

// OnPeerClosed records a closed session against the last sent message type.
func (m *MixingStats) OnPeerClosed() {
	if s := m.LastSentMsgStat(); s != nil {
		s.OnPeerClosed()
	}
}

// OnError records a session error against the last sent message type.
func (m *MixingStats) OnError() {
	if s := m.LastSentMsgStat(); s != nil {
		s.OnError()
	}
}

// String returns a multi line summary of all mixing session statistics.
func (m *MixingStats) String() string {
	return fmt.Sprintf("Mixing sessions statistics:\ndsa: %s\ndsi: %s\ndss: %s",
		m.Dsa.String(), m.Dsi.String(), m.Dss.String())
}
