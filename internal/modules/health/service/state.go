package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastCycleUnix atomic.Int64 // unix seconds
	openPositions atomic.Int64
	cycles        atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// TouchCycle records a completed cycle.
func (s *State) TouchCycle(t time.Time, openPositions int) {
	s.lastCycleUnix.Store(t.Unix())
	s.openPositions.Store(int64(openPositions))
	s.cycles.Add(1)
}

func (s *State) LastCycle() time.Time {
	u := s.lastCycleUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) OpenPositions() int { return int(s.openPositions.Load()) }
func (s *State) Cycles() int64      { return s.cycles.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
