package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: loc.String(),
		Triggers: make([]TriggerInfo, 0, len(s.defs)),
	}
	now := time.Now().In(loc)
	for _, d := range s.defs {
		it := TriggerInfo{
			Name:    d.name,
			Anchor:  d.anchor,
			Period:  d.period.String(),
			Spec:    d.spec,
			Runs:    d.runs,
			LastErr: d.lastErr,
			Prev:    d.lastAt,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next = e.Next
			if !e.Prev.IsZero() {
				it.Prev = e.Prev
			}
		} else if sched, err := s.parser.Parse(d.spec); err == nil {
			it.Next = sched.Next(now)
		}
		snap.Triggers = append(snap.Triggers, it)
	}
	return snap
}
