package supervisor

import "time"

// Status is a point-in-time view of the supervised backend for control
// surfaces (D-Bus, HTTP).
type Status struct {
	Instance    string    `json:"instance,omitempty"`
	State       string    `json:"state"`
	Running     bool      `json:"running"`
	Tracked     bool      `json:"tracked"`
	PID         int       `json:"pid,omitempty"`
	Command     []string  `json:"command,omitempty"`
	ExitCode    *int      `json:"exit_code"`
	Started     time.Time `json:"started,omitzero"`
	StdoutLines int64     `json:"stdout_lines"`
	StderrLines int64     `json:"stderr_lines"`
}

// Status returns the current state. A fire-and-forget launch reports the
// state "detached" since nothing about the child is tracked.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	h := s.handle
	launched := s.launched
	s.mu.Unlock()

	st := Status{
		State:   StateNotStarted.String(),
		Tracked: s.cfg.TrackChild,
	}
	if h == nil {
		if launched && !s.cfg.TrackChild {
			st.State = "detached"
		}
		return st
	}

	st.Instance = h.ID()
	st.State = h.State().String()
	st.Running = h.Alive()
	st.PID = h.PID()
	st.Command = h.Command()
	st.Started = h.Started()
	st.StdoutLines = h.Lines(Stdout)
	st.StderrLines = h.Lines(Stderr)
	if code, ok := h.ExitCode(); ok {
		st.ExitCode = &code
	}
	return st
}
