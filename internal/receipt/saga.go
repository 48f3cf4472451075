package receipt

import "log/slog"

type compensation struct {
	name string
	undo func() error
}

// saga runs a sequence of steps and remembers how to undo each one that
// succeeded. It is not a transaction: compensations are best effort.
type saga struct {
	compensations []compensation
	failed        int
}

// step runs action and, if it succeeds, registers undo. A nil undo means the
// step needs no compensation.
func (s *saga) step(name string, action func() error, undo func() error) error {
	if err := action(); err != nil {
		return err
	}
	if undo != nil {
		s.compensations = append(s.compensations, compensation{name: name, undo: undo})
	}
	return nil
}

// rollback runs the registered compensations in reverse order. Failures are
// logged and counted but never stop the remaining compensations.
func (s *saga) rollback() {
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if err := c.undo(); err != nil {
			s.failed++
			slog.Warn("Compensation failed", "step", c.name, "error", err)
		}
	}
	s.compensations = nil
}
