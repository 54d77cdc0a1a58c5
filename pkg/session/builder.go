package session

import "log/slog"

// builder records resources as they are acquired during open. Unless commit is
// called, rollback releases them in reverse order, so a failed open never
// leaves anything behind.
type builder struct {
	log       *slog.Logger
	steps     []buildStep
	committed bool
}

type buildStep struct {
	name    string
	release func() error
}

func newBuilder(log *slog.Logger) *builder {
	return &builder{log: log}
}

// acquire registers release for the resource just created.
func (b *builder) acquire(name string, release func() error) {
	b.steps = append(b.steps, buildStep{name: name, release: release})
}

// commit hands ownership of every acquired resource to the session.
func (b *builder) commit() {
	b.committed = true
	b.steps = nil
}

// rollback releases all acquired resources, newest first. It is a no-op after
// commit, so it can be deferred unconditionally.
func (b *builder) rollback() {
	if b.committed {
		return
	}
	for i := len(b.steps) - 1; i >= 0; i-- {
		st := b.steps[i]
		if err := st.release(); err != nil {
			b.log.Warn("rollback: release failed", "resource", st.name, "err", err)
		}
	}
	b.steps = nil
}
