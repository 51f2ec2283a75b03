package enginelocal

import "github.com/wippyai/engine-bridge/engine"

// collectLocked runs a mark-sweep collection and returns the finalizers of
// swept slots. Roots are the open marks, the permanent root set, and the
// pending exception; edges are object properties, array elements, and
// promise results. Callers hold l.mu.
func (l *Local) collectLocked() []func() {
	reached := make(map[uint32]bool, len(l.slots))

	var visit func(v engine.Value)
	visit = func(v engine.Value) {
		idx, gen, ok := decode(v)
		if !ok || int(idx) >= len(l.slots) {
			return
		}
		s := &l.slots[idx]
		if !s.live || s.gen != gen || reached[idx] {
			return
		}
		reached[idx] = true
		for _, pv := range s.props {
			visit(pv)
		}
		for _, ev := range s.elems {
			visit(ev)
		}
		if s.prom != nil && s.prom.result != 0 {
			visit(s.prom.result)
		}
	}

	for _, m := range l.marks {
		for _, v := range m.roots {
			visit(v)
		}
	}
	for v := range l.permRoots {
		visit(v)
	}
	if l.pendingSet {
		visit(l.pendingVal)
	}

	var fins []func()
	for i := range l.slots {
		s := &l.slots[i]
		if !s.live || reached[uint32(i)] {
			continue
		}
		fins = append(fins, s.fins...)
		gen := s.gen + 1
		*s = slot{gen: gen}
		l.free = append(l.free, uint32(i))
	}
	return fins
}

// Live returns the number of live heap slots. Test hook.
func (l *Local) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for i := range l.slots {
		if l.slots[i].live {
			n++
		}
	}
	return n
}
