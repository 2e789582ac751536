package dispatch

import "github.com/danmuck/relayctl/internal/protocol"

// Listener receives an event's positional params.
type Listener func(params ...protocol.Param)

// MatchFunc decides whether a one-shot listener accepts an event.
type MatchFunc func(params []protocol.Param) bool

// ListenerID identifies one registration for removal.
type ListenerID uint64

type listenerEntry struct {
	id    ListenerID
	fn    Listener
	once  bool
	match MatchFunc
}

// Registry maps event names to listeners in registration order.
type Registry struct {
	next   ListenerID
	byName map[string][]listenerEntry
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string][]listenerEntry)}
}

func (r *Registry) Add(name string, fn Listener) ListenerID {
	return r.add(name, listenerEntry{fn: fn})
}

// AddOnce installs a listener removed after its first accepted event.
// A nil match accepts every event.
func (r *Registry) AddOnce(name string, match MatchFunc, fn Listener) ListenerID {
	return r.add(name, listenerEntry{fn: fn, once: true, match: match})
}

func (r *Registry) add(name string, e listenerEntry) ListenerID {
	r.next++
	e.id = r.next
	r.byName[name] = append(r.byName[name], e)
	return e.id
}

func (r *Registry) Remove(name string, id ListenerID) bool {
	list := r.byName[name]
	for i, e := range list {
		if e.id != id {
			continue
		}
		out := make([]listenerEntry, 0, len(list)-1)
		out = append(out, list[:i]...)
		out = append(out, list[i+1:]...)
		if len(out) == 0 {
			delete(r.byName, name)
		} else {
			r.byName[name] = out
		}
		return true
	}
	return false
}

func (r *Registry) Count(name string) int {
	return len(r.byName[name])
}

func (r *Registry) has(name string, id ListenerID) bool {
	for _, e := range r.byName[name] {
		if e.id == id {
			return true
		}
	}
	return false
}

// Dispatch invokes the listeners registered for name when dispatch began,
// skipping any removed by an earlier listener. It returns how many ran.
func (r *Registry) Dispatch(name string, params []protocol.Param) int {
	snapshot := r.byName[name]
	if len(snapshot) == 0 {
		return 0
	}
	invoked := 0
	for _, e := range snapshot {
		if !r.has(name, e.id) {
			continue
		}
		if e.once {
			if e.match != nil && !e.match(params) {
				continue
			}
			r.Remove(name, e.id)
		}
		e.fn(params...)
		invoked++
	}
	return invoked
}
