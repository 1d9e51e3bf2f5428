// Package keys maps key events to named actions.
package keys

import "github.com/gdamore/tcell/v2"

// Action is a key binding. Rune is used when Key is tcell.KeyRune.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Hint is a visible binding as shown in help and the status line.
type Hint struct {
	Key         string
	Description string
}

type scope struct {
	order   []string
	actions map[string]*Action
}

func (s *scope) add(name string, a *Action) {
	if s.actions == nil {
		s.actions = make(map[string]*Action)
	}
	if _, ok := s.actions[name]; !ok {
		s.order = append(s.order, name)
	}
	s.actions[name] = a
}

func (s *scope) each(fn func(*Action) bool) bool {
	for _, name := range s.order {
		if fn(s.actions[name]) {
			return true
		}
	}
	return false
}

// Registry holds bindings by scope. Lookup and hints follow registration
// order, view bindings before global ones.
type Registry struct {
	global scope
	views  map[string]*scope
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[string]*scope)}
}

// AddGlobal registers a binding active in every view. Re-registering a
// name replaces it in place.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.global.add(name, action)
}

// AddView registers a binding active only in view.
func (r *Registry) AddView(view, name string, action *Action) {
	s, ok := r.views[view]
	if !ok {
		s = &scope{}
		r.views[view] = s
	}
	s.add(name, action)
}

// Hints returns the visible bindings for view.
func (r *Registry) Hints(view string) []Hint {
	var hints []Hint
	collect := func(a *Action) bool {
		if a.Visible {
			hints = append(hints, Hint{Key: a.Label, Description: a.Description})
		}
		return false
	}
	if s, ok := r.views[view]; ok {
		s.each(collect)
	}
	r.global.each(collect)
	return hints
}

// HandleEvent runs the first binding in view matching ev. Returns true if
// one matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	run := func(a *Action) bool {
		if !a.Matches(ev) {
			return false
		}
		if a.Handler != nil {
			a.Handler()
		}
		return true
	}
	if s, ok := r.views[view]; ok && s.each(run) {
		return true
	}
	return r.global.each(run)
}
