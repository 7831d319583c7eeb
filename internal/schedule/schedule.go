package schedule

import "sort"

// Schedule maps a trigger event name to the keys pending deletion on it.
//
// Each key appears at most once per event; order is insertion order, which is
// also the order the scrub walks them in. The JSON form is {"event":["key",...]}.
type Schedule map[string][]string

// Has reports whether event has an entry (possibly empty, if kept).
func (s Schedule) Has(event string) bool {
	_, ok := s[event]
	return ok
}

// Keys returns a copy of the keys scheduled under event.
// Callers may mutate the schedule while iterating the result.
func (s Schedule) Keys(event string) []string {
	keys, ok := s[event]
	if !ok {
		return nil
	}
	return append([]string(nil), keys...)
}

// Contains reports whether key is scheduled under event.
func (s Schedule) Contains(key, event string) bool {
	for _, k := range s[event] {
		if k == key {
			return true
		}
	}
	return false
}

// Events returns the event names in sorted order.
func (s Schedule) Events() []string {
	out := make([]string, 0, len(s))
	for ev := range s {
		out = append(out, ev)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of (key, event) pairings.
func (s Schedule) Len() int {
	n := 0
	for _, keys := range s {
		n += len(keys)
	}
	return n
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	out := make(Schedule, len(s))
	for ev, keys := range s {
		out[ev] = append([]string{}, keys...)
	}
	return out
}

func (s Schedule) add(key, event string) bool {
	if s.Contains(key, event) {
		return false
	}
	s[event] = append(s[event], key)
	return true
}

func (s Schedule) remove(key, event string, keepEmpty bool) bool {
	keys, ok := s[event]
	if !ok {
		return false
	}
	changed := false
	out := keys[:0]
	for _, k := range keys {
		if k == key {
			changed = true
			continue
		}
		out = append(out, k)
	}
	if len(out) == 0 && !keepEmpty {
		delete(s, event)
		return true
	}
	s[event] = out
	return changed
}

// normalize drops duplicate keys and, unless keepEmpty, empty events.
// Documents written by older or foreign writers may violate either.
func (s Schedule) normalize(keepEmpty bool) {
	for ev, keys := range s {
		seen := make(map[string]struct{}, len(keys))
		out := keys[:0]
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		if len(out) == 0 && !keepEmpty {
			delete(s, ev)
			continue
		}
		s[ev] = out
	}
}
