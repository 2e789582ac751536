package dispatch

import (
	"sort"
	"strings"
	"unicode"

	"github.com/danmuck/relayctl/internal/protocol"
)

// IsEventName reports whether name follows the protocol's upper-case event
// naming. Lower-case names are client-internal and never subscribed.
func IsEventName(name string) bool {
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// subscriptionFor returns the server event backing a registry name.
// command_<x> names are fed by COMMAND.
func subscriptionFor(name string) (string, bool) {
	if IsEventName(name) {
		return name, true
	}
	if strings.HasPrefix(name, protocol.CommandEventPrefix) && len(name) > len(protocol.CommandEventPrefix) {
		return protocol.EventCommand, true
	}
	return "", false
}

// SubscriptionSet records events already subscribed on one connection.
// It only grows.
type SubscriptionSet struct {
	items map[string]struct{}
}

func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{items: make(map[string]struct{})}
}

func (s *SubscriptionSet) Has(event string) bool {
	_, ok := s.items[event]
	return ok
}

// Add marks event subscribed and reports whether it was new.
func (s *SubscriptionSet) Add(event string) bool {
	if s.Has(event) {
		return false
	}
	s.items[event] = struct{}{}
	return true
}

func (s *SubscriptionSet) List() []string {
	out := make([]string, 0, len(s.items))
	for name := range s.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
