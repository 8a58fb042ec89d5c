// Package lookup implements the coordinator's in-memory name service: a
// rendezvous key/value store workers use to publish and resolve data
// (commonly used for IP/port publishing in the fd-leader-election and
// name-service-registration phases). It mirrors dmtcp::LookupService
// from lookup_service.cpp: registration silently overwrites a
// duplicate key after logging, and a query against a key nobody
// registered is the caller's responsibility to treat as fatal (the C++
// split between query() returning nil and respondToQuery() asserting
// non-nil is preserved here as Query returning ok=false).
package lookup

import "github.com/rs/zerolog"

// Service is an in-memory key/value store scoped to one computation. It
// is reset on entry to NAME_SERVICE_DATA_REGISTERED so that values from
// a prior checkpoint cycle never leak into the next one.
type Service struct {
	entries map[string][]byte
	log     zerolog.Logger
}

// New creates an empty lookup service.
func New(log zerolog.Logger) *Service {
	return &Service{
		entries: make(map[string][]byte),
		log:     log,
	}
}

// Register inserts or overwrites a key/value pair. A duplicate insert is
// logged but is not an error, matching addKeyValue's JTRACE-and-continue
// behavior.
func (s *Service) Register(key, value []byte) {
	k := string(key)
	if _, exists := s.entries[k]; exists {
		s.log.Debug().Str("key", k).Msg("lookup: overwriting existing key")
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[k] = v
}

// Query returns the value registered for key and whether it was found.
// A miss is not fatal here; callers on the protocol's query path (which
// assumes every queried key was previously registered) must decide how
// to react to ok == false.
func (s *Service) Query(key []byte) (value []byte, ok bool) {
	v, found := s.entries[string(key)]
	if !found {
		s.log.Warn().Str("key", string(key)).Msg("lookup: key not found")
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Reset destroys every entry. It is called exactly once per checkpoint
// cycle, on entry to the NAME_SERVICE_DATA_REGISTERED phase.
func (s *Service) Reset() {
	s.entries = make(map[string][]byte)
}

// Len reports the number of entries currently held, used to feed the
// dmtcp_lookup_entries gauge.
func (s *Service) Len() int {
	return len(s.entries)
}
