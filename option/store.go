package option

// Source resolves a single (entity, property) option to a value. Live
// engine state, the persisted setup, and (indirectly, via Store) a
// per-client override all implement this.
type Source interface {
	Lookup(entity, property string) (Value, bool)
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(entity, property string) (Value, bool)

func (f SourceFunc) Lookup(entity, property string) (Value, bool) { return f(entity, property) }

type key struct{ entity, property string }

// Store implements the three-tier lookup of spec section 4.E for one
// PPP session: live state (if the engine is running), a per-client
// override map, and the administrator's persisted setup. First hit
// wins. Store carries no lock: it is mutated only from the single
// reactor goroutine that owns every session, per the concurrency model.
type Store struct {
	Live     Source // consulted first when non-nil; NewStore leaves it nil
	Setup    Source // the administrator's persisted configuration
	override map[key]Value
}

// NewStore creates an option store with no overrides set; Setup is the
// persisted-configuration tier and may be nil if none applies.
func NewStore(setup Source) *Store {
	return &Store{Setup: setup, override: make(map[key]Value)}
}

// Get resolves entity/property through the three tiers, returning def
// if none of them have a value.
func (s *Store) Get(entity, property string, def Value) Value {
	if s.Live != nil {
		if v, ok := s.Live.Lookup(entity, property); ok {
			return v
		}
	}
	v, ok := s.override[key{entity, property}]
	if ok {
		return v
	}
	if s.Setup != nil {
		if v, ok := s.Setup.Lookup(entity, property); ok {
			return v
		}
	}
	return def
}

// SetOption installs a per-client override, scoped to this session's
// view. Serial speeds are snapped to the fixed ladder before storage,
// per spec section 4.E.
func (s *Store) SetOption(entity, property string, v Value) {
	if entity == "Modem" && property == "Speed" && v.Kind == KindU32 {
		v.U32 = SnapSpeed(v.U32)
	}
	s.override[key{entity, property}] = v
}

// Freeze snapshots the current effective value for every (entity,
// property) pair named in keys, for handing to a PPP engine at
// connect time; the option set is immutable thereafter per spec
// section 5.
func (s *Store) Freeze(keys [][2]string, defaults map[[2]string]Value) map[[2]string]Value {
	out := make(map[[2]string]Value, len(keys))
	for _, k := range keys {
		out[k] = s.Get(k[0], k[1], defaults[k])
	}
	return out
}
