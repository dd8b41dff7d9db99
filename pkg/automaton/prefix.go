package automaton

// Prefix matches keys starting with a literal byte sequence.
type Prefix struct {
	lit []byte
}

// NewPrefix returns a matcher for keys beginning with prefix.
func NewPrefix(prefix string) *Prefix {
	return &Prefix{lit: []byte(prefix)}
}

// State n means n bytes of the literal have been matched.
func (p *Prefix) Start() State { return 0 }

func (p *Prefix) Step(s State, b byte) State {
	switch {
	case s < 0:
		return Dead
	case int(s) == len(p.lit):
		return s
	case p.lit[s] == b:
		return s + 1
	default:
		return Dead
	}
}

func (p *Prefix) Accepts(s State) bool { return int(s) == len(p.lit) }
