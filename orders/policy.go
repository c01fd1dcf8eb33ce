package orders

// TransitionPolicy decides whether a state change is legal. The original
// system enforced no table at all; keeping the policy an explicit input makes
// that choice visible and testable instead of implicit.
type TransitionPolicy interface {
	Allowed(from, to State) bool
}

// PermissiveTransitions reproduces the historical behavior: any valid,
// non-terminal-escaping transition is accepted.
type PermissiveTransitions struct{}

func (PermissiveTransitions) Allowed(from, to State) bool {
	return to.Valid() && !from.Terminal()
}

// TableTransitions is a strict allowed-transition table.
type TableTransitions map[State][]State

func (t TableTransitions) Allowed(from, to State) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StrictTransitions is the lifecycle the warehouse flow actually follows.
// Opt-in via the strict-transitions feature flag.
func StrictTransitions() TableTransitions {
	return TableTransitions{
		StateTransito:           {StateAlistamiento},
		StateAlistamiento:       {StatePorVerificar, StateProduccion, StateBordado, StateDropshipping, StateCompra, StateAnulado},
		StateProduccion:         {StatePorVerificar, StateAnulado},
		StateBordado:            {StatePorVerificar, StateAnulado},
		StateDropshipping:       {StatePorVerificar, StateAnulado},
		StateCompra:             {StatePorVerificar, StateAnulado},
		StatePorVerificar:       {StateVerificado, StateRechazadoVerificar, StateAnulado},
		StateRechazadoVerificar: {StateAlistamiento, StateAnulado},
		StateVerificado:         {StateEmpacadoXDespachar, StateAnulado},
		StateEmpacadoXDespachar: {StateDespachado, StateAnulado},
		StateDespachado:         {StateDespachadoFacturar, StateEntregado, StateDevuelto},
		StateDespachadoFacturar: {StateEntregado, StateDevuelto},
	}
}
