package tools

import "fmt"

// ValidateDelegate checks a declared tool definition against the registered
// implementation at agent construction time. The declared definition comes
// from the agent's prompt configuration; the registered one is the typed
// handler actually wired into the registry.
//
// Rules: the name must resolve; the parameter lists must have the same
// arity; every declared parameter must map by name; and a required declared
// parameter may not map to an optional implementation parameter.
func ValidateDelegate(declared Definition, reg *Registry) error {
	impl, ok := reg.Get(declared.Name)
	if !ok {
		return fmt.Errorf("declared tool %q has no registered implementation", declared.Name)
	}

	if len(declared.Parameters) != len(impl.Parameters) {
		return fmt.Errorf("tool %q: declared %d parameters, implementation has %d",
			declared.Name, len(declared.Parameters), len(impl.Parameters))
	}

	implByName := make(map[string]Parameter, len(impl.Parameters))
	for _, p := range impl.Parameters {
		implByName[p.Name] = p
	}

	for _, dp := range declared.Parameters {
		ip, ok := implByName[dp.Name]
		if !ok {
			return fmt.Errorf("tool %q: declared parameter %q does not exist on the implementation",
				declared.Name, dp.Name)
		}
		if dp.Required && !ip.Required {
			return fmt.Errorf("tool %q: parameter %q is declared required but the implementation treats it as optional",
				declared.Name, dp.Name)
		}
	}
	return nil
}

// ValidateDelegates runs ValidateDelegate over a declared tool list.
func ValidateDelegates(declared []Definition, reg *Registry) error {
	for _, d := range declared {
		if err := ValidateDelegate(d, reg); err != nil {
			return err
		}
	}
	return nil
}
