package tools

// Result is the outcome of a tool execution. ForLLM is what the model sees;
// tool failures are returned as deterministic error strings so the model can
// recover, never as panics or propagated errors.
type Result struct {
	ForLLM  string
	IsError bool
	Err     error // underlying cause, for logging only
}

// OK builds a success result.
func OK(forLLM string) Result {
	return Result{ForLLM: forLLM}
}

// Errorf builds an LLM-visible error result.
func Errorf(forLLM string, err error) Result {
	return Result{ForLLM: forLLM, IsError: true, Err: err}
}
