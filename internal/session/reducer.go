package session

// Reducer shapes the history view sent to the model. Reducers must be pure,
// idempotent and monotone (never grow the message count). The stored history
// is unaffected.
type Reducer func([]Message) []Message

// LastNTurns keeps only the most recent n user turns (a user message and
// everything after it). n <= 0 disables reduction.
func LastNTurns(n int) Reducer {
	return func(msgs []Message) []Message {
		if n <= 0 {
			return msgs
		}
		userSeen := 0
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == "user" {
				userSeen++
				if userSeen == n {
					return msgs[i:]
				}
			}
		}
		return msgs
	}
}
