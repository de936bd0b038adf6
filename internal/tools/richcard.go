package tools

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// Rich card limits. The error strings are deterministic; clients and the
// model rely on them verbatim.
const (
	MaxCardDepth      = 3
	MaxCardComponents = 50
)

var (
	ErrCardDepth      = errors.New("Error: Rich card exceeds maximum nesting depth of 3")
	ErrCardComponents = errors.New("Error: Rich card exceeds maximum component count of 50")
)

var validComponentTypes = map[string]bool{
	"text_block": true,
	"key_value":  true,
	"divider":    true,
	"list":       true,
	"section":    true,
	"grid":       true,
	"badge":      true,
}

// ValidateCard checks the rich card limits: nesting depth at most 3 counted
// through section components, and at most 50 components counted recursively.
func ValidateCard(card *protocol.RichCard) error {
	count := 0
	return walkComponents(card.Components, 1, &count)
}

func walkComponents(comps []protocol.CardComponent, depth int, count *int) error {
	if depth > MaxCardDepth {
		return ErrCardDepth
	}
	for _, c := range comps {
		if !validComponentTypes[c.Type] {
			return fmt.Errorf("Error: unknown rich card component type '%s'", c.Type)
		}
		*count++
		if *count > MaxCardComponents {
			return ErrCardComponents
		}
		if len(c.Components) > 0 {
			childDepth := depth
			if c.Type == "section" {
				childDepth++
			}
			if err := walkComponents(c.Components, childDepth, count); err != nil {
				return err
			}
		}
	}
	return nil
}
