package tools

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

func section(children ...protocol.CardComponent) protocol.CardComponent {
	return protocol.CardComponent{Type: "section", Components: children}
}

func textBlock(text string) protocol.CardComponent {
	return protocol.CardComponent{Type: "text_block", Text: text}
}

func TestValidateCardOK(t *testing.T) {
	card := &protocol.RichCard{
		Title: "Invoice",
		Components: []protocol.CardComponent{
			textBlock("Summary"),
			{Type: "key_value", Key: "Total", Value: "€120"},
			{Type: "divider"},
			section(textBlock("Details"), section(textBlock("Line items"))),
			{Type: "badge", Label: "Paid", Tone: "success"},
		},
	}
	if err := ValidateCard(card); err != nil {
		t.Errorf("ValidateCard: %v", err)
	}
}

func TestValidateCardDepthViolation(t *testing.T) {
	// Sections nested four levels deep.
	card := &protocol.RichCard{
		Title: "Deep",
		Components: []protocol.CardComponent{
			section(section(section(section(textBlock("too deep"))))),
		},
	}
	err := ValidateCard(card)
	if err == nil {
		t.Fatal("expected depth error")
	}
	if !strings.HasPrefix(err.Error(), "Error: Rich card exceeds maximum nesting depth of 3") {
		t.Errorf("error = %q, want the deterministic depth prefix", err.Error())
	}
}

func TestValidateCardDepthThreeAllowed(t *testing.T) {
	card := &protocol.RichCard{
		Title: "Edge",
		Components: []protocol.CardComponent{
			section(section(textBlock("level three"))),
		},
	}
	if err := ValidateCard(card); err != nil {
		t.Errorf("depth 3 should pass: %v", err)
	}
}

func TestValidateCardComponentCount(t *testing.T) {
	comps := make([]protocol.CardComponent, 51)
	for i := range comps {
		comps[i] = textBlock("x")
	}
	err := ValidateCard(&protocol.RichCard{Title: "Big", Components: comps})
	if err == nil {
		t.Fatal("expected component count error")
	}
	if !strings.HasPrefix(err.Error(), "Error: Rich card exceeds maximum component count of 50") {
		t.Errorf("error = %q", err.Error())
	}

	// exactly 50 passes
	if err := ValidateCard(&protocol.RichCard{Title: "Max", Components: comps[:50]}); err != nil {
		t.Errorf("50 components should pass: %v", err)
	}
}

func TestValidateCardCountsGridChildren(t *testing.T) {
	cells := make([]protocol.CardComponent, 50)
	for i := range cells {
		cells[i] = textBlock("cell")
	}
	card := &protocol.RichCard{
		Title: "Grid",
		Components: []protocol.CardComponent{
			{Type: "grid", Columns: 2, Components: cells},
		},
	}
	if err := ValidateCard(card); err == nil {
		t.Error("grid children must count toward the component total")
	}
}

func TestValidateCardUnknownType(t *testing.T) {
	card := &protocol.RichCard{
		Title:      "Bad",
		Components: []protocol.CardComponent{{Type: "carousel"}},
	}
	err := ValidateCard(card)
	if err == nil || !strings.Contains(err.Error(), "carousel") {
		t.Errorf("err = %v", err)
	}
}
