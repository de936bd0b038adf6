package tools

import (
	"context"
	"strings"
	"testing"
)

func noopHandler(_ context.Context, _ *Invocation, _ map[string]any) Result {
	return OK("ok")
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "GetInvoice", Parameters: []Parameter{
		{Name: "invoiceId", Scope: ScopeRequest, Required: true},
	}}
	if err := r.Register(def, noopHandler); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(def, noopHandler); err == nil {
		t.Error("duplicate registration must fail")
	}
}

func TestRegisterSharedRequiresContextScope(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{
		Name: "Bad",
		Parameters: []Parameter{
			{Name: "userId", Scope: ScopeRequest, Shared: true},
		},
	}, noopHandler)
	if err == nil {
		t.Error("shared request-scoped parameter must be rejected")
	}
}

func TestProviderDefsDecoration(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{
		Name:        "GetInvoice",
		Description: "Fetch an invoice.",
		Parameters: []Parameter{
			{Name: "userId", Description: "Customer id.", Required: true, Scope: ScopeContext, Shared: true},
			{Name: "invoiceId", Description: "Invoice id.", Scope: ScopeRequest},
		},
	}, noopHandler)
	if err != nil {
		t.Fatal(err)
	}

	defs, err := r.ProviderDefs([]string{"GetInvoice"}, " [ctx-guidance]", " [req-guidance]")
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs = %d", len(defs))
	}

	props := defs[0].Parameters["properties"].(map[string]any)
	userDesc := props["userId"].(map[string]any)["description"].(string)
	if !strings.HasSuffix(userDesc, "[ctx-guidance]") {
		t.Errorf("context param description = %q", userDesc)
	}
	invDesc := props["invoiceId"].(map[string]any)["description"].(string)
	if !strings.HasSuffix(invDesc, "[req-guidance]") {
		t.Errorf("request param description = %q", invDesc)
	}

	required := defs[0].Parameters["required"].([]string)
	if len(required) != 1 || required[0] != "userId" {
		t.Errorf("required = %v", required)
	}

	if _, err := r.ProviderDefs([]string{"Missing"}, "", ""); err == nil {
		t.Error("unknown tool name must error")
	}
}
