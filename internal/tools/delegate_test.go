package tools

import "testing"

func TestValidateDelegate(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(Definition{
		Name: "GetInvoice",
		Parameters: []Parameter{
			{Name: "userId", Required: true, Scope: ScopeContext, Shared: true},
			{Name: "invoiceId", Required: false, Scope: ScopeRequest},
		},
	}, noopHandler)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		declared Definition
		wantErr  bool
	}{
		{
			"exact match",
			Definition{Name: "GetInvoice", Parameters: []Parameter{
				{Name: "userId", Required: true, Scope: ScopeContext, Shared: true},
				{Name: "invoiceId", Scope: ScopeRequest},
			}},
			false,
		},
		{
			"unknown tool",
			Definition{Name: "GetContract"},
			true,
		},
		{
			"arity mismatch",
			Definition{Name: "GetInvoice", Parameters: []Parameter{
				{Name: "userId", Required: true, Scope: ScopeContext},
			}},
			true,
		},
		{
			"name mismatch",
			Definition{Name: "GetInvoice", Parameters: []Parameter{
				{Name: "userId", Required: true, Scope: ScopeContext},
				{Name: "contractId", Scope: ScopeRequest},
			}},
			true,
		},
		{
			"required vs optional",
			Definition{Name: "GetInvoice", Parameters: []Parameter{
				{Name: "userId", Required: true, Scope: ScopeContext},
				{Name: "invoiceId", Required: true, Scope: ScopeRequest},
			}},
			true,
		},
		{
			"optional declared against required impl is fine",
			Definition{Name: "GetInvoice", Parameters: []Parameter{
				{Name: "userId", Scope: ScopeContext},
				{Name: "invoiceId", Scope: ScopeRequest},
			}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDelegate(tt.declared, reg)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
