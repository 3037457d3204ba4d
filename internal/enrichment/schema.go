package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaV1 is the first version of the enrichment output schema.
const SchemaV1 = "v1"

// amountProp accepts numbers, numeric strings and null. Amounts are decoded
// leniently afterwards, so the schema only rejects structurally wrong values.
func amountProp() map[string]any {
	return map[string]any{"type": []string{"number", "string", "null"}}
}

func partyProp() map[string]any {
	return map[string]any{
		"oneOf": []any{
			map[string]any{"type": []string{"string", "null"}},
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": []string{"string", "null"}},
					"address": map[string]any{"type": []string{"string", "null"}},
					"tax_id":  map[string]any{"type": []string{"string", "null"}},
				},
			},
		},
	}
}

// InvoiceSchema returns the JSON schema enrichment output must satisfy for
// the given schema version.
func InvoiceSchema(version string) (map[string]any, error) {
	switch version {
	case SchemaV1, "":
	default:
		return nil, fmt.Errorf("unknown schema version %q", version)
	}

	str := map[string]any{"type": []string{"string", "null"}}
	lineItem := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": str,
			"quantity":    amountProp(),
			"unit_price":  amountProp(),
			"line_total":  amountProp(),
		},
	}
	summary := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subtotal":        amountProp(),
			"tax_amount":      amountProp(),
			"tax_rate":        amountProp(),
			"discount_amount": amountProp(),
			"grand_total":     amountProp(),
			"currency":        str,
		},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invoice_number":    str,
			"invoice_date":      str,
			"due_date":          str,
			"vendor":            partyProp(),
			"client":            partyProp(),
			"line_items":        map[string]any{"type": "array", "items": lineItem},
			"financial_summary": summary,
			"confidence_scores": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
		},
		"required": []string{"line_items", "financial_summary"},
	}, nil
}

// CompileInvoiceSchema compiles the schema of the given version.
func CompileInvoiceSchema(version string) (*jsonschema.Schema, error) {
	schemaMap, err := InvoiceSchema(version)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("invoice.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("invoice.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateInvoiceJSON validates data against a compiled invoice schema.
func ValidateInvoiceJSON(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
