package http

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/retailcore/posclient"
)

// Schemas for the backend payloads this client trusts with money decisions.
// Validation is opt-in (ClientConfig.ValidateSchemas); it exists to fail fast
// on a misconfigured base URL or an incompatible backend version instead of
// propagating half-decoded carts into the orchestrator.

const cartSchema = `{
  "type": "object",
  "required": ["storeId", "items", "totalAmount"],
  "properties": {
    "storeId": {"type": "string"},
    "subtotalAmount": {"type": "string"},
    "totalAmount": {"type": "string"},
    "itemCount": {"type": "integer", "minimum": 0},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "productId", "quantity"],
        "properties": {
          "id": {"type": "string"},
          "productId": {"type": "string"},
          "quantity": {"type": "integer", "minimum": 1},
          "unitPrice": {"type": "string"},
          "lineTotal": {"type": "string"}
        }
      }
    }
  }
}`

const orderSchema = `{
  "type": "object",
  "required": ["orderId", "status"],
  "properties": {
    "orderId": {"type": "string"},
    "status": {"enum": ["pending_payment", "paid", "cancelled", "failed"]},
    "saleId": {"type": "string"},
    "amount": {"type": "string"}
  }
}`

func validateCartDocument(payload []byte) error {
	return validateDocument(cartSchema, payload, "cart")
}

func validateOrderDocument(payload []byte) error {
	return validateDocument(orderSchema, payload, "order")
}

func validateDocument(schema string, payload []byte, kind string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(payload),
	)
	if err != nil {
		return posclient.NewError(posclient.ErrCodeBackend,
			"malformed "+kind+" payload: "+err.Error(), nil)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return posclient.NewError(posclient.ErrCodeValidationFailed,
			kind+" payload failed schema validation: "+strings.Join(details, "; "),
			map[string]interface{}{"errors": details})
	}
	return nil
}
