package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"mnemo/internal/types"
)

// errorDocument is the wire shape of a tool failure.
type errorDocument struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    int                `json:"code"`
	Message string             `json:"message"`
	Field   string             `json:"field,omitempty"`
	Fields  []types.FieldError `json:"fields,omitempty"`
}

// errorResult renders any error as the structured error document.
// Unclassified errors map to a generic 500 without leaking internals.
func errorResult(err error) *mcp.CallToolResult {
	e := types.AsError(err)
	doc := errorDocument{Error: errorBody{
		Code:    e.Code(),
		Message: e.Message,
		Field:   e.Field(),
		Fields:  e.Fields,
	}}
	data, merr := json.Marshal(doc)
	if merr != nil {
		return mcp.NewToolResultError(`{"error":{"code":500,"message":"internal error"}}`)
	}
	return mcp.NewToolResultError(string(data))
}

// jsonResult renders a successful result as a JSON document.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(types.Fatalf(err, "encoding result"))
	}
	return mcp.NewToolResultText(string(data))
}
