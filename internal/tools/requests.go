package tools

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mark3labs/mcp-go/mcp"

	"mnemo/internal/types"
)

// validate is the shared validator. Field names in violation messages
// come from the json tag so they match the wire arguments.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeArgs binds the tool arguments into the typed struct and runs
// validation, collecting every violation into one validation error.
func decodeArgs(req mcp.CallToolRequest, target any) error {
	if err := req.BindArguments(target); err != nil {
		return types.NewValidation(types.FieldError{
			Field: "arguments", Message: "arguments do not decode: " + err.Error()})
	}
	err := validate.Struct(target)
	if err == nil {
		return nil
	}
	var violations validator.ValidationErrors
	if !errors.As(err, &violations) {
		return types.Fatalf(err, "validating arguments")
	}
	fields := make([]types.FieldError, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, types.FieldError{
			Field: v.Field(), Message: violationMessage(v)})
	}
	return types.NewValidation(fields...)
}

func violationMessage(v validator.FieldError) string {
	switch v.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(v.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("must be greater than %s", v.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", v.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", v.Param())
	case "max":
		return fmt.Sprintf("must have at most %s elements", v.Param())
	case "uuid":
		return "must be a UUID"
	default:
		return "is invalid"
	}
}

// Argument structs. Curation arguments carry no validate tags beyond
// shape: the curation service owns their semantic validation so the
// error messages are identical on every entry path.

type searchArgs struct {
	Query       string   `json:"query" validate:"required"`
	Variants    []string `json:"variants" validate:"max=3,dive,required"`
	TopK        int      `json:"top_k" validate:"gte=0,lte=200"`
	Tags        []string `json:"tags"`
	DateFrom    string   `json:"date_from"`
	DateTo      string   `json:"date_to"`
	SourceTypes []string `json:"source_types"`
	Sector      string   `json:"sector"`
	GraphDepth  int      `json:"graph_depth" validate:"gte=0,lte=3"`
}

type storeInsightArgs struct {
	Content        string                 `json:"content" validate:"required"`
	Tags           []string               `json:"tags" validate:"dive,required"`
	SourceIDs      []int64                `json:"source_ids" validate:"dive,gt=0"`
	Metadata       map[string]interface{} `json:"metadata"`
	MemoryStrength *float64               `json:"memory_strength" validate:"omitempty,gte=0,lte=1"`
}

type storeEpisodeArgs struct {
	Content   string                 `json:"content" validate:"required"`
	Role      string                 `json:"role"`
	SessionID string                 `json:"session_id"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type storeRawArgs struct {
	Content  string                 `json:"content" validate:"required"`
	Source   string                 `json:"source"`
	Metadata map[string]interface{} `json:"metadata"`
}

type addNodeArgs struct {
	Name       string                 `json:"name" validate:"required"`
	NodeType   string                 `json:"node_type"`
	Sector     string                 `json:"sector"`
	Properties map[string]interface{} `json:"properties"`
}

type addEdgeArgs struct {
	Source     string                 `json:"source" validate:"required"`
	Target     string                 `json:"target" validate:"required"`
	Relation   string                 `json:"relation" validate:"required"`
	Sector     string                 `json:"sector"`
	Properties map[string]interface{} `json:"properties"`
}

type updateInsightArgs struct {
	InsightID      int64    `json:"insight_id"`
	Content        *string  `json:"content"`
	MemoryStrength *float64 `json:"memory_strength"`
	Actor          string   `json:"actor"`
	Reason         string   `json:"reason"`
}

type deleteInsightArgs struct {
	InsightID int64  `json:"insight_id"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason"`
}

type insightHistoryArgs struct {
	InsightID int64 `json:"insight_id"`
}

type feedbackArgs struct {
	InsightID    int64  `json:"insight_id" validate:"required,gt=0"`
	FeedbackType string `json:"feedback_type" validate:"required,oneof=helpful not_relevant not_now"`
	Context      string `json:"context"`
}

type reviewProposalArgs struct {
	ProposalID string `json:"proposal_id"`
	Decision   string `json:"decision"`
	Notes      string `json:"notes"`
}

type listProposalsArgs struct {
	Status string `json:"status"`
}

type workingSetArgs struct {
	Slot    string `json:"slot" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type workingGetArgs struct {
	Slot string `json:"slot"`
}

type setProjectArgs struct {
	ProjectID string `json:"project_id" validate:"required"`
}
