package gateway

import (
	"fmt"
	"strings"

	"github.com/go-openapi/swag"
)

// ChatRequest is the body of a chat call. Query is required; everything else
// describes the deal context and is folded into the prompt when present.
type ChatRequest struct {
	Query                  string  `json:"query"`
	ThreadID               string  `json:"threadId,omitempty"`
	DemandStage            *string `json:"demand_stage,omitempty"`
	AccountName            *string `json:"AccountName,omitempty"`
	AccountID              *string `json:"AccountId,omitempty"`
	ClientName             *string `json:"ClientName,omitempty"`
	ClientID               *string `json:"ClientId,omitempty"`
	PursuitID              *string `json:"PursuitId,omitempty"`
	AdditionalInstructions *string `json:"additional_instructions,omitempty"`
}

func (r *ChatRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

// Message renders the user message for the model, appending a context block
// with the deal metadata that is present. PursuitID and the raw identifiers
// are carried for correlation only and stay out of the prompt.
func (r *ChatRequest) Message() string {
	var parts []string
	if name := swag.StringValue(r.AccountName); name != "" {
		parts = append(parts, "AccountName: "+name)
	}
	if name := swag.StringValue(r.ClientName); name != "" {
		parts = append(parts, "ClientName: "+name)
	}
	if stage := swag.StringValue(r.DemandStage); stage != "" {
		parts = append(parts, "Demand Stage: "+stage)
	}
	if len(parts) == 0 {
		return r.Query
	}

	var sb strings.Builder
	sb.WriteString(r.Query)
	sb.WriteString("\n\nContext:")
	for _, part := range parts {
		sb.WriteString("\n- ")
		sb.WriteString(part)
	}
	return sb.String()
}
