package gateway

import (
	"testing"

	"github.com/go-openapi/swag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestValidate(t *testing.T) {
	require.Error(t, (&ChatRequest{}).Validate())
	require.Error(t, (&ChatRequest{Query: "   "}).Validate())
	require.NoError(t, (&ChatRequest{Query: "how do I close?"}).Validate())
}

func TestMessageWithoutContext(t *testing.T) {
	req := &ChatRequest{Query: "which probing questions work in discovery?"}
	assert.Equal(t, req.Query, req.Message())
}

func TestMessageFoldsContextBlock(t *testing.T) {
	req := &ChatRequest{
		Query:       "how do I strengthen relationships with decision makers?",
		AccountName: swag.String("Panda Health"),
		ClientName:  swag.String("Acme Corp"),
		DemandStage: swag.String("discovery"),
		PursuitID:   swag.String("P-123"),
	}

	expected := "how do I strengthen relationships with decision makers?\n\n" +
		"Context:\n" +
		"- AccountName: Panda Health\n" +
		"- ClientName: Acme Corp\n" +
		"- Demand Stage: discovery"
	assert.Equal(t, expected, req.Message())
}

func TestMessageSkipsEmptyContextValues(t *testing.T) {
	req := &ChatRequest{
		Query:       "what next?",
		AccountName: swag.String(""),
		DemandStage: swag.String("negotiation"),
	}

	assert.Equal(t, "what next?\n\nContext:\n- Demand Stage: negotiation", req.Message())
}
