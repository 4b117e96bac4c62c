package tool

import (
	"context"

	"github.com/tidwall/gjson"
)

// Retriever looks up documents for a query. The gateway stays agnostic to
// the backing store; callers wire in their own search implementation.
type Retriever func(ctx context.Context, query string) (string, error)

// AccountRetriever looks up documents scoped to a named account.
type AccountRetriever func(ctx context.Context, query, account string) (string, error)

// GetSalesDocs builds the tool the assistant uses for sales methodology,
// playbook, and tactics lookups.
func GetSalesDocs(retrieve Retriever) Definition {
	return Must(
		func(ctx context.Context, args gjson.Result) (string, error) {
			return retrieve(ctx, args.Get("query").String())
		},
		Name("get_sales_docs"),
		Description("Search sales methodology, playbooks, and tactics documentation."),
		Parameters(ObjectSchema(
			StringProperty("query", "What to look up in the sales knowledge base."),
		)),
	)
}

// GetCustomerDocs builds the tool for documents about the target account.
func GetCustomerDocs(retrieve AccountRetriever) Definition {
	return Must(
		func(ctx context.Context, args gjson.Result) (string, error) {
			return retrieve(ctx, args.Get("query").String(), args.Get("account_name").String())
		},
		Name("get_customer_docs"),
		Description("Search documents about the target customer or prospect account."),
		Parameters(ObjectSchema(
			StringProperty("query", "What to look up about the account."),
			OptionalStringProperty("account_name", "Name of the target account."),
		)),
	)
}

// GetUserDocs builds the tool for documents about the seller's own company.
func GetUserDocs(retrieve AccountRetriever) Definition {
	return Must(
		func(ctx context.Context, args gjson.Result) (string, error) {
			return retrieve(ctx, args.Get("query").String(), args.Get("client_name").String())
		},
		Name("get_user_docs"),
		Description("Search the seller's own company documents and internal resources."),
		Parameters(ObjectSchema(
			StringProperty("query", "What to look up in the seller's own resources."),
			OptionalStringProperty("client_name", "Name of the seller's company."),
		)),
	)
}
