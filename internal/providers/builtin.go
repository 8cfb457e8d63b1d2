package providers

// Builtins are the providers the product ships with. Files in the registry
// directory with the same id replace them.
func Builtins() []Definition {
	return []Definition{
		{
			ID:          "amazon",
			Kind:        KindAmazon,
			DisplayName: "Amazon Seller Central",
			Category:    "marketplace",
			AuthStyle:   "params",
			Production: &Endpoints{
				AuthURL:    "https://sellercentral.amazon.com/apps/authorize/consent",
				TokenURL:   "https://api.amazon.com/auth/o2/token",
				APIBaseURL: "https://sellingpartnerapi-na.amazon.com",
			},
			Sandbox: &Endpoints{
				AuthURL:    "https://sellercentral.amazon.com/apps/authorize/consent",
				TokenURL:   "https://api.amazon.com/auth/o2/token",
				APIBaseURL: "https://sandbox.sellingpartnerapi-na.amazon.com",
			},
			Plans: []string{"professional", "enterprise"},
			Operations: []Operation{
				{
					ID: "orders", Summary: "List orders", Path: "/orders/v0/orders",
					Query: map[string]string{"MarketplaceIds": "{marketplace_id}"},
					Items: "payload.Orders", Cursor: "payload.NextToken", CursorParam: "NextToken",
				},
				{
					ID: "inventory", Summary: "FBA inventory summaries", Path: "/fba/inventory/v1/summaries",
					Query: map[string]string{"granularityType": "Marketplace", "granularityId": "{marketplace_id}", "marketplaceIds": "{marketplace_id}"},
					Items: "payload.inventorySummaries", Cursor: "pagination.nextToken", CursorParam: "nextToken",
				},
				{
					ID: "financial_events", Summary: "Financial events", Path: "/finances/v0/financialEvents",
					Items: "payload.FinancialEvents", Cursor: "payload.NextToken", CursorParam: "NextToken",
				},
			},
		},
		{
			ID:          "shopify",
			Kind:        KindShopify,
			DisplayName: "Shopify",
			Category:    "storefront",
			AuthStyle:   "params",
			Scopes:      []string{"read_orders", "read_products", "read_inventory"},
			Production: &Endpoints{
				AuthURL:    "https://{shop_domain}/admin/oauth/authorize",
				TokenURL:   "https://{shop_domain}/admin/oauth/access_token",
				APIBaseURL: "https://{shop_domain}/admin/api/2024-07",
			},
			Plans: []string{"growth", "professional", "enterprise"},
			Operations: []Operation{
				{ID: "orders", Summary: "List orders", Path: "/orders.json", Query: map[string]string{"status": "any"}, Items: "orders", CursorParam: "page_info"},
				{ID: "products", Summary: "List products", Path: "/products.json", Items: "products", CursorParam: "page_info"},
				{ID: "inventory", Summary: "Inventory levels", Path: "/inventory_levels.json", Items: "inventory_levels", CursorParam: "page_info"},
			},
		},
		{
			ID:          "quickbooks",
			Kind:        KindQuickBooks,
			DisplayName: "QuickBooks Online",
			Category:    "accounting",
			AuthStyle:   "header",
			Scopes:      []string{"com.intuit.quickbooks.accounting"},
			Production: &Endpoints{
				AuthURL:    "https://appcenter.intuit.com/connect/oauth2",
				TokenURL:   "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
				APIBaseURL: "https://quickbooks.api.intuit.com",
			},
			Sandbox: &Endpoints{
				AuthURL:    "https://appcenter.intuit.com/connect/oauth2",
				TokenURL:   "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer",
				APIBaseURL: "https://sandbox-quickbooks.api.intuit.com",
			},
			Operations: []Operation{
				{ID: "invoices", Summary: "Invoices", Path: "/v3/company/{realm_id}/query", Entity: "Invoice"},
				{ID: "bills", Summary: "Bills", Path: "/v3/company/{realm_id}/query", Entity: "Bill"},
				{ID: "profit_and_loss", Summary: "Profit and loss report", Path: "/v3/company/{realm_id}/reports/ProfitAndLoss"},
				{ID: "balance_sheet", Summary: "Balance sheet report", Path: "/v3/company/{realm_id}/reports/BalanceSheet"},
			},
		},
	}
}
