package search

import (
	"github.com/zombor/vouch/internal/receipt"
)

// Query is a compiled OpenSearch query clause.
type Query map[string]any

// receiptFields are matched on the receipt itself.
var receiptFields = []string{
	"transaction_info.store_name^3",
	"transaction_info.transaction_id^2",
	"transaction_info.store_address",
	"payment_info.card_type",
}

// itemFields live under the nested items mapping and need a nested query.
var itemFields = []string{
	"items.product_name^2",
	"items.upc",
	"items.serial_number",
}

func fuzzyMultiMatch(text string, fields []string) map[string]any {
	return map[string]any{
		"multi_match": map[string]any{
			"query":     text,
			"fields":    fields,
			"type":      "best_fields",
			"fuzziness": "AUTO",
		},
	}
}

// Build compiles the filters into a bool query. Free text is the only
// scoring clause; store, date and price only narrow the result set.
// With nothing set the query matches every receipt.
func Build(q receipt.SearchQuery) Query {
	var must, filter []any

	if q.Text != "" {
		must = append(must, map[string]any{
			"bool": map[string]any{
				"should": []any{
					fuzzyMultiMatch(q.Text, receiptFields),
					map[string]any{
						"nested": map[string]any{
							"path":       "items",
							"query":      fuzzyMultiMatch(q.Text, itemFields),
							"score_mode": "max",
							"inner_hits": map[string]any{
								"_source": false,
								"highlight": map[string]any{
									"fields": map[string]any{
										"items.product_name": map[string]any{},
										"items.upc":          map[string]any{},
									},
								},
							},
						},
					},
				},
				"minimum_should_match": 1,
			},
		})
	}

	if q.Store != "" {
		filter = append(filter, map[string]any{
			"match": map[string]any{
				"transaction_info.store_name": map[string]any{
					"query":     q.Store,
					"fuzziness": "AUTO",
				},
			},
		})
	}

	if q.DateFrom != "" || q.DateTo != "" {
		r := map[string]any{}
		if q.DateFrom != "" {
			r["gte"] = q.DateFrom
		}
		if q.DateTo != "" {
			r["lte"] = q.DateTo
		}
		filter = append(filter, map[string]any{
			"range": map[string]any{"transaction_info.date_purchased.keyword": r},
		})
	}

	if q.MinPrice != nil || q.MaxPrice != nil {
		r := map[string]any{}
		if q.MinPrice != nil {
			r["gte"] = *q.MinPrice
		}
		if q.MaxPrice != nil {
			r["lte"] = *q.MaxPrice
		}
		filter = append(filter, map[string]any{
			"range": map[string]any{"totals.grand_total": r},
		})
	}

	if len(must) == 0 && len(filter) == 0 {
		return Query{"match_all": map[string]any{}}
	}

	b := map[string]any{}
	if len(must) > 0 {
		b["must"] = must
	}
	if len(filter) > 0 {
		b["filter"] = filter
	}
	return Query{"bool": b}
}

// highlight covers the top-level fields; item highlights come back
// through the nested inner hits.
var highlight = map[string]any{
	"fields": map[string]any{
		"transaction_info.store_name":     map[string]any{},
		"transaction_info.transaction_id": map[string]any{},
	},
}

func requestBody(query Query, skip, limit int) map[string]any {
	return map[string]any{
		"query":            query,
		"from":             skip,
		"size":             limit,
		"track_total_hits": true,
		"highlight":        highlight,
	}
}
