package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/vouch/internal/receipt"
)

func sampleSource() map[string]any {
	return map[string]any{
		"receipt_id": "r-1",
		"transaction_info": map[string]any{
			"store_name":     "Costco",
			"store_address":  "1 Warehouse Way",
			"store_phone":    "555-0100",
			"date_purchased": "2024-05-01",
			"time_purchased": "10:00",
			"cashier":        "Sam",
			"transaction_id": "C-77",
		},
		"items": []any{map[string]any{
			"upc":           "0001112223334",
			"product_name":  "Laptop",
			"quantity":      1.0,
			"unit_price":    899.0,
			"total_price":   899.0,
			"serial_number": "LP-9",
		}},
		"totals":        map[string]any{"subtotal": 899.0, "sales_tax": 72.0, "grand_total": 971.0},
		"payment_info":  map[string]any{"card_type": "AMEX", "card_last_four": "1005", "auth_code": "Z9"},
		"return_policy": map[string]any{"policy_id": "P", "return_window_days": 90.0, "policy_expiration_date": "2024-07-30", "notes": "None"},
		"source_file":   "r-1.jpg",
		"created_at":    "2024-05-01T10:00:00Z",
	}
}

func searchReply(hits ...map[string]any) map[string]any {
	list := make([]any, 0, len(hits))
	for _, h := range hits {
		list = append(list, h)
	}
	return map[string]any{
		"took": 3,
		"hits": map[string]any{
			"total": map[string]any{"value": 42, "relation": "eq"},
			"hits":  list,
		},
	}
}

var _ = Describe("Index", func() {
	var (
		ctx      context.Context
		osServer *ghttp.Server
		idx      *Index
	)

	BeforeEach(func() {
		ctx = context.Background()
		osServer = ghttp.NewServer()
		osServer.RouteToHandler(http.MethodGet, "/", ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
			"version": map[string]any{"number": "2.11.0", "distribution": "opensearch"},
		}))

		var err error
		idx, err = New([]string{osServer.URL()}, WithIndexName("test-receipts"), WithRefresh("true"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		osServer.Close()
	})

	Describe("EnsureIndex", func() {
		When("the index exists", func() {
			BeforeEach(func() {
				osServer.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodHead, "/test-receipts"),
					ghttp.RespondWith(http.StatusOK, nil),
				))
			})

			It("should not create it again", func() {
				Expect(idx.EnsureIndex(ctx)).To(Succeed())
			})
		})

		When("the index is missing", func() {
			var created map[string]any

			BeforeEach(func() {
				osServer.AppendHandlers(
					ghttp.RespondWith(http.StatusNotFound, nil),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest(http.MethodPut, "/test-receipts"),
						func(w http.ResponseWriter, r *http.Request) {
							body, _ := io.ReadAll(r.Body)
							Expect(json.Unmarshal(body, &created)).To(Succeed())
						},
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"acknowledged": true}),
					),
				)
			})

			It("should create it with the receipt mapping", func() {
				Expect(idx.EnsureIndex(ctx)).To(Succeed())
				props := created["mappings"].(map[string]any)["properties"].(map[string]any)
				Expect(props["items"]).To(HaveKeyWithValue("type", "nested"))
				Expect(props).To(HaveKey("receipt_id"))
			})
		})

		When("another process created it first", func() {
			BeforeEach(func() {
				osServer.AppendHandlers(
					ghttp.RespondWith(http.StatusNotFound, nil),
					ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
						"error":  map[string]any{"type": "resource_already_exists_exception", "reason": "index exists"},
						"status": 400,
					}),
				)
			})

			It("should succeed", func() {
				Expect(idx.EnsureIndex(ctx)).To(Succeed())
			})
		})

		When("creation is rejected", func() {
			BeforeEach(func() {
				osServer.AppendHandlers(
					ghttp.RespondWith(http.StatusNotFound, nil),
					ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
						"error":  map[string]any{"type": "mapper_parsing_exception", "reason": "bad mapping"},
						"status": 400,
					}),
				)
			})

			It("should return the backend reason", func() {
				err := idx.EnsureIndex(ctx)
				Expect(err).To(MatchError(ContainSubstring("mapper_parsing_exception")))
			})
		})
	})

	Describe("IndexDocument", func() {
		var (
			indexed map[string]any
			doc     *receipt.Document
		)

		BeforeEach(func() {
			r, err := receipt.Parse(sampleSource())
			Expect(err).NotTo(HaveOccurred())
			doc = &receipt.Document{
				ID:         "r-1",
				Receipt:    *r,
				SourceFile: "r-1.jpg",
				CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			}
		})

		When("the backend accepts it", func() {
			BeforeEach(func() {
				osServer.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPut, "/test-receipts/_doc/r-1", "refresh=true"),
					func(w http.ResponseWriter, r *http.Request) {
						body, _ := io.ReadAll(r.Body)
						Expect(json.Unmarshal(body, &indexed)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusCreated, map[string]any{"result": "created"}),
				))
			})

			It("should store the receipt under its id", func() {
				Expect(idx.IndexDocument(ctx, "r-1", doc)).To(Succeed())
				Expect(indexed).To(HaveKeyWithValue("receipt_id", "r-1"))
				Expect(indexed).NotTo(HaveKey("id"))
				Expect(indexed).To(HaveKeyWithValue("source_file", "r-1.jpg"))
				Expect(indexed["transaction_info"]).To(HaveKeyWithValue("transaction_id", "C-77"))
			})
		})

		When("the backend rejects it", func() {
			BeforeEach(func() {
				osServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
					"error": map[string]any{"type": "mapper_parsing_exception", "reason": "failed to parse"},
				}))
			})

			It("should return an error", func() {
				Expect(idx.IndexDocument(ctx, "r-1", doc)).To(MatchError(ContainSubstring("failed to parse")))
			})
		})
	})

	Describe("Search", func() {
		var (
			sent map[string]any
			q    receipt.SearchQuery
		)

		BeforeEach(func() {
			q = receipt.SearchQuery{Text: "laptop", Skip: 20, Limit: 10}
		})

		When("hits come back", func() {
			BeforeEach(func() {
				hit := map[string]any{
					"_id":       "r-1",
					"_score":    4.2,
					"_source":   sampleSource(),
					"highlight": map[string]any{"transaction_info.store_name": []any{"<em>Costco</em>"}},
					"inner_hits": map[string]any{"items": map[string]any{"hits": map[string]any{"hits": []any{
						map[string]any{"highlight": map[string]any{"items.product_name": []any{"<em>Laptop</em>"}}},
					}}}},
				}
				osServer.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/test-receipts/_search"),
					func(w http.ResponseWriter, r *http.Request) {
						body, _ := io.ReadAll(r.Body)
						Expect(json.Unmarshal(body, &sent)).To(Succeed())
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, searchReply(hit)),
				))
			})

			It("should rehydrate receipts with merged highlights", func() {
				res, err := idx.Search(ctx, q)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Total).To(Equal(42))
				Expect(res.Hits).To(HaveLen(1))

				hit := res.Hits[0]
				Expect(hit.ID).To(Equal("r-1"))
				Expect(hit.Score).To(Equal(4.2))
				Expect(hit.Receipt.TransactionInfo.StoreName).To(Equal("Costco"))
				Expect(hit.Receipt.Items[0].ProductName).To(Equal("Laptop"))
				Expect(hit.Highlights).To(HaveKeyWithValue("transaction_info.store_name", []string{"<em>Costco</em>"}))
				Expect(hit.Highlights).To(HaveKeyWithValue("items.product_name", []string{"<em>Laptop</em>"}))

				Expect(sent["from"]).To(BeNumerically("==", 20))
				Expect(sent["size"]).To(BeNumerically("==", 10))
				Expect(sent["query"]).To(HaveKey("bool"))
			})
		})

		When("nothing matches", func() {
			BeforeEach(func() {
				reply := searchReply()
				reply["hits"].(map[string]any)["total"] = map[string]any{"value": 0, "relation": "eq"}
				osServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, reply))
			})

			It("should return an empty result", func() {
				res, err := idx.Search(ctx, q)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Total).To(Equal(0))
				Expect(res.Hits).To(BeEmpty())
			})
		})

		When("a hit no longer validates", func() {
			BeforeEach(func() {
				src := sampleSource()
				src["items"] = []any{}
				osServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, searchReply(map[string]any{
					"_id": "r-1", "_score": 1.0, "_source": src,
				})))
			})

			It("should fail the search", func() {
				_, err := idx.Search(ctx, q)
				Expect(err).To(MatchError(receipt.ErrSchemaValidation))
			})
		})

		When("the backend errors", func() {
			BeforeEach(func() {
				osServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusBadRequest, map[string]any{
					"error": map[string]any{"type": "search_phase_execution_exception", "reason": "all shards failed"},
				}))
			})

			It("should return an error", func() {
				_, err := idx.Search(ctx, q)
				Expect(err).To(MatchError(ContainSubstring("all shards failed")))
			})
		})
	})

	Describe("Delete", func() {
		It("should delete the indexed copy", func() {
			osServer.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodDelete, "/test-receipts/_doc/r-1"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"result": "deleted"}),
			))
			Expect(idx.Delete(ctx, "r-1")).To(Succeed())
		})

		It("should tolerate a missing document", func() {
			osServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusNotFound, map[string]any{"result": "not_found"}))
			Expect(idx.Delete(ctx, "r-1")).To(Succeed())
		})

		It("should fail on other errors", func() {
			osServer.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusForbidden, map[string]any{
				"error": map[string]any{"type": "security_exception", "reason": "no permissions"},
			}))
			Expect(idx.Delete(ctx, "r-1")).To(MatchError(ContainSubstring("security_exception")))
		})
	})

	Describe("HealthCheck", func() {
		It("should be healthy when the cluster answers", func() {
			osServer.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/_cluster/health"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"status": "green"}),
			))
			Expect(idx.HealthCheck(ctx)).To(BeTrue())
		})

		It("should be unhealthy on an error status", func() {
			osServer.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "boom"))
			Expect(idx.HealthCheck(ctx)).To(BeFalse())
		})
	})
})
