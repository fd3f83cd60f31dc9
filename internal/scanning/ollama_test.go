package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
		image   []byte
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		image = []byte("\xff\xd8\xff fake jpeg")
		var err error
		scanner, err = NewOllama(OllamaConfig{BaseURL: server.URL(), Model: "llava"}, "extract the receipt", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewOllama", func() {
		It("should use a much longer timeout for analysis than for health checks", func() {
			o, err := NewOllama(OllamaConfig{}, "p", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(o.timeout).To(BeNumerically(">=", 10*o.healthTimeout))
			Expect(o.baseURL).To(Equal("http://localhost:11434"))
		})
	})

	Describe("Analyze", func() {
		var (
			doc Document
			err error
		)

		JustBeforeEach(func() {
			doc, err = scanner.Analyze(context.Background(), image, MediaJPEG)
		})

		When("the model returns JSON", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/generate"),
					func(w http.ResponseWriter, r *http.Request) {
						body, _ := io.ReadAll(r.Body)
						var req ollamaGenerateRequest
						Expect(json.Unmarshal(body, &req)).To(Succeed())
						Expect(req.Model).To(Equal("llava"))
						Expect(req.Prompt).To(Equal("extract the receipt"))
						Expect(req.Format).To(Equal("json"))
						Expect(req.Stream).To(BeFalse())
						Expect(req.Images).To(ConsistOf(base64.StdEncoding.EncodeToString(image)))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaGenerateResponse{
						Response: `{"totals": {"grand_total": 12.5}}`,
						Done:     true,
					}),
				))
			})

			It("should return the document", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc).To(HaveKeyWithValue("totals", HaveKeyWithValue("grand_total", 12.5)))
			})
		})

		When("the model wraps JSON in prose", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaGenerateResponse{
					Response: "Here you go:\n{\"items\": []}\nThanks",
				}))
			})

			It("should extract the object", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(doc).To(HaveKey("items"))
			})
		})

		When("the model returns nothing", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaGenerateResponse{Response: ""}))
			})

			It("returns ErrEmptyResponse", func() {
				Expect(err).To(MatchError(ErrEmptyResponse))
			})
		})

		When("the model returns prose only", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaGenerateResponse{Response: "blurry image"}))
			})

			It("returns ErrMalformedResponse", func() {
				Expect(err).To(MatchError(ErrMalformedResponse))
			})
		})

		When("the server rejects the credentials", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"error": "unauthorized"}`))
			})

			It("returns ErrAuthentication", func() {
				Expect(err).To(MatchError(ErrAuthentication))
				Expect(Retryable(err)).To(BeFalse())
			})
		})

		When("the server is throttling", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, `{"error": "slow down"}`))
			})

			It("returns ErrRateLimit", func() {
				Expect(err).To(MatchError(ErrRateLimit))
				Expect(Retryable(err)).To(BeTrue())
			})
		})

		When("the server fails", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error": "model not found"}`))
			})

			It("returns ErrAPI with the server message", func() {
				Expect(err).To(MatchError(ErrAPI))
				Expect(err.Error()).To(ContainSubstring("model not found"))
			})
		})

		When("the request times out", func() {
			BeforeEach(func() {
				scanner.timeout = 50 * time.Millisecond
				server.AppendHandlers(func(w http.ResponseWriter, r *http.Request) {
					time.Sleep(200 * time.Millisecond)
				})
			})

			It("returns ErrAPI", func() {
				Expect(err).To(MatchError(ErrAPI))
			})
		})

	})

	Describe("Analyze with a PDF", func() {
		When("rasterization is unavailable", func() {
			It("fails before calling the model", func() {
				_, err := scanner.Analyze(context.Background(), []byte("%PDF-1.4"), MediaPDF)
				Expect(err).To(MatchError(ErrRasterizationUnavailable))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})

		When("a rasterizer is configured", func() {
			BeforeEach(func() {
				scanner.rasterizer = fakeRasterizer{png: []byte("png page")}
				server.AppendHandlers(ghttp.CombineHandlers(
					func(w http.ResponseWriter, r *http.Request) {
						var req ollamaGenerateRequest
						Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
						Expect(req.Images).To(ConsistOf(base64.StdEncoding.EncodeToString([]byte("png page"))))
					},
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaGenerateResponse{Response: `{"ok": true}`}),
				))
			})

			It("sends the rendered page", func() {
				doc, err := scanner.Analyze(context.Background(), []byte("%PDF-1.4"), MediaPDF)
				Expect(err).NotTo(HaveOccurred())
				Expect(doc).To(HaveKeyWithValue("ok", true))
			})
		})
	})

	Describe("HealthCheck", func() {
		When("the server lists its models", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/api/tags"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"models": []any{}}),
				))
			})

			It("should report healthy", func() {
				Expect(scanner.HealthCheck(context.Background())).To(BeTrue())
			})
		})

		When("the server errors", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, ""))
			})

			It("should report unhealthy", func() {
				Expect(scanner.HealthCheck(context.Background())).To(BeFalse())
			})
		})

		When("the server is unreachable", func() {
			It("should report unhealthy without an error", func() {
				o, _ := NewOllama(OllamaConfig{BaseURL: "http://127.0.0.1:1"}, "p", nil)
				Expect(o.HealthCheck(context.Background())).To(BeFalse())
			})
		})
	})
})
