package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("New", func() {
	It("builds the Ollama adapter", func() {
		s, err := New(ProviderOllama, Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&Ollama{}))
		Expect(s.(*Ollama).prompt).To(Equal(DefaultPrompt()))
	})

	It("builds the OpenAI adapter with a custom prompt", func() {
		s, err := New(ProviderOpenAI, Config{Prompt: "custom", OpenAI: OpenAIConfig{APIKey: "k"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(BeAssignableToTypeOf(&OpenAI{}))
		Expect(s.(*OpenAI).prompt).To(Equal("custom"))
	})

	It("passes construction errors through", func() {
		_, err := New(ProviderGemini, Config{})
		Expect(err).To(MatchError(ErrAuthentication))
	})

	It("returns a fresh instance on every call", func() {
		a, err := New(ProviderOllama, Config{})
		Expect(err).NotTo(HaveOccurred())
		b, err := New(ProviderOllama, Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).NotTo(BeIdenticalTo(b))
	})

	It("rejects unknown providers", func() {
		_, err := New(Provider("claude"), Config{})
		Expect(err).To(MatchError(ErrUnsupportedProvider))
		Expect(err.Error()).To(ContainSubstring("claude"))
	})
})

var _ = Describe("ParseProvider", func() {
	It("accepts every supported provider", func() {
		for _, p := range Providers {
			got, err := ParseProvider(string(p))
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(p))
		}
	})

	It("rejects anything else", func() {
		_, err := ParseProvider("bedrock")
		Expect(err).To(MatchError(ErrUnsupportedProvider))
	})
})
