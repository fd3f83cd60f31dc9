package receipt

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalArchive", func() {
	var (
		tmpDir  string
		archive *LocalArchive
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		archive, err = NewLocalArchive(filepath.Join(tmpDir, "originals"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Put", func() {
		It("should write the file to disk", func() {
			Expect(archive.Put("abc.jpg", []byte("image"))).To(Succeed())
			Expect(filepath.Join(tmpDir, "originals", "abc.jpg")).To(BeAnExistingFile())
		})

		It("should reject names that leave the directory", func() {
			Expect(archive.Put("../escape.jpg", []byte("x"))).NotTo(Succeed())
			Expect(archive.Put("nested/file.jpg", []byte("x"))).NotTo(Succeed())
			Expect(filepath.Join(tmpDir, "escape.jpg")).NotTo(BeAnExistingFile())
		})
	})

	Describe("Get", func() {
		When("file exists", func() {
			BeforeEach(func() {
				Expect(archive.Put("abc.jpg", []byte("test file content"))).To(Succeed())
			})

			It("should return the file data", func() {
				data, err := archive.Get("abc.jpg")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("test file content"))
			})
		})

		When("file does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := archive.Get("missing.jpg")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("Delete", func() {
		When("file exists", func() {
			BeforeEach(func() {
				Expect(archive.Put("abc.jpg", []byte("x"))).To(Succeed())
			})

			It("should remove it", func() {
				Expect(archive.Delete("abc.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "originals", "abc.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("file does not exist", func() {
			It("should return an error", func() {
				Expect(archive.Delete("missing.jpg")).NotTo(Succeed())
			})
		})
	})
})
