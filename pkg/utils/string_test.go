package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Truncate", func() {
	It("returns the string unchanged when within the limit", func() {
		Expect(Truncate("short", 10)).To(Equal("short"))
	})

	It("returns the string unchanged when exactly at the limit", func() {
		Expect(Truncate("12345", 5)).To(Equal("12345"))
	})

	It("truncates with ellipsis when over the limit", func() {
		Expect(Truncate("this is a long string", 10)).To(Equal("this is a ..."))
	})

	It("never splits a multi-byte rune", func() {
		Expect(Truncate("héllo wörld", 7)).To(Equal("héllo w..."))
		Expect(Truncate("日本語テキスト", 3)).To(Equal("日本語..."))
	})
})

var _ = Describe("FirstLine", func() {
	It("cuts at the first newline", func() {
		Expect(FirstLine("title\nbody\nmore")).To(Equal("title"))
	})

	It("returns single-line input unchanged", func() {
		Expect(FirstLine("one line")).To(Equal("one line"))
	})
})
