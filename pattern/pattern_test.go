package pattern_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rawdiag/pattern"
)

var _ = Describe("Lookup", func() {
	DescribeTable("pass counts",
		func(name string, passes int) {
			p, err := pattern.Lookup(name)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Passes).To(HaveLen(passes))
			Expect(p.Version).To(Equal(pattern.TableVersion))
		},
		Entry("quick", "quick", 1),
		Entry("standard", "standard", 1),
		Entry("doe", "doe", 3),
		Entry("dod", "dod", 7),
		Entry("gutmann", "gutmann", 35),
		Entry("alias", "Gutmann35", 35),
	)

	It("is deterministic", func() {
		a, _ := pattern.Lookup("gutmann")
		b, _ := pattern.Lookup("gutmann")
		Expect(a).To(Equal(b))
	})

	It("returns copies that cannot alter the table", func() {
		a, _ := pattern.Lookup("quick")
		a.Passes[0].Bytes[0] = 0x42
		b, _ := pattern.Lookup("quick")
		Expect(b.Passes[0].Bytes).To(Equal([]byte{0x00}))
	})

	It("uses the published Gutmann layout", func() {
		p, _ := pattern.Lookup("gutmann")
		for _, i := range []int{0, 1, 2, 3, 31, 32, 33, 34} {
			Expect(p.Passes[i].Kind).To(Equal(pattern.Random), "pass %d", i+1)
		}
		Expect(p.Passes[4].String()).To(Equal("0x55"))
		Expect(p.Passes[6].String()).To(Equal("0x92 0x49 0x24"))
		Expect(p.Passes[9].String()).To(Equal("0x00"))
		Expect(p.Passes[24].String()).To(Equal("0xFF"))
		Expect(p.Passes[30].String()).To(Equal("0xDB 0x6D 0xB6"))
	})

	It("uses random, zero, random for DoE", func() {
		p, _ := pattern.Lookup("doe")
		Expect(p.Passes[0].Kind).To(Equal(pattern.Random))
		Expect(p.Passes[1].String()).To(Equal("0x00"))
		Expect(p.Passes[2].Kind).To(Equal(pattern.Random))
	})

	It("rejects unknown names", func() {
		_, err := pattern.Lookup("schneier")
		Expect(err).To(MatchError(ContainSubstring("unknown erase pattern")))
	})

	It("orders names by pass count", func() {
		Expect(pattern.Names()).To(Equal([]string{"quick", "standard", "doe", "dod", "gutmann"}))
	})
})

var _ = Describe("Filler", func() {
	It("fills fixed passes", func() {
		f, err := pattern.NewFiller(pattern.Pass{Kind: pattern.Fixed, Bytes: []byte{0xAA}})
		Expect(err).NotTo(HaveOccurred())
		buf := make([]byte, 64)
		f.Fill(buf, 0)
		Expect(buf).To(Equal(bytes.Repeat([]byte{0xAA}, 64)))
	})

	It("keeps sequences aligned to device offsets across chunks", func() {
		f, _ := pattern.NewFiller(pattern.Pass{Kind: pattern.Sequence, Bytes: []byte{0x92, 0x49, 0x24}})
		a := make([]byte, 4)
		b := make([]byte, 4)
		f.Fill(a, 0)
		f.Fill(b, 4)
		Expect(append(a, b...)).To(Equal([]byte{0x92, 0x49, 0x24, 0x92, 0x49, 0x24, 0x92, 0x49}))
	})

	It("produces a fresh stream per random pass", func() {
		f1, _ := pattern.NewFiller(pattern.Pass{Kind: pattern.Random})
		f2, _ := pattern.NewFiller(pattern.Pass{Kind: pattern.Random})
		a := make([]byte, 256)
		b := make([]byte, 256)
		f1.Fill(a, 0)
		f2.Fill(b, 0)
		Expect(a).NotTo(Equal(b))
		Expect(a).NotTo(Equal(make([]byte, 256)))
	})
})
