package scanning

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Parser", func() {
	var (
		parser *Parser
		text   string
		draft  Draft
	)

	today := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

	BeforeEach(func() {
		parser = NewParserWithClock(func() time.Time { return today })
	})

	JustBeforeEach(func() {
		draft = parser.Parse(text)
	})

	When("parsing a typical convenience store receipt", func() {
		BeforeEach(func() {
			text = "GS25 강남점\n" +
				"2024-03-02 14:31\n" +
				"콜라 1,500원\n" +
				"삼각김밥 1,200원\n" +
				"과자 2,000원\n" +
				"총 4,700원\n"
		})

		It("takes the first qualifying line as the store name", func() {
			Expect(draft.StoreName).To(Equal("GS25 강남점"))
		})

		It("reads the purchase date from the text", func() {
			Expect(draft.PurchaseDate).To(Equal("2024-03-02"))
		})

		It("reads the total from the total line", func() {
			Expect(draft.TotalAmount.Equal(decimal.NewFromInt(4700))).To(BeTrue())
		})

		It("reads priced items in order", func() {
			Expect(draft.Items).To(HaveLen(3))
			Expect(draft.Items[0].Name).To(Equal("콜라"))
			Expect(draft.Items[0].UnitPrice.Equal(decimal.NewFromInt(1500))).To(BeTrue())
			Expect(draft.Items[0].TotalPrice.Equal(decimal.NewFromInt(1500))).To(BeTrue())
			Expect(draft.Items[0].Quantity).To(Equal(1))
			Expect(draft.Items[1].Name).To(Equal("삼각김밥"))
			Expect(draft.Items[2].Name).To(Equal("과자"))
		})
	})

	When("the total line differs from the sum of the items", func() {
		BeforeEach(func() {
			text = "행복마트 본점\n" +
				"사과 3,000원\n" +
				"우유 2,500원\n" +
				"식빵 4,200원\n" +
				"합계 9,000원\n"
		})

		It("keeps the printed total", func() {
			Expect(draft.TotalAmount.Equal(decimal.NewFromInt(9000))).To(BeTrue())
			Expect(draft.Items).To(HaveLen(3))
		})
	})

	When("a total line uses thousands separators", func() {
		BeforeEach(func() {
			text = "총 10,500원"
		})

		It("parses the amount", func() {
			Expect(draft.TotalAmount.Equal(decimal.NewFromInt(10500))).To(BeTrue())
		})

		It("does not treat it as an item", func() {
			Expect(draft.Items).To(BeEmpty())
		})
	})

	When("several lines look like totals", func() {
		BeforeEach(func() {
			text = "Corner Shop\n합계 3,000원\n결제 5,000원\nTOTAL 9,999원"
		})

		It("keeps the first total", func() {
			Expect(draft.TotalAmount.Equal(decimal.NewFromInt(3000))).To(BeTrue())
			Expect(draft.Items).To(BeEmpty())
		})
	})

	When("a total line has no number", func() {
		BeforeEach(func() {
			text = "Corner Shop\n총 금액\n합계 2,500원"
		})

		It("keeps looking for a parsable total", func() {
			Expect(draft.TotalAmount.Equal(decimal.NewFromInt(2500))).To(BeTrue())
		})
	})

	When("an item line has several name tokens", func() {
		BeforeEach(func() {
			text = "서울우유 1L 2,980원"
		})

		It("joins the name tokens and keeps the price", func() {
			Expect(draft.Items).To(HaveLen(1))
			Expect(draft.Items[0].Name).To(Equal("서울우유 1L"))
			Expect(draft.Items[0].TotalPrice.Equal(decimal.NewFromInt(2980))).To(BeTrue())
		})
	})

	When("an amount line has no name or a zero price", func() {
		BeforeEach(func() {
			text = "Corner Shop\n1,000원\n봉투 0원"
		})

		It("skips it", func() {
			Expect(draft.Items).To(BeEmpty())
		})
	})

	When("an amount line is too short to carry a name and a price", func() {
		BeforeEach(func() {
			text = "Corner Shop\na1원"
		})

		It("records it as a zero-priced item", func() {
			Expect(draft.Items).To(HaveLen(1))
			Expect(draft.Items[0].Name).To(Equal("a1원"))
			Expect(draft.Items[0].TotalPrice.IsZero()).To(BeTrue())
		})
	})

	When("a line names an item without a price", func() {
		BeforeEach(func() {
			text = "Corner Shop\n바나나우유\n주소 서울시 강남구\n전화 02-123-4567\nab"
		})

		It("adds a zero-priced item", func() {
			Expect(draft.Items).To(HaveLen(1))
			Expect(draft.Items[0].Name).To(Equal("바나나우유"))
			Expect(draft.Items[0].Quantity).To(Equal(1))
			Expect(draft.Items[0].TotalPrice.IsZero()).To(BeTrue())
		})
	})

	When("no line qualifies as a store name", func() {
		BeforeEach(func() {
			text = "영수증\n콜라 1,500원"
		})

		It("uses Unknown Store", func() {
			Expect(draft.StoreName).To(Equal(UnknownStore))
		})
	})

	When("the text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns only defaults", func() {
			Expect(draft.StoreName).To(Equal(UnknownStore))
			Expect(draft.PurchaseDate).To(Equal("2024-03-05"))
			Expect(draft.TotalAmount.IsZero()).To(BeTrue())
			Expect(draft.Items).NotTo(BeNil())
			Expect(draft.Items).To(BeEmpty())
		})
	})

	When("the text is the OCR placeholder", func() {
		BeforeEach(func() {
			text = "영수증 이미지가 업로드되었습니다.\n" +
				"매장: Unknown Store\n" +
				"총액: 0원\n" +
				"구매일: 2024-03-05\n" +
				"상품: 영수증 이미지 파일"
		})

		It("returns only defaults", func() {
			Expect(draft.StoreName).To(Equal(UnknownStore))
			Expect(draft.PurchaseDate).To(Equal("2024-03-05"))
			Expect(draft.TotalAmount.IsZero()).To(BeTrue())
			Expect(draft.Items).To(BeEmpty())
		})
	})

	When("a date-like string is not a real date", func() {
		BeforeEach(func() {
			text = "Corner Shop\n2024-13-45"
		})

		It("keeps today", func() {
			Expect(draft.PurchaseDate).To(Equal("2024-03-05"))
		})
	})

	It("returns the same draft for the same text", func() {
		text = "GS25 강남점\n콜라 1,500원\n총 1,500원"
		first, err := json.Marshal(parser.Parse(text))
		Expect(err).NotTo(HaveOccurred())
		second, err := json.Marshal(parser.Parse(text))
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
	})
})

var _ = Describe("parseAmount", func() {
	It("strips currency markers and separators", func() {
		amount, ok := parseAmount("₩12,345원")
		Expect(ok).To(BeTrue())
		Expect(amount.Equal(decimal.NewFromInt(12345))).To(BeTrue())
	})

	It("keeps decimals", func() {
		amount, ok := parseAmount("12.50원")
		Expect(ok).To(BeTrue())
		Expect(amount.String()).To(Equal("12.5"))
	})

	It("rejects text without digits", func() {
		_, ok := parseAmount("원")
		Expect(ok).To(BeFalse())
	})

	It("rejects malformed numbers", func() {
		_, ok := parseAmount("1.2.3원")
		Expect(ok).To(BeFalse())
	})
})
