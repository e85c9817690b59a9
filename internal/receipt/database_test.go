package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func sampleReceipt(id, owner, store string, created time.Time) *Receipt {
	expiry := time.Date(2024, 1, 22, 0, 0, 0, 0, time.UTC)
	return &Receipt{
		ID:            id,
		OwnerID:       owner,
		StoreName:     store,
		PurchaseDate:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount:   decimal.RequireFromString("4700.50"),
		ImageHandle:   id + ".jpg",
		ContentType:   "image/jpeg",
		RawOCRText:    store + "\n총 4,700원",
		ProcessedData: `{"storeName":"` + store + `"}`,
		CreatedAt:     created,
		UpdatedAt:     created,
		Items: []ReceiptItem{
			{ID: id + "-i1", ReceiptID: id, Name: "콜라", Quantity: 1, UnitPrice: decimal.NewFromInt(1500), TotalPrice: decimal.NewFromInt(1500)},
			{ID: id + "-i2", ReceiptID: id, Name: "두부", Quantity: 2, UnitPrice: decimal.NewFromInt(1600), TotalPrice: decimal.NewFromInt(3200), IsIngredient: true, ExpiryDate: &expiry},
		},
	}
}

// describeDB runs the persistence contract against one DB implementation
func describeDB(name string, open func(path string) (DB, error)) {
	Describe(name, func() {
		var (
			db  DB
			ctx context.Context
		)

		base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

		BeforeEach(func() {
			var err error
			db, err = open(filepath.Join(GinkgoT().TempDir(), "test.db"))
			Expect(err).NotTo(HaveOccurred())
			ctx = context.Background()
		})

		AfterEach(func() {
			if db != nil {
				db.Close()
			}
		})

		Describe("SaveReceipt", func() {
			var (
				receipt *Receipt
				err     error
			)

			BeforeEach(func() {
				receipt = sampleReceipt("r1", "alice", "GS25 역삼점", base)
			})

			JustBeforeEach(func() {
				err = db.SaveReceipt(ctx, receipt)
			})

			When("saving succeeds", func() {
				It("should not return an error", func() {
					Expect(err).NotTo(HaveOccurred())
				})

				It("round-trips the header fields", func() {
					saved, getErr := db.GetReceipt(ctx, "r1", "alice")
					Expect(getErr).NotTo(HaveOccurred())
					Expect(saved.StoreName).To(Equal("GS25 역삼점"))
					Expect(saved.PurchaseDate).To(BeTemporally("==", receipt.PurchaseDate))
					Expect(saved.TotalAmount.Equal(receipt.TotalAmount)).To(BeTrue())
					Expect(saved.ImageHandle).To(Equal("r1.jpg"))
					Expect(saved.RawOCRText).To(Equal(receipt.RawOCRText))
					Expect(saved.ProcessedData).To(Equal(receipt.ProcessedData))
					Expect(saved.CreatedAt).To(BeTemporally("==", base))
				})

				It("round-trips the items in order", func() {
					saved, _ := db.GetReceipt(ctx, "r1", "alice")
					Expect(saved.Items).To(HaveLen(2))
					Expect(saved.Items[0].Name).To(Equal("콜라"))
					Expect(saved.Items[0].ExpiryDate).To(BeNil())
					Expect(saved.Items[1].Name).To(Equal("두부"))
					Expect(saved.Items[1].Quantity).To(Equal(2))
					Expect(saved.Items[1].TotalPrice.Equal(decimal.NewFromInt(3200))).To(BeTrue())
					Expect(saved.Items[1].IsIngredient).To(BeTrue())
					Expect(*saved.Items[1].ExpiryDate).To(BeTemporally("==", *receipt.Items[1].ExpiryDate))
				})
			})

			When("the receipt already exists", func() {
				BeforeEach(func() {
					Expect(db.SaveReceipt(ctx, sampleReceipt("r1", "alice", "Old Store", base))).To(Succeed())
					receipt.Items = receipt.Items[:1]
				})

				It("replaces the receipt and its items", func() {
					saved, getErr := db.GetReceipt(ctx, "r1", "alice")
					Expect(getErr).NotTo(HaveOccurred())
					Expect(saved.StoreName).To(Equal("GS25 역삼점"))
					Expect(saved.Items).To(HaveLen(1))
				})
			})
		})

		Describe("GetReceipt", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(ctx, sampleReceipt("r1", "alice", "GS25", base))).To(Succeed())
			})

			It("returns ErrNotFound for an unknown ID", func() {
				_, err := db.GetReceipt(ctx, "nonexistent", "alice")
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("returns ErrNotFound for another owner", func() {
				_, err := db.GetReceipt(ctx, "r1", "bob")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		Describe("ListReceipts", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(ctx, sampleReceipt("r1", "alice", "GS25", base))).To(Succeed())
				Expect(db.SaveReceipt(ctx, sampleReceipt("r2", "alice", "CU", base.Add(time.Hour)))).To(Succeed())
				Expect(db.SaveReceipt(ctx, sampleReceipt("r3", "bob", "Emart", base.Add(2*time.Hour)))).To(Succeed())
			})

			It("returns only the owner's receipts, newest first", func() {
				receipts, err := db.ListReceipts(ctx, "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(HaveLen(2))
				Expect(receipts[0].ID).To(Equal("r2"))
				Expect(receipts[1].ID).To(Equal("r1"))
			})

			It("includes items", func() {
				receipts, _ := db.ListReceipts(ctx, "alice")
				Expect(receipts[0].Items).To(HaveLen(2))
				Expect(receipts[1].Items[0].Name).To(Equal("콜라"))
			})

			It("returns an empty list for an owner without receipts", func() {
				receipts, err := db.ListReceipts(ctx, "carol")
				Expect(err).NotTo(HaveOccurred())
				Expect(receipts).To(BeEmpty())
			})
		})

		Describe("DeleteReceipt", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(ctx, sampleReceipt("r1", "alice", "GS25", base))).To(Succeed())
			})

			It("removes the receipt", func() {
				Expect(db.DeleteReceipt(ctx, "r1", "alice")).To(Succeed())
				_, err := db.GetReceipt(ctx, "r1", "alice")
				Expect(err).To(MatchError(ErrNotFound))
			})

			It("refuses another owner's receipt", func() {
				Expect(db.DeleteReceipt(ctx, "r1", "bob")).To(MatchError(ErrNotFound))
				_, err := db.GetReceipt(ctx, "r1", "alice")
				Expect(err).NotTo(HaveOccurred())
			})

			It("returns ErrNotFound for an unknown ID", func() {
				Expect(db.DeleteReceipt(ctx, "nonexistent", "alice")).To(MatchError(ErrNotFound))
			})
		})

		Describe("StoreNames", func() {
			BeforeEach(func() {
				Expect(db.SaveReceipt(ctx, sampleReceipt("r1", "alice", "GS25", base))).To(Succeed())
				Expect(db.SaveReceipt(ctx, sampleReceipt("r2", "alice", "CU", base))).To(Succeed())
				Expect(db.SaveReceipt(ctx, sampleReceipt("r3", "alice", "GS25", base))).To(Succeed())
				Expect(db.SaveReceipt(ctx, sampleReceipt("r4", "bob", "Emart", base))).To(Succeed())
			})

			It("returns distinct sorted names for the owner", func() {
				names, err := db.StoreNames(ctx, "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(names).To(Equal([]string{"CU", "GS25"}))
			})
		})
	})
}

var _ = Describe("DB", func() {
	describeDB("BoltDB", func(path string) (DB, error) {
		return NewBoltDB(path)
	})

	describeDB("SQLiteDB", func(path string) (DB, error) {
		return NewSQLiteDB(path)
	})
})

var _ = Describe("SQLiteDB", func() {
	var db *SQLiteDB

	BeforeEach(func() {
		var err error
		db, err = NewSQLiteDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		db.Close()
	})

	countItems := func() int {
		var n int
		Expect(db.db.QueryRow(`SELECT COUNT(*) FROM receipt_items`).Scan(&n)).To(Succeed())
		return n
	}

	It("cascades item rows when a receipt is deleted", func() {
		ctx := context.Background()
		Expect(db.SaveReceipt(ctx, sampleReceipt("r1", "alice", "GS25", time.Now()))).To(Succeed())
		Expect(countItems()).To(Equal(2))

		Expect(db.DeleteReceipt(ctx, "r1", "alice")).To(Succeed())
		Expect(countItems()).To(Equal(0))
	})

	It("reopens an existing database", func() {
		path := filepath.Join(GinkgoT().TempDir(), "reopen.db")
		first, err := NewSQLiteDB(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(first.SaveReceipt(context.Background(), sampleReceipt("r1", "alice", "GS25", time.Now()))).To(Succeed())
		Expect(first.Close()).To(Succeed())

		second, err := NewSQLiteDB(path)
		Expect(err).NotTo(HaveOccurred())
		defer second.Close()
		_, err = second.GetReceipt(context.Background(), "r1", "alice")
		Expect(err).NotTo(HaveOccurred())
	})
})
