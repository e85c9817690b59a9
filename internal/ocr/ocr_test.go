package ocr

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/receiptrecipe/receipts/internal/scanning"
)

// mockEngine is a mock implementation of Engine
type mockEngine struct {
	fragments []string
	detectErr error
	block     bool
	images    [][]byte
}

func (m *mockEngine) DetectText(ctx context.Context, image []byte) ([]string, error) {
	m.images = append(m.images, image)
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.detectErr != nil {
		return nil, m.detectErr
	}
	return m.fragments, nil
}

func (m *mockEngine) Close() error {
	return nil
}

// mockSource is a mock implementation of ImageSource
type mockSource struct {
	files  map[string][]byte
	getErr error
}

func (m *mockSource) Get(_ context.Context, handle string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.files[handle]
	if !ok {
		return nil, errors.New("file not found")
	}
	return data, nil
}

var _ = Describe("Acquirer", func() {
	var (
		engine   *mockEngine
		source   *mockSource
		acquirer *Acquirer
		timeout  time.Duration
		handle   string
		text     string
	)

	today := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	BeforeEach(func() {
		engine = &mockEngine{fragments: []string{"  GS25 역삼점 ", "", "콜라 1,500원", "총 1,500원"}}
		source = &mockSource{files: map[string][]byte{"receipt.png": []byte("image bytes")}}
		timeout = time.Second
		handle = "receipt.png"
	})

	JustBeforeEach(func() {
		acquirer = NewAcquirerWithClock(engine, source, timeout, func() time.Time { return today })
		text = acquirer.Acquire(context.Background(), handle)
	})

	When("the engine recognizes text", func() {
		It("passes the stored bytes to the engine", func() {
			Expect(engine.images).To(Equal([][]byte{[]byte("image bytes")}))
		})

		It("joins trimmed non-empty fragments with newlines", func() {
			Expect(text).To(Equal("GS25 역삼점\n콜라 1,500원\n총 1,500원"))
		})
	})

	When("the engine fails", func() {
		BeforeEach(func() {
			engine.detectErr = errors.New("engine crashed")
		})

		It("returns the placeholder", func() {
			Expect(text).To(Equal(scanning.Placeholder(today)))
		})
	})

	When("the engine finds nothing", func() {
		BeforeEach(func() {
			engine.fragments = []string{" ", ""}
		})

		It("returns the placeholder", func() {
			Expect(scanning.IsPlaceholder(text)).To(BeTrue())
		})
	})

	When("the upload cannot be read", func() {
		BeforeEach(func() {
			handle = "missing.png"
		})

		It("returns the placeholder without calling the engine", func() {
			Expect(scanning.IsPlaceholder(text)).To(BeTrue())
			Expect(engine.images).To(BeEmpty())
		})
	})

	When("the engine does not answer in time", func() {
		BeforeEach(func() {
			engine.block = true
			timeout = 20 * time.Millisecond
		})

		It("returns the placeholder", func() {
			Expect(scanning.IsPlaceholder(text)).To(BeTrue())
		})
	})

	When("no engine is configured", func() {
		It("returns the placeholder", func() {
			acquirer = NewAcquirerWithClock(nil, source, timeout, func() time.Time { return today })
			Expect(acquirer.Acquire(context.Background(), handle)).To(Equal(scanning.Placeholder(today)))
		})
	})
})
