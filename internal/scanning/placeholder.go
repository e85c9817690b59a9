package scanning

import (
	"strings"
	"time"
)

// PlaceholderMarker is the first line of the text recorded when no usable
// text could be read from an upload
const PlaceholderMarker = "영수증 이미지가 업로드되었습니다."

// Placeholder returns the text used in place of a failed recognition. Every
// line after the marker is shaped so Parse reads defaults.
func Placeholder(today time.Time) string {
	return strings.Join([]string{
		PlaceholderMarker,
		"매장: " + UnknownStore,
		"총액: 0원",
		"구매일: " + today.Format(dateLayout),
		"상품: 영수증 이미지 파일",
	}, "\n")
}

// IsPlaceholder reports whether text is the degraded placeholder
func IsPlaceholder(text string) bool {
	return strings.Contains(text, PlaceholderMarker)
}
