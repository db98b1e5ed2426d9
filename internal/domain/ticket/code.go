package ticket

import (
	"strings"
	"unicode"
)

// NormalizeCode приводит введенный или отсканированный код к каноническому виду:
// без пробельных и управляющих символов, без дефисов-разделителей, в верхнем регистре.
//
// Дефис внутри кода (TCK-001) сохраняется, если с обеих сторон от него стоят
// буквы или цифры; разделители вида "TCK - 001" или "TCK--001" схлопываются.
func NormalizeCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	pendingHyphen := false
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsSpace(r) || unicode.IsControl(r) || r == '\u200b' || r == '\ufeff':
			continue
		case r == '-' || r == '\u2010' || r == '\u2013':
			pendingHyphen = b.Len() > 0
		default:
			if pendingHyphen {
				b.WriteByte('-')
				pendingHyphen = false
			}
			b.WriteString(strings.ToUpper(string(r)))
		}
	}

	return b.String()
}
