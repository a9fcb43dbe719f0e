// Package reference извлекает ссылку на эскроу из платёжных событий.
package reference

import (
	"regexp"
	"strings"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
)

var pattern = regexp.MustCompile(`(?i)ESC-\d{8}`)

// FromText возвращает первую ссылку вида ESC-12345678 из произвольного текста.
// Результат приводится к верхнему регистру. Пустая строка означает, что ссылки нет.
func FromText(text string) string {
	match := pattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.ToUpper(match)
}

// Extract возвращает ссылку на эскроу из события. Структурированное поле имеет
// приоритет над текстом назначения платежа.
func Extract(evt model.PaymentEvent) string {
	if ref := strings.TrimSpace(evt.MerchantRef); ref != "" {
		return ref
	}
	return FromText(evt.Description)
}
