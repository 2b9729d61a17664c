// Package classifier suggests a routing tier for a ticket from its text.
// The suggestion is advisory only: nothing here transitions ticket state,
// and no caller may treat a hint as an authorization decision.
package classifier

import (
	"strings"

	"github.com/nexusedu/credit-service/internal/models"
)

var financeKeywords = []string{
	"refund", "reembolso", "estorno", "chargeback",
	"payment", "pagamento", "invoice", "fatura",
	"billing", "cobrança", "charged", "cobrado",
}

var adminKeywords = []string{
	"fraud", "fraude", "legal", "lawsuit", "processo",
	"data leak", "vazamento", "account takeover",
}

// SuggestTier scans the text for routing signals. The second return value
// is false when no signal was found.
func SuggestTier(text string) (models.Role, bool) {
	lower := strings.ToLower(text)
	for _, kw := range adminKeywords {
		if strings.Contains(lower, kw) {
			return models.RoleAdmin, true
		}
	}
	for _, kw := range financeKeywords {
		if strings.Contains(lower, kw) {
			return models.RoleFinance, true
		}
	}
	return "", false
}
