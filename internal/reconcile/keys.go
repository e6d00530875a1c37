package reconcile

import (
	"strings"

	"comisioane/internal/core"
	"comisioane/internal/matching"
)

const keySep = "|"

// Natural keys are derived only from stable inputs. The sales-rep key
// includes the upstream commission record id, which is itself unique per
// payee and period.

func SalesRepKey(commissionID, project string) string {
	return joinKey(string(core.KindSalesRep), commissionID, project)
}

func PersonKey(kind core.Kind, role core.Role, payeeName, project string, period core.Period) string {
	return joinKey(string(kind), role.String(), payeeName, project, period.Key())
}

func FeeKey(method, project string, period core.Period) string {
	return joinKey(string(core.KindPaymentFee), method, project, period.Key())
}

func AdSpendKey(project string, period core.Period) string {
	return joinKey(string(core.KindAdSpend), project, period.Key())
}

// NormalizeKey brings keys written by older runs or by hand to the form
// joinKey produces, so equivalent keys compare equal.
func NormalizeKey(key string) string {
	parts := strings.Split(key, keySep)
	return joinKey(parts...)
}

func joinKey(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = matching.Normalize(p)
	}
	return strings.Join(out, keySep)
}
