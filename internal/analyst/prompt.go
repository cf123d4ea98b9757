package analyst

import (
	"fmt"
	"strings"
	"time"

	"github.com/ndhoang/fraudguard/internal/profile"
	"github.com/ndhoang/fraudguard/internal/transaction"
)

const systemPrompt = `You are a fraud analyst for a payments platform. Judge whether the new transaction is fraudulent given the user's behavioral profile and recent history.

Respond with ONLY a JSON object, no prose, in exactly this shape:
{
  "fraud_score": <number 0-100, the mean of the detail scores>,
  "fraud_decision": <true if fraudulent>,
  "fraud_reason": "<one sentence summary>",
  "fraud_details": [
    {"type": "<factor name>", "fraud_score": <number 0-100>, "message": "<explanation>"}
  ],
  "fraud_suggestions": "<advice for the account holder>",
  "alert": {
    "is_alert": <true if the user should be alerted>,
    "alert_message": "<short alert text>",
    "alert_details": "<what happened>",
    "alert_suggestions": "<what the user should do>"
  }
}
Each detail type must appear at most once and fraud_score must equal the mean of the detail scores.`

// BuildPrompt renders the user prompt: profile summary, recent history,
// then the transaction under review.
func BuildPrompt(p *profile.Baseline, history []*transaction.Transaction, txn *transaction.Transaction) string {
	var b strings.Builder

	b.WriteString("## User profile\n")
	if p.IsColdStart() {
		b.WriteString("New user, no established behavioral profile.\n")
	} else {
		fmt.Fprintf(&b, "Known locations: %s\n", orNone(p.Locations))
		fmt.Fprintf(&b, "Known devices: %s\n", orNone(p.Devices))
		fmt.Fprintf(&b, "Usual categories: %s\n", orNone(p.Categories))
		fmt.Fprintf(&b, "Known source IPs: %s\n", orNone(p.IPs))
		fmt.Fprintf(&b, "Average amount: %.2f\n", p.AvgAmount)
		fmt.Fprintf(&b, "Typically active hours: %v\n", p.TypicalHours)
		fmt.Fprintf(&b, "Transactions observed: %d\n", p.TxCount)
	}

	b.WriteString("\n## Recent transactions (newest first)\n")
	if len(history) == 0 {
		b.WriteString("None.\n")
	}
	for _, h := range history {
		writeTxnLine(&b, h)
	}

	b.WriteString("\n## Transaction under review\n")
	writeTxnLine(&b, txn)
	return b.String()
}

func writeTxnLine(b *strings.Builder, t *transaction.Transaction) {
	fmt.Fprintf(b, "- %s %s %s category=%q location=%q device=%q ip=%s desc=%q\n",
		t.Timestamp.UTC().Format(time.RFC3339),
		t.Amount.String(), t.Currency,
		t.Category, t.Geolocation, t.DeviceID, t.SourceIP, t.Description)
}

func orNone(set []string) string {
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, ", ")
}
