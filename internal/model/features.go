package model

import (
	"fmt"
	"net"
	"strings"

	"github.com/ndhoang/fraudguard/internal/transaction"
)

// descBuckets is the hash space for description tokens. It matches the
// bucket count used at fit time; changing it invalidates artifacts.
const descBuckets = 32

// numericValue returns the raw value of a named numeric feature.
// Unknown names score zero, which after scaling contributes only the
// centered offset.
func numericValue(name string, txn *transaction.Transaction) float64 {
	switch name {
	case "amount":
		return txn.AmountFloat()
	case "hour":
		return float64(txn.Hour())
	default:
		return 0
	}
}

// categoricalTokens projects the transaction onto the categorical token
// space the vocabulary was fitted over. Tokens absent from the
// vocabulary are simply ignored at scoring time.
func categoricalTokens(txn *transaction.Transaction) map[string]bool {
	tokens := make(map[string]bool, 8)
	add := func(key, value string) {
		if value != "" {
			tokens[key+"="+value] = true
		}
	}
	add("currency", txn.Currency)
	add("category", txn.Category)
	add("geo", txn.Geolocation)
	add("device", txn.DeviceID)
	add("ip24", ipSubnet(txn.SourceIP))
	for _, tok := range strings.Fields(strings.ToLower(txn.Description)) {
		tokens[fmt.Sprintf("desc_bucket=%d", hashBucket(tok))] = true
	}
	return tokens
}

// ipSubnet reduces an IPv4 address to its /24 network; other addresses
// map to nothing.
func ipSubnet(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ""
	}
	return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
}

// hashBucket maps a token into the description hash space (FNV-1a).
func hashBucket(tok string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(tok); i++ {
		h ^= uint32(tok[i])
		h *= 16777619
	}
	return int(h % descBuckets)
}

// vector builds the feature vector for txn in artifact order.
func (p *Params) vector(txn *transaction.Transaction) []float64 {
	x := make([]float64, 0, len(p.Numeric)+len(p.Categorical))
	for _, f := range p.Numeric {
		v := numericValue(f.Name, txn)
		if f.Stddev > 0 {
			v = (v - f.Mean) / f.Stddev
		} else {
			v = v - f.Mean
		}
		x = append(x, v)
	}
	present := categoricalTokens(txn)
	for _, entry := range p.Categorical {
		if present[entry] {
			x = append(x, 1)
		} else {
			x = append(x, 0)
		}
	}
	return x
}
