package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainFact    = "prodsys/fact/v1"
	DomainRuleSet = "prodsys/ruleset/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactKey computes the duplicate-detection key of a fact: its qualified
// template name and its values in slot order. Facts with equal keys are
// duplicates.
func FactKey(template string, values []Value) (string, error) {
	canonical, err := MarshalCanonicalValues(values)
	if err != nil {
		return "", fmt.Errorf("FactKey: %w", err)
	}
	data := make([]byte, 0, len(template)+1+len(canonical))
	data = append(data, template...)
	data = append(data, 0x00)
	data = append(data, canonical...)
	return hashWithDomain(DomainFact, data), nil
}

// RuleSetHash identifies a set of construct texts, in order. Journal runs
// record it so traces can be matched to the constructs that produced them.
func RuleSetHash(constructs []string) string {
	var data []byte
	for _, c := range constructs {
		data = append(data, c...)
		data = append(data, 0x00)
	}
	return hashWithDomain(DomainRuleSet, data)
}
