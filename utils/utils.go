package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func ComposeTableName(schema string, tableName string) string {
	if schema != "" {
		return fmt.Sprintf("%s.%s", schema, tableName)
	}
	return tableName
}

// Fingerprint identifies one step execution for idempotency purposes. The
// same alert, playbook, step index and target always map to the same key.
func Fingerprint(alertID, playbookID string, stepIndex int, target string) string {
	h := sha256.New()
	h.Write([]byte(fmt.Sprintf("%s|%s|%d|%s", alertID, playbookID, stepIndex, target)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeEntityRef lowercases hex addresses through their checksummed form
// so the same account never produces two fingerprints. Non-address refs are
// passed through unchanged.
func NormalizeEntityRef(ref string) string {
	if common.IsHexAddress(ref) {
		return strings.ToLower(common.HexToAddress(ref).Hex())
	}
	return ref
}
