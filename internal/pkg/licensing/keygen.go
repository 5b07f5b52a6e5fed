package licensing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/licensefox/licensefox/app/models"
)

// Tier-coded key prefixes. The prefix is for human recognizability only and
// carries no security meaning.
var tierPrefixes = map[string]string{
	models.LicenseTierTrial:      "TRIAL",
	models.LicenseTierStandard:   "STD",
	models.LicenseTierEnterprise: "ENT",
}

// GenerateKey produces a license key of the form PREFIX-XXXX-XXXX-XXXX-XXXX
// with a uuid-derived suffix. Uniqueness is the caller's problem (collision
// check against the license table).
func GenerateKey(tier string) (string, error) {
	prefix, ok := tierPrefixes[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return "", fmt.Errorf("unknown license tier %q", tier)
	}

	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	parts := []string{prefix}
	for i := 0; i < 16; i += 4 {
		parts = append(parts, raw[i:i+4])
	}
	return strings.Join(parts, "-"), nil
}
