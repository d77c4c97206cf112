package common

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateReference returns a provider-safe unique reference such as "RDM-3F2A9C1B7D4E".
func GenerateReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:16]
}
