package sampler

import (
	"time"

	"github.com/skobkin/nvsmi-sender/internal/nvsmi"
)

// Sample is one parsed row stamped with its reconstructed collection time.
type Sample struct {
	Timestamp time.Time
	Record    nvsmi.Record
}
