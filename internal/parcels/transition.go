package parcels

import (
	"errors"
	"fmt"
	"time"
)

var errBackwardsTransition = errors.New("a collected package cannot return to arrived")

// statusTransition captures the decision from resolveStatusChange.
type statusTransition struct {
	Apply       bool
	Status      Status
	CollectedAt *time.Time
	AuditRecord *ActivityLog
}

// resolveStatusChange decides whether moving existing to requested needs a write.
// Status only moves arrived -> collected; repeating the current status is a no-op.
func resolveStatusChange(existing *Package, requested Status, appliedAt time.Time) (statusTransition, error) {
	if existing == nil {
		return statusTransition{}, errors.New("package is required")
	}

	current := existing.Status
	if current == "" {
		current = StatusArrived
	}

	if current == requested {
		return statusTransition{
			Apply:       false,
			Status:      current,
			CollectedAt: existing.CollectedAt,
		}, nil
	}

	switch {
	case current == StatusArrived && requested == StatusCollected:
		collectedAt := appliedAt.UTC()
		packageID := existing.ID
		return statusTransition{
			Apply:       true,
			Status:      StatusCollected,
			CollectedAt: &collectedAt,
			AuditRecord: &ActivityLog{
				PackageID: &packageID,
				Action:    ActionCollected,
				Description: fmt.Sprintf("Package %s for %s collected",
					existing.ItemDescription, existing.RecipientName),
				CreatedAt: collectedAt,
			},
		}, nil
	case current == StatusCollected && requested == StatusArrived:
		return statusTransition{}, errBackwardsTransition
	default:
		return statusTransition{}, fmt.Errorf("unsupported transition %s -> %s", current, requested)
	}
}
