package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	OwnerStatusActive   = "ACTIVE"
	OwnerStatusInactive = "INACTIVE"
)

type Owner struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Name      string
	Status    string
}

func (o Owner) IsActive() bool {
	return o.Status == OwnerStatusActive
}
