package repositories

import (
	"context"

	"github.com/satriahrh/wicara/server/domain/entities"
)

// DeviceRepository defines data access methods for devices.
type DeviceRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Device, error)
	GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error)
	// ValidateDevice validates device credentials for authentication.
	ValidateDevice(ctx context.Context, serialNumber, secret string) (*entities.Device, error)
}
