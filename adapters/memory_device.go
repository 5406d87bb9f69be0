// Package adapters provides storage-layer implementations of the domain
// repositories.
package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/wicara/server/domain/entities"
	"github.com/satriahrh/wicara/server/domain/repositories"
)

// MemoryDeviceRepository is an in-memory implementation of DeviceRepository,
// the storage backend when no external database is configured.
type MemoryDeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*entities.Device // id -> device
	secrets map[string]string           // serial_number -> secret_key
	serials map[string]*entities.Device // serial_number -> device
}

var _ repositories.DeviceRepository = (*MemoryDeviceRepository)(nil)

// NewMemoryDeviceRepository creates a new in-memory device repository.
func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{
		devices: make(map[string]*entities.Device),
		secrets: make(map[string]string),
		serials: make(map[string]*entities.Device),
	}
}

// ValidateDevice validates device credentials (serial number + secret).
func (m *MemoryDeviceRepository) ValidateDevice(ctx context.Context, serialNumber, secret string) (*entities.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	storedSecret, exists := m.secrets[serialNumber]
	if !exists {
		return nil, errors.New("device not found")
	}
	if storedSecret != secret {
		return nil, errors.New("invalid credentials")
	}

	device, exists := m.serials[serialNumber]
	if !exists {
		return nil, errors.New("device not found")
	}

	deviceCopy := *device
	return &deviceCopy, nil
}

// Create registers a device together with its authentication secret.
func (m *MemoryDeviceRepository) Create(ctx context.Context, device *entities.Device, secret string) error {
	if device == nil {
		return errors.New("device cannot be nil")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if secret == "" {
		return errors.New("secret cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.serials[device.SerialNumber]; exists {
		return errors.New("device with this serial number already exists")
	}

	if device.ID == "" {
		device.ID = uuid.New().String()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	deviceCopy := *device
	m.devices[device.ID] = &deviceCopy
	m.serials[device.SerialNumber] = &deviceCopy
	m.secrets[device.SerialNumber] = secret

	return nil
}

// GetByID implements DeviceRepository.
func (m *MemoryDeviceRepository) GetByID(ctx context.Context, id string) (*entities.Device, error) {
	if id == "" {
		return nil, errors.New("device ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.devices[id]
	if !exists {
		return nil, errors.New("device not found")
	}

	deviceCopy := *device
	return &deviceCopy, nil
}

// GetBySerialNumber implements DeviceRepository.
func (m *MemoryDeviceRepository) GetBySerialNumber(ctx context.Context, serialNumber string) (*entities.Device, error) {
	if serialNumber == "" {
		return nil, errors.New("serial number cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.serials[serialNumber]
	if !exists {
		return nil, errors.New("device not found")
	}

	deviceCopy := *device
	return &deviceCopy, nil
}

// Delete removes a device and its secret.
func (m *MemoryDeviceRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("device ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	device, exists := m.devices[id]
	if !exists {
		return errors.New("device not found")
	}

	delete(m.devices, id)
	delete(m.serials, device.SerialNumber)
	delete(m.secrets, device.SerialNumber)

	return nil
}
