package entities

import (
	"errors"
	"time"
)

// Device represents a client device allowed to open voice sessions.
type Device struct {
	ID           string    `json:"id"`
	SerialNumber string    `json:"serial_number"`
	SecretKey    string    `json:"-"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (d *Device) Validate() error {
	if d.SerialNumber == "" {
		return errors.New("serial number is required")
	}
	if d.Model == "" {
		return errors.New("model is required")
	}
	return nil
}
