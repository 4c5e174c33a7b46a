package validation

import (
	"fmt"
	"regexp"

	"github.com/iudanet/causaltree/internal/models"
)

// ChannelTypePattern допустимый формат типа канала: строчные латинские буквы и цифры, 1-32 символа
var ChannelTypePattern = regexp.MustCompile(`^[a-z][a-z0-9]{0,31}$`)

// ChannelIDPattern допустимый формат имени канала.
// Латинские буквы, цифры, '_', '-', '.'; без '/' и glob-символов, чтобы ключ "type/id"
// однозначно разбирался и совпадал с шаблонами правил доступа.
var ChannelIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// DeviceNamePattern допустимый формат имени устройства
var DeviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	// MaxChannelIDLen максимальная длина имени канала
	MaxChannelIDLen = 128
	// MaxDeviceNameLen максимальная длина имени устройства
	MaxDeviceNameLen = 64
)

// ValidateChannel проверяет тип и имя канала
func ValidateChannel(info models.ChannelInfo) error {
	if info.Type == "" {
		return fmt.Errorf("channel type cannot be empty")
	}
	if !ChannelTypePattern.MatchString(info.Type) {
		return fmt.Errorf("channel type can only contain lowercase letters and digits and must start with a letter")
	}

	if info.ID == "" {
		return fmt.Errorf("channel id cannot be empty")
	}
	if len(info.ID) > MaxChannelIDLen {
		return fmt.Errorf("channel id must not exceed %d characters", MaxChannelIDLen)
	}
	if info.ID == "." || info.ID == ".." {
		return fmt.Errorf("channel id %q is reserved", info.ID)
	}
	if !ChannelIDPattern.MatchString(info.ID) {
		return fmt.Errorf("channel id can only contain letters, numbers, '_', '-' and '.'")
	}

	return nil
}

// ValidateDeviceName проверяет имя устройства
func ValidateDeviceName(name string) error {
	if name == "" {
		return fmt.Errorf("device name cannot be empty")
	}
	if len(name) > MaxDeviceNameLen {
		return fmt.Errorf("device name must not exceed %d characters", MaxDeviceNameLen)
	}
	if !DeviceNamePattern.MatchString(name) {
		return fmt.Errorf("device name can only contain letters, numbers, '_' and '-'")
	}
	return nil
}
