package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel is returned when a device name matches no supported sensor.
var ErrUnknownModel = errors.New("unsupported sensor model")

// Model is a supported sensor family.
type Model string

const (
	ModelPolarH10  Model = "PolarH10"
	ModelCL800     Model = "CL800"
	ModelSmartBelt Model = "SmartBelt"
)

// ParseModel accepts either a canonical model name or an advertised BLE
// device name such as "Polar H10 A1B2C3D4".
func ParseModel(name string) (Model, error) {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	switch {
	case strings.HasPrefix(n, "polarh10"):
		return ModelPolarH10, nil
	case strings.HasPrefix(n, "cl800"):
		return ModelCL800, nil
	case strings.HasPrefix(n, "smartbelt"):
		return ModelSmartBelt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

// HasPMD reports whether the model streams accelerometer data over PMD.
func (m Model) HasPMD() bool {
	return m == ModelPolarH10
}

// GATT characteristic short UUIDs read for device information.
const (
	CharManufacturer = "2a29"
	CharModelNumber  = "2a24"
	CharSerialNumber = "2a25"
	CharHardwareRev  = "2a27"
	CharFirmwareRev  = "2a26"
	CharSoftwareRev  = "2a28"
	CharBatteryLevel = "2a19"
	CharHeartRate    = "2a37"
)

// DeviceInfoCharacteristics lists the characteristics DeviceInfo understands.
var DeviceInfoCharacteristics = []string{
	CharManufacturer,
	CharModelNumber,
	CharSerialNumber,
	CharHardwareRev,
	CharFirmwareRev,
	CharSoftwareRev,
	CharBatteryLevel,
}

// PMD control point requests that start the accelerometer (200 Hz, 16 bit,
// 8 G range) and ECG (130 Hz, 14 bit) streams.
var (
	ACCStartRequest = []byte{0x02, 0x02, 0x00, 0x01, 0xC8, 0x00, 0x01, 0x01, 0x10, 0x00, 0x02, 0x01, 0x08, 0x00}
	ECGStartRequest = []byte{0x02, 0x00, 0x00, 0x01, 0x82, 0x00, 0x01, 0x01, 0x0E, 0x00}
)

// DeviceInfo is informational metadata read from the sensor once after
// connecting.
type DeviceInfo struct {
	Address      string `json:"address,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Serial       string `json:"serial,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
	Hardware     string `json:"hardware,omitempty"`
	Software     string `json:"software,omitempty"`
	Battery      int    `json:"battery_percent"`
}

// Set stores the raw value of one device information characteristic.
func (d *DeviceInfo) Set(char string, value []byte) error {
	s := strings.TrimRight(string(value), "\x00")
	switch strings.ToLower(char) {
	case CharManufacturer:
		d.Manufacturer = s
	case CharModelNumber:
		d.Model = s
	case CharSerialNumber:
		d.Serial = s
	case CharHardwareRev:
		d.Hardware = s
	case CharFirmwareRev:
		d.Firmware = s
	case CharSoftwareRev:
		d.Software = s
	case CharBatteryLevel:
		if len(value) != 1 {
			return fmt.Errorf("battery level: expected 1 byte, got %d", len(value))
		}
		d.Battery = int(value[0])
	default:
		return fmt.Errorf("unknown device information characteristic %q", char)
	}
	return nil
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s %s (serial %s, fw %s, hw %s, sw %s, battery %d%%)",
		d.Manufacturer, d.Model, d.Serial, d.Firmware, d.Hardware, d.Software, d.Battery)
}
