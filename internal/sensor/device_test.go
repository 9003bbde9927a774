package sensor

import (
	"errors"
	"testing"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		in   string
		want Model
	}{
		{"Polar H10 A1B2C3D4", ModelPolarH10},
		{"PolarH10", ModelPolarH10},
		{"CL800-0012345", ModelCL800},
		{"SmartBelt", ModelSmartBelt},
		{"smart belt 2", ModelSmartBelt},
	}
	for _, tt := range tests {
		got, err := ParseModel(tt.in)
		if err != nil {
			t.Errorf("ParseModel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseModel("Garmin HRM"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestDeviceInfoSet(t *testing.T) {
	var d DeviceInfo
	if err := d.Set(CharManufacturer, []byte("Polar Electro Oy\x00")); err != nil {
		t.Fatal(err)
	}
	if err := d.Set(CharModelNumber, []byte("H10")); err != nil {
		t.Fatal(err)
	}
	if err := d.Set(CharBatteryLevel, []byte{87}); err != nil {
		t.Fatal(err)
	}
	if d.Manufacturer != "Polar Electro Oy" || d.Model != "H10" || d.Battery != 87 {
		t.Errorf("unexpected device info %+v", d)
	}

	if err := d.Set(CharBatteryLevel, []byte{1, 2}); err == nil {
		t.Error("expected error for multi-byte battery level")
	}
	if err := d.Set("ffff", []byte("x")); err == nil {
		t.Error("expected error for unknown characteristic")
	}
}
