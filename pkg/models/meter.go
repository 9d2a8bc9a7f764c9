package models

import (
	"encoding/base64"
	"strings"
	"time"
)

// MeterType identifies the commodity a meter measures.
type MeterType string

const (
	MeterElectricity MeterType = "ELECTRIC"
	MeterWater       MeterType = "WATER"
)

const (
	ElectricUnit = "kWh"
	WaterUnit    = "meter cube"
)

// BruneiTZ is the timezone all portal-facing timestamps are expressed in.
// The portal serves local wall-clock times with no zone information.
var BruneiTZ *time.Location

func init() {
	loc, err := time.LoadLocation("Asia/Brunei")
	if err != nil {
		loc = time.FixedZone("BNT", 8*60*60)
	}
	BruneiTZ = loc
}

// MeterHandle identifies one physical meter on an account. Immutable
// after creation.
type MeterHandle struct {
	// ID is the portal's opaque identifier for the meter, used in report
	// URLs. It is the base64 encoding of the meter number.
	ID string
	// No is the human-readable meter number.
	No string
	// Type is the commodity this meter measures.
	Type MeterType
}

// NewMeterHandle builds a handle from a meter number and the type string
// shown on the portal's meter info page.
func NewMeterHandle(no, typeLabel string) MeterHandle {
	return MeterHandle{
		ID:   base64.StdEncoding.EncodeToString([]byte(no)),
		No:   no,
		Type: MeterTypeFromLabel(typeLabel),
	}
}

// MeterTypeFromLabel maps the portal's free-form meter type label to a
// MeterType. Unknown labels map to the empty type.
func MeterTypeFromLabel(label string) MeterType {
	upper := strings.ToUpper(label)
	switch {
	case strings.Contains(upper, string(MeterElectricity)):
		return MeterElectricity
	case strings.Contains(upper, string(MeterWater)):
		return MeterWater
	default:
		return ""
	}
}

// Unit returns the consumption unit for the meter type.
func (t MeterType) Unit() string {
	switch t {
	case MeterElectricity:
		return ElectricUnit
	case MeterWater:
		return WaterUnit
	default:
		return ""
	}
}

// MeterInfo is the parsed content of the portal's meter info page.
type MeterInfo struct {
	Address      string
	Kampong      string
	Mukim        string
	District     string
	Postcode     string
	No           string
	Type         string
	CustomerType string

	RemainingUnit   float64
	RemainingCredit float64
	LastUpdate      time.Time
	Status          string
}

// IsActive reports whether the meter status is active on the portal.
func (i MeterInfo) IsActive() bool {
	return i.Status == "ACTIVE"
}

// Handle returns the immutable identity of the meter described by this
// info snapshot.
func (i MeterInfo) Handle() MeterHandle {
	return NewMeterHandle(i.No, i.Type)
}

// AccountInfo is the parsed content of the portal's account info page.
// MeterNodes holds the navigation tree node numbers ("Nx_y_z") of the
// meters registered under the account.
type AccountInfo struct {
	RegNo      string
	Name       string
	ContactNo  string
	Email      string
	MeterNodes []string
}
