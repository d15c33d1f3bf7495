package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Payload is the category-specific part of an alert. It is a closed union:
// each variant serves a fixed set of categories and nothing outside this
// package can add one.
type Payload interface {
	accepts(c Category) bool
	clone() Payload
}

// VehiclePayload describes a stolen vehicle.
type VehiclePayload struct {
	Plate         string     `json:"plate"`
	Make          string     `json:"make,omitempty"`
	Model         string     `json:"model,omitempty"`
	Color         string     `json:"color,omitempty"`
	VIN           string     `json:"vin,omitempty"`
	LastSeenPlace string     `json:"last_seen_place,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
}

// SuspectPayload describes a wanted suspect.
type SuspectPayload struct {
	Name          string   `json:"name,omitempty"`
	Alias         string   `json:"alias,omitempty"`
	Description   string   `json:"description,omitempty"`
	Charges       []string `json:"charges,omitempty"`
	Armed         bool     `json:"armed,omitempty"`
	Dangerous     bool     `json:"dangerous,omitempty"`
	LastSeenPlace string   `json:"last_seen_place,omitempty"`
}

// PersonPayload describes the missing person of an amber alert.
type PersonPayload struct {
	Name          string     `json:"name"`
	Age           int        `json:"age,omitempty"`
	Description   string     `json:"description,omitempty"`
	Guardian      string     `json:"guardian_contact,omitempty"`
	LastSeenPlace string     `json:"last_seen_place,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
}

// AccidentPayload describes a road or public accident.
type AccidentPayload struct {
	Location    string `json:"location"`
	Vehicles    int    `json:"vehicles,omitempty"`
	Injured     int    `json:"injured,omitempty"`
	Fatalities  int    `json:"fatalities,omitempty"`
	RoadBlocked bool   `json:"road_blocked,omitempty"`
}

// AssaultPayload describes an assault.
type AssaultPayload struct {
	Location   string `json:"location"`
	Victims    int    `json:"victims,omitempty"`
	Weapon     bool   `json:"weapon_involved,omitempty"`
	WeaponType string `json:"weapon_type,omitempty"`
}

// FirePayload describes a fire.
type FirePayload struct {
	Location        string `json:"location"`
	BuildingType    string `json:"building_type,omitempty"`
	Casualties      int    `json:"casualties,omitempty"`
	FireDeptAlerted bool   `json:"fire_department_alerted,omitempty"`
}

// MaintenancePayload describes planned system maintenance.
type MaintenancePayload struct {
	System      string     `json:"system"`
	Impact      string     `json:"impact,omitempty"`
	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
}

// GenericPayload carries free attributes for categories without a fixed shape.
type GenericPayload struct {
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (*VehiclePayload) accepts(c Category) bool     { return c == CategoryStolenVehicle }
func (*SuspectPayload) accepts(c Category) bool     { return c == CategoryWantedSuspect }
func (*PersonPayload) accepts(c Category) bool      { return c == CategoryAmber }
func (*AccidentPayload) accepts(c Category) bool    { return c == CategoryAccident }
func (*AssaultPayload) accepts(c Category) bool     { return c == CategoryAssault }
func (*FirePayload) accepts(c Category) bool        { return c == CategoryFire }
func (*MaintenancePayload) accepts(c Category) bool { return c == CategorySystemMaintenance }

func (*GenericPayload) accepts(c Category) bool {
	switch c {
	case CategorySecurityEmergency, CategoryGeneralAlert, CategoryOther:
		return true
	}
	return false
}

func (p *VehiclePayload) clone() Payload {
	cp := *p
	cp.LastSeenAt = cloneTime(p.LastSeenAt)
	return &cp
}

func (p *SuspectPayload) clone() Payload {
	cp := *p
	cp.Charges = slices.Clone(p.Charges)
	return &cp
}

func (p *PersonPayload) clone() Payload {
	cp := *p
	cp.LastSeenAt = cloneTime(p.LastSeenAt)
	return &cp
}

func (p *AccidentPayload) clone() Payload {
	cp := *p
	return &cp
}

func (p *AssaultPayload) clone() Payload {
	cp := *p
	return &cp
}

func (p *FirePayload) clone() Payload {
	cp := *p
	return &cp
}

func (p *MaintenancePayload) clone() Payload {
	cp := *p
	cp.WindowStart = cloneTime(p.WindowStart)
	cp.WindowEnd = cloneTime(p.WindowEnd)
	return &cp
}

func (p *GenericPayload) clone() Payload {
	return &GenericPayload{Attributes: maps.Clone(p.Attributes)}
}

// newPayload returns an empty variant for category c.
func newPayload(c Category) (Payload, error) {
	switch c {
	case CategoryStolenVehicle:
		return &VehiclePayload{}, nil
	case CategoryWantedSuspect:
		return &SuspectPayload{}, nil
	case CategoryAmber:
		return &PersonPayload{}, nil
	case CategoryAccident:
		return &AccidentPayload{}, nil
	case CategoryAssault:
		return &AssaultPayload{}, nil
	case CategoryFire:
		return &FirePayload{}, nil
	case CategorySystemMaintenance:
		return &MaintenancePayload{}, nil
	case CategorySecurityEmergency, CategoryGeneralAlert, CategoryOther:
		return &GenericPayload{}, nil
	}
	return nil, Invalid("category", "unknown category %q", c)
}

// DecodePayload decodes raw JSON into the variant serving category c.
// Empty input yields an empty variant.
func DecodePayload(c Category, raw json.RawMessage) (Payload, error) {
	p, err := newPayload(c)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, Invalid("payload", "decode %s payload: %v", c, err)
	}
	return p, nil
}

// Vehicle returns the stolen-vehicle payload, if that is what the alert carries.
func (a *Alert) Vehicle() (*VehiclePayload, bool) {
	p, ok := a.Payload.(*VehiclePayload)
	return p, ok
}

// Suspect returns the wanted-suspect payload.
func (a *Alert) Suspect() (*SuspectPayload, bool) {
	p, ok := a.Payload.(*SuspectPayload)
	return p, ok
}

// MissingPerson returns the amber-alert payload.
func (a *Alert) MissingPerson() (*PersonPayload, bool) {
	p, ok := a.Payload.(*PersonPayload)
	return p, ok
}

// Accident returns the accident payload.
func (a *Alert) Accident() (*AccidentPayload, bool) {
	p, ok := a.Payload.(*AccidentPayload)
	return p, ok
}

// Assault returns the assault payload.
func (a *Alert) Assault() (*AssaultPayload, bool) {
	p, ok := a.Payload.(*AssaultPayload)
	return p, ok
}

// Fire returns the fire payload.
func (a *Alert) Fire() (*FirePayload, bool) {
	p, ok := a.Payload.(*FirePayload)
	return p, ok
}

// Maintenance returns the system-maintenance payload.
func (a *Alert) Maintenance() (*MaintenancePayload, bool) {
	p, ok := a.Payload.(*MaintenancePayload)
	return p, ok
}

// Attributes returns the free attributes of categories without a fixed shape.
func (a *Alert) Attributes() (map[string]string, bool) {
	p, ok := a.Payload.(*GenericPayload)
	if !ok {
		return nil, false
	}
	return p.Attributes, true
}

// alertFields has Alert's fields without its methods, so the JSON
// methods below can delegate to the default encoding.
type alertFields Alert

type alertWire struct {
	*alertFields
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the alert with its payload inlined under "payload".
func (a Alert) MarshalJSON() ([]byte, error) {
	w := alertWire{alertFields: (*alertFields)(&a)}
	if a.Payload != nil {
		raw, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes an alert, picking the payload variant from its category.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var fields alertFields
	w := alertWire{alertFields: &fields}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Alert(fields)
	if len(w.Payload) == 0 {
		return nil
	}
	p, err := DecodePayload(a.Category, w.Payload)
	if err != nil {
		return err
	}
	a.Payload = p
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
