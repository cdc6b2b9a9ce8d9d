package appointments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrMalformed = errors.New("appointments: malformed payload")

// wire accepts both the canonical field names and the older camelCase ones.
type wire struct {
	ID            json.RawMessage `json:"id"`
	LegacyID      json.RawMessage `json:"_id"`
	Status        string          `json:"status"`
	VehicleName   string          `json:"vehicle_name"`
	VehicleNameLC string          `json:"vehicleName"`
	VehicleNumber string          `json:"vehicle_number"`
	VehicleNumLC  string          `json:"vehicleNumber"`
	ServiceType   string          `json:"service_type"`
	ServiceTypeLC string          `json:"serviceType"`
	ProviderID    json.RawMessage `json:"provider_id"`
	ProviderIDLC  json.RawMessage `json:"providerId"`
	ProviderName  string          `json:"provider_name"`
	ProviderLC    string          `json:"providerName"`
	CustomerName  string          `json:"customer_name"`
	CustomerLC    string          `json:"customerName"`
	Username      string          `json:"username"`
	UserID        json.RawMessage `json:"user_id"`
	UserIDLC      json.RawMessage `json:"userId"`
	ScheduledAt   string          `json:"scheduled_at"`
	Date          string          `json:"date"`
	AppointmentAt string          `json:"appointmentDate"`
	Time          string          `json:"time"`
}

// Normalize decodes an appointment list (or a single appointment) into canonical
// records. Rows without a usable id or status are dropped.
func Normalize(data []byte) ([]Appointment, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var rows []wire
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case '{':
		var w wire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		rows = []wire{w}
	default:
		return nil, ErrMalformed
	}

	out := make([]Appointment, 0, len(rows))
	for _, w := range rows {
		a, ok := w.canonical()
		if ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (w wire) canonical() (Appointment, bool) {
	id, ok := rawInt(w.ID)
	if !ok {
		id, ok = rawInt(w.LegacyID)
	}
	if !ok || id <= 0 {
		return Appointment{}, false
	}
	status, ok := ParseStatus(w.Status)
	if !ok {
		return Appointment{}, false
	}
	a := Appointment{
		ID:            id,
		Status:        status,
		VehicleName:   first(w.VehicleName, w.VehicleNameLC),
		VehicleNumber: first(w.VehicleNumber, w.VehicleNumLC),
		ServiceType:   first(w.ServiceType, w.ServiceTypeLC),
		ProviderName:  first(w.ProviderName, w.ProviderLC),
		CustomerName:  first(w.CustomerName, w.CustomerLC, w.Username),
	}
	if pid, ok := rawInt(w.ProviderID); ok {
		a.ProviderID = pid
	} else if pid, ok := rawInt(w.ProviderIDLC); ok {
		a.ProviderID = pid
	}
	if uid := rawString(w.UserID); uid != "" {
		a.UserID = uid
	} else {
		a.UserID = rawString(w.UserIDLC)
	}
	a.ScheduledAt = parseWhen(first(w.ScheduledAt, w.Date, w.AppointmentAt), w.Time)
	return a, true
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func rawInt(raw json.RawMessage) (int64, bool) {
	s := rawString(raw)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func parseWhen(date, clock string) time.Time {
	if date == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		return t.UTC()
	}
	if clock != "" {
		if t, err := time.Parse("2006-01-02 15:04", date+" "+clock); err == nil {
			return t.UTC()
		}
	}
	if t, err := time.Parse("2006-01-02", date); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
