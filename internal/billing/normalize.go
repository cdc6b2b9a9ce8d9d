package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a billing payload is neither an object nor an array.
var ErrMalformed = errors.New("billing: malformed payload")

// Normalize decodes a billing payload in any of the shapes the billing store has
// produced over time into canonical records. Accepted shapes: a single record, an
// array, nested arrays, or an object wrapping them under "data" / "billing".
//
// Field aliases are resolved here and nowhere else. Amounts under the canonical
// *_minor keys are taken as-is; legacy keys (price, amount, totalAmount, ...)
// hold major units and are converted. Missing totals are recomputed, and a
// missing service charge on a record with items falls back to defaultChargeMinor.
func Normalize(data []byte, defaultChargeMinor int64) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var raws []fields
	if err := flatten(v, &raws, 0); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(raws))
	for _, f := range raws {
		out = append(out, f.record(defaultChargeMinor))
	}
	return out, nil
}

type fields map[string]any

const maxNesting = 4

func flatten(v any, out *[]fields, depth int) error {
	if depth > maxNesting {
		return fmt.Errorf("%w: nested too deeply", ErrMalformed)
	}
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if err := flatten(e, out, depth+1); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, k := range []string{"data", "billing", "billings", "records"} {
			if inner, ok := t[k]; ok {
				if _, isScalar := inner.(string); !isScalar {
					return flatten(inner, out, depth+1)
				}
			}
		}
		*out = append(*out, fields(t))
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("%w: unexpected %T", ErrMalformed, v)
	}
}

func (f fields) record(defaultChargeMinor int64) Record {
	r := Record{
		UserID:         f.str("user_id", "userId"),
		ProviderName:   f.str("provider_name", "providerName"),
		VehicleName:    f.str("vehicle_name", "vehicleName"),
		VehicleNumber:  f.str("vehicle_number", "vehicleNumber"),
		Currency:       f.str("currency"),
		PaymentMethod:  f.str("payment_method", "paymentMethod"),
		IdempotencyKey: f.str("idempotency_key", "idempotencyKey"),
	}
	r.ID, _ = f.int("id", "_id", "billingId")
	r.AppointmentID, _ = f.int("appointment_id", "appointmentId")
	r.PaymentStatus = normalizeStatus(f.str("payment_status", "paymentStatus", "status"))
	r.CreatedAt, _ = f.time("created_at", "date", "billingDate", "billingdate", "createdAt")
	if paid, ok := f.time("paid_at", "paymentDate", "paidAt"); ok {
		r.PaidAt = &paid
	}

	for _, key := range []string{"items", "services", "line_items", "lineItems"} {
		if list, ok := f[key].([]any); ok {
			for _, e := range list {
				if m, ok := e.(map[string]any); ok {
					r.Items = append(r.Items, fields(m).item())
				}
			}
			break
		}
	}

	var services int64
	for _, li := range r.Items {
		services += li.AmountMinor()
	}

	if v, ok := f.money([]string{"services_total_minor"}, []string{"servicesTotal", "services_total"}); ok {
		r.ServicesTotalMinor = v
	} else {
		r.ServicesTotalMinor = services
	}
	if v, ok := f.money([]string{"service_charge_minor"}, []string{"serviceCharge", "service_charge", "service_fee", "serviceFee"}); ok {
		r.ServiceChargeMinor = v
	} else if len(r.Items) > 0 {
		r.ServiceChargeMinor = defaultChargeMinor
	}
	if v, ok := f.money([]string{"total_amount_minor"}, []string{"totalAmount", "total_amount", "total"}); ok {
		r.TotalAmountMinor = v
	} else {
		r.TotalAmountMinor = r.ServicesTotalMinor + r.ServiceChargeMinor
	}
	return r
}

func (f fields) item() LineItem {
	li := LineItem{
		ServiceID: f.str("service_id", "serviceId"),
		Name:      f.str("name", "serviceName", "service_name"),
	}
	li.UnitPriceMinor, _ = f.money([]string{"unit_price_minor"}, []string{"unitPrice", "unit_price", "price", "amount"})
	q, ok := f.int("quantity", "qty")
	if !ok || q <= 0 {
		q = 1
	}
	li.Quantity = int(q)
	return li
}

func normalizeStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "completed", "success", "succeeded":
		return PaymentPaid
	default:
		// pending, failed and unknown values are all unpaid.
		return PaymentPending
	}
}

func (f fields) str(keys ...string) string {
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func (f fields) int(keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := f[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
			if x, err := v.Float64(); err == nil {
				return int64(x), true
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func (f fields) number(key string) (float64, bool) {
	switch v := f[key].(type) {
	case json.Number:
		x, err := v.Float64()
		return x, err == nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return x, err == nil
	}
	return 0, false
}

func (f fields) money(minorKeys, majorKeys []string) (int64, bool) {
	for _, k := range minorKeys {
		if x, ok := f.number(k); ok {
			return int64(math.Round(x)), true
		}
	}
	for _, k := range majorKeys {
		if x, ok := f.number(k); ok {
			return int64(math.Round(x * 100)), true
		}
	}
	return 0, false
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func (f fields) time(keys ...string) (time.Time, bool) {
	for _, k := range keys {
		s, ok := f[k].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
