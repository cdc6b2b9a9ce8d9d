package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"autocare-platform/internal/appointments"
)

var _ appointments.Store = (*Client)(nil)

func (c *Client) mapAppointments(res response) ([]appointments.Appointment, error) {
	switch {
	case res.ok():
		return appointments.Normalize(res.body)
	case res.status == http.StatusNotFound:
		return nil, appointments.ErrNotFound
	case res.status == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", appointments.ErrInvalidStatus, res.message())
	case res.status == http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", appointments.ErrInvalidTransition, res.message())
	}
	return nil, unexpected(res)
}

func (c *Client) one(res response) (appointments.Appointment, error) {
	list, err := c.mapAppointments(res)
	if err != nil {
		return appointments.Appointment{}, err
	}
	if len(list) == 0 {
		return appointments.Appointment{}, fmt.Errorf("%w: empty appointment response", appointments.ErrMalformed)
	}
	return list[0], nil
}

func (c *Client) Get(ctx context.Context, id int64) (appointments.Appointment, error) {
	res, err := c.do(ctx, http.MethodGet, "/appointments/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return appointments.Appointment{}, err
	}
	return c.one(res)
}

func (c *Client) ListByProvider(ctx context.Context, providerName string) ([]appointments.Appointment, error) {
	res, err := c.do(ctx, http.MethodGet, "/appointments/owner/"+url.PathEscape(providerName), nil)
	if err != nil {
		return nil, err
	}
	return c.mapAppointments(res)
}

func (c *Client) ListByCustomer(ctx context.Context, customerName string) ([]appointments.Appointment, error) {
	res, err := c.do(ctx, http.MethodGet, "/appointments/customer/"+url.PathEscape(customerName), nil)
	if err != nil {
		return nil, err
	}
	return c.mapAppointments(res)
}

func (c *Client) UpdateStatus(ctx context.Context, id int64, status appointments.Status) (appointments.Appointment, error) {
	res, err := c.do(ctx, http.MethodPatch, "/appointments/"+strconv.FormatInt(id, 10)+"/status", map[string]string{"status": string(status)})
	if err != nil {
		return appointments.Appointment{}, err
	}
	return c.one(res)
}
