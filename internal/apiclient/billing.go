package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"autocare-platform/internal/billing"
)

func (c *Client) mapBilling(res response) error {
	switch {
	case res.ok():
		return nil
	case res.status == http.StatusNotFound:
		return billing.ErrNotFound
	case res.status == http.StatusConflict:
		return fmt.Errorf("%w: %s", billing.ErrAlreadyPaid, res.message())
	case res.status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", billing.ErrValidation, res.message())
	}
	return unexpected(res)
}

func (c *Client) records(res response) ([]billing.Record, error) {
	if err := c.mapBilling(res); err != nil {
		return nil, err
	}
	return billing.Normalize(res.body, c.defaultCharge)
}

func (c *Client) record(res response) (billing.Record, error) {
	recs, err := c.records(res)
	if err != nil {
		return billing.Record{}, err
	}
	if len(recs) == 0 {
		return billing.Record{}, fmt.Errorf("%w: empty billing response", billing.ErrMalformed)
	}
	return recs[0], nil
}

// ListByAppointment returns every bill of an appointment, duplicates included.
func (c *Client) ListByAppointment(ctx context.Context, appointmentID int64) ([]billing.Record, error) {
	res, err := c.do(ctx, http.MethodGet, "/billing/appointment/"+strconv.FormatInt(appointmentID, 10), nil)
	if err != nil {
		return nil, err
	}
	if res.status == http.StatusNotFound {
		return nil, nil
	}
	return c.records(res)
}

func (c *Client) ListBillingByUser(ctx context.Context, userID string) ([]billing.Record, error) {
	res, err := c.do(ctx, http.MethodGet, "/billing/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	return c.records(res)
}

func (c *Client) GetBilling(ctx context.Context, billingID int64) (billing.Record, error) {
	res, err := c.do(ctx, http.MethodGet, "/billing/"+strconv.FormatInt(billingID, 10), nil)
	if err != nil {
		return billing.Record{}, err
	}
	return c.record(res)
}

func (c *Client) CreateBilling(ctx context.Context, req billing.CreateRequest) (billing.Record, error) {
	res, err := c.do(ctx, http.MethodPost, "/billing", req)
	if err != nil {
		return billing.Record{}, err
	}
	return c.record(res)
}

func (c *Client) PayBilling(ctx context.Context, billingID int64, method string) (billing.Record, error) {
	res, err := c.do(ctx, http.MethodPut, "/billing/"+strconv.FormatInt(billingID, 10)+"/pay", billing.PayRequest{PaymentMethod: method})
	if err != nil {
		return billing.Record{}, err
	}
	return c.record(res)
}
