package apiclient

import (
	"context"
	"net/http"
	"strconv"
)

// LogBroadcast reports a broadcast start or stop to the collaborator audit
// trail. The server records the token's identity as the actor.
func (c *Client) LogBroadcast(ctx context.Context, appointmentID int64, actor string, started bool) error {
	res, err := c.do(ctx, http.MethodPost, "/audit/broadcasts/"+strconv.FormatInt(appointmentID, 10),
		struct {
			Started bool `json:"started"`
		}{Started: started})
	if err != nil {
		return err
	}
	if !res.ok() {
		return unexpected(res)
	}
	return nil
}
