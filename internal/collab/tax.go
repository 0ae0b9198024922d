package collab

import (
	"context"
	"net/http"

	"github.com/noah-isme/backend-erp/internal/tax"
)

// Tax computes tax adjustments over HTTP.
type Tax struct {
	Client Client
}

// Compute implements tax.Calculator. A 4xx answer is a failed computation.
func (t Tax) Compute(ctx context.Context, req tax.Request) (tax.Response, error) {
	var out tax.Response
	err := t.Client.Do(ctx, http.MethodPost, "/taxes/compute", req, &out)
	if err != nil {
		if msg, ok := rejection(err); ok {
			return tax.Response{ResultMessage: "Failed", Message: msg}, nil
		}
		return tax.Response{}, err
	}
	return out, nil
}
