package collab

import (
	"context"
	"net/http"

	"github.com/noah-isme/backend-erp/internal/order"
)

// Orders submits documents to a remote order service.
type Orders struct {
	Client Client
}

// Submit implements order.Persister. Rejections surface as
// *order.CollaboratorError carrying the service's message.
func (o Orders) Submit(ctx context.Context, payload order.Payload) (order.Receipt, error) {
	var out order.Receipt
	err := o.Client.Do(ctx, http.MethodPost, "/documents", payload, &out)
	if err != nil {
		if msg, ok := rejection(err); ok {
			return order.Receipt{}, &order.CollaboratorError{Message: msg, Err: err}
		}
		return order.Receipt{}, err
	}
	return out, nil
}
