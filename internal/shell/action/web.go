package action

import (
	"context"
	"net/http"
	"strings"

	"github.com/artpar/deployer/internal/core/envelope"
)

// MissingURLMessage is returned when a web deploy names no repository.
const MissingURLMessage = "no repository url was provided"

// WebRequest is one HTTP invocation of the web action.
type WebRequest struct {
	Method string
	Params Params
}

// WebAction is the HTTP web action trigger.
type WebAction struct {
	invoker
}

// NewWebAction creates the web trigger adapter.
func NewWebAction(d Deployer, opts Options) *WebAction {
	return &WebAction{invoker: newInvoker(d, opts, TriggerWeb)}
}

// Invoke answers GET with a fixed health response, deploys on POST and rejects
// every other method.
func (a *WebAction) Invoke(ctx context.Context, req WebRequest) envelope.WebResponse {
	switch strings.ToUpper(req.Method) {
	case http.MethodGet:
		return envelope.HealthResponse()
	case http.MethodPost:
	default:
		return envelope.MethodNotAllowed(strings.ToUpper(req.Method))
	}

	id := a.activationID("")
	if strings.TrimSpace(req.Params.GitURL) == "" {
		return envelope.JSONResponse(http.StatusBadRequest, envelope.WebError{Error: MissingURLMessage, ActivationID: id})
	}

	result := a.deploy(ctx, id, req.Params)
	return envelope.Build[envelope.WebResponse](envelope.WebShaper{}, id, result)
}
