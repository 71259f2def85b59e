package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
	"github.com/awmpietro/reaction-sim/internal/transport/simdto"
)

// Handler serves the stateless operations. Interactive runs need a
// long-lived process and are only exposed over HTTP.
type Handler struct {
	svc app.SimulationService
}

func NewHandler(svc app.SimulationService) *Handler {
	return &Handler{svc: svc}
}

// Handle routes POST /validate and POST /simulate; any other path is /simulate
// so a single-route API Gateway integration keeps working.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if m := req.RequestContext.HTTP.Method; m != "" && m != http.MethodPost {
		return jsonResp(http.StatusMethodNotAllowed, simdto.ErrorResponse{Error: "method not allowed"}), nil
	}
	if strings.HasSuffix(routePath(req), "/validate") {
		return h.Validate(ctx, req)
	}
	return h.Simulate(ctx, req)
}

func (h *Handler) Validate(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var in simdto.ValidateRequest
	if resp, ok := decode(req, &in); !ok {
		return resp, nil
	}

	info, err := h.svc.Validate(scenario.Format(in.Format), in.Source)
	if err != nil {
		return errorResp(err), nil
	}
	return jsonResp(http.StatusOK, simdto.ValidateResponse{Valid: true, Scenario: info}), nil
}

func (h *Handler) Simulate(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	var in simdto.SimulateRequest
	if resp, ok := decode(req, &in); !ok {
		return resp, nil
	}

	res, err := h.svc.Simulate(ctx, in.Input())
	if err != nil {
		return errorResp(err), nil
	}
	return jsonResp(http.StatusOK, res), nil
}

func routePath(req events.APIGatewayV2HTTPRequest) string {
	if p := req.RequestContext.HTTP.Path; p != "" {
		return p
	}
	return req.RawPath
}

func decode(req events.APIGatewayV2HTTPRequest, dst any) (events.APIGatewayV2HTTPResponse, bool) {
	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, simdto.ErrorResponse{Error: "invalid body", Details: err.Error()}), false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return jsonResp(http.StatusBadRequest, simdto.ErrorResponse{Error: "invalid json", Details: err.Error()}), false
	}
	return events.APIGatewayV2HTTPResponse{}, true
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func errorResp(err error) events.APIGatewayV2HTTPResponse {
	status, body := simdto.ErrorFor(err)
	return jsonResp(status, body)
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
