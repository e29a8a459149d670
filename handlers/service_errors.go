package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap/zapcore"

	"github.com/upb/stock-snap/services"
	"github.com/upb/stock-snap/utils"
)

// Values of the status metric attribute
const (
	StatusOK          = "ok"
	StatusClientError = "client_error"
	StatusUnavailable = "unavailable"
	StatusTimeout     = "timeout"
	StatusError       = "error"
)

// outcome is everything the pipeline needs to finish a request
type outcome struct {
	status       int
	body         interface{}
	metricStatus string
	spanError    string
	detail       string
	level        zapcore.Level
}

// resolveOutcome maps an operation result or error to a response
func resolveOutcome(res *Result, err error, unavailableBody bool) outcome {
	var out outcome

	switch {
	case err == nil:
		out = outcome{status: http.StatusOK, metricStatus: StatusOK}
		if res != nil {
			out.body = res.Body
			out.detail = res.Detail
		}

	case services.IsValidationError(err):
		out = clientError(utils.MsgInvalidSymbol)

	case services.IsNotFoundError(err):
		out = clientError(utils.MsgInvalidExchange)

	case services.IsTimeoutError(err):
		out = outcome{
			status:       http.StatusGatewayTimeout,
			body:         utils.ErrorResponse{Error: utils.MsgRequestTimeout},
			metricStatus: StatusTimeout,
			spanError:    utils.MsgRequestTimeout,
			detail:       utils.MsgRequestTimeout,
		}

	case services.IsExternalError(err):
		msg := "SQL exception: " + causeMessage(err)
		out = outcome{
			status:       http.StatusServiceUnavailable,
			metricStatus: StatusUnavailable,
			spanError:    msg,
			detail:       msg,
		}
		if unavailableBody {
			out.body = utils.ErrorResponse{Error: utils.MsgExchangeUnavailable}
		}

	default:
		msg := "Unhandled exception: " + causeMessage(err)
		out = outcome{
			status:       http.StatusInternalServerError,
			body:         utils.ErrorResponse{Error: utils.MsgInternalServerError},
			metricStatus: StatusError,
			spanError:    msg,
			detail:       msg,
		}
	}

	out.level = logLevel(out.metricStatus)
	return out
}

func clientError(msg string) outcome {
	return outcome{
		status:       http.StatusBadRequest,
		body:         utils.ErrorResponse{Error: msg},
		metricStatus: StatusClientError,
		detail:       msg,
	}
}

// phaseMessage is the status description set on a failed child span
func phaseMessage(err error) string {
	switch {
	case services.IsValidationError(err):
		return utils.MsgInvalidSymbol
	case services.IsNotFoundError(err):
		return utils.MsgInvalidExchange
	case services.IsTimeoutError(err):
		return utils.MsgRequestTimeout
	default:
		return causeMessage(err)
	}
}

// causeMessage returns the message of the error wrapped by a domain error
func causeMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Err != nil {
		return domainErr.Err.Error()
	}
	return err.Error()
}

// timeoutError converts a context error into a domain timeout error
func timeoutError(err error) error {
	if services.IsTimeoutError(err) {
		return err
	}
	return services.NewDomainError(services.ErrorTypeTimeout, "request timed out", err)
}
