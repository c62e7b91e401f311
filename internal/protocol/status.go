package protocol

import "strconv"

type Status int

const (
	StatusContinue Status = 100

	StatusOK        Status = 200
	StatusCreated   Status = 201
	StatusAccepted  Status = 202
	StatusNoContent Status = 204

	StatusMovedPermanently Status = 301
	StatusFound            Status = 302
	StatusNotModified      Status = 304

	StatusBadRequest           Status = 400
	StatusUnauthorized         Status = 401
	StatusForbidden            Status = 403
	StatusNotFound             Status = 404
	StatusMethodNotAllowed     Status = 405
	StatusConflict             Status = 409
	StatusContentTooLarge      Status = 413
	StatusUnsupportedMediaType Status = 415

	StatusInternalServerError Status = 500
	StatusNotImplemented      Status = 501
	StatusBadGateway          Status = 502
	StatusServiceUnavailable  Status = 503
)

var reasonPhrases = map[Status]string{
	StatusContinue:             "Continue",
	StatusOK:                   "OK",
	StatusCreated:              "Created",
	StatusAccepted:             "Accepted",
	StatusNoContent:            "No Content",
	StatusMovedPermanently:     "Moved Permanently",
	StatusFound:                "Found",
	StatusNotModified:          "Not Modified",
	StatusBadRequest:           "Bad Request",
	StatusUnauthorized:         "Unauthorized",
	StatusForbidden:            "Forbidden",
	StatusNotFound:             "Not Found",
	StatusMethodNotAllowed:     "Method Not Allowed",
	StatusConflict:             "Conflict",
	StatusContentTooLarge:      "Content Too Large",
	StatusUnsupportedMediaType: "Unsupported Media Type",
	StatusInternalServerError:  "Internal Server Error",
	StatusNotImplemented:       "Not Implemented",
	StatusBadGateway:           "Bad Gateway",
	StatusServiceUnavailable:   "Service Unavailable",
}

func (s Status) Code() int { return int(s) }

// Reason returns the registered reason phrase, or an empty string.
func (s Status) Reason() string { return reasonPhrases[s] }

func (s Status) IsInformational() bool { return s >= 100 && s < 200 }
func (s Status) IsSuccess() bool       { return s >= 200 && s < 300 }
func (s Status) IsClientError() bool   { return s >= 400 && s < 500 }
func (s Status) IsServerError() bool   { return s >= 500 && s < 600 }

// Valid reports whether s is a three digit status code.
func (s Status) Valid() bool { return s >= 100 && s <= 999 }

// PermitsBody is false for statuses that never carry content.
func (s Status) PermitsBody() bool {
	return !s.IsInformational() && s != StatusNoContent && s != StatusNotModified
}

func (s Status) String() string {
	if reason := s.Reason(); reason != "" {
		return strconv.Itoa(int(s)) + " " + reason
	}
	return strconv.Itoa(int(s))
}
