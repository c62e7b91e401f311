package http1

import (
	"strconv"

	"arrowhead-go/internal/protocol"
)

// AppendRequestHead writes a request line, the header fields and the
// blank line ending the head.
func AppendRequestHead(dst []byte, head *RequestHead) []byte {
	dst = append(dst, head.Method...)
	dst = append(dst, ' ')
	dst = append(dst, head.Target...)
	dst = append(dst, ' ')
	dst = append(dst, head.Version.String()...)
	dst = append(dst, "\r\n"...)
	return appendHeaders(dst, &head.Headers)
}

// AppendResponseHead writes a status line using the standard reason phrase
// when head.Reason is empty.
func AppendResponseHead(dst []byte, head *ResponseHead) []byte {
	reason := head.Reason
	if reason == "" {
		reason = head.Status.Reason()
	}
	dst = append(dst, head.Version.String()...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(head.Status), 10)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	dst = append(dst, "\r\n"...)
	return appendHeaders(dst, &head.Headers)
}

// AppendContinue writes an interim "100 Continue" response.
func AppendContinue(dst []byte, v protocol.Version) []byte {
	return AppendResponseHead(dst, &ResponseHead{Version: v, Status: protocol.StatusContinue})
}

func appendHeaders(dst []byte, headers *protocol.Headers) []byte {
	for _, h := range headers.All() {
		dst = append(dst, h.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, h.Value...)
		dst = append(dst, "\r\n"...)
	}
	return append(dst, "\r\n"...)
}
