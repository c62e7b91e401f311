package transport

import (
	"fmt"

	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service"
)

type assemblerState int

const (
	awaitingHead assemblerState = iota
	awaitingContent
	finished
	aborted
)

func (s assemblerState) String() string {
	switch s {
	case awaitingHead:
		return "awaiting_head"
	case awaitingContent:
		return "awaiting_content"
	case finished:
		return "finished"
	case aborted:
		return "aborted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// assembler feeds the content of one request into its service.Body. A
// nil body discards content, as for requests that were refused at the
// head.
type assembler struct {
	state    assemblerState
	body     *service.Body
	limit    int64
	received int64
}

func newAssembler(limit int64) *assembler {
	return &assembler{limit: limit}
}

func (a *assembler) head(body *service.Body) {
	a.body = body
	a.state = awaitingContent
}

// content appends p. Exceeding the limit aborts the body and returns
// ErrBodyTooLarge.
func (a *assembler) content(p []byte) error {
	if a.state != awaitingContent {
		return nil
	}
	a.received += int64(len(p))
	if a.limit > 0 && a.received > a.limit {
		err := fmt.Errorf("%w: more than %d bytes", protocol.ErrBodyTooLarge, a.limit)
		a.abort(err)
		return err
	}
	if a.body != nil {
		a.body.Append(p)
	}
	return nil
}

func (a *assembler) end() {
	if a.state != awaitingContent {
		return
	}
	a.state = finished
	if a.body != nil {
		a.body.Finish()
	}
}

func (a *assembler) abort(err error) {
	if a.state == finished || a.state == aborted {
		return
	}
	a.state = aborted
	if a.body != nil {
		a.body.Abort(err)
	}
}

func (a *assembler) active() bool {
	return a.state == awaitingContent
}
