package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// VerifySession runs the completion protocol of a multipart session: read
// the session status and, when every part has been received and the session
// is still open, finalize it. A session the server already reports as
// completed is accepted without finalizing again. Any transport error or
// unexpected answer is returned as an *Error; the last response is returned
// when there is one.
func VerifySession(ctx context.Context, tr Transport, f *File, s *MultipartSession, headers []Header) (*Response, error) {
	resp, err := tr.Send(ctx, &Request{
		Method:  http.MethodGet,
		URL:     s.Links.Self,
		Headers: headers,
	}, nil)
	if e := responseError("status", f, resp, err, (*Response).OK); e != nil {
		return resp, e
	}

	var status SessionStatus
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return resp, newError("status", f, fmt.Errorf("decode session status: %w", err))
	}
	if len(status.Parts) != s.PartCount() {
		return resp, newError("status", f, fmt.Errorf("%w: server has %d, expected %d",
			ErrSessionMismatch, len(status.Parts), s.PartCount()))
	}
	if status.Completed {
		return resp, nil
	}

	resp, err = tr.Send(ctx, &Request{
		Method:  http.MethodPost,
		URL:     s.Links.Self,
		Headers: headers,
	}, nil)
	if e := responseError("finalize", f, resp, err, (*Response).OK); e != nil {
		return resp, e
	}

	var result FinalizeResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return resp, newError("finalize", f, fmt.Errorf("decode finalize result: %w", err))
	}
	if !result.Completed {
		return resp, newError("finalize", f, ErrNotFinalized)
	}
	return resp, nil
}
