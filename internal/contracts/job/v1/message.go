package v1

import (
	"encoding/json"
	"strings"

	apperrors "transcoder/internal/pkg/errors"
)

// TranscodeRequest v1: the queue message that starts one job.
// - videoId: object key of the source video in the source bucket
// Unknown fields are ignored.
type TranscodeRequest struct {
	VideoID string `json:"videoId"`
}

// Parse decodes and validates a message body. Every failure is a
// validation error so the consumer dead-letters it.
func Parse(body []byte) (TranscodeRequest, error) {
	var req TranscodeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return TranscodeRequest{}, apperrors.WrapWithCode(err, apperrors.CodeValidation, "job.parse", "invalid message body")
	}
	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		return TranscodeRequest{}, apperrors.ValidationField("videoId", "videoId is required")
	}
	return req, nil
}

// Encode is the inverse of Parse, used by producers and tests.
func Encode(req TranscodeRequest) ([]byte, error) {
	return json.Marshal(req)
}
