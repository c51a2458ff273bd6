package processor

import (
	"fmt"
	"strings"

	"transcoder/internal/media/encoder"
	"transcoder/internal/pkg/errors"
)

// Policy decides what a partially failed rendition set means for the job.
type Policy string

const (
	// PolicyPartial publishes what succeeded and records the rest as defects.
	PolicyPartial Policy = "partial"
	// PolicyStrict fails the job when any rendition failed.
	PolicyStrict Policy = "strict"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyPartial, PolicyStrict:
		return p, nil
	case "":
		return PolicyPartial, nil
	default:
		return "", errors.ValidationField("policy", fmt.Sprintf("unknown rendition failure policy %q", s))
	}
}

// Apply splits outcomes into the ones to publish and the failed ones, and
// returns a CodeRendition error when the job cannot be acknowledged. Zero
// successes fail the job under every policy.
func (p Policy) Apply(outcomes []encoder.Outcome) (publish, failed []encoder.Outcome, err error) {
	for _, o := range outcomes {
		if o.Succeeded() {
			publish = append(publish, o)
		} else {
			failed = append(failed, o)
		}
	}

	var e *errors.Error
	switch {
	case len(publish) == 0:
		e = errors.Newf(errors.CodeRendition, "all %d renditions failed", len(outcomes))
	case p == PolicyStrict && len(failed) > 0:
		e = errors.Newf(errors.CodeRendition, "%d of %d renditions failed", len(failed), len(outcomes))
	default:
		return publish, failed, nil
	}

	labels := make([]string, 0, len(failed))
	for _, f := range failed {
		labels = append(labels, f.Rung.Label)
	}
	return nil, failed, e.WithField("failed_rungs", strings.Join(labels, ","))
}
