package rewriter

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/haukened/rr-pulse/internal/pulse/domain"
)

// jsonAPI decodes into raw values so untouched members are re-emitted as they
// arrived; only the set of top-level keys changes.
var jsonAPI = sonic.Config{
	SortMapKeys:    true,
	ValidateString: true,
}.Froze()

// Rewriter strips a fixed set of top-level keys from JSON object bodies.
type Rewriter struct {
	spec domain.RewriterSpec
}

// NewRewriter validates spec and returns its Rewriter.
func NewRewriter(spec domain.RewriterSpec) (*Rewriter, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Rewriter{spec: spec}, nil
}

// ID returns the rewriter id.
func (r *Rewriter) ID() string { return r.spec.ID }

// Rewrite returns body without the configured keys. Bodies that are not a
// JSON object, or carry none of the keys, come back unchanged byte for byte.
func (r *Rewriter) Rewrite(body []byte) []byte {
	out, _, err := StripKeys(body, r.spec.StripKeys)
	if err != nil {
		return body
	}
	return out
}

// StripKeys removes keys from the top level of a JSON object. It returns the
// removed keys in the order given. When nothing is removed the input slice is
// returned as is. Input that is not a JSON object yields domain.ErrMalformedInput.
func StripKeys(body []byte, keys []string) ([]byte, []string, error) {
	var obj map[string]json.RawMessage
	if err := jsonAPI.Unmarshal(body, &obj); err != nil {
		return body, nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	if obj == nil {
		return body, nil, fmt.Errorf("%w: not a JSON object", domain.ErrMalformedInput)
	}

	var removed []string
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			delete(obj, k)
			removed = append(removed, k)
		}
	}
	if len(removed) == 0 {
		return body, nil, nil
	}

	out, err := jsonAPI.Marshal(obj)
	if err != nil {
		return body, nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	return out, removed, nil
}
