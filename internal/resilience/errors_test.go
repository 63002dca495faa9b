package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", eris.Wrap(NewTransientError(errors.New("rate"), 429), "completion: call"), true},
		{"conn reset", fmt.Errorf("write: %w", syscall.ECONNRESET), true},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"string pattern", errors.New("read: i/o timeout"), true},
		{"plain", errors.New("missing field"), false},
		{"invalid output", NewInvalidOutputError(errors.New("bad"), ""), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTypedErrorsThroughWrapping(t *testing.T) {
	out := eris.Wrap(NewInvalidOutputError(errors.New("eof"), "{"), "extract: chunk")
	assert.True(t, IsInvalidOutput(out))
	assert.False(t, IsInvalidState(out))

	state := eris.Wrap(NewInvalidStateError("e1", "approved", "rejected"), "review: reject")
	assert.True(t, IsInvalidState(state))
	assert.Contains(t, state.Error(), "approved -> rejected")

	partial := &PartialExtractionError{ChunkID: "c3", Err: out}
	assert.True(t, IsPartial(partial))
	assert.True(t, IsInvalidOutput(partial))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
	assert.Equal(t, "transient", Classify(NewTransientError(errors.New("x"), 500)))
	assert.Equal(t, "invalid_output", Classify(NewInvalidOutputError(errors.New("x"), "")))
	assert.Equal(t, "invalid_state", Classify(NewInvalidStateError("a", "b", "c")))
	assert.Equal(t, "permanent", Classify(errors.New("boom")))
}
