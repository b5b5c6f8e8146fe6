package clustererr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New(Timeout, "no reply")
	assert.True(t, Is(err, Timeout))
	assert.False(t, Is(err, CommunicationError))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), Timeout))
}

func TestKindOfReturnsUnknownForPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(CommunicationError, cause, "send failed")
	assert.True(t, errors.Is(err, cause))
}

func TestWrapWithNilCauseBehavesLikeNew(t *testing.T) {
	err := Wrap(Timeout, nil, "no reply")
	assert.Equal(t, Timeout, KindOf(err))
}

func TestRemotePreservesPayload(t *testing.T) {
	err := Remote("boom", []byte("stack trace"))
	assert.Equal(t, RemoteError, KindOf(err))
	assert.Equal(t, []byte("stack trace"), err.Payload)
}

func TestRetryableOnlyForCommunicationErrorAndTimeout(t *testing.T) {
	assert.True(t, Retryable(New(CommunicationError, "x")))
	assert.True(t, Retryable(New(Timeout, "x")))
	assert.False(t, Retryable(New(RemoteError, "x")))
	assert.False(t, Retryable(New(NoMaster, "x")))
	assert.False(t, Retryable(nil))
}

func TestKindStringCoversNamedKinds(t *testing.T) {
	cases := map[Kind]string{
		CommunicationError:        "CommunicationError",
		Timeout:                   "Timeout",
		NoMaster:                  "NoMaster",
		ClusterUnreachable:        "ClusterUnreachable",
		RemoteError:                "RemoteError",
		PreconditionFailed:        "PreconditionFailed",
		NoSuchProcess:             "NoSuchProcess",
		ProcessKilled:             "ProcessKilled",
		AwaitTimeout:              "AwaitTimeout",
		CompilationError:          "CompilationError",
		ComputationNotSerializable: "ComputationNotSerializable",
		Configuration:             "Configuration",
		NoEligibleMaster:          "NoEligibleMaster",
		ObjectDisposed:            "ObjectDisposed",
		Unknown:                   "Unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
