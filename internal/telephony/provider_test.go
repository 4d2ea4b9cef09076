package telephony

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func TestDispatchErrorMatchesSentinelAndCause(t *testing.T) {
	err := fmt.Errorf("processor: %w", Transient("call timed out", context.DeadlineExceeded))

	assert.True(t, errors.Is(err, apperrors.ErrDispatch))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(err))

	assert.Equal(t, KindInvalid, KindOf(Invalid("bad number")))
	assert.Equal(t, KindRejected, KindOf(Rejected("blocked")))
	assert.Equal(t, KindTransient, KindOf(errors.New("unclassified")))
	assert.Equal(t, "dispatch rejected: blocked", Rejected("blocked").Error())
}
