package bridge

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/telephony"
	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

func newTestClient(t *testing.T, handler fasthttp.RequestHandler, failures uint32) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	httpClient := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	cfg := config.DispatchConfig{
		Endpoint:        "http://bridge.local/calls",
		APIKey:          "secret",
		RequestTimeout:  time.Second,
		BreakerFailures: failures,
		BreakerOpenFor:  time.Minute,
	}
	return New(cfg, logger.Nop(), WithHTTPClient(httpClient))
}

func TestDispatchSuccess(t *testing.T) {
	var got dispatchRequest
	var auth string
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		auth = string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetBodyString(`{"call_id":"br-42"}`)
	}, 3)

	campaignID := uuid.New()
	req := telephony.Request{PhoneNumber: "+12015550123", Prompt: "hi", EntryID: uuid.New(), CampaignID: &campaignID, Attempt: 1}
	res, err := c.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "br-42", res.DispatchID)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "+12015550123", got.To)
	assert.Equal(t, campaignID.String(), got.CampaignID)
}

func TestDispatchClassifiesStatusCodes(t *testing.T) {
	cases := map[int]telephony.ErrorKind{
		fasthttp.StatusBadRequest:          telephony.KindInvalid,
		fasthttp.StatusForbidden:           telephony.KindRejected,
		fasthttp.StatusTooManyRequests:     telephony.KindTransient,
		fasthttp.StatusServiceUnavailable:  telephony.KindTransient,
		fasthttp.StatusUnprocessableEntity: telephony.KindInvalid,
	}
	for status, kind := range cases {
		status, kind := status, kind
		t.Run(fasthttp.StatusMessage(status), func(t *testing.T) {
			c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(status)
				ctx.SetBodyString(`{"error":"nope"}`)
			}, 10)

			_, err := c.Dispatch(context.Background(), telephony.Request{PhoneNumber: "+12015550123", EntryID: uuid.New()})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrDispatch)
			assert.Equal(t, kind, telephony.KindOf(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestBreakerOpensOnTransientFailures(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		hits.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	}, 2)

	req := telephony.Request{PhoneNumber: "+12015550123", EntryID: uuid.New()}
	for i := 0; i < 2; i++ {
		_, err := c.Dispatch(context.Background(), req)
		require.Error(t, err)
	}
	_, err := c.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, telephony.KindTransient, telephony.KindOf(err))
	assert.Contains(t, err.Error(), "unavailable")
	assert.Equal(t, int32(2), hits.Load())
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		hits.Add(1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
	}, 1)

	req := telephony.Request{PhoneNumber: "+12015550123", EntryID: uuid.New()}
	for i := 0; i < 3; i++ {
		_, err := c.Dispatch(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, telephony.KindInvalid, telephony.KindOf(err))
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestDispatchHonoursContextDeadline(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		time.Sleep(300 * time.Millisecond)
		ctx.SetBodyString(`{"call_id":"late"}`)
	}, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Dispatch(ctx, telephony.Request{PhoneNumber: "+12015550123", EntryID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, telephony.KindTransient, telephony.KindOf(err))
}
