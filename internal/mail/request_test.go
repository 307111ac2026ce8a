package mail

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest_Valid(t *testing.T) {
	t.Parallel()

	req, err := NewRequest("m1", "billing", "Hello", "body text", "to@example.com", "noreply@example.com")
	require.NoError(t, err)

	assert.Equal(t, "m1", req.MessageID)
	assert.Equal(t, "billing", req.ServiceName)
	assert.Equal(t, "Hello", req.Subject)
	assert.Equal(t, "body text", req.Body)
	assert.Equal(t, "to@example.com", req.ToAddress)
	assert.Equal(t, "noreply@example.com", req.SenderAddress)
}

func TestNewRequest_MissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		subject string
		body    string
		to      string
		wantMsg string
	}{
		{name: "empty subject", body: "b", to: "t@example.com", wantMsg: "subject"},
		{name: "empty message", subject: "s", to: "t@example.com", wantMsg: "message"},
		{name: "empty address", subject: "s", body: "b", wantMsg: "address"},
		{name: "all empty", wantMsg: "subject, message, address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, err := NewRequest("m1", "", tt.subject, tt.body, tt.to, "from@example.com")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, Request{}, req)
		})
	}
}

func TestParseRecord(t *testing.T) {
	t.Parallel()

	body := []byte(`{"subject":"Hi","message":"text","address":"a@example.com","service_name":"orders"}`)
	req, err := ParseRecord("m2", body, "from@example.com")
	require.NoError(t, err)
	assert.Equal(t, "orders", req.ServiceName)
	assert.Equal(t, "text", req.Body)
	assert.Equal(t, "m2", req.MessageID)
}

func TestParseRecord_ServiceNameOptional(t *testing.T) {
	t.Parallel()

	req, err := ParseRecord("m3", []byte(`{"subject":"Hi","message":"text","address":"a@example.com"}`), "f@example.com")
	require.NoError(t, err)
	assert.Empty(t, req.ServiceName)
}

func TestParseRecord_Malformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "not json", `["array"]`, `{"subject": 5}`} {
		_, err := ParseRecord("m4", []byte(body), "f@example.com")
		require.Error(t, err, "body %q", body)
		assert.True(t, errors.Is(err, ErrMalformedPayload), "body %q", body)
		assert.True(t, IsPermanent(err))
	}
}

func TestIsPermanent(t *testing.T) {
	t.Parallel()

	_, err := NewRequest("m", "", "", "", "", "")
	assert.True(t, IsPermanent(err))
	assert.False(t, IsPermanent(errors.New("boom")))
	assert.False(t, IsPermanent(nil))
}
