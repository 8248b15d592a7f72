package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netbridge/tests/testutil"
)

// TestParseBootstrapProgress 测试引导进度解析
func TestParseBootstrapProgress(t *testing.T) {
	cases := []struct {
		msg     string
		want    int
		wantErr bool
	}{
		{"status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=100 TAG=done SUMMARY=\"Done\"\nOK", 100, false},
		{"status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=45 TAG=loading_descriptors", 45, false},
		{"status/bootstrap-phase=NOTICE BOOTSTRAP TAG=done", 0, true},
		{"status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=abc", 0, true},
		{"status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=101", 0, true},
		{"OK", 0, true},
	}
	for _, tc := range cases {
		got, err := parseBootstrapProgress(tc.msg)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrMalformedReply, tc.msg)
			continue
		}
		require.NoError(t, err, tc.msg)
		assert.Equal(t, tc.want, got)
	}
}

// TestTextControl 测试控制协议客户端
func TestTextControl(t *testing.T) {
	srv := testutil.NewControlServer(t, testutil.ControlPassword)
	ctx := testutil.Context(t, 5*time.Second)

	ch, err := DialControl(ctx, srv.Addr())
	require.NoError(t, err)
	defer ch.Close()

	t.Run("RequiresAuth", func(t *testing.T) {
		_, err := ch.BootstrapProgress(ctx)
		var ce *ControlError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, 514, ce.Code)
		assert.False(t, isChannelBroken(err))
	})

	t.Run("WrongPassword", func(t *testing.T) {
		err := ch.Authenticate(ctx, "nope")
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	require.NoError(t, ch.Authenticate(ctx, testutil.ControlPassword))

	progress, err := ch.BootstrapProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, progress)

	id1, err := ch.CreateCircuit(ctx)
	require.NoError(t, err)
	id2, err := ch.CreateCircuit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", id1)
	assert.Equal(t, "2", id2)

	require.NoError(t, ch.CloseCircuit(ctx, id1))
	assert.Equal(t, []string{"1"}, srv.ClosedCircuits())

	require.NoError(t, ch.NewIdentity(ctx))
	assert.Equal(t, 1, srv.NewNym())
}

// TestTextControl_Cancel 测试 context 取消中断等待
func TestTextControl_Cancel(t *testing.T) {
	srv := testutil.NewControlServer(t, "")
	ch, err := DialControl(testutil.Context(t, 5*time.Second), srv.Addr())
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ch.CreateCircuit(ctx)
	require.Error(t, err)
	assert.True(t, isChannelBroken(err))
}

// TestDialControl_Unreachable 测试控制通道不可达
func TestDialControl_Unreachable(t *testing.T) {
	_, err := DialControl(testutil.Context(t, 5*time.Second), testutil.ClosedAddr(t))
	assert.Error(t, err)
}
