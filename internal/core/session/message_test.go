package session

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/pkg/types"
)

// TestMessageReader_JSON 测试 JSON 值分帧
func TestMessageReader_JSON(t *testing.T) {
	s, remote := pipeSession(t, types.Direct())
	defer s.Close()
	go func() {
		_, _ = remote.Write([]byte(`{"a":1} [1, 2]`))
		_, _ = remote.Write([]byte(` "x" {"b":`))
		_, _ = remote.Write([]byte(`true}`))
		_ = remote.Close()
	}()

	r, err := s.MessageReader(EncodingJSON)
	require.NoError(t, err)
	var got []string
	for {
		msg, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(msg))
	}
	assert.Equal(t, []string{`{"a":1}`, `[1, 2]`, `"x"`, `{"b":true}`}, got)

	t.Log("✅ JSON 分帧测试通过")
}

// TestMessageReader_CBOR 测试 JSON 转 CBOR
func TestMessageReader_CBOR(t *testing.T) {
	s, remote := pipeSession(t, types.Direct())
	defer s.Close()
	go func() {
		_, _ = remote.Write([]byte(`{"n":42,"f":1.5,"list":["x",-3]}`))
	}()

	r, err := s.MessageReader(EncodingCBOR)
	require.NoError(t, err)
	msg, err := r.Next()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, cbor.Unmarshal(msg, &decoded))
	assert.Equal(t, uint64(42), decoded["n"])
	assert.Equal(t, 1.5, decoded["f"])
	assert.Equal(t, []any{"x", int64(-3)}, decoded["list"])
}

// TestMessageReader_GRPC 测试 gRPC 长度前缀消息与压缩
func TestMessageReader_GRPC(t *testing.T) {
	s, remote := pipeSession(t, types.Direct())
	defer s.Close()
	echo(remote)

	r, err := s.MessageReader(EncodingGRPC)
	require.NoError(t, err)
	for _, compress := range []bool{false, true} {
		require.NoError(t, s.WriteProto(wrapperspb.String("hello"), compress))
		var out wrapperspb.StringValue
		require.NoError(t, r.NextProto(&out))
		assert.Equal(t, "hello", out.GetValue(), "compress=%v", compress)
	}

	frame, err := EncodeGRPC(wrapperspb.String("x"), false)
	require.NoError(t, err)
	assert.Equal(t, byte(0), frame[0])
	assert.Equal(t, uint32(len(frame)-5), binary.BigEndian.Uint32(frame[1:5]))
}

// TestMessageReader_TooLarge 测试消息上限
func TestMessageReader_TooLarge(t *testing.T) {
	s, remote := pipeSession(t, types.Direct(), WithMaxMessageSize(4))
	defer s.Close()
	go func() {
		_, _ = remote.Write([]byte{0, 0, 0, 1, 0})
	}()
	r, err := s.MessageReader(EncodingGRPC)
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

// TestMessageReader_JSONTooLarge 测试 JSON 与 CBOR 分帧的单条消息上限
func TestMessageReader_JSONTooLarge(t *testing.T) {
	huge := append(append([]byte(`"`), bytes.Repeat([]byte("a"), 1<<20)...), '"')

	for _, enc := range []Encoding{EncodingJSON, EncodingCBOR} {
		t.Run(enc.String(), func(t *testing.T) {
			s, remote := pipeSession(t, types.Direct(), WithMaxMessageSize(16))
			defer s.Close()
			go func() {
				_, _ = remote.Write([]byte(`{"a":1} `))
				_, _ = remote.Write(huge)
			}()

			r, err := s.MessageReader(enc)
			require.NoError(t, err)
			msg, err := r.Next()
			require.NoError(t, err, "上限内的消息正常返回")
			assert.NotEmpty(t, msg)

			msg, err = r.Next()
			assert.ErrorIs(t, err, ErrMessageTooLarge)
			assert.Nil(t, msg)
		})
	}

	t.Run("ExactLimit", func(t *testing.T) {
		s, remote := pipeSession(t, types.Direct(), WithMaxMessageSize(16))
		defer s.Close()
		go func() {
			_, _ = remote.Write([]byte(`"0123456789abcd" "0123456789abcde"`))
		}()
		r, err := s.MessageReader(EncodingJSON)
		require.NoError(t, err)
		msg, err := r.Next()
		require.NoError(t, err)
		assert.Len(t, msg, 16)
		_, err = r.Next()
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Log("✅ JSON 消息上限测试通过")
}

// TestMessageReader_FramingMismatch 测试协议编解码器分帧的连接拒绝消息分帧
func TestMessageReader_FramingMismatch(t *testing.T) {
	for _, framing := range []factory.Framing{factory.FramingHTTP1, factory.FramingHTTP2} {
		t.Run(framing.String(), func(t *testing.T) {
			local, remote := net.Pipe()
			defer remote.Close()
			conn := &factory.Connection{Conn: local, Protocol: types.ProtocolGRPC, Framing: framing}
			s := New(testEndpoint, types.Direct(), conn)
			defer s.Close()

			for _, enc := range []Encoding{EncodingJSON, EncodingCBOR, EncodingGRPC} {
				_, err := s.MessageReader(enc)
				assert.ErrorIs(t, err, ErrFramingMismatch, enc.String())
			}
			assert.ErrorIs(t, s.WriteProto(wrapperspb.String("x"), false), ErrFramingMismatch)
			assert.ErrorIs(t, s.WriteJSON(map[string]int{"a": 1}), ErrFramingMismatch)

			// Raw 始终可用
			_, err := s.MessageReader(EncodingRaw)
			assert.NoError(t, err)
		})
	}
}

// TestMessageReader_Raw 测试原始块
func TestMessageReader_Raw(t *testing.T) {
	s, remote := pipeSession(t, types.Direct())
	defer s.Close()
	go func() {
		_, _ = remote.Write([]byte("chunk"))
		_ = remote.Close()
	}()
	r, err := s.MessageReader(EncodingRaw)
	require.NoError(t, err)
	msg, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(msg))
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// TestParseEncoding 测试编码名称解析
func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{
		"":          EncodingRaw,
		"JSON":      EncodingJSON,
		"cbor-json": EncodingCBOR,
		"grpc":      EncodingGRPC,
	} {
		got, err := ParseEncoding(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseEncoding("xml")
	assert.Error(t, err)
}
