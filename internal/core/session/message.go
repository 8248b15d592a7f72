package session

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/proto"

	"github.com/dep2p/go-netbridge/internal/core/factory"
)

// ============================================================================
//                              Encoding - 入站消息分帧
// ============================================================================

// Encoding 入站字节流的分帧方式
type Encoding int

const (
	// EncodingRaw 按读到的块返回
	EncodingRaw Encoding = iota
	// EncodingJSON 每条消息是一个完整的 JSON 值
	EncodingJSON
	// EncodingCBOR 按 JSON 值分帧，转换为 CBOR 返回
	EncodingCBOR
	// EncodingGRPC gRPC 长度前缀消息（1 字节压缩标志 + 4 字节大端长度）
	EncodingGRPC
)

// String 返回编码名称
func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return "json"
	case EncodingCBOR:
		return "cbor"
	case EncodingGRPC:
		return "grpc"
	default:
		return "raw"
	}
}

// ParseEncoding 解析编码名称
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "raw":
		return EncodingRaw, nil
	case "json":
		return EncodingJSON, nil
	case "cbor", "cbor-json":
		return EncodingCBOR, nil
	case "grpc":
		return EncodingGRPC, nil
	}
	return EncodingRaw, fmt.Errorf("unknown encoding %q", s)
}

var (
	// ErrMessageTooLarge 消息超过上限
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFramingMismatch 连接已由协议编解码器分帧，不能直接承载消息分帧
	ErrFramingMismatch = errors.New("message encoding not supported on this framing")
)

const rawChunk = 32 << 10

// MessageReader 从会话读取分帧后的消息
//
// 创建后应作为会话唯一的读取方：JSON 分帧会预读缓冲。
// 除 Raw 外的编码直接作用于字节流，只能用于未被协议编解码器
// 分帧的连接（TCP、TLS、WebSocket）；HTTP/2 连接上的帧
// 属于 HTTP/2 编解码器。
type MessageReader struct {
	enc  Encoding
	max  int
	r    *bufio.Reader
	lim  *messageLimit
	json *json.Decoder
	cbor cbor.EncMode
}

// MessageReader 返回按 enc 分帧的读取器
func (s *Session) MessageReader(enc Encoding) (*MessageReader, error) {
	if err := s.checkFraming(enc); err != nil {
		return nil, err
	}
	m := &MessageReader{
		enc: enc,
		max: s.maxMessage,
		r:   bufio.NewReaderSize(s, rawChunk),
	}
	switch enc {
	case EncodingJSON, EncodingCBOR:
		m.lim = &messageLimit{r: m.r, limit: -1}
		m.json = json.NewDecoder(m.lim)
		m.json.UseNumber()
		m.cbor, _ = cbor.CoreDetEncOptions().EncMode()
	}
	return m, nil
}

// checkFraming 检查 enc 能否直接作用于会话的字节流
func (s *Session) checkFraming(enc Encoding) error {
	if enc == EncodingRaw {
		return nil
	}
	switch f := s.Framing(); f {
	case factory.FramingHTTP1, factory.FramingHTTP2:
		return fmt.Errorf("%w: %s over %s", ErrFramingMismatch, enc, f)
	}
	return nil
}

// messageLimit 限制单条 JSON 值可从流中读取的字节数
//
// limit 是允许的累计读取量，负值不限制。
type messageLimit struct {
	r     io.Reader
	read  int64
	limit int64
}

func (l *messageLimit) Read(p []byte) (int, error) {
	if l.limit >= 0 {
		remain := l.limit - l.read
		if remain <= 0 {
			return 0, ErrMessageTooLarge
		}
		if int64(len(p)) > remain {
			p = p[:remain]
		}
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	return n, err
}

// decodeJSON 解码下一个 JSON 值，值超过上限时返回 ErrMessageTooLarge
//
// 解码器只在当前值不完整时才继续读取，因此把累计读取量限制在
// "已消费偏移 + 上限 + 1" 即可约束单条消息的缓冲。
func (m *MessageReader) decodeJSON(v any) error {
	if m.max > 0 {
		m.lim.limit = m.json.InputOffset() + int64(m.max) + 1
	}
	start := m.json.InputOffset()
	if err := m.json.Decode(v); err != nil {
		if errors.Is(err, ErrMessageTooLarge) {
			return fmt.Errorf("%w: json value exceeds %d", ErrMessageTooLarge, m.max)
		}
		return err
	}
	if n := m.json.InputOffset() - start; m.max > 0 && n > int64(m.max) {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, n, m.max)
	}
	return nil
}

// Next 返回下一条消息，流结束时返回 io.EOF
func (m *MessageReader) Next() ([]byte, error) {
	switch m.enc {
	case EncodingJSON:
		var raw json.RawMessage
		if err := m.decodeJSON(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	case EncodingCBOR:
		var v any
		if err := m.decodeJSON(&v); err != nil {
			return nil, err
		}
		return m.cbor.Marshal(normalizeJSON(v))
	case EncodingGRPC:
		return m.nextGRPC()
	default:
		size := rawChunk
		if m.max > 0 && m.max < size {
			size = m.max
		}
		buf := make([]byte, size)
		n, err := m.r.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		return nil, err
	}
}

// NextProto 读取下一条 gRPC 消息并解码到 msg
func (m *MessageReader) NextProto(msg proto.Message) error {
	if m.enc != EncodingGRPC {
		return fmt.Errorf("NextProto requires grpc encoding, got %s", m.enc)
	}
	payload, err := m.nextGRPC()
	if err != nil {
		return err
	}
	return proto.Unmarshal(payload, msg)
}

func (m *MessageReader) nextGRPC() ([]byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(m.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated message header: %w", err)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if m.max > 0 && int64(size) > int64(m.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, m.max)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(m.r, payload); err != nil {
		return nil, fmt.Errorf("truncated message body: %w", err)
	}

	switch hdr[0] {
	case 0:
		return payload, nil
	case 1:
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		limit := int64(m.max)
		if limit <= 0 {
			limit = 1 << 30
		}
		out, err := io.ReadAll(io.LimitReader(zr, limit+1))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		if int64(len(out)) > limit {
			return nil, fmt.Errorf("%w: decompressed size exceeds %d", ErrMessageTooLarge, limit)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid compressed flag %d", hdr[0])
	}
}

// normalizeJSON 把 json.Number 转为整数或浮点数，其余原样
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeJSON(e)
		}
		return t
	default:
		return v
	}
}

// ============================================================================
//                              出站消息
// ============================================================================

// EncodeGRPC 把 msg 编码为 gRPC 长度前缀消息
func EncodeGRPC(msg proto.Message, compress bool) ([]byte, error) {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	flag := byte(0)
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		payload, flag = buf.Bytes(), 1
	}
	out := make([]byte, 5, 5+len(payload))
	out[0] = flag
	binary.BigEndian.PutUint32(out[1:], uint32(len(payload)))
	return append(out, payload...), nil
}

// WriteProto 以 gRPC 长度前缀格式写出一条消息
//
// 与 MessageReader 一样只能用于未被协议编解码器分帧的连接。
func (s *Session) WriteProto(msg proto.Message, compress bool) error {
	if err := s.checkFraming(EncodingGRPC); err != nil {
		return err
	}
	frame, err := EncodeGRPC(msg, compress)
	if err != nil {
		return err
	}
	if s.maxMessage > 0 && len(frame)-5 > s.maxMessage {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(frame)-5, s.maxMessage)
	}
	_, err = s.Write(frame)
	return err
}

// WriteJSON 写出 v 的 JSON 编码（以换行结尾）
func (s *Session) WriteJSON(v any) error {
	if err := s.checkFraming(EncodingJSON); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.Write(append(data, '\n'))
	return err
}
