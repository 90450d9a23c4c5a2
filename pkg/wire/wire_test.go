package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"trustkv/pkg/types"
)

func TestReadHandshake(t *testing.T) {
	raw := `{"client_threads":2,"server_threads":2,"ops_per_req":1,"capacity":1024,"key_type":{"Int":0},"value_type":{"Int":0}}`
	h, err := ReadHandshake(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadHandshake failed: %v", err)
	}
	if h.ClientThreads != 2 || h.ServerThreads != 2 || h.OpsPerReq != 1 || h.Capacity != 1024 {
		t.Fatalf("unexpected handshake: %+v", h)
	}
	if h.KeyKind() != types.KindInt || h.ValueKind() != types.KindInt {
		t.Fatalf("unexpected kinds: %v %v", h.KeyKind(), h.ValueKind())
	}
	if h.ShardCapacity() != 512 {
		t.Fatalf("ShardCapacity = %d", h.ShardCapacity())
	}
}

func TestReadHandshake_Invalid(t *testing.T) {
	cases := map[string]string{
		"garbage":     `{"client_threads":`,
		"zero shards": `{"client_threads":1,"server_threads":0,"ops_per_req":1,"capacity":8,"key_type":{"Int":0},"value_type":{"Int":0}}`,
		"no kinds":    `{"client_threads":1,"server_threads":1,"ops_per_req":1,"capacity":8}`,
		"bad kind":    `{"client_threads":1,"server_threads":1,"ops_per_req":1,"capacity":8,"key_type":{"Float":0},"value_type":{"Int":0}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadHandshake(strings.NewReader(raw))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestJSONCodec_DecodeBatch(t *testing.T) {
	raw := `{"operations":[{"Insert":{"key":{"Int":5},"value":{"Int":42}}},{"Read":{"key":{"Int":5}}},{"Remove":{"key":{"String":"a"}}},{"Increment":{"key":{"Int":7}}},"Close"]}`
	ops, n, err := JSONCodec{}.DecodeBatch([]byte(raw + "\n"))
	if err != nil {
		t.Fatalf("DecodeBatch failed: %v", err)
	}
	if n != len(raw) {
		t.Fatalf("consumed %d, want %d", n, len(raw))
	}

	want := []Operation{
		Insert(types.Int(5), types.Int(42)),
		Read(types.Int(5)),
		Remove(types.String("a")),
		Increment(types.Int(7)),
		Close(),
	}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops, want %d", len(ops), len(want))
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("op %d = %+v, want %+v", i, ops[i], want[i])
		}
	}
}

func TestJSONCodec_IncompleteAndMalformed(t *testing.T) {
	c := JSONCodec{}
	if _, _, err := c.DecodeBatch([]byte(`{"operations":[{"Read":`)); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("truncated batch: expected ErrIncomplete, got %v", err)
	}
	if _, _, err := c.DecodeBatch([]byte("  \n")); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("whitespace: expected ErrIncomplete, got %v", err)
	}

	for _, raw := range []string{`{"operations":[{"Jump":{}}]}`, `]]`, `{"operations":["Open"]}`} {
		var de *DecodeError
		if _, _, err := c.DecodeBatch([]byte(raw)); !errors.As(err, &de) {
			t.Fatalf("%s: expected DecodeError, got %v", raw, err)
		}
	}
}

func TestJSONCodec_BackToBackBatches(t *testing.T) {
	c := JSONCodec{}
	first, _ := c.EncodeBatch(nil, []Operation{Read(types.Int(1))})
	both, _ := c.EncodeBatch(first, []Operation{Remove(types.Int(2))})

	ops, n, err := c.DecodeBatch(both)
	if err != nil || len(ops) != 1 || ops[0] != Read(types.Int(1)) {
		t.Fatalf("first batch: %v %v", ops, err)
	}
	ops, _, err = c.DecodeBatch(both[n:])
	if err != nil || len(ops) != 1 || ops[0] != Remove(types.Int(2)) {
		t.Fatalf("second batch: %v %v", ops, err)
	}
}

func TestJSONCodec_EncodeReply(t *testing.T) {
	out, err := JSONCodec{}.EncodeReply(nil, []Result{Success(types.Int(42)), Failure("")})
	if err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}
	want := `{"results":[{"Success":{"Int":42}},{"Failure":""}]}` + "\n"
	if string(out) != want {
		t.Fatalf("reply = %s, want %s", out, want)
	}

	results, _, err := JSONCodec{}.DecodeReply(out, 2)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if !results[0].OK || results[0].Value != types.Int(42) || results[1].OK {
		t.Fatalf("decoded reply = %+v", results)
	}
}

func TestBinaryCodec_InsertThenRead(t *testing.T) {
	c := BinaryCodec{OpsPerReq: 2}
	raw := []byte{
		2, 0, 0, 0, 0, 0, 0, 0, 3,
		1, 0, 0, 0, 0, 0, 0, 0, 3,
	}
	ops, n, err := c.DecodeBatch(raw)
	if err != nil {
		t.Fatalf("DecodeBatch failed: %v", err)
	}
	if n != 18 || len(ops) != 2 {
		t.Fatalf("consumed %d bytes, %d ops", n, len(ops))
	}
	if ops[0] != Insert(types.Int(3), types.Int(3)) || ops[1] != Read(types.Int(3)) {
		t.Fatalf("ops = %+v", ops)
	}

	reply, _ := c.EncodeReply(nil, []Result{Success(types.Int(3)), Success(types.Int(3))})
	if !bytes.Equal(reply, []byte{0, 0}) {
		t.Fatalf("reply = %v", reply)
	}
}

func TestBinaryCodec_CloseEndsBatchEarly(t *testing.T) {
	c := BinaryCodec{OpsPerReq: 3}
	raw, err := c.EncodeBatch(nil, []Operation{Read(types.Int(1)), Close()})
	if err != nil {
		t.Fatalf("EncodeBatch failed: %v", err)
	}

	ops, n, err := c.DecodeBatch(raw)
	if err != nil {
		t.Fatalf("DecodeBatch failed: %v", err)
	}
	if n != 2*RecordSize || len(ops) != 2 || ops[1].Kind != OpClose {
		t.Fatalf("ops = %+v, consumed %d", ops, n)
	}
}

func TestBinaryCodec_ShortAndUnknown(t *testing.T) {
	c := BinaryCodec{OpsPerReq: 2}
	short, _ := c.EncodeBatch(nil, []Operation{Read(types.Int(1))})
	if _, _, err := c.DecodeBatch(short); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("short batch: expected ErrIncomplete, got %v", err)
	}

	bad := append(short, 9, 0, 0, 0, 0, 0, 0, 0, 1)
	var de *DecodeError
	if _, _, err := c.DecodeBatch(bad); !errors.As(err, &de) {
		t.Fatalf("unknown opcode: expected DecodeError, got %v", err)
	}

	if _, err := c.EncodeBatch(nil, []Operation{Read(types.String("x"))}); err == nil {
		t.Fatal("binary protocol must reject string keys")
	}
}

func TestNewCodec(t *testing.T) {
	if c, err := NewCodec("binary", 4); err != nil || c.Name() != "binary" {
		t.Fatalf("NewCodec(binary) = %v, %v", c, err)
	}
	if _, err := NewCodec("binary", 0); err == nil {
		t.Fatal("binary codec needs a batch size")
	}
	if _, err := NewCodec("protobuf", 1); err == nil {
		t.Fatal("unknown protocol must fail")
	}
}
