package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleEnvelopes returns one populated envelope per kind.
func sampleEnvelopes(t *testing.T) map[Kind]*Envelope {
	req := &Request{Contract: "Calculator", Operation: "Add(int,int)", Args: json.RawMessage(`[2,3]`)}
	mustRequest := func(kind Kind, id string, r *Request) *Envelope {
		env, err := NewRequest(kind, id, r)
		require.NoError(t, err)
		return env
	}
	resp, err := NewResponse("r1", 5)
	require.NoError(t, err)

	item := json.RawMessage(`{"price":101.5}`)
	return map[Kind]*Envelope{
		KindConnectionInit: NewConnectionInit(),
		KindConnectionAck:  NewConnectionAck("c0ffee"),
		KindPing:           NewPing("p1"),
		KindPong:           NewPong("p1"),

		KindInvoke:   mustRequest(KindInvoke, "r1", req),
		KindResponse: resp,
		KindCall:     mustRequest(KindCall, "r2", req),

		KindStreamInit:        mustRequest(KindStreamInit, "st1", &Request{Operation: "Ticks(string)", Args: json.RawMessage(`["EUR"]`)}),
		KindStreamComplete:    NewControl(KindStreamComplete, "st1"),
		KindStreamData:        NewData(KindStreamData, "st1", item),
		KindStreamDataWithAck: NewDataWithAck(KindStreamDataWithAck, "st1", "a1", item),

		KindSubscriptionInit:        mustRequest(KindSubscriptionInit, "s1", &Request{Operation: "Prices()"}),
		KindSubscriptionCancel:      NewControl(KindSubscriptionCancel, "s1"),
		KindSubscriptionComplete:    NewControl(KindSubscriptionComplete, "s1"),
		KindSubscriptionData:        NewData(KindSubscriptionData, "s1", item),
		KindSubscriptionDataWithAck: NewDataWithAck(KindSubscriptionDataWithAck, "s1", "a2", item),

		KindIngestInit:        mustRequest(KindIngestInit, "i1", &Request{Operation: "Sum()", Flows: []string{"f1", "f2"}}),
		KindIngestInitAck:     NewControl(KindIngestInitAck, "i1"),
		KindIngestData:        NewData(KindIngestData, "f1", json.RawMessage(`7`)),
		KindIngestDataAck:     NewAck(KindIngestDataAck, "a3"),
		KindIngestComplete:    NewControl(KindIngestComplete, "f1"),
		KindIngestDataWithAck: NewDataWithAck(KindIngestDataWithAck, "f2", "a3", json.RawMessage(`8`)),

		KindAck:    NewAck(KindAck, "a1"),
		KindError:  NewError("st1", -32000, "feed offline"),
		KindCancel: NewControl(KindCancel, "st1"),
	}
}

func TestRoundTripAllKinds(t *testing.T) {
	samples := sampleEnvelopes(t)
	require.Len(t, samples, len(Kinds), "every kind needs a sample")

	for _, kind := range Kinds {
		env := samples[kind]
		require.NotNil(t, env, kind)
		require.Equal(t, kind, env.Type)

		enc, err := Encode(env)
		require.NoError(t, err, kind)
		dec, err := Decode(enc)
		require.NoError(t, err, kind)
		assert.Equal(t, env, dec, kind)
		assert.True(t, dec.Type.Known())
	}
}

func TestRoundTripIndentedValues(t *testing.T) {
	indented := json.RawMessage("{\n  \"price\": 3,\n  \"tags\": [ \"a\", \"b\" ]\n}")
	compacted := json.RawMessage(`{"price":3,"tags":["a","b"]}`)

	result, err := NewResponse("r1", indented)
	require.NoError(t, err)
	envs := []*Envelope{
		NewData(KindStreamData, "st1", indented),
		NewDataWithAck(KindSubscriptionDataWithAck, "s1", "a1", indented),
		result,
	}
	for _, env := range envs {
		enc, err := Encode(env)
		require.NoError(t, err, env.Type)
		dec, err := Decode(enc)
		require.NoError(t, err, env.Type)
		assert.Equal(t, env, dec, env.Type)
	}
	assert.Equal(t, compacted, envs[0].Data)
	assert.Equal(t, compacted, result.Result)

	// hand-built envelopes decode to the compact form
	enc, err := Encode(&Envelope{Type: KindStreamData, ID: "st1", Data: indented})
	require.NoError(t, err)
	dec, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, compacted, dec.Data)

	// so do frames written by peers that indent
	dec, err = Decode([]byte(`{"type":"stream_data","id":"st1","data":{ "price" : 3, "tags" : ["a","b"] }}`))
	require.NoError(t, err)
	assert.Equal(t, compacted, dec.Data)
	enc, err = Encode(dec)
	require.NoError(t, err)
	again, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, dec, again)
}

func TestScenarioInvokeWireFormat(t *testing.T) {
	dec, err := Decode([]byte(`{"type":"operation_invoke","id":"r1","payload":{"op":"Add(int,int)","args":[2,3]}}`))
	require.NoError(t, err)
	req, err := dec.Request()
	require.NoError(t, err)
	assert.Equal(t, "Add(int,int)", req.Operation)
	assert.Empty(t, req.Contract)
	assert.JSONEq(t, `[2,3]`, string(req.Args))

	resp, err := NewResponse("r1", 5)
	require.NoError(t, err)
	enc, err := Encode(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"operation_response","id":"r1","result":5}`, string(enc))
	assert.Equal(t, Response{Success: true, Data: json.RawMessage(`5`)}, resp.Response())
}

func TestFailureResponse(t *testing.T) {
	env := NewFailure("r9", "division by zero")
	resp := env.Response()
	assert.False(t, resp.Success)
	assert.Equal(t, "division by zero", resp.Error)
	assert.Nil(t, resp.Data)

	assert.Equal(t, "operation failed", NewFailure("r9", "").Error)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, -32601, NewError("x", -32601, "not found").ErrorCode())
	assert.Equal(t, 0, NewControl(KindCancel, "x").ErrorCode())
}

func TestDecodeUnknownKind(t *testing.T) {
	env, err := Decode([]byte(`{"type":"telemetry_v2","id":"t1","data":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Kind("telemetry_v2"), env.Type)
	assert.False(t, env.Type.Known())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		frame string
		id    string
	}{
		{``, ""},
		{`   `, ""},
		{`not json`, ""},
		{`{"id":"r1","payload":{}}`, "r1"},
		{`{"type":"operation_invoke","id":"r2","payload":`, "r2"},
		{`{"type":42,"id":"r3"}`, "r3"},
		{`{"type":"ping","id":17,"x":[}`, ""},
		{`{"type":"operation_invoke","id":"q\"x","payload":{`, `q"x`},
	}
	for _, tt := range tests {
		env, err := Decode([]byte(tt.frame))
		assert.Nil(t, env, tt.frame)
		var derr *DecodeError
		require.True(t, errors.As(err, &derr), tt.frame)
		assert.Equal(t, tt.id, derr.ID, tt.frame)
	}
}

func TestEncodeRejectsBrokenEnvelopes(t *testing.T) {
	_, err := Encode(&Envelope{ID: "x"})
	assert.ErrorIs(t, err, errMissingType)

	_, err = Encode(&Envelope{Type: KindStreamData, ID: "x", Data: json.RawMessage(`{broken`)})
	assert.Error(t, err)
}

func TestKindClassification(t *testing.T) {
	for _, k := range []Kind{KindConnectionInit, KindConnectionAck, KindPing, KindPong} {
		assert.True(t, k.Connection(), k)
	}
	assert.False(t, KindInvoke.Connection())

	assert.True(t, KindStreamDataWithAck.NeedsAck())
	assert.True(t, KindSubscriptionDataWithAck.NeedsAck())
	assert.True(t, KindIngestDataWithAck.NeedsAck())
	assert.False(t, KindStreamData.NeedsAck())

	assert.Equal(t, KindIngestDataAck, KindIngestDataWithAck.AckKind())
	assert.Equal(t, KindAck, KindStreamDataWithAck.AckKind())
	assert.True(t, KindAck.Acknowledgement())
	assert.True(t, KindIngestDataAck.Acknowledgement())
}
