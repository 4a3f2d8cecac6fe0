package worker

import (
	"bytes"
	"testing"

	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/types"
)

// serveAll writes msgs as requests, runs Serve to the end of input and
// returns the decoded responses.
func serveAll(t *testing.T, codecName string, msgs ...map[string]any) []*ipc.Response {
	t.Helper()
	var in, out bytes.Buffer
	enc, err := ipc.NewCodec(codecName, nil, &in)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	for _, m := range msgs {
		if err := enc.WriteMessage(m); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	if err := Serve(t.Context(), &in, &out, ServeConfig{Codec: codecName}); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	dec, _ := ipc.NewCodec(codecName, &out, nil)
	var resps []*ipc.Response
	for range msgs {
		m, err := dec.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		resp, err := ipc.ResponseFromMap(m)
		if err != nil {
			t.Fatalf("ResponseFromMap: %v", err)
		}
		resps = append(resps, resp)
	}
	return resps
}

func requestMap(t *testing.T, req *ipc.Request) map[string]any {
	t.Helper()
	req.IPCVersion = types.IPCVersion
	m, err := req.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	return m
}

func TestServe_Codecs(t *testing.T) {
	for _, codec := range []string{ipc.CodecJSON, ipc.CodecMsgpack} {
		t.Run(codec, func(t *testing.T) {
			req := addRequest("call-1")
			req.ContextSnapshot = map[string]any{"seed": "x"}
			resps := serveAll(t, codec, requestMap(t, req))

			resp := resps[0]
			if resp.CallID != "call-1" || resp.IPCVersion != types.IPCVersion {
				t.Errorf("response identity = %q/%q", resp.CallID, resp.IPCVersion)
			}
			if resp.Outcome.Value != 4 {
				t.Errorf("value = %v, want 4", resp.Outcome.Value)
			}
			if resp.ContextSnapshot["seed"] != "x" || resp.ContextSnapshot["calls"] != 1 {
				t.Errorf("context snapshot = %v", resp.ContextSnapshot)
			}
		})
	}
}

func TestServe_Failures(t *testing.T) {
	raising := addRequest("call-raise")
	raising.Code = `package main

import "errors"

func Run(env map[string]any, args []any, kwargs map[string]any) (map[string]any, error) {
	return nil, errors.New("boom")
}
`
	broken := addRequest("call-broken")
	broken.Code = "package main\n\nfunc Run( {"

	resps := serveAll(t, ipc.CodecJSON,
		map[string]any{"call_id": "call-invalid"},
		requestMap(t, raising),
		requestMap(t, broken),
	)

	if got := resps[0].Outcome.ErrorType; got != types.ErrorTypeInvalidFormat {
		t.Errorf("invalid request ErrorType = %q, want invalid_format", got)
	}
	if resps[0].CallID != "call-invalid" {
		t.Errorf("invalid request call_id = %q", resps[0].CallID)
	}

	if got := resps[1].Outcome.ErrorType; got != types.ErrorTypeExecution {
		t.Errorf("raising ErrorType = %q, want execution_error", got)
	}
	if resps[1].Outcome.Metadata[MetaException] != true {
		t.Error("raising response not marked as exception")
	}

	if got := resps[2].Outcome.ErrorType; got != types.ErrorTypeParse {
		t.Errorf("compile failure ErrorType = %q, want parse_error", got)
	}
}
