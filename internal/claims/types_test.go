package claims

import (
	"encoding/json"
	"testing"

	xerrors "PoE-Chain/internal/errors"
)

func TestParseProof(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
		code  xerrors.Code
	}{
		{name: "bytes", input: "0xdeadbeef", want: "0xdeadbeef"},
		{name: "empty proof", input: "0x", want: "0x"},
		{name: "missing prefix", input: "deadbeef", code: xerrors.CodeInvalidArgument},
		{name: "odd length", input: "0xabc", code: xerrors.CodeInvalidArgument},
		{name: "blank", input: "  ", code: xerrors.CodeInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			proof, err := ParseProof(tc.input)
			if tc.code != "" {
				if xerrors.CodeOf(err) != tc.code {
					t.Fatalf("expected %s, got %v", tc.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if proof.Hex() != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, proof.Hex())
			}
		})
	}
}

func TestProofKeyIsStableDigest(t *testing.T) {
	a := ProofID{0x01}
	if a.Key() != a.Clone().Key() {
		t.Fatalf("key must depend only on content")
	}
	if len(a.Key()) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %q", a.Key())
	}
	if ProofID(nil).Key() != (ProofID{}).Key() {
		t.Fatalf("nil and empty proofs must share a key")
	}
}

func TestEntryJSONUsesHexProof(t *testing.T) {
	payload, err := json.Marshal(Entry{Proof: ProofID{0xab}, Record: Record{Owner: "alice", RegisteredAt: 3}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"proof":"0xab","owner":"alice","registered_at":3}`
	if string(payload) != want {
		t.Fatalf("unexpected json: %s", payload)
	}

	var decoded Entry
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Proof.Equal(ProofID{0xab}) || decoded.Owner != "alice" {
		t.Fatalf("unexpected entry: %+v", decoded)
	}
}

func TestParseCall(t *testing.T) {
	if call, err := ParseCall(" Create_Claim "); err != nil || call != CallCreate {
		t.Fatalf("unexpected result %q %v", call, err)
	}
	if _, err := ParseCall("mint"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
