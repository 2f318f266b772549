package envelope

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleEnvelope() *Envelope {
	return &Envelope{
		Version:        "amoskys/1",
		TsNs:           1234567890,
		IdempotencyKey: "evt-1",
		Payload: &SecurityEvent{
			Category: "SSH_LOGIN",
			Action:   "LOGIN",
			Outcome:  "FAILURE",
			User:     "admin",
			SourceIP: "203.0.113.42",
			Attrs:    map[string]string{"port": "22", "method": "password"},
		},
	}
}

func TestCanonicalDeterminism(t *testing.T) {
	e := sampleEnvelope()
	b1, err := Canonical(e)
	require.NoError(t, err)
	b2, err := Canonical(e)
	require.NoError(t, err)
	require.Equal(t, b1, b2)

	clone, err := e.Clone()
	require.NoError(t, err)
	b3, err := Canonical(clone)
	require.NoError(t, err)
	require.Equal(t, b1, b3)
}

func TestCanonicalIgnoresSigFields(t *testing.T) {
	e := sampleEnvelope()
	base, err := Canonical(e)
	require.NoError(t, err)

	e.Sig = []byte("some-signature-bytes-64-long-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	withSig, err := Canonical(e)
	require.NoError(t, err)
	require.Equal(t, base, withSig)

	e.PrevSig = []byte("chain-pointer")
	withPrevSig, err := Canonical(e)
	require.NoError(t, err)
	require.Equal(t, base, withPrevSig)
}

func TestCanonicalChangesOnSemanticMutation(t *testing.T) {
	e := sampleEnvelope()
	base, err := Canonical(e)
	require.NoError(t, err)

	mutatedTs := sampleEnvelope()
	mutatedTs.TsNs++
	b, err := Canonical(mutatedTs)
	require.NoError(t, err)
	require.NotEqual(t, base, b)

	mutatedKey := sampleEnvelope()
	mutatedKey.IdempotencyKey = "evt-2"
	b, err = Canonical(mutatedKey)
	require.NoError(t, err)
	require.NotEqual(t, base, b)

	mutatedPayload := sampleEnvelope()
	mutatedPayload.Payload.(*SecurityEvent).SourceIP = "203.0.113.43"
	b, err = Canonical(mutatedPayload)
	require.NoError(t, err)
	require.NotEqual(t, base, b)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e := sampleEnvelope()
	e.Sig = []byte("sig-bytes")
	b, err := e.Marshal()
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, out.Unmarshal(b))
	require.Equal(t, e.Version, out.Version)
	require.Equal(t, e.TsNs, out.TsNs)
	require.Equal(t, e.IdempotencyKey, out.IdempotencyKey)
	require.Equal(t, e.Sig, out.Sig)
	require.Equal(t, KindSecurity, out.Payload.Kind())
	sec := out.Payload.(*SecurityEvent)
	require.Equal(t, "SSH_LOGIN", sec.Category)
	require.Equal(t, "22", sec.Attrs["port"])
}

func TestDeviceTelemetryRoundTrip(t *testing.T) {
	dt := &DeviceTelemetry{
		DeviceID:   "dev-1",
		DeviceType: "router",
		Protocol:   "snmp",
		Meta:       map[string]string{"mfr": "acme", "model": "r1000"},
		Events: []Payload{
			&FlowEvent{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1234, DstPort: 443, Protocol: "tcp"},
			&ProcessEvent{Pid: 100, ExePath: "/bin/sh", Argv: []string{"sh", "-c", "ls"}},
		},
	}
	e := &Envelope{Version: "amoskys/1", TsNs: 42, IdempotencyKey: "batch-1", Payload: dt}
	b, err := e.Marshal()
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, out.Unmarshal(b))
	got := out.Payload.(*DeviceTelemetry)
	require.Equal(t, "dev-1", got.DeviceID)
	require.Len(t, got.Events, 2)
	require.Equal(t, KindFlow, got.Events[0].Kind())
	require.Equal(t, KindProcess, got.Events[1].Kind())
}
