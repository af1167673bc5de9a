package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltmesh/dlm-go/pkg/bus"
	"github.com/voltmesh/dlm-go/pkg/model"
	"github.com/voltmesh/dlm-go/pkg/store"
)

func TestCandidateEndpoint(t *testing.T) {
	cand := Candidate{Host: "wallbox.local", Port: 502, Addresses: []string{"192.168.1.40"}}
	assert.Equal(t, "192.168.1.40:502", cand.Endpoint())

	cand = Candidate{Host: "wallbox.local", Port: 502}
	assert.Equal(t, "wallbox.local:502", cand.Endpoint())

	cand = Candidate{Host: "wallbox.local"}
	assert.Equal(t, "wallbox.local", cand.Endpoint(), "no port, no join")
}

func TestProtocolForServiceType(t *testing.T) {
	assert.Equal(t, "modbus", protocolFor(ServiceTypeModbus))
	assert.Equal(t, "ocpp", protocolFor(ServiceTypeOCPP))
	assert.Equal(t, "_http._tcp", protocolFor("_http._tcp"))
}

func TestMergeAddresses(t *testing.T) {
	merged := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2", "fe80::1"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "fe80::1"}, merged)
}

func TestRemoveAddresses(t *testing.T) {
	left := removeAddresses([]string{"10.0.0.1", "10.0.0.2", "fe80::1"}, []string{"10.0.0.2", "fe80::1"})
	assert.Equal(t, []string{"10.0.0.1"}, left)

	left = removeAddresses(left, []string{"10.0.0.1"})
	assert.Empty(t, left)
}

func TestManagerCandidatesFiltersRegistered(t *testing.T) {
	events := bus.New()
	defer events.Close()
	st := store.New(events, nil)
	require.NoError(t, st.Apply(store.RegisterStation{
		Station: model.Station{
			ID:       "cp-1",
			Class:    model.ClassACThreePhase,
			Protocol: model.ProtocolModbus,
			Endpoint: "192.168.1.40:502",
		},
	}))

	m := NewManager(NewBrowser(BrowserConfig{}), st, nil)
	m.candidates["wallbox-a"] = newCandidate(
		"wallbox-a", "modbus", "a.local", 502, []string{"192.168.1.40"}, nil)
	m.candidates["wallbox-b"] = newCandidate(
		"wallbox-b", "ocpp", "b.local", 9000, []string{"192.168.1.41"}, nil)

	cands := m.Candidates()
	require.Len(t, cands, 1, "registered endpoint is filtered out")
	assert.Equal(t, "wallbox-b", cands[0].InstanceName)
	assert.Equal(t, "192.168.1.41:9000", cands[0].Endpoint())
}
