package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Recruiting", "R"},
		{"Active, not recruiting", "A"},
		{"ACTIVE_NOT_RECRUITING", "A"},
		{"  completed ", "C"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StatusCode(tt.in))
		})
	}
}

func TestPurposeCode(t *testing.T) {
	t.Parallel()

	assert.Nil(t, PurposeCode(nil))
	assert.Equal(t, "U", *PurposeCode(Str("Supportive Care")))
	assert.Equal(t, "H", *PurposeCode(Str("HEALTH_SERVICES_RESEARCH")))
	assert.Equal(t, "T", *PurposeCode(Str("treatment")))
	assert.Nil(t, PurposeCode(Str("Device Feasibility")))
}

func TestFunderCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"NIH", "N"},
		{"U.S. Fed", "F"},
		{"Industry", "I"},
		{"OTHER_GOV", "G"},
		{"Other", "O"},
		{"NETWORK", "O"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := FunderCode(Str(tt.in))
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}

	assert.Nil(t, FunderCode(nil))
	assert.Nil(t, FunderCode(Str("Zebra")))
}

func TestParseAgentType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AgentDrug, ParseAgentType("Drug"))
	assert.Equal(t, AgentDrug, ParseAgentType("DRUG"))
	assert.Equal(t, AgentDietary, ParseAgentType("DIETARY_SUPPLEMENT"))
	assert.Equal(t, AgentBiological, ParseAgentType("Biological"))
	assert.Equal(t, AgentDiagnostic, ParseAgentType("Diagnostic Test"))
	assert.Equal(t, AgentOther, ParseAgentType("Something new"))

	assert.Equal(t, "Dietary Supplement", AgentDietary.String())
	assert.True(t, AgentDrug.Notifiable())
	assert.True(t, AgentBiological.Notifiable())
	assert.False(t, AgentDevice.Notifiable())
}

func TestLocationScopeLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "US ONLY", LocationUS.Label())
	assert.Equal(t, "NON-US ONLY", LocationNonUS.Label())
	assert.Equal(t, "BOTH US & NON-US", LocationBoth.Label())
	assert.Empty(t, LocationScope("").Label())
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	// "e" + combining acute accent composes to a single rune.
	assert.Equal(t, "Caf\u00e9", NormalizeName("  Cafe\u0301 "))
	assert.Equal(t, "Asthma", NewRefKey(RefCondition, "Asthma\t").Name)

	k := NewAgentKey(" Aspirin ", AgentDrug)
	assert.Equal(t, RefAgent, k.Kind)
	assert.Equal(t, "Aspirin", k.Name)
	assert.Equal(t, AgentDrug, k.AgentType)
}

func TestTrial_HasSponsor(t *testing.T) {
	t.Parallel()

	tr := &Trial{Sponsors: []Ref{{ID: 1, RefKey: NewRefKey(RefSponsor, "Acme")}}}
	assert.True(t, tr.HasSponsor("Acme"))
	assert.False(t, tr.HasSponsor("Globex"))
}

func TestErrors_MatchThroughWrapping(t *testing.T) {
	t.Parallel()

	err := eris.Wrap(&MalformedRecordError{NCTID: "NCT1", Field: "status"}, "parse")
	var malformed *MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "status", malformed.Field)
	assert.Contains(t, malformed.Error(), "missing status")

	dup := eris.Wrap(&DuplicateRecordError{NCTID: "NCT2"}, "create")
	var d *DuplicateRecordError
	require.True(t, errors.As(dup, &d))
	assert.Equal(t, "NCT2", d.NCTID)

	nf := eris.Wrap(ErrNotFound, "get trial")
	assert.True(t, errors.Is(nf, ErrNotFound))
}
