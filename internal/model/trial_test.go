package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrialAddRef(t *testing.T) {
	var tr Trial

	assert.True(t, tr.AddRef(Ref{ID: 1, RefKey: NewRefKey(RefSponsor, "Acme")}))
	assert.False(t, tr.AddRef(Ref{ID: 1, RefKey: NewRefKey(RefSponsor, "Acme")}))
	assert.True(t, tr.AddRef(Ref{ID: 2, RefKey: NewRefKey(RefCondition, "Asthma")}))
	assert.True(t, tr.AddRef(Ref{ID: 3, RefKey: NewAgentKey("Aspirin", AgentDrug)}))
	assert.False(t, tr.AddRef(Ref{ID: 4, RefKey: RefKey{Kind: "unknown", Name: "x"}}))

	assert.Len(t, tr.Sponsors, 1)
	assert.Len(t, tr.Conditions, 1)
	assert.Len(t, tr.Agents, 1)
	assert.True(t, tr.HasSponsor("Acme"))
	assert.False(t, tr.HasSponsor("Other"))
}

func TestTrialAddRef_UnresolvedDedupesByKey(t *testing.T) {
	var tr Trial

	assert.True(t, tr.AddRef(Ref{RefKey: NewRefKey(RefCountry, "Canada")}))
	assert.False(t, tr.AddRef(Ref{RefKey: NewRefKey(RefCountry, " Canada ")}))
	assert.Len(t, tr.Countries, 1)
}
