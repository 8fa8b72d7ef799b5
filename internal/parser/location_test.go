package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/trialsync/internal/model"
)

func TestLocationString(t *testing.T) {
	locs := []model.Location{
		{Name: model.Str("Site A"), City: model.Str("Boston"), State: model.Str("Massachusetts"), Country: model.Str("United States"), Zip: model.Str("02114"), Status: model.Str("Recruiting")},
		{Name: model.Str("Site B"), Country: model.Str("France")},
	}

	got := LocationString(locs)
	assert.Equal(t, "Site A, Boston, Massachusetts, United States, 02114\nSite B, France", model.Deref(got))
}

func TestLocationString_Empty(t *testing.T) {
	assert.Nil(t, LocationString(nil))
}

func TestCountries(t *testing.T) {
	locs := []model.Location{
		{Country: model.Str("United States")},
		{Country: nil},
		{Country: model.Str("Germany")},
		{Country: model.Str("United States")},
	}
	assert.Equal(t, []string{"Germany", "United States"}, Countries(locs))
	assert.Empty(t, Countries(nil))
}
