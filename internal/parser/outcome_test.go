package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trialsync/internal/model"
)

func outcomes(measures, times, descs []string) []model.Outcome {
	n := max(len(measures), len(times), len(descs))
	out := make([]model.Outcome, n)
	for i := range n {
		if i < len(measures) {
			out[i].Measure = &measures[i]
		}
		if i < len(times) {
			out[i].TimeFrame = &times[i]
		}
		if i < len(descs) {
			out[i].Description = &descs[i]
		}
	}
	return out
}

func TestFormatOutcomes_AllAligned(t *testing.T) {
	got := FormatOutcomes(outcomes([]string{"A", "B"}, []string{"T1", "T2"}, []string{"D1", "D2"}))
	require.NotNil(t, got)

	assert.Equal(t, "- A [Time Frame: T1]\n\tD1\n\n- B [Time Frame: T2]\n\tD2", *got)
	blocks := strings.Split(*got, "\n\n")
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.Contains(t, b, "[Time Frame: ")
		assert.Contains(t, b, "\n\t")
	}
}

func TestFormatOutcomes_MeasureAndTimeFrame(t *testing.T) {
	got := FormatOutcomes(outcomes([]string{"A", "B"}, []string{"T1", "T2"}, []string{"D1"}))
	assert.Equal(t, "- A [Time Frame: T1]\n\n- B [Time Frame: T2]", model.Deref(got))
}

func TestFormatOutcomes_MeasureAndDescription(t *testing.T) {
	got := FormatOutcomes(outcomes([]string{"A", "B"}, []string{"T1"}, []string{"D1", "D2"}))
	assert.Equal(t, "- A \n\tD1\n\n- B \n\tD2", model.Deref(got))
}

func TestFormatOutcomes_MeasureOnlyFallback(t *testing.T) {
	got := FormatOutcomes(outcomes([]string{"A", "B", "C"}, []string{"T1", "T2"}, nil))
	require.NotNil(t, got)

	blocks := strings.Split(*got, "\n\n")
	assert.Equal(t, []string{"- A", "- B", "- C"}, blocks)
	assert.NotContains(t, *got, "Time Frame")
}

func TestFormatOutcomes_Empty(t *testing.T) {
	assert.Nil(t, FormatOutcomes(nil))
}

func TestTimeFrames(t *testing.T) {
	got := TimeFrames(outcomes([]string{"A", "B"}, []string{"12 weeks"}, nil))
	assert.Equal(t, []string{"12 weeks"}, got)
}
