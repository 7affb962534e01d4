package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/texrender/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.Outcome
	}{
		{"nil", nil, domain.OutcomeImage},
		{"render error", &domain.RenderError{Log: "! Undefined"}, domain.OutcomeRenderingFailed},
		{"wrapped render error", fmt.Errorf("fetch: %w", &domain.RenderError{}), domain.OutcomeRenderingFailed},
		{"timeout", fmt.Errorf("read: %w", domain.ErrTimeout), domain.OutcomeTimeout},
		{"retries", domain.ErrTooManyRetries, domain.OutcomeTransportFault},
		{"other", errors.New("connection reset"), domain.OutcomeTransportFault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.Classify(tt.err))
		})
	}
}

func TestSchemeFor(t *testing.T) {
	assert.Equal(t, domain.ColorScheme{Background: "ffffff", Text: "202020"}, domain.SchemeFor("light"))
	assert.Equal(t, domain.ColorScheme{Background: "36393F", Text: "f0f0f0"}, domain.SchemeFor("dark"))
	assert.Equal(t, domain.LightScheme, domain.SchemeFor("solarized"))
	assert.Equal(t, domain.LightScheme, domain.SchemeFor(""))
}
