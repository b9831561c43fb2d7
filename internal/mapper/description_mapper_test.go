package mapper

import (
	"errors"
	"testing"

	"github.com/xphd/d3m-mini-ms/internal/repository/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptionMapperToModel(t *testing.T) {
	m := NewDescriptionMapper()

	tests := []struct {
		name      string
		document  string
		wantSteps int
		wantErr   error
	}{
		{name: "three steps", document: `{"pipeline":{"id":"p","steps":[{},{},{}]}}`, wantSteps: 3},
		{name: "empty steps", document: `{"pipeline":{"steps":[]}}`, wantSteps: 0},
		{name: "truncated", document: `{"pipeline":{"steps":[{}`, wantErr: contract.ErrCorruptArtifact},
		{name: "no pipeline", document: `{"steps":[{}]}`, wantErr: contract.ErrCorruptArtifact},
		{name: "no steps", document: `{"pipeline":{"id":"p"}}`, wantErr: contract.ErrCorruptArtifact},
		{name: "steps not a list", document: `{"pipeline":{"steps":3}}`, wantErr: contract.ErrCorruptArtifact},
		{name: "not an object", document: `[1,2]`, wantErr: contract.ErrCorruptArtifact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := m.ToModel("A", []byte(tt.document))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, desc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "A", desc.SolutionID)
			assert.Equal(t, tt.wantSteps, desc.StepCount)
			assert.JSONEq(t, tt.document, string(desc.Document))
		})
	}
}
