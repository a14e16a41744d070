package optimization

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		ID: "test_schema",
		Properties: []Property{
			{Name: "count", Type: TypeInteger, Default: 3},
			{Name: "step", Type: TypeNumber, Default: 0.5},
		},
	}
}

func TestSchemaResolve(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name:   "defaults only",
			values: nil,
			want:   map[string]interface{}{"count": 3, "step": 0.5},
		},
		{
			name:   "integer given as float64",
			values: map[string]interface{}{"count": float64(7)},
			want:   map[string]interface{}{"count": 7, "step": 0.5},
		},
		{
			name:   "number given as int",
			values: map[string]interface{}{"step": 2},
			want:   map[string]interface{}{"count": 3, "step": 2.0},
		},
		{
			name:   "json number",
			values: map[string]interface{}{"count": json.Number("12"), "step": json.Number("1e-3")},
			want:   map[string]interface{}{"count": 12, "step": 1e-3},
		},
		{
			name:    "fractional integer",
			values:  map[string]interface{}{"count": 1.5},
			wantErr: true,
		},
		{
			name:    "string value",
			values:  map[string]interface{}{"step": "0.1"},
			wantErr: true,
		},
		{
			name:    "bool value",
			values:  map[string]interface{}{"count": true},
			wantErr: true,
		},
		{
			name:    "unknown option",
			values:  map[string]interface{}{"tolerance": 1e-6},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testSchema().Resolve(tt.values)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig), "error should be a config error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchemaUnknownOptionMessage(t *testing.T) {
	err := testSchema().Validate(map[string]interface{}{"zeta": 1, "alpha": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha, zeta")
	assert.Contains(t, err.Error(), "additional properties are not allowed")
}

func TestSchemaNames(t *testing.T) {
	s := testSchema()
	assert.Equal(t, []string{"count", "step"}, s.Names())

	p, ok := s.Lookup("step")
	require.True(t, ok)
	assert.Equal(t, TypeNumber, p.Type)

	_, ok = s.Lookup("missing")
	assert.False(t, ok)
}
