package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Validation(t *testing.T) {
	valid := Hash("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	assert.True(t, valid.IsValid())
	assert.False(t, valid.IsZero())
	assert.Equal(t, "2cf24db", valid.Short(7))

	assert.True(t, Hash("").IsZero())
	assert.False(t, Hash("abc").IsValid())
	assert.Equal(t, "abc", Hash("abc").Short(7), "短于 7 位时原样返回")
}

func TestAspectType_PlatformSpecific(t *testing.T) {
	assert.True(t, AspectBuild.PlatformSpecific())
	assert.False(t, AspectScripts.PlatformSpecific())
	assert.False(t, AspectSource.PlatformSpecific())
}

func TestRevision_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Revision
		wantErr bool
	}{
		{"string", `"20260101-120000"`, "20260101-120000", false},
		{"integer", `1700000000`, "1700000000", false},
		{"float", `1.5`, "1.5", false},
		{"trailing zero", `1.0`, "1", false},
		{"exponent", `1e3`, "1000", false},
		{"negative exponent", `25e-1`, "2.5", false},
		{"object", `{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Revision
			err := json.Unmarshal([]byte(tt.input), &r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r)
		})
	}
}
