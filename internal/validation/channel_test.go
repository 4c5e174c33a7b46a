package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/causaltree/internal/models"
)

func TestValidateChannel(t *testing.T) {
	tests := []struct {
		name    string
		info    models.ChannelInfo
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid list channel",
			info: models.ChannelInfo{Type: "list", ID: "groceries"},
		},
		{
			name: "valid id with dots and dashes",
			info: models.ChannelInfo{Type: "lwwmap", ID: "settings.v2-main_1"},
		},
		{
			name:    "invalid - empty type",
			info:    models.ChannelInfo{ID: "a"},
			wantErr: true,
			errMsg:  "channel type cannot be empty",
		},
		{
			name:    "invalid - uppercase type",
			info:    models.ChannelInfo{Type: "List", ID: "a"},
			wantErr: true,
		},
		{
			name:    "invalid - type starts with digit",
			info:    models.ChannelInfo{Type: "1list", ID: "a"},
			wantErr: true,
		},
		{
			name:    "invalid - empty id",
			info:    models.ChannelInfo{Type: "list"},
			wantErr: true,
			errMsg:  "channel id cannot be empty",
		},
		{
			name:    "invalid - slash in id",
			info:    models.ChannelInfo{Type: "list", ID: "a/b"},
			wantErr: true,
		},
		{
			name:    "invalid - glob in id",
			info:    models.ChannelInfo{Type: "list", ID: "a*"},
			wantErr: true,
		},
		{
			name:    "invalid - dot dot",
			info:    models.ChannelInfo{Type: "list", ID: ".."},
			wantErr: true,
			errMsg:  `channel id ".." is reserved`,
		},
		{
			name:    "invalid - too long",
			info:    models.ChannelInfo{Type: "list", ID: strings.Repeat("a", MaxChannelIDLen+1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannel(tt.info)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDeviceName(t *testing.T) {
	assert.NoError(t, ValidateDeviceName("laptop-1"))
	assert.Error(t, ValidateDeviceName(""))
	assert.Error(t, ValidateDeviceName("my laptop"))
	assert.Error(t, ValidateDeviceName(strings.Repeat("x", MaxDeviceNameLen+1)))
}
