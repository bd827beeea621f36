package blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"not found", &types.NotFound{}, true},
		{"wrapped", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"generic api not found", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"no such bucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestFileMeta_MapRoundTrip(t *testing.T) {
	meta := &FileMeta{Hash: "h", LastModified: "2011-01-01 00:00:00.000", Source: "alpha"}
	m := meta.toMap()
	assert.Equal(t, "h", m["hash"])
	assert.Equal(t, "2011-01-01 00:00:00.000", m["lastmodifieddate"])
	assert.Equal(t, meta, fileMetaFromMap(m))
}
