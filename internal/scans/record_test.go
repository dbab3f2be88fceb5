package scans

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestInputNormalize(t *testing.T) {
	owner := uuid.New()

	tests := []struct {
		name      string
		in        RequestInput
		wantField string
		check     func(t *testing.T, out RequestInput)
	}{
		{
			name: "port scan defaults range",
			in:   RequestInput{OwnerID: owner, Target: " example.com ", ScanType: "PORT"},
			check: func(t *testing.T, out RequestInput) {
				assert.Equal(t, "example.com", out.Target)
				assert.Equal(t, ScanTypePort, out.ScanType)
				assert.Equal(t, "1-1000", out.Options.Ports)
			},
		},
		{
			name: "port scan keeps explicit range",
			in:   RequestInput{OwnerID: owner, Target: "10.0.0.1", ScanType: ScanTypePort, Options: Options{Ports: "22, 8000-8100"}},
			check: func(t *testing.T, out RequestInput) {
				assert.Equal(t, "22,8000-8100", out.Options.Ports)
			},
		},
		{
			name: "ports dropped for other types",
			in:   RequestInput{OwnerID: owner, Target: "example.com", ScanType: ScanTypeSSL, Options: Options{Ports: "443"}},
			check: func(t *testing.T, out RequestInput) {
				assert.Empty(t, out.Options.Ports)
			},
		},
		{name: "missing owner", in: RequestInput{Target: "example.com", ScanType: ScanTypePort}, wantField: "owner_id"},
		{name: "empty target", in: RequestInput{OwnerID: owner, Target: "   ", ScanType: ScanTypePort}, wantField: "target"},
		{name: "target with space", in: RequestInput{OwnerID: owner, Target: "a b", ScanType: ScanTypePort}, wantField: "target"},
		{name: "target too long", in: RequestInput{OwnerID: owner, Target: strings.Repeat("a", maxTargetLength+1), ScanType: ScanTypePort}, wantField: "target"},
		{name: "unknown type", in: RequestInput{OwnerID: owner, Target: "example.com", ScanType: "dns"}, wantField: "scan_type"},
		{name: "bad ports", in: RequestInput{OwnerID: owner, Target: "example.com", ScanType: ScanTypePort, Options: Options{Ports: "10-1"}}, wantField: "ports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.in.normalize()
			if tt.wantField != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Fields, tt.wantField)
				return
			}
			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestRecordCheckInvariants(t *testing.T) {
	now := time.Now()

	ok := []Record{
		{Status: StatusPending},
		{Status: StatusRunning, StartedAt: &now},
		{Status: StatusCompleted, StartedAt: &now, CompletedAt: &now, Results: json.RawMessage(`{}`)},
		{Status: StatusFailed, StartedAt: &now, CompletedAt: &now, ErrorKind: KindTimeout},
		{Status: StatusFailed, CompletedAt: &now, ErrorKind: KindUnreachable},
	}
	for _, r := range ok {
		assert.NoError(t, r.CheckInvariants(), "status %s", r.Status)
	}

	bad := []Record{
		{Status: "cancelled"},
		{Status: StatusPending, CompletedAt: &now},
		{Status: StatusCompleted, StartedAt: &now, CompletedAt: &now},
		{Status: StatusFailed, StartedAt: &now, CompletedAt: &now},
		{Status: StatusFailed, StartedAt: &now, CompletedAt: &now, ErrorKind: KindTimeout, Results: json.RawMessage(`{}`)},
		{Status: StatusRunning},
	}
	for _, r := range bad {
		assert.Error(t, r.CheckInvariants(), "status %s", r.Status)
	}
}
