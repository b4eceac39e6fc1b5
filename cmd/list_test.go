package cmd

import (
	"testing"

	"github.com/sid3xyz/irctest/internal/harness"
)

func TestDescribeServer(t *testing.T) {
	tests := []struct {
		name   string
		server harness.ServerSpec
		want   string
	}{
		{
			name:   "default",
			server: harness.ServerSpec{},
			want:   "default",
		},
		{
			name:   "tls only",
			server: harness.ServerSpec{TLS: true},
			want:   "tls",
		},
		{
			name:   "tls with faketime",
			server: harness.ServerSpec{TLS: true, Faketime: "+5d"},
			want:   "tls, faketime +5d",
		},
		{
			name:   "password",
			server: harness.ServerSpec{Password: "sesame"},
			want:   "password",
		},
		{
			name:   "account registration",
			server: harness.ServerSpec{AccountRegistrationBeforeConnect: true},
			want:   "account-reg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeServer(tt.server); got != tt.want {
				t.Errorf("describeServer() = %q, want %q", got, tt.want)
			}
		})
	}
}
