package controller

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestRenderConfigPlain(t *testing.T) {
	rendered, err := renderConfig(configData{
		ServerName:  "My.Little.Server",
		BindAddress: "127.0.0.1:18000",
		MOTD:        []string{"Welcome to the irctest conformance instance!"},
	})
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "config_plain", rendered)
}

func TestRenderConfigTLS(t *testing.T) {
	rendered, err := renderConfig(configData{
		ServerName:  "My.Little.Server",
		BindAddress: "127.0.0.1:18000",
		TLS:         true,
		TLSAddress:  "127.0.0.1:18001",
		CertPath:    "/tmp/instance/cert.pem",
		KeyPath:     "/tmp/instance/key.pem",
		MOTD:        []string{"Welcome to the irctest conformance instance!"},
	})
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "config_tls", rendered)
}

func TestRenderConfigPassword(t *testing.T) {
	rendered, err := renderConfig(configData{
		ServerName:              "My.Little.Server",
		BindAddress:             "127.0.0.1:18000",
		Password:                `hunter"2`,
		MOTD:                    []string{"line one", "line two"},
		AccountRegBeforeConnect: true,
	})
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "config_password", rendered)
}
