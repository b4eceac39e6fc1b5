package controller

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Options selects how one server instance is configured. The zero value
// yields a plain plaintext instance with defaults suitable for most
// scenarios.
type Options struct {
	// ServerName is the server identity in the generated config.
	// Defaults to "My.Little.Server", which scenario prefix assertions
	// rely on being a dotted name.
	ServerName string
	// Password, when set, requires a connection password (PASS).
	Password string
	// TLS enables the encrypted listener on the port adjacent to the
	// plaintext one, with self-signed material generated per instance.
	TLS bool
	// Faketime, when set, runs the server under the faketime tool with
	// the given offset spec (for example "+5d"), so scenarios can test
	// behavior under clock skew deterministically.
	Faketime string
	// MOTD is the message-of-the-day block.
	MOTD []string
	// AccountRegBeforeConnect and AccountRegEmailRequired toggle the
	// account-registration policy flags of the generated config.
	AccountRegBeforeConnect bool
	AccountRegEmailRequired bool
}

// The config layout is a contract with slircd-ng, the reference system
// under test: TOML with server identity, listeners, optional TLS block,
// limits and credential policy. Only the values below vary per instance.
const configTemplate = `# generated by irctest, do not edit

[server]
name = "{{ .ServerName }}"
network = "TestNet"
sid = "001"
description = "irctest conformance instance"
metrics_port = 0
{{- if .Password }}
password = {{ .Password | quote }}
{{- end }}

[listen]
address = "{{ .BindAddress }}"
{{- if .TLS }}

[tls]
address = "{{ .TLSAddress }}"
cert_path = "{{ .CertPath }}"
key_path = "{{ .KeyPath }}"
{{- end }}

[database]
path = ":memory:"

[limits]
rate = 1000.0
burst = 1000.0

[security]
cloak_secret = "test-secret-do-not-use-in-production"
cloak_suffix = "test"
spam_detection_enabled = false

[security.rate_limits]
message_rate_per_second = 10000
connection_burst_per_ip = 10000
join_burst_per_client = 10000

[motd]
lines = [
{{- range .MOTD }}
    {{ . | quote }},
{{- end }}
]

[[oper]]
name = "operuser"
password = "operpassword"
hostmask = "*@*"

[account_registration]
enabled = true
before_connect = {{ .AccountRegBeforeConnect }}
email_required = {{ .AccountRegEmailRequired }}
custom_account_name = true
`

var configTmpl = template.Must(
	template.New("config").Funcs(sprig.TxtFuncMap()).Parse(configTemplate))

// configData is the fully resolved input to the config template.
type configData struct {
	ServerName              string
	Password                string
	BindAddress             string
	TLS                     bool
	TLSAddress              string
	CertPath                string
	KeyPath                 string
	MOTD                    []string
	AccountRegBeforeConnect bool
	AccountRegEmailRequired bool
}

// writeConfig renders the instance configuration (and TLS material when
// requested) into the instance directory and returns the config path.
func (m *Manager) writeConfig(dir string, opts Options, port, tlsPort int) (string, error) {
	data := configData{
		ServerName:              opts.ServerName,
		Password:                opts.Password,
		BindAddress:             fmt.Sprintf("127.0.0.1:%d", port),
		TLS:                     opts.TLS,
		MOTD:                    opts.MOTD,
		AccountRegBeforeConnect: opts.AccountRegBeforeConnect,
		AccountRegEmailRequired: opts.AccountRegEmailRequired,
	}
	if data.ServerName == "" {
		data.ServerName = "My.Little.Server"
	}
	if data.MOTD == nil {
		data.MOTD = []string{"Welcome to the irctest conformance instance!"}
	}

	if opts.TLS {
		material, err := m.certs.Get(data.ServerName)
		if err != nil {
			return "", fmt.Errorf("failed to generate TLS material: %w", err)
		}
		data.TLSAddress = fmt.Sprintf("127.0.0.1:%d", tlsPort)
		data.CertPath = filepath.Join(dir, "cert.pem")
		data.KeyPath = filepath.Join(dir, "key.pem")
		if err := os.WriteFile(data.CertPath, material.CertPEM, 0o644); err != nil {
			return "", fmt.Errorf("failed to write certificate: %w", err)
		}
		if err := os.WriteFile(data.KeyPath, material.KeyPEM, 0o600); err != nil {
			return "", fmt.Errorf("failed to write key: %w", err)
		}
	}

	rendered, err := renderConfig(data)
	if err != nil {
		return "", err
	}

	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, rendered, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return configPath, nil
}

func renderConfig(data configData) ([]byte, error) {
	var rendered bytes.Buffer
	if err := configTmpl.Execute(&rendered, data); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return rendered.Bytes(), nil
}
