package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "server", "rcpd":
		return serverTemplate, nil
	case "client", "rcpctl":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const serverTemplate = `node_id = "rcpd"
address = "0.0.0.0"
port = 9277
transport = "tcp"
security_mode = "development"

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[auth]
required = true
psk = "change-me"
allowed_clients = []
permissions = ["display", "input", "clipboard"]

[session]
max_sessions = 10
timeout_secs = 3600
read_timeout_secs = 0
write_timeout_secs = 15
display_interval_secs = 5

[application_defaults]
allow_custom = false
allow_default = true
working_dir = ""

[applications.editor]
name = "Text Editor"
executable_path = "/usr/bin/gedit"
args = []
required_permissions = ["app:launch"]

[observability]
listen_addr = "127.0.0.1:9278"
`

const clientTemplate = `host = "127.0.0.1"
port = 9277
client_id = "rcpctl"
transport = "tcp"
security_mode = "development"
retries = 3
event_buffer = 64

[auth]
method = "psk"
psk = "change-me"

[tls]
enabled = false
ca_file = ""
server_name = ""
insecure_skip_verify = false

[timeouts]
connect_secs = 5
auth_secs = 10
heartbeat_secs = 15
`
