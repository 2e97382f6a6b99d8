package journald

import (
	"testing"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/mbrock/sidecar/internal/eventlog"
)

func TestFieldName(t *testing.T) {
	cases := map[string]string{
		"FD":               "FD",
		"sidecar_instance": "SIDECAR_INSTANCE",
		"http.status":      "HTTP_STATUS",
		"_private":         "PRIVATE",
		"9lives":           "LIVES",
		"---":              "",
	}
	for in, want := range cases {
		if got := FieldName(in); got != want {
			t.Errorf("FieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPriority(t *testing.T) {
	if got := Priority(map[string]string{eventlog.FieldFD: "2"}); got != journal.PriInfo {
		t.Errorf("output priority = %v, want info", got)
	}
	if got := Priority(map[string]string{eventlog.FieldEvent: eventlog.EventLaunchFailed}); got != journal.PriErr {
		t.Errorf("launch-failed priority = %v, want err", got)
	}
}

func TestVarsAddsIdentifier(t *testing.T) {
	s := &Sink{identifier: "stock-server"}
	vars := s.vars(map[string]string{"FD": "1", "bad key": "x"})

	if vars["SYSLOG_IDENTIFIER"] != "stock-server" {
		t.Errorf("missing identifier: %+v", vars)
	}
	if vars["BAD_KEY"] != "x" {
		t.Errorf("expected sanitized key BAD_KEY: %+v", vars)
	}
}
